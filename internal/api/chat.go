package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/prism-chat/prism/internal/attachment"
	"github.com/prism-chat/prism/internal/log"
	"github.com/prism-chat/prism/internal/orchestrator"
	"github.com/prism-chat/prism/internal/provider"
	"github.com/prism-chat/prism/internal/store"
)

type chatHandler struct {
	store  Store
	turns  TurnRunner
	spool  *attachment.Spool
	logger log.Logger
}

type sendMessageRequest struct {
	Content     string          `json:"content"`
	Stream      bool            `json:"stream"`
	Attachments []attachmentRef `json:"attachments"`
}

// attachmentRef points at a previously uploaded spool object, echoing the
// identity returned by the upload endpoint.
type attachmentRef struct {
	Hash        string `json:"hash"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// SSE event names and payloads.
const (
	eventChunk = "chunk"
	eventDone  = "done"
	eventError = "error"
)

type chunkPayload struct {
	Text      string `json:"text,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

type donePayload struct {
	Message messageResponse `json:"message"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	var req sendMessageRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "empty_message", "content must not be empty", h.logger)
		return
	}

	parts, files, err := h.resolveAttachments(r, req.Attachments)
	if err != nil {
		h.writeTurnError(w, err)
		return
	}

	events, err := h.turns.Send(r.Context(), orchestrator.TurnRequest{
		SessionID:   sessionID,
		Content:     req.Content,
		Attachments: parts,
		Files:       files,
		Stream:      req.Stream,
	})
	if err != nil {
		h.writeTurnError(w, err)
		return
	}

	if req.Stream {
		h.streamEvents(w, r, sessionID, events)
		return
	}
	h.collectEvents(w, sessionID, events)
}

type retryRequest struct {
	Stream bool `json:"stream"`
}

// retry re-runs the session's last unanswered user message.
func (h *chatHandler) retry(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	var req retryRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req, h.logger) {
			return
		}
	}

	events, err := h.turns.RetryTurn(r.Context(), sessionID, req.Stream)
	if err != nil {
		h.writeTurnError(w, err)
		return
	}

	if req.Stream {
		h.streamEvents(w, r, sessionID, events)
		return
	}
	h.collectEvents(w, sessionID, events)
}

// collectEvents drains a turn to completion and answers with plain JSON.
func (h *chatHandler) collectEvents(w http.ResponseWriter, sessionID uuid.UUID, events <-chan orchestrator.Event) {
	for ev := range events {
		switch ev.Kind {
		case orchestrator.EventFinal:
			writeJSON(w, http.StatusOK, map[string]any{"message": toMessageResponse(ev.Message)}, h.logger)
			return
		case orchestrator.EventError:
			h.logger.Warn("turn failed", "session_id", sessionID, "error", ev.Err)
			h.writeTurnError(w, ev.Err)
			return
		}
	}
	// The channel closed without a terminal event, which means the turn was
	// abandoned by a client disconnect.
}

// streamEvents relays a turn as Server-Sent Events.
func (h *chatHandler) streamEvents(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID, events <-chan orchestrator.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			var err error
			switch ev.Kind {
			case orchestrator.EventChunk:
				err = writeEvent(w, flusher, eventChunk, chunkPayload{Text: ev.Text, Reasoning: ev.Reasoning})
			case orchestrator.EventFinal:
				err = writeEvent(w, flusher, eventDone, donePayload{Message: toMessageResponse(ev.Message)})
			case orchestrator.EventError:
				h.logger.Warn("turn failed", "session_id", sessionID, "error", ev.Err)
				code, _, msg := turnErrorCode(ev.Err)
				err = writeEvent(w, flusher, eventError, errorPayload{Code: code, Message: msg})
			}
			if err != nil {
				h.logger.Debug("writing SSE event", "error", err, "session_id", sessionID)
				return
			}
		}
	}
}

// writeEvent writes one SSE frame and flushes it.
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, encoded); err != nil {
		return fmt.Errorf("writing %s event: %w", event, err)
	}
	flusher.Flush()
	return nil
}

// resolveAttachments turns uploaded spool references into prompt parts and
// the metadata to persist. Images go in as inline data; anything else must
// yield extractable text.
func (h *chatHandler) resolveAttachments(r *http.Request, refs []attachmentRef) ([]provider.Part, []orchestrator.FileMeta, error) {
	if len(refs) == 0 {
		return nil, nil, nil
	}
	if h.spool == nil {
		return nil, nil, errAttachmentsDisabled
	}

	parts := make([]provider.Part, 0, len(refs))
	files := make([]orchestrator.FileMeta, 0, len(refs))
	for _, ref := range refs {
		if strings.HasPrefix(ref.ContentType, "image/") {
			rc, err := h.spool.Open(ref.Hash)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %s", errAttachmentMissing, ref.Hash)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, nil, fmt.Errorf("reading attachment %s: %w", ref.Hash, err)
			}
			parts = append(parts, provider.Part{Data: data, MIME: ref.ContentType})
		} else {
			text, extracted, err := h.spool.ExtractText(r.Context(), ref.Hash, ref.ContentType)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %s", errAttachmentMissing, ref.Hash)
			}
			if !extracted {
				return nil, nil, fmt.Errorf("%w: %s", errAttachmentUnsupported, ref.ContentType)
			}
			parts = append(parts, provider.Part{
				Text: fmt.Sprintf("Attached file %q:\n%s", ref.FileName, text),
			})
		}
		files = append(files, orchestrator.FileMeta{
			Name:        ref.FileName,
			ContentType: ref.ContentType,
			Size:        ref.SizeBytes,
			Hash:        ref.Hash,
		})
	}
	return parts, files, nil
}

var (
	errAttachmentsDisabled   = errors.New("attachments are not enabled")
	errAttachmentMissing     = errors.New("attachment not found")
	errAttachmentUnsupported = errors.New("unsupported attachment type")
)

// turnErrorCode maps a turn failure to an error code, HTTP status, and a
// client-safe message.
func turnErrorCode(err error) (code string, status int, message string) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return "session_not_found", http.StatusNotFound, "session not found"
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		return "empty_message", http.StatusBadRequest, "content must not be empty"
	case errors.Is(err, orchestrator.ErrNoFailedTurn):
		return "no_failed_turn", http.StatusConflict, "the last turn completed, there is nothing to retry"
	case errors.Is(err, provider.ErrUnknownProvider):
		return "unknown_provider", http.StatusBadRequest, "the session references an unknown provider"
	case errors.Is(err, provider.ErrUnsupportedCapability):
		return "unsupported_capability", http.StatusBadRequest, "the model does not support this request"
	case errors.Is(err, errAttachmentsDisabled):
		return "attachments_disabled", http.StatusBadRequest, "attachments are not enabled on this server"
	case errors.Is(err, errAttachmentMissing):
		return "attachment_not_found", http.StatusBadRequest, "referenced attachment was not uploaded"
	case errors.Is(err, errAttachmentUnsupported):
		return "unsupported_attachment", http.StatusUnsupportedMediaType, "attachment type cannot be used in a prompt"
	}

	var perr *provider.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case provider.KindAuth:
			return "provider_auth", http.StatusBadGateway, "provider rejected the configured credentials"
		case provider.KindRateLimited:
			return "provider_rate_limited", http.StatusTooManyRequests, "provider rate limit exceeded, try again shortly"
		case provider.KindTimeout:
			return "provider_timeout", http.StatusGatewayTimeout, "provider did not answer in time"
		case provider.KindUnavailable:
			return "provider_unavailable", http.StatusBadGateway, "provider is temporarily unavailable"
		}
		return "provider_error", http.StatusBadGateway, "provider rejected the request"
	}

	return "internal_error", http.StatusInternalServerError, "turn failed"
}

func (h *chatHandler) writeTurnError(w http.ResponseWriter, err error) {
	code, status, msg := turnErrorCode(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("turn error", "error", err)
	}
	writeError(w, status, code, msg, h.logger)
}
