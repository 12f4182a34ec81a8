package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/prism-chat/prism/internal/log"
	"github.com/prism-chat/prism/internal/store"
)

type sessionHandler struct {
	store  Store
	logger log.Logger
}

type createSessionRequest struct {
	UserID   uuid.UUID `json:"user_id"`
	Title    string    `json:"title"`
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
}

func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	if req.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id is required", h.logger)
		return
	}
	if req.Provider == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "invalid_model", "provider and model are required", h.logger)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New chat"
	}

	sess, err := h.store.CreateSession(r.Context(), req.UserID, title, req.Provider, req.Model)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found", "user not found", h.logger)
			return
		}
		h.logger.Error("creating session", "error", err, "user_id", req.UserID)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create session", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(sess), h.logger)
}

func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id query parameter must be a UUID", h.logger)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer", h.logger)
			return
		}
	}

	sessions, err := h.store.ListSessions(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("listing sessions", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list sessions", h.logger)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out}, h.logger)
}

func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	sess, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("loading session", "error", err, "session_id", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load session", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(sess), h.logger)
}

type updateSessionRequest struct {
	Title    *string `json:"title"`
	Provider *string `json:"provider"`
	Model    *string `json:"model"`
}

// update changes a session's title or its provider/model pair. Provider and
// model switch together so a session never points at a model its provider
// does not serve.
func (h *sessionHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	var req updateSessionRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if (req.Provider == nil) != (req.Model == nil) {
		writeError(w, http.StatusBadRequest, "invalid_model", "provider and model must be updated together", h.logger)
		return
	}
	if req.Title == nil && req.Provider == nil {
		writeError(w, http.StatusBadRequest, "empty_update", "nothing to update", h.logger)
		return
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, "invalid_title", "title must not be empty", h.logger)
			return
		}
		if err := h.store.UpdateSessionTitle(r.Context(), id, title); err != nil {
			h.sessionError(w, err, id, "updating session title")
			return
		}
	}
	if req.Provider != nil {
		if *req.Provider == "" || *req.Model == "" {
			writeError(w, http.StatusBadRequest, "invalid_model", "provider and model must not be empty", h.logger)
			return
		}
		if err := h.store.UpdateSessionModel(r.Context(), id, *req.Provider, *req.Model); err != nil {
			h.sessionError(w, err, id, "updating session model")
			return
		}
	}

	sess, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		h.sessionError(w, err, id, "reloading session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess), h.logger)
}

func (h *sessionHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	if err := h.store.DeleteSession(r.Context(), id); err != nil {
		h.sessionError(w, err, id, "deleting session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *sessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	if _, err := h.store.GetSession(r.Context(), id); err != nil {
		h.sessionError(w, err, id, "loading session")
		return
	}
	msgs, err := h.store.GetMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("loading messages", "error", err, "session_id", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load messages", h.logger)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out}, h.logger)
}

func (h *sessionHandler) sessionError(w http.ResponseWriter, err error, id uuid.UUID, op string) {
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session_not_found", "session not found", h.logger)
		return
	}
	h.logger.Error(op, "error", err, "session_id", id)
	writeError(w, http.StatusInternalServerError, "internal_error", "operation failed", h.logger)
}
