package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/prism-chat/prism/internal/log"
	"github.com/prism-chat/prism/internal/store"
)

type memoryHandler struct {
	store  Store
	logger log.Logger
}

type saveMemoryRequest struct {
	Value      string   `json:"value"`
	Confidence *float64 `json:"confidence"`
}

func (h *memoryHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	memories, err := h.store.ListMemories(r.Context(), userID)
	if err != nil {
		h.logger.Error("listing memories", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list memories", h.logger)
		return
	}

	out := make([]memoryResponse, 0, len(memories))
	for _, m := range memories {
		out = append(out, toMemoryResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": out}, h.logger)
}

// save records a fact the user stated directly. Explicit saves default to
// full confidence, so they win over extracted facts under the upsert rule.
func (h *memoryHandler) save(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	key := r.PathValue("key")

	var req saveMemoryRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if strings.TrimSpace(req.Value) == "" {
		writeError(w, http.StatusBadRequest, "empty_value", "value must not be empty", h.logger)
		return
	}
	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
	}

	m, err := h.store.UpsertMemory(r.Context(), userID, key, req.Value, confidence)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user_not_found", "user not found", h.logger)
		case errors.Is(err, store.ErrEmptyKey):
			writeError(w, http.StatusBadRequest, "empty_key", "memory key must not be empty", h.logger)
		default:
			h.logger.Error("saving memory", "error", err, "user_id", userID, "key", key)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to save memory", h.logger)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memory": toMemoryResponse(m)}, h.logger)
}

func (h *memoryHandler) remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	key := r.PathValue("key")

	if err := h.store.DeleteMemory(r.Context(), userID, key); err != nil {
		if errors.Is(err, store.ErrMemoryNotFound) {
			writeError(w, http.StatusNotFound, "memory_not_found", "no memory with this key", h.logger)
			return
		}
		h.logger.Error("deleting memory", "error", err, "user_id", userID, "key", key)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete memory", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
