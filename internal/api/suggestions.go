package api

import (
	"errors"
	"net/http"

	"github.com/prism-chat/prism/internal/log"
	"github.com/prism-chat/prism/internal/store"
)

type suggestionHandler struct {
	store  Store
	logger log.Logger
}

func (h *suggestionHandler) list(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	suggestions, err := h.store.SessionSuggestions(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("listing suggestions", "error", err, "session_id", sessionID)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list suggestions", h.logger)
		return
	}

	out := make([]suggestionResponse, 0, len(suggestions))
	for _, s := range suggestions {
		out = append(out, toSuggestionResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": out}, h.logger)
}

func (h *suggestionHandler) use(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	if err := h.store.MarkSuggestionUsed(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrSuggestionNotFound) {
			writeError(w, http.StatusNotFound, "suggestion_not_found", "suggestion not found", h.logger)
			return
		}
		h.logger.Error("marking suggestion used", "error", err, "suggestion_id", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to mark suggestion", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
