package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/prism-chat/prism/internal/log"
	"github.com/prism-chat/prism/internal/store"
)

const maxRequestBody = 1 << 20 // 1 MiB

type userHandler struct {
	store  Store
	logger log.Logger
}

type createUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (h *userHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_email", "a valid email address is required", h.logger)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_name", "name must not be empty", h.logger)
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Email, req.Name)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, "duplicate_email", "a user with this email already exists", h.logger)
			return
		}
		h.logger.Error("creating user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create user", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user), h.logger)
}

func (h *userHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found", "user not found", h.logger)
			return
		}
		h.logger.Error("loading user", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load user", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user), h.logger)
}

// decodeBody parses a JSON request body, writing the error response itself
// on failure. Unknown fields are rejected so client typos surface early.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger log.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds 1 MiB", logger)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", logger)
		return false
	}
	return true
}

// pathUUID parses a UUID path segment, writing the error response itself on
// failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string, logger log.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "path segment "+name+" must be a UUID", logger)
		return uuid.Nil, false
	}
	return id, true
}
