package api

import (
	"errors"
	"net/http"

	"github.com/prism-chat/prism/internal/attachment"
	"github.com/prism-chat/prism/internal/log"
)

type attachmentHandler struct {
	spool  *attachment.Spool
	logger log.Logger
}

type uploadResponse struct {
	Hash        string `json:"hash"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// upload spools a multipart file and returns its content hash. The hash is
// later referenced from a message's attachments list.
func (h *attachmentHandler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, attachment.MaxFileSize+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the upload limit", h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_upload", "multipart form must carry a file field", h.logger)
		return
	}
	defer file.Close()

	saved, err := h.spool.Save(r.Context(), header.Filename, file)
	if err != nil {
		if errors.Is(err, attachment.ErrTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the upload limit", h.logger)
			return
		}
		h.logger.Error("spooling upload", "error", err, "file", header.Filename)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to store upload", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		Hash:        saved.Hash,
		FileName:    saved.Name,
		ContentType: saved.ContentType,
		SizeBytes:   saved.Size,
	}, h.logger)
}
