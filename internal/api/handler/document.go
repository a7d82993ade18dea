package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/Rrens/chatnil/internal/api/middleware"
	"github.com/Rrens/chatnil/internal/api/response"
	"github.com/Rrens/chatnil/internal/service"
	"github.com/Rrens/chatnil/internal/upload"
)

// multipart framing allowance on top of the file size limit
const formOverhead = 1 << 20

// DocumentHandler handles document upload endpoints
type DocumentHandler struct {
	docService *service.DocumentService
	maxBytes   int64
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(docService *service.DocumentService, maxBytes int64) *DocumentHandler {
	if maxBytes <= 0 {
		maxBytes = upload.DefaultMaxBytes
	}
	return &DocumentHandler{docService: docService, maxBytes: maxBytes}
}

// Upload processes a multipart file into a document usable as AI context
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(w, "file too large")
			return
		}
		response.BadRequest(w, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.BadRequest(w, "failed to read file")
		return
	}

	doc, err := h.docService.Process(r.Context(), userID, header.Filename, header.Header.Get("Content-Type"), data)
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		response.TooLarge(w, err.Error())
		return
	case errors.Is(err, service.ErrInvalidDocument):
		response.UnsupportedType(w, err.Error())
		return
	case err != nil:
		writeServiceError(w, err)
		return
	}

	response.Created(w, map[string]any{
		"id":        doc.ID,
		"name":      doc.Name,
		"mime_type": doc.MIMEType,
		"size":      doc.Size,
	})
}
