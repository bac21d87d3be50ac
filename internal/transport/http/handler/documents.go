package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"docuchat/internal/app"
	"docuchat/internal/pkg/extract"
	"docuchat/internal/transport/http/middleware"
	"docuchat/internal/transport/http/response"
)

type DocumentHandler struct {
	ingest *app.IngestService
}

func NewDocumentHandler(ingest *app.IngestService) *DocumentHandler {
	return &DocumentHandler{ingest: ingest}
}

// Upload ingests one multipart file (field "file", optional display "name").
func (h *DocumentHandler) Upload(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "invalid token payload")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "missing file (form field 'file')")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, "open uploaded file failed")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "read uploaded file failed")
		return
	}

	fileName := strings.TrimSpace(c.PostForm("name"))
	if fileName == "" {
		fileName = fileHeader.Filename
	}

	result, err := h.ingest.Ingest(c.Request.Context(), app.IngestInput{
		UserID:   identity.UserID,
		Email:    identity.Email,
		Name:     identity.Name,
		FileName: fileName,
		MIMEType: resolveMIME(fileHeader.Filename, fileHeader.Header.Get("Content-Type"), data),
		Data:     data,
	})
	if err != nil {
		writeIngestError(c, err)
		return
	}

	response.OK(c, result)
}

func (h *DocumentHandler) List(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "invalid token payload")
		return
	}

	docs, err := h.ingest.ListDocuments(c.Request.Context(), identity.UserID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "list documents failed")
		return
	}
	response.OK(c, gin.H{"documents": docs})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "invalid token payload")
		return
	}

	documentID := strings.TrimSpace(c.Param("id"))
	if documentID == "" {
		response.Error(c, http.StatusBadRequest, "invalid document id")
		return
	}

	if err := h.ingest.DeleteDocument(c.Request.Context(), identity.UserID, documentID); err != nil {
		switch {
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, "delete document failed")
		}
		return
	}

	response.OK(c, gin.H{"deleted_document_id": documentID})
}

func writeIngestError(c *gin.Context, err error) {
	var extractionErr *extract.ExtractionError
	switch {
	case errors.Is(err, extract.ErrUnsupportedMIME):
		response.Error(c, http.StatusBadRequest,
			"unsupported file type; supported: "+strings.Join(extract.SupportedTypes(), ", "))
	case errors.As(err, &extractionErr):
		response.Error(c, http.StatusBadRequest, "could not read file content")
	case errors.Is(err, app.ErrEmptyFile),
		errors.Is(err, app.ErrFileTooLarge),
		errors.Is(err, app.ErrNoExtractableText),
		errors.Is(err, app.ErrInvalidInput),
		errors.Is(err, extract.ErrImageTooLarge):
		response.Error(c, http.StatusBadRequest, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, "ingest failed")
	}
}

// Extensions the extractor supports but the stdlib table may not know.
var extMIMEs = map[string]string{
	".md":   "text/markdown",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".pdf":  extract.MIMEPDF,
	".docx": extract.MIMEDocx,
	".doc":  extract.MIMEDoc,
}

// resolveMIME picks the most trustworthy content type available: the
// client-declared header, then the file extension, then content sniffing.
func resolveMIME(fileName, declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && !strings.HasPrefix(declared, "application/octet-stream") {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if mt, ok := extMIMEs[ext]; ok {
		return mt
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}
