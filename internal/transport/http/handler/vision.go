package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docuchat/internal/transport/http/response"
	"docuchat/internal/vision"
)

// VisionHandler exposes the local image classifier directly, separate from
// its role in image ingestion.
type VisionHandler struct {
	classifier *vision.Classifier
	maxBytes   int64
}

func NewVisionHandler(classifier *vision.Classifier, maxBytes int64) *VisionHandler {
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	return &VisionHandler{classifier: classifier, maxBytes: maxBytes}
}

// Classify accepts a multipart form with "image" and returns top-k labels.
func (h *VisionHandler) Classify(c *gin.Context) {
	if h.classifier == nil {
		response.Error(c, http.StatusServiceUnavailable, "vision classifier is disabled")
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "missing image file (form field 'image')")
		return
	}
	if file.Size > h.maxBytes {
		response.Error(c, http.StatusBadRequest, "image too large")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, "open uploaded file failed")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "read image failed")
		return
	}

	results, err := h.classifier.Classify(data)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "cannot open shared object file") || strings.Contains(msg, "Error loading ONNX shared library") {
			msg = "onnx runtime library not found; set VISION_ONNX_LIB to the libonnxruntime path"
		} else {
			msg = "classification failed"
		}
		response.Error(c, http.StatusServiceUnavailable, msg)
		return
	}

	response.OK(c, gin.H{"predictions": results})
}
