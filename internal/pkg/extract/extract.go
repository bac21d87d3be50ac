package extract

import (
	"errors"
	"fmt"
	"mime"
	"strings"
)

const (
	MIMEPDF  = "application/pdf"
	MIMEDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEDoc  = "application/msword"
)

// DefaultMaxImageBytes caps image payloads when no limit is configured.
const DefaultMaxImageBytes = 10 << 20

var (
	ErrUnsupportedMIME = errors.New("unsupported mime type")
	ErrImageTooLarge   = errors.New("image exceeds size limit")
)

// ExtractionError reports that a payload of a supported MIME type could not
// be parsed by the matching codec.
type ExtractionError struct {
	MIMEType string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s failed: %v", e.MIMEType, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

var textMIMEs = map[string]bool{
	"text/plain":    true,
	"text/markdown": true,
	"text/csv":      true,
}

var imageMIMEs = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Extractor turns uploaded file bytes into plain text, or a data URL for
// images.
type Extractor struct {
	maxImageBytes int64
}

func New(maxImageBytes int64) *Extractor {
	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}
	return &Extractor{maxImageBytes: maxImageBytes}
}

// Extract dispatches on the declared MIME type. Empty or whitespace-only
// output is not an error at this layer; callers decide whether it matters.
func (e *Extractor) Extract(data []byte, mimeType string) (string, error) {
	mt := NormalizeMIME(mimeType)
	switch {
	case mt == MIMEPDF:
		text, err := extractPDF(data)
		if err != nil {
			return "", &ExtractionError{MIMEType: mt, Err: err}
		}
		return text, nil
	case mt == MIMEDocx || mt == MIMEDoc:
		text, err := extractWord(data)
		if err != nil {
			return "", &ExtractionError{MIMEType: mt, Err: err}
		}
		return text, nil
	case textMIMEs[mt]:
		return decodeText(data), nil
	case imageMIMEs[mt]:
		return e.imageDataURL(data, mt)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMIME, mt)
	}
}

// IsImage reports whether the declared MIME type takes the image path.
func IsImage(mimeType string) bool {
	return imageMIMEs[NormalizeMIME(mimeType)]
}

// NormalizeMIME lowercases the media type and strips parameters such as
// charset so dispatch sees a bare type.
func NormalizeMIME(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt, _, _ = strings.Cut(mimeType, ";")
		mt = strings.ToLower(strings.TrimSpace(mt))
	}
	return mt
}

// SupportedTypes enumerates every MIME type Extract accepts, for rejection
// messages at the upload boundary.
func SupportedTypes() []string {
	return []string{
		MIMEPDF,
		MIMEDocx,
		MIMEDoc,
		"text/plain",
		"text/markdown",
		"text/csv",
		"image/png",
		"image/jpeg",
		"image/gif",
		"image/webp",
	}
}
