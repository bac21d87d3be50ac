package extract

import (
	"encoding/base64"
	"fmt"
)

// imageDataURL wraps raw image bytes as a base64 data URL so images can be
// stored and replayed to vision models without separate blob storage.
func (e *Extractor) imageDataURL(data []byte, mimeType string) (string, error) {
	if int64(len(data)) > e.maxImageBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrImageTooLarge, len(data), e.maxImageBytes)
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)), nil
}
