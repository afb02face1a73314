package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ErrInvalidImage is returned for payloads that are empty, too large or not
// a supported image.
var ErrInvalidImage = errors.New("invalid image")

var supportedFormats = map[string]bool{"jpeg": true, "png": true, "webp": true}

// ValidateImage checks size and format without decoding pixel data.
// It returns the detected format name.
func ValidateImage(data []byte, maxBytes int64) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidImage, len(data), maxBytes)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if !supportedFormats[format] {
		return "", fmt.Errorf("%w: unsupported format %q", ErrInvalidImage, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}
	return format, nil
}

// Decode validates and decodes an image.
func Decode(data []byte, maxBytes int64) (image.Image, error) {
	if _, err := ValidateImage(data, maxBytes); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}
