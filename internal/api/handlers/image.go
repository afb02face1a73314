package handlers

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/visage/pkg/dto"
)

// upload is an image plus the optional form fields that came with it.
type upload struct {
	Image       []byte
	Filename    string
	ContentType string
	Name        string
	Context     string
	DeviceID    string
	Kind        string
}

// readUpload accepts a multipart "image" file, a base64 "image_data" field in
// a multipart or urlencoded form, or a JSON dto.CaptureRequest.
func readUpload(c *gin.Context, maxBytes int64) (*upload, error) {
	switch ct := c.ContentType(); {
	case strings.HasPrefix(ct, "multipart/"), ct == "application/x-www-form-urlencoded":
		return readForm(c, maxBytes)
	}

	var req dto.CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	data, err := decodeBase64Image(req.ImageData)
	if err != nil {
		return nil, err
	}
	return &upload{
		Image:    data,
		Filename: req.Filename,
		Name:     req.Name,
		Context:  firstNonEmpty(req.Context, req.ConversationContext),
		DeviceID: req.DeviceID,
		Kind:     req.Kind,
	}, nil
}

func readForm(c *gin.Context, maxBytes int64) (*upload, error) {
	u := &upload{
		Name:     c.PostForm("name"),
		Context:  firstNonEmpty(c.PostForm("context"), c.PostForm("conversation_context")),
		DeviceID: c.PostForm("device_id"),
		Kind:     c.PostForm("kind"),
	}

	file, header, err := c.Request.FormFile("image")
	if err == nil {
		defer file.Close()
		limit := maxBytes
		if limit <= 0 {
			limit = 32 << 20
		}
		// one extra byte lets validation see the payload as oversized
		u.Image, err = io.ReadAll(io.LimitReader(file, limit+1))
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		u.Filename = header.Filename
		u.ContentType = header.Header.Get("Content-Type")
		return u, nil
	}

	encoded := c.PostForm("image_data")
	if encoded == "" {
		return nil, fmt.Errorf("%w: image file or image_data required", errBadRequest)
	}
	if u.Image, err = decodeBase64Image(encoded); err != nil {
		return nil, err
	}
	u.Filename = c.PostForm("filename")
	return u, nil
}

func decodeBase64Image(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	// an unescaped '+' in a urlencoded body arrives as a space
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "+")
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: image_data is not valid base64", errBadRequest)
	}
	return data, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
