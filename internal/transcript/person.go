package transcript

import (
	"context"
	"encoding/json"
	"strings"
)

// Extractor turns raw conversation text into structured person details.
type Extractor interface {
	Extract(ctx context.Context, rawText string) (*PersonInfo, error)
}

// PersonInfo is what a conversation revealed about the person met.
type PersonInfo struct {
	Name      string
	Workplace string
	Context   string
	Details   string
}

type personJSON struct {
	Name      *string `json:"name"`
	Workplace *string `json:"workplace"`
	Context   *string `json:"context"`
	Details   *string `json:"details"`
}

// ParsePersonInfo decodes a model reply. Nulls and the literal string "null"
// both mean absent.
func ParsePersonInfo(content string) (*PersonInfo, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw personJSON
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, err
	}
	return &PersonInfo{
		Name:      clean(raw.Name),
		Workplace: clean(raw.Workplace),
		Context:   clean(raw.Context),
		Details:   clean(raw.Details),
	}, nil
}

// Summary joins workplace, context and details into the single context
// string stored on an identity.
func (p PersonInfo) Summary() string {
	var parts []string
	for _, s := range []string{p.Workplace, p.Context, p.Details} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func clean(s *string) string {
	if s == nil {
		return ""
	}
	v := strings.TrimSpace(*s)
	if strings.EqualFold(v, "null") {
		return ""
	}
	return v
}
