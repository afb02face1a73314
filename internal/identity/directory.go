package identity

import (
	"context"
	"strings"

	"github.com/your-org/visage/internal/models"
)

// Directory looks identities up by name, independent of embedding search.
type Directory struct {
	store Store
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// SearchByName returns the identity whose name contains text, ignoring case,
// or nil when none does.
func (d *Directory) SearchByName(ctx context.Context, text string) (*models.Identity, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyName
	}
	return d.store.GetIdentityByName(ctx, text)
}
