// Package refreshtokens persists refresh grants of the reference server.
package refreshtokens

import (
	"context"

	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, token *models.RefreshToken) error

	// Find returns common.ErrorNotFound when no grant has tokenHash.
	Find(ctx context.Context, tokenHash string) (*models.RefreshToken, error)

	// Delete is a no-op for an unknown hash.
	Delete(ctx context.Context, tokenHash string) error
}
