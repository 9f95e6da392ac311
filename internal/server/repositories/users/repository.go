// Package users stores accounts of the reference server.
package users

import (
	"context"

	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

type Repository interface {
	// Create stores user and fills its ID. A taken username yields
	// common.ErrUserAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	// GetUserByLogin returns common.ErrorNotFound for an unknown username.
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
}
