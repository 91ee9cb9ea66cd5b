// Package shares stores share ciphertext rows.
package shares

import (
	"context"

	"github.com/dkarpov/calvault/internal/server/models"
)

// Repository provides access to share rows. GetForUpdate must be called
// inside a transaction: it takes a row lock so that concurrent burn-after-read
// attempts on the same share serialize, and the loser observes either the
// surviving row or its absence, never an intermediate state.
type Repository interface {
	Create(ctx context.Context, share *models.Share) error
	Get(ctx context.Context, id string) (*models.Share, error)
	GetForUpdate(ctx context.Context, id string) (*models.Share, error)
	Delete(ctx context.Context, id string) error
	DeleteOwned(ctx context.Context, id, ownerID string) error
}
