// Package keyrecords stores the per-account wrapped-data-key envelope.
package keyrecords

import (
	"context"

	"github.com/dkarpov/calvault/internal/server/models"
)

// Repository provides access to key registry rows. Get returns
// common.ErrNotFound for uninitialized accounts. Upsert overwrites the
// account's single envelope (last writer wins, no version guard).
type Repository interface {
	Get(ctx context.Context, userID string) (*models.KeyRecord, error)
	Upsert(ctx context.Context, record *models.KeyRecord) error
}
