// Package services contains server-side business logic. This file implements
// KeyRegistryService: the remote holder of each account's wrapped-data-key
// envelope. The server never sees the data key itself, only its ciphertext.
package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dkarpov/calvault/internal/common"
	"github.com/dkarpov/calvault/internal/server/models"
	"github.com/dkarpov/calvault/internal/server/repositories/repomanager"
)

// WrappedKeyAlg is the only envelope algorithm the registry accepts.
const WrappedKeyAlg = "AES-GCM"

// KeyRegistryService stores and returns wrapped-data-key envelopes. Writes
// are last-writer-wins: the registry keeps exactly one live envelope per
// account and carries no optimistic-concurrency token.
type KeyRegistryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewKeyRegistryService(db *sql.DB, m repomanager.RepositoryManager) *KeyRegistryService {
	return &KeyRegistryService{db: db, repomanager: m}
}

// Get returns the account's current envelope, or common.ErrNotFound for an
// uninitialized account.
func (s *KeyRegistryService) Get(ctx context.Context, userID string) (*models.KeyRecord, error) {
	repo := s.repomanager.KeyRecords(s.db)
	record, err := repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Put overwrites the account's envelope after shape validation. The stored
// key version is whatever the client sent; version sequencing is owned by
// the client-side rotation logic.
func (s *KeyRegistryService) Put(ctx context.Context, record *models.KeyRecord) (int64, error) {
	if err := validateRecord(record); err != nil {
		return 0, err
	}

	repo := s.repomanager.KeyRecords(s.db)
	if err := repo.Upsert(ctx, record); err != nil {
		return 0, fmt.Errorf("error saving key record: %w", err)
	}
	return record.KeyVersion, nil
}

func validateRecord(record *models.KeyRecord) error {
	switch {
	case record.UserID == "":
		return fmt.Errorf("%w: missing user id", common.ErrValidation)
	case record.Alg != WrappedKeyAlg:
		return fmt.Errorf("%w: unsupported algorithm %q", common.ErrValidation, record.Alg)
	case len(record.Ciphertext) == 0:
		return fmt.Errorf("%w: empty ciphertext", common.ErrValidation)
	case len(record.IV) == 0:
		return fmt.Errorf("%w: empty iv", common.ErrValidation)
	case record.KeyVersion < 1:
		return fmt.Errorf("%w: key version must be positive", common.ErrValidation)
	}
	return nil
}
