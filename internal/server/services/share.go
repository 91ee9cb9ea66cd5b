// This file implements ShareService: share row creation, owner deletion,
// and the transactional reveal-and-destroy read path for burn-after-read
// shares.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkarpov/calvault/internal/common"
	"github.com/dkarpov/calvault/internal/dbx"
	"github.com/dkarpov/calvault/internal/server/models"
	"github.com/dkarpov/calvault/internal/server/repositories/repomanager"
	"github.com/dkarpov/calvault/internal/server/sharecipher"
	"github.com/dkarpov/calvault/internal/server/sharetoken"
	"github.com/google/uuid"
)

// AccessResult is the outcome of a share read. On an ErrPasswordRequired
// failure the Protected/BurnAfterRead flags are still populated so callers
// can tell the requester what to supply.
type AccessResult struct {
	Data          []byte
	Timestamp     time.Time
	Protected     bool
	BurnAfterRead bool

	// AccessToken is issued on a successful password-authenticated read of
	// a protected share, letting the caller re-read without resending the
	// password. Empty otherwise.
	AccessToken string
}

// ShareService owns the share lifecycle. Destructive reads are funneled
// through a single transaction holding a row lock, so of two concurrent
// correct-password requests against a burn share exactly one observes the
// plaintext and the other sees no row at all.
type ShareService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cipher      *sharecipher.Cipher
	tokens      *sharetoken.Service
}

func NewShareService(db *sql.DB, m repomanager.RepositoryManager, cipher *sharecipher.Cipher, tokens *sharetoken.Service) *ShareService {
	return &ShareService{db: db, repomanager: m, cipher: cipher, tokens: tokens}
}

// Create encrypts the payload under a freshly derived share key and stores
// the row. A burn share requires a password: without one, any link holder
// could trigger the destructive read, so the combination is rejected.
func (s *ShareService) Create(ctx context.Context, ownerID string, plaintext []byte, password string, burn bool) (*models.Share, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: missing owner id", common.ErrValidation)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: empty share payload", common.ErrValidation)
	}
	if burn && password == "" {
		return nil, fmt.Errorf("%w: burn-after-read requires a password", common.ErrValidation)
	}

	share := &models.Share{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Scheme:  models.SchemeUnprotected,
		IsBurn:  burn,
	}

	passwordHash := ""
	if password != "" {
		share.Scheme = models.SchemeProtected
		share.IsProtected = true
		passwordHash = sharecipher.PasswordHash(password)
	}

	key, err := s.cipher.DeriveKey(share.Scheme, share.ID, passwordHash)
	if err != nil {
		return nil, err
	}

	share.Ciphertext, share.IV, share.Tag, err = s.cipher.Encrypt(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("error encrypting share: %w", err)
	}

	repo := s.repomanager.Shares(s.db)
	if err := repo.Create(ctx, share); err != nil {
		return nil, fmt.Errorf("error creating share: %w", err)
	}
	return share, nil
}

// Access reads a share with an optional caller-supplied password.
//
// Failure contract: a missing (or already burned) share yields
// common.ErrNotFound; a protected share without a password yields
// common.ErrPasswordRequired with flags populated in the result; a failed
// decrypt yields common.ErrUnauthorized and never consumes the burn.
func (s *ShareService) Access(ctx context.Context, shareID, password string) (*AccessResult, error) {
	share, err := s.repomanager.Shares(s.db).Get(ctx, shareID)
	if err != nil {
		return nil, err
	}

	if share.IsProtected && password == "" {
		res := &AccessResult{Protected: true, BurnAfterRead: share.IsBurn}
		return res, common.ErrPasswordRequired
	}

	passwordHash := ""
	if share.IsProtected {
		passwordHash = sharecipher.PasswordHash(password)
	}

	result, err := s.revealAndMaybeBurn(ctx, shareID, passwordHash)
	if err != nil {
		return nil, err
	}

	if share.IsProtected {
		token, err := s.tokens.Issue(shareID, passwordHash)
		if err != nil {
			return nil, fmt.Errorf("error issuing access token: %w", err)
		}
		result.AccessToken = token
	}

	return result, nil
}

// AccessWithToken reads a protected share using a previously issued access
// token instead of the password. Tokens only apply to the protected path;
// presenting one for an unprotected share is a request-shape error.
func (s *ShareService) AccessWithToken(ctx context.Context, shareID, tokenString string) (*AccessResult, error) {
	claims, err := s.tokens.Verify(tokenString, shareID)
	if err != nil {
		return nil, err
	}

	share, err := s.repomanager.Shares(s.db).Get(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if !share.IsProtected {
		return nil, fmt.Errorf("%w: share is not password-protected", common.ErrValidation)
	}

	return s.revealAndMaybeBurn(ctx, shareID, claims.PasswordHash)
}

// Delete removes a share on behalf of its owner.
func (s *ShareService) Delete(ctx context.Context, shareID, ownerID string) error {
	return s.repomanager.Shares(s.db).DeleteOwned(ctx, shareID, ownerID)
}

// revealAndMaybeBurn is the burn-after-read transaction. It re-reads the
// row under a FOR UPDATE lock (the unlocked Get callers did earlier may be
// stale by now), decrypts, and deletes the row in the same transaction when
// the burn flag is set. Any error rolls the whole thing back, so a failed
// decrypt never consumes the burn and a crashed request never leaves a
// "decrypted but not deleted" row behind.
func (s *ShareService) revealAndMaybeBurn(ctx context.Context, shareID, passwordHash string) (*AccessResult, error) {
	var result *AccessResult

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Shares(tx)

		share, err := repo.GetForUpdate(ctx, shareID)
		if err != nil {
			// The row may have been burned between the caller's initial
			// read and acquiring the lock; that is a plain not-found.
			return err
		}

		key, err := s.cipher.DeriveKey(share.Scheme, share.ID, passwordHash)
		if err != nil {
			return err
		}

		plaintext, err := s.cipher.Decrypt(key, share.IV, share.Ciphertext, share.Tag)
		if err != nil {
			if errors.Is(err, common.ErrDecryptFailed) {
				return common.ErrUnauthorized
			}
			return err
		}

		if share.IsBurn {
			if err := repo.Delete(ctx, share.ID); err != nil {
				return fmt.Errorf("error burning share: %w", err)
			}
		}

		result = &AccessResult{
			Data:          plaintext,
			Timestamp:     share.CreatedAt,
			Protected:     share.IsProtected,
			BurnAfterRead: share.IsBurn,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
