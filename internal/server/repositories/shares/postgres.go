package shares

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dkarpov/calvault/internal/common"
	"github.com/dkarpov/calvault/internal/dbx"
	"github.com/dkarpov/calvault/internal/server/models"
)

const shareColumns = "id, owner_id, ciphertext, iv, auth_tag, scheme, is_protected, is_burn, created_at"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, share *models.Share) error {
	query :=
		`INSERT INTO shares (id, owner_id, ciphertext, iv, auth_tag, scheme, is_protected, is_burn, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		 `

	_, err := r.db.ExecContext(ctx, query,
		share.ID, share.OwnerID, share.Ciphertext, share.IV, share.Tag,
		share.Scheme, share.IsProtected, share.IsBurn)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Share, error) {
	query := `SELECT ` + shareColumns + ` FROM shares WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetForUpdate locks the share row for the duration of the surrounding
// transaction. A concurrent reader blocks here until the winner commits.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Share, error) {
	query := `SELECT ` + shareColumns + ` FROM shares WHERE id = $1 FOR UPDATE`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM shares WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return checkDeleted(res)
}

func (r *PostgresRepository) DeleteOwned(ctx context.Context, id, ownerID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM shares WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return checkDeleted(res)
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Share, error) {
	share := &models.Share{}
	err := row.Scan(&share.ID, &share.OwnerID, &share.Ciphertext, &share.IV, &share.Tag,
		&share.Scheme, &share.IsProtected, &share.IsBurn, &share.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return share, nil
}

func checkDeleted(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
