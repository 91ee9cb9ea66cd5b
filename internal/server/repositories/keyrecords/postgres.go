package keyrecords

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dkarpov/calvault/internal/common"
	"github.com/dkarpov/calvault/internal/dbx"
	"github.com/dkarpov/calvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (*models.KeyRecord, error) {
	query :=
		`SELECT user_id, alg, ciphertext, iv, key_version, updated_at FROM key_records
		 WHERE user_id = $1
		 `

	record := &models.KeyRecord{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&record.UserID, &record.Alg, &record.Ciphertext, &record.IV, &record.KeyVersion, &record.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return record, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, record *models.KeyRecord) error {
	query :=
		`INSERT INTO key_records (user_id, alg, ciphertext, iv, key_version, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET alg = excluded.alg, ciphertext = excluded.ciphertext, iv = excluded.iv,
		     key_version = excluded.key_version, updated_at = now()
		 `

	_, err := r.db.ExecContext(ctx, query,
		record.UserID, record.Alg, record.Ciphertext, record.IV, record.KeyVersion)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}
