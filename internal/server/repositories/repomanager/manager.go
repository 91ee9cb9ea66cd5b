// Package repomanager vends repository implementations bound to a DBTX and
// exposes the schema migration hook.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dkarpov/calvault/internal/dbx"
	"github.com/dkarpov/calvault/internal/server/repositories/keyrecords"
	"github.com/dkarpov/calvault/internal/server/repositories/shares"
)

// RepositoryManager lets services construct repositories over either a plain
// connection or a transaction, so the same repository code runs inside the
// burn-after-read transaction and outside it.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	KeyRecords(db dbx.DBTX) keyrecords.Repository
	Shares(db dbx.DBTX) shares.Repository
}
