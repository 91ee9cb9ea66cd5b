package keyrecords

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dkarpov/calvault/internal/common"
	"github.com/dkarpov/calvault/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+user_id,\s*alg,\s*ciphertext,\s*iv,\s*key_version,\s*updated_at\s+FROM\s+key_records\s+WHERE\s+user_id\s*=\s*\$1\s*$`

	now := time.Now()
	rows := sqlmock.NewRows([]string{"user_id", "alg", "ciphertext", "iv", "key_version", "updated_at"}).
		AddRow("u-1", "AES-GCM", []byte("ct"), []byte("iv"), int64(3), now)
	mock.ExpectQuery(q).
		WithArgs("u-1").
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.UserID != "u-1" || got.KeyVersion != 3 || got.Alg != "AES-GCM" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("nobody").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "nobody")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("u-1").
		WillReturnError(errors.New("db down"))

	_, err := repo.Get(context.Background(), "u-1")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestUpsert_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+key_records\s*\(user_id,\s*alg,\s*ciphertext,\s*iv,\s*key_version,\s*updated_at\).*ON\s+CONFLICT\s*\(user_id\)\s+DO\s+UPDATE`

	mock.ExpectExec(q).
		WithArgs("u-1", "AES-GCM", []byte("ct"), []byte("iv"), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	record := &models.KeyRecord{
		UserID: "u-1", Alg: "AES-GCM",
		Ciphertext: []byte("ct"), IV: []byte("iv"), KeyVersion: 1,
	}
	if err := repo.Upsert(context.Background(), record); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
}

func TestUpsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT`).
		WillReturnError(errors.New("db down"))

	record := &models.KeyRecord{UserID: "u-1", Alg: "AES-GCM", Ciphertext: []byte("ct"), IV: []byte("iv"), KeyVersion: 1}
	err := repo.Upsert(context.Background(), record)
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
