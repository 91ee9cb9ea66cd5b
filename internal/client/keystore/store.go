package keystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkarpov/calvault/internal/client/migrations"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// TrustedDevice is a device trust record: the master key wrapped under the
// device key, tagged with the key version it was written against. A record
// whose version no longer matches the server envelope is stale and must be
// discarded.
type TrustedDevice struct {
	UserID     string
	KeyVersion int64
	Ciphertext []byte
	IV         []byte
	CreatedAt  time.Time

	deviceKey *DeviceKey
}

// Open unwraps the master key held by this trust record.
func (t *TrustedDevice) Open() ([]byte, error) {
	return t.deviceKey.Open(t.Ciphertext, t.IV)
}

// trustRow is the persisted JSON form of a trust record. It carries only
// the wrapped master key; the device wrapping key lives under its own KV
// entry, so the record by itself opens nothing.
type trustRow struct {
	KeyVersion int64     `json:"key_version"`
	Ciphertext []byte    `json:"ciphertext"`
	IV         []byte    `json:"iv"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists device trust records, one per user id.
//
// The wrapping key and the trust record are stored as separate entries so
// a keychain-backed KV can keep the key in platform-protected storage while
// records stay in sqlite. With the plain sqlite backend both entries share
// the device-local file; keeping that file on-device is then what makes a
// copied record useless elsewhere.
type Store struct {
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

func trustKey(userID string) string     { return "trusted_device:" + userID }
func deviceKeyKey(userID string) string { return "device_key:" + userID }

// SaveTrustedDevice persists the wrapped master key and version for the
// user, replacing any prior record and wrapping key.
func (s *Store) SaveTrustedDevice(ctx context.Context, userID string, version int64, ciphertext, iv []byte, key *DeviceKey) error {
	row := trustRow{
		KeyVersion: version,
		Ciphertext: ciphertext,
		IV:         iv,
		CreatedAt:  time.Now().UTC(),
	}

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode trust record: %w", err)
	}

	// Key first: a record without its key is unusable, the reverse leaks
	// nothing.
	if err := s.kv.Set(ctx, deviceKeyKey(userID), key.raw); err != nil {
		return err
	}
	return s.kv.Set(ctx, trustKey(userID), data)
}

// LoadTrustedDevice returns the user's trust record, or common.ErrNotFound
// when either the record or its wrapping key is missing.
func (s *Store) LoadTrustedDevice(ctx context.Context, userID string) (*TrustedDevice, error) {
	data, err := s.kv.Get(ctx, trustKey(userID))
	if err != nil {
		return nil, err
	}

	raw, err := s.kv.Get(ctx, deviceKeyKey(userID))
	if err != nil {
		return nil, err
	}

	var row trustRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("failed to decode trust record: %w", err)
	}

	return &TrustedDevice{
		UserID:     userID,
		KeyVersion: row.KeyVersion,
		Ciphertext: row.Ciphertext,
		IV:         row.IV,
		CreatedAt:  row.CreatedAt,
		deviceKey:  &DeviceKey{raw: raw},
	}, nil
}

// DeleteTrustedDevice discards the user's trust record and wrapping key
// (e.g. once the record goes stale after a rotation performed elsewhere).
func (s *Store) DeleteTrustedDevice(ctx context.Context, userID string) error {
	if err := s.kv.Delete(ctx, trustKey(userID)); err != nil {
		return err
	}
	return s.kv.Delete(ctx, deviceKeyKey(userID))
}

// RunMigrations sets up goose with the embedded client migrations and runs
// them against the device-local database.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// OpenDatabase opens (creating if needed) the device-local sqlite database
// and applies migrations.
func OpenDatabase(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
