package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dkarpov/calvault/internal/common"
	"github.com/dkarpov/calvault/internal/dbx"
	"github.com/dkarpov/calvault/internal/logging"
	"github.com/dkarpov/calvault/internal/server/models"
	"github.com/dkarpov/calvault/internal/server/repositories/keyrecords"
	"github.com/dkarpov/calvault/internal/server/repositories/shares"
	"github.com/dkarpov/calvault/internal/server/services"
	"github.com/dkarpov/calvault/internal/server/sharecipher"
	"github.com/dkarpov/calvault/internal/server/sharetoken"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- in-memory repos ---

type memShares struct {
	rows map[string]*models.Share
}

func (f *memShares) Create(ctx context.Context, s *models.Share) error {
	cp := *s
	f.rows[s.ID] = &cp
	return nil
}

func (f *memShares) Get(ctx context.Context, id string) (*models.Share, error) {
	s, ok := f.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *memShares) GetForUpdate(ctx context.Context, id string) (*models.Share, error) {
	return f.Get(ctx, id)
}

func (f *memShares) Delete(ctx context.Context, id string) error {
	if _, ok := f.rows[id]; !ok {
		return common.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *memShares) DeleteOwned(ctx context.Context, id, ownerID string) error {
	s, ok := f.rows[id]
	if !ok || s.OwnerID != ownerID {
		return common.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

type memKeyRecords struct {
	rows map[string]*models.KeyRecord
}

func (f *memKeyRecords) Get(ctx context.Context, userID string) (*models.KeyRecord, error) {
	r, ok := f.rows[userID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *memKeyRecords) Upsert(ctx context.Context, r *models.KeyRecord) error {
	cp := *r
	f.rows[r.UserID] = &cp
	return nil
}

type memRepoManager struct {
	shares  *memShares
	records *memKeyRecords
}

func (m *memRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memRepoManager) KeyRecords(db dbx.DBTX) keyrecords.Repository { return m.records }
func (m *memRepoManager) Shares(db dbx.DBTX) shares.Repository         { return m.shares }

// --- harness ---

type harness struct {
	router *gin.Engine
	repos  *memRepoManager
	mock   sqlmock.Sqlmock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	// Every transactional share read begins and commits/rolls back; the
	// handlers under test drive an unknown number of them.
	mock.MatchExpectationsInOrder(false)

	repos := &memRepoManager{
		shares:  &memShares{rows: make(map[string]*models.Share)},
		records: &memKeyRecords{rows: make(map[string]*models.KeyRecord)},
	}

	cipher := sharecipher.New([]byte("legacy-salt"))
	tokens, err := sharetoken.NewService([]byte("0123456789abcdef0123456789abcdef"), 5*time.Minute)
	require.NoError(t, err)

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	keys := services.NewKeyRegistryService(db, repos)
	shareSvc := services.NewShareService(db, repos, cipher, tokens)

	return &harness{
		router: NewRouter(logger, keys, shareSvc),
		repos:  repos,
		mock:   mock,
	}
}

func (h *harness) expectTx() {
	h.mock.ExpectBegin()
	h.mock.ExpectCommit()
}

func (h *harness) expectRollback() {
	h.mock.ExpectBegin()
	h.mock.ExpectRollback()
}

func (h *harness) do(method, path, userID string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(common.UserIDHeaderName, userID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

// --- key registry endpoints ---

func TestKeyRecord_GetUninitialized(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/keyrecord", "u1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKeyRecord_RequiresIdentity(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/keyrecord", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestKeyRecord_PutThenGet(t *testing.T) {
	h := newHarness(t)

	put := h.do(http.MethodPut, "/api/keyrecord", "u1", gin.H{
		"alg":        "AES-GCM",
		"ciphertext": []byte("wrapped"),
		"iv":         []byte("123456789012"),
		"keyVersion": 1,
	}, nil)
	require.Equal(t, http.StatusOK, put.Code)
	body := decode(t, put)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["keyVersion"])

	get := h.do(http.MethodGet, "/api/keyrecord", "u1", nil, nil)
	require.Equal(t, http.StatusOK, get.Code)
	body = decode(t, get)
	assert.Equal(t, "u1", body["userId"])
	assert.EqualValues(t, 1, body["keyVersion"])

	wrapped, ok := body["wrappedDataKey"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "AES-GCM", wrapped["alg"])
}

func TestKeyRecord_PutMalformed(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPut, "/api/keyrecord", "u1", gin.H{
		"alg":        "ROT13",
		"ciphertext": []byte("wrapped"),
		"iv":         []byte("123456789012"),
		"keyVersion": 1,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- share endpoints ---

func createShare(t *testing.T, h *harness, password string, burn bool) string {
	t.Helper()
	w := h.do(http.MethodPost, "/api/shares", "owner-1", gin.H{
		"data":          []byte(`{"title":"lunch"}`),
		"password":      password,
		"burnAfterRead": burn,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	id, ok := body["shareId"].(string)
	require.True(t, ok)
	return id
}

func TestShare_AccessUnprotected(t *testing.T) {
	h := newHarness(t)
	id := createShare(t, h, "", false)

	h.expectTx()
	w := h.do(http.MethodPost, "/api/shares/"+id+"/access", "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["protected"])
	assert.Equal(t, false, body["burnAfterRead"])
}

func TestShare_AccessMissing(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/shares/nope/access", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestShare_AccessPasswordRequired(t *testing.T) {
	h := newHarness(t)
	id := createShare(t, h, "pw", true)

	w := h.do(http.MethodPost, "/api/shares/"+id+"/access", "", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["requiresPassword"])
	assert.Equal(t, true, body["burnAfterRead"])
}

func TestShare_AccessWrongPassword(t *testing.T) {
	h := newHarness(t)
	id := createShare(t, h, "right", true)

	h.expectRollback()
	w := h.do(http.MethodPost, "/api/shares/"+id+"/access", "", gin.H{"password": "wrong"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Burn not consumed.
	assert.Contains(t, h.repos.shares.rows, id)
}

func TestShare_BurnAfterRead(t *testing.T) {
	h := newHarness(t)
	id := createShare(t, h, "pw", true)

	h.expectTx()
	w := h.do(http.MethodPost, "/api/shares/"+id+"/access", "", gin.H{"password": "pw"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["burnAfterRead"])
	assert.NotEmpty(t, body["accessToken"])

	// Second read: already burned, indistinguishable from never-existed.
	w = h.do(http.MethodPost, "/api/shares/"+id+"/access", "", gin.H{"password": "pw"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestShare_TokenContent(t *testing.T) {
	h := newHarness(t)
	id := createShare(t, h, "pw", false)

	h.expectTx()
	w := h.do(http.MethodPost, "/api/shares/"+id+"/access", "", gin.H{"password": "pw"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	token, ok := decode(t, w)["accessToken"].(string)
	require.True(t, ok)

	h.expectTx()
	w = h.do(http.MethodGet, "/api/shares/"+id+"/content", "", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestShare_TokenContent_InvalidToken(t *testing.T) {
	h := newHarness(t)
	id := createShare(t, h, "pw", false)

	w := h.do(http.MethodGet, "/api/shares/"+id+"/content", "", nil, map[string]string{
		"Authorization": "Bearer garbage",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestShare_TokenContent_MissingToken(t *testing.T) {
	h := newHarness(t)
	id := createShare(t, h, "pw", false)

	w := h.do(http.MethodGet, "/api/shares/"+id+"/content", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestShare_TokenContent_UnprotectedShare(t *testing.T) {
	h := newHarness(t)
	protectedID := createShare(t, h, "pw", false)
	unprotectedID := createShare(t, h, "", false)

	h.expectTx()
	w := h.do(http.MethodPost, "/api/shares/"+protectedID+"/access", "", gin.H{"password": "pw"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	token, ok := decode(t, w)["accessToken"].(string)
	require.True(t, ok)

	// Token is share-bound, so presenting it for another share fails
	// verification outright.
	w = h.do(http.MethodGet, "/api/shares/"+unprotectedID+"/content", "", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestShare_OwnerDelete(t *testing.T) {
	h := newHarness(t)
	id := createShare(t, h, "", false)

	w := h.do(http.MethodDelete, "/api/shares/"+id, "owner-1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodDelete, "/api/shares/"+id, "owner-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestShare_DeleteRequiresIdentity(t *testing.T) {
	h := newHarness(t)
	id := createShare(t, h, "", false)

	w := h.do(http.MethodDelete, "/api/shares/"+id, "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestShare_CreateBurnWithoutPassword(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/shares", "owner-1", gin.H{
		"data":          []byte("x"),
		"burnAfterRead": true,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
