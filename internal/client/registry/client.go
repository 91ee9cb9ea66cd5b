// Package registry is the client for the server key registry: the remote
// holder of the account's wrapped-data-key envelope and its version counter.
//
// Both calls are plain network requests with no retry policy baked in;
// callers decide retry/backoff.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dkarpov/calvault/internal/common"
)

// WrappedDataKey is the envelope wire form shared with the server.
type WrappedDataKey struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Alg        string `json:"alg"`
	KeyVersion int64  `json:"keyVersion"`
}

// KeyRecord is the registry's GET response.
type KeyRecord struct {
	UserID         string         `json:"userId"`
	WrappedDataKey WrappedDataKey `json:"wrappedDataKey"`
	KeyVersion     int64          `json:"keyVersion"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

type saveRequest struct {
	Alg        string `json:"alg"`
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	KeyVersion int64  `json:"keyVersion"`
}

// Client talks to the key registry endpoint over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchRecord returns the account's current envelope. An uninitialized
// account yields common.ErrNotFound; transport and server failures yield
// common.ErrRegistryLoad.
func (c *Client) FetchRecord(ctx context.Context, userID string) (*KeyRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/keyrecord", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRegistryLoad, err)
	}
	req.Header.Set(common.UserIDHeaderName, userID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRegistryLoad, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, common.ErrNotFound
	default:
		return nil, fmt.Errorf("%w: unexpected status %s", common.ErrRegistryLoad, resp.Status)
	}

	record := &KeyRecord{}
	if err := json.NewDecoder(resp.Body).Decode(record); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRegistryLoad, err)
	}
	return record, nil
}

// SaveRecord overwrites the account's single envelope.
func (c *Client) SaveRecord(ctx context.Context, userID string, envelope *WrappedDataKey) error {
	body, err := json.Marshal(saveRequest{
		Alg:        envelope.Alg,
		Ciphertext: envelope.Ciphertext,
		IV:         envelope.IV,
		KeyVersion: envelope.KeyVersion,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrRegistrySave, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/api/keyrecord", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrRegistrySave, err)
	}
	req.Header.Set(common.UserIDHeaderName, userID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrRegistrySave, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %s", common.ErrRegistrySave, resp.Status)
	}
	return nil
}
