package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/dkarpov/calvault/internal/common"
	"github.com/dkarpov/calvault/internal/logging"
	"github.com/dkarpov/calvault/internal/server/models"
	"github.com/dkarpov/calvault/internal/server/services"
	"github.com/gin-gonic/gin"
)

// WrappedDataKey is the wire form of the envelope: ciphertext and iv are
// base64 (gin/encoding-json handles []byte that way).
type WrappedDataKey struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Alg        string `json:"alg"`
	KeyVersion int64  `json:"keyVersion"`
}

type keyRecordResponse struct {
	UserID         string         `json:"userId"`
	WrappedDataKey WrappedDataKey `json:"wrappedDataKey"`
	KeyVersion     int64          `json:"keyVersion"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

type putKeyRecordRequest struct {
	Alg        string `json:"alg"`
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	KeyVersion int64  `json:"keyVersion"`
}

type KeyRecordHandler struct {
	logger logging.Logger
	keys   *services.KeyRegistryService
}

func NewKeyRecordHandler(logger logging.Logger, keys *services.KeyRegistryService) *KeyRecordHandler {
	return &KeyRecordHandler{logger: logger.With("module", "keyrecord_handler"), keys: keys}
}

// Get returns the caller's wrapped-data-key envelope, 404 if uninitialized.
func (h *KeyRecordHandler) Get(c *gin.Context) {
	record, err := h.keys.Get(c.Request.Context(), UserID(c))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h.logger.Error(c.Request.Context(), "key record load failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, keyRecordResponse{
		UserID: record.UserID,
		WrappedDataKey: WrappedDataKey{
			Ciphertext: record.Ciphertext,
			IV:         record.IV,
			Alg:        record.Alg,
			KeyVersion: record.KeyVersion,
		},
		KeyVersion: record.KeyVersion,
		UpdatedAt:  record.UpdatedAt,
	})
}

// Put overwrites the caller's envelope. Malformed payloads get 400.
func (h *KeyRecordHandler) Put(c *gin.Context) {
	var req putKeyRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	version, err := h.keys.Put(c.Request.Context(), &models.KeyRecord{
		UserID:     UserID(c),
		Alg:        req.Alg,
		Ciphertext: req.Ciphertext,
		IV:         req.IV,
		KeyVersion: req.KeyVersion,
	})
	if err != nil {
		if errors.Is(err, common.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		h.logger.Error(c.Request.Context(), "key record save failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "keyVersion": version})
}
