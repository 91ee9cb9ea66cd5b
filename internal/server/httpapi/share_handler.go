package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/dkarpov/calvault/internal/common"
	"github.com/dkarpov/calvault/internal/logging"
	"github.com/dkarpov/calvault/internal/server/services"
	"github.com/gin-gonic/gin"
)

type createShareRequest struct {
	Data          []byte `json:"data" binding:"required"`
	Password      string `json:"password"`
	BurnAfterRead bool   `json:"burnAfterRead"`
}

type accessShareRequest struct {
	Password string `json:"password"`
}

type shareResponse struct {
	Success       bool      `json:"success"`
	Data          []byte    `json:"data"`
	Timestamp     time.Time `json:"timestamp"`
	Protected     bool      `json:"protected"`
	BurnAfterRead bool      `json:"burnAfterRead"`
	AccessToken   string    `json:"accessToken,omitempty"`
}

type ShareHandler struct {
	logger logging.Logger
	shares *services.ShareService
}

func NewShareHandler(logger logging.Logger, shares *services.ShareService) *ShareHandler {
	return &ShareHandler{logger: logger.With("module", "share_handler"), shares: shares}
}

// Create stores a new share owned by the caller and returns its id.
func (h *ShareHandler) Create(c *gin.Context) {
	var req createShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	share, err := h.shares.Create(c.Request.Context(), UserID(c), req.Data, req.Password, req.BurnAfterRead)
	if err != nil {
		if errors.Is(err, common.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		h.logger.Error(c.Request.Context(), "share create failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "shareId": share.ID})
}

// Access reveals a share given an optional password. Status mapping:
// 401 with requiresPassword when a password is needed but absent, 403 on a
// failed decrypt, 404 when the share does not exist or was already burned.
func (h *ShareHandler) Access(c *gin.Context) {
	var req accessShareRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}

	result, err := h.shares.Access(c.Request.Context(), c.Param("id"), req.Password)
	if err != nil {
		h.accessError(c, result, err)
		return
	}

	c.JSON(http.StatusOK, shareResponse{
		Success:       true,
		Data:          result.Data,
		Timestamp:     result.Timestamp,
		Protected:     result.Protected,
		BurnAfterRead: result.BurnAfterRead,
		AccessToken:   result.AccessToken,
	})
}

// Content is the token-authenticated read path for protected shares.
func (h *ShareHandler) Content(c *gin.Context) {
	token := BearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	result, err := h.shares.AccessWithToken(c.Request.Context(), c.Param("id"), token)
	if err != nil {
		h.accessError(c, result, err)
		return
	}

	c.JSON(http.StatusOK, shareResponse{
		Success:       true,
		Data:          result.Data,
		Timestamp:     result.Timestamp,
		Protected:     result.Protected,
		BurnAfterRead: result.BurnAfterRead,
	})
}

// Delete removes a share owned by the caller.
func (h *ShareHandler) Delete(c *gin.Context) {
	err := h.shares.Delete(c.Request.Context(), c.Param("id"), UserID(c))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h.logger.Error(c.Request.Context(), "share delete failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *ShareHandler) accessError(c *gin.Context, result *services.AccessResult, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, common.ErrPasswordRequired):
		body := gin.H{"requiresPassword": true}
		if result != nil {
			body["burnAfterRead"] = result.BurnAfterRead
		}
		c.JSON(http.StatusUnauthorized, body)
	case errors.Is(err, common.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, common.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	case errors.Is(err, common.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	default:
		h.logger.Error(c.Request.Context(), "share access failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
