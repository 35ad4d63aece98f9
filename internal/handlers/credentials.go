package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lggm33/afp-vault/internal/models"
	"github.com/lggm33/afp-vault/internal/refresh"
	"github.com/lggm33/afp-vault/internal/services"
	"github.com/lggm33/afp-vault/internal/store"
)

// identityRequest identifies one stored grant. Each user may hold one record
// per email address per provider.
type identityRequest struct {
	UserID       string `json:"user_id"       binding:"required"`
	EmailAddress string `json:"email_address" binding:"required"`
	Provider     string `json:"provider"      binding:"required"`
}

func (r identityRequest) identity() models.Identity {
	return models.Identity{
		UserID:       r.UserID,
		EmailAddress: r.EmailAddress,
		Provider:     models.Provider(r.Provider),
	}
}

// upsertRequest carries a freshly authorized grant into the vault.
type upsertRequest struct {
	identityRequest
	AccessToken  string    `json:"access_token" binding:"required"`
	RefreshToken string    `json:"refresh_token"`
	Scopes       []string  `json:"scopes"`
	ExpiresAt    time.Time `json:"expires_at"   binding:"required"`
}

// CredentialHandler exposes the credential lifecycle over HTTP.
type CredentialHandler struct {
	creds       *services.CredentialService
	coordinator *refresh.Coordinator
}

// NewCredentialHandler creates a new credential handler
func NewCredentialHandler(
	creds *services.CredentialService,
	coordinator *refresh.Coordinator,
) *CredentialHandler {
	return &CredentialHandler{
		creds:       creds,
		coordinator: coordinator,
	}
}

// Upsert stores or fully replaces the credential for an identity.
// POST /v1/credentials
func (h *CredentialHandler) Upsert(c *gin.Context) {
	var req upsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": err.Error(),
		})
		return
	}

	cred, err := h.creds.Upsert(
		c.Request.Context(),
		req.identity(),
		req.AccessToken,
		req.RefreshToken,
		models.ScopeList(req.Scopes),
		req.ExpiresAt,
	)
	if err != nil {
		respondError(c, err)
		return
	}

	// Metadata only; ciphertext fields are excluded from serialization.
	c.JSON(http.StatusCreated, cred)
}

// GetToken returns the stored access token when it is still live. A token
// inside the refresh lookahead window is withheld with 409 so callers route
// through Refresh instead of sending a nearly expired token to the provider.
// POST /v1/credentials/token
func (h *CredentialHandler) GetToken(c *gin.Context) {
	var req identityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": err.Error(),
		})
		return
	}

	secret, err := h.creds.GetLiveAccessSecret(c.Request.Context(), req.identity())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": secret})
}

// Refresh returns a live access token, rotating the stored one first if it
// is inside the lookahead window. Concurrent calls for one identity refresh
// at most once; contended callers get 409 and retry.
// POST /v1/credentials/refresh
func (h *CredentialHandler) Refresh(c *gin.Context) {
	var req identityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": err.Error(),
		})
		return
	}

	secret, err := h.coordinator.EnsureFresh(c.Request.Context(), req.identity())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": secret})
}

// Revoke deactivates the credential for an identity. Idempotent; revoking an
// absent or already-revoked credential succeeds.
// POST /v1/credentials/revoke
func (h *CredentialHandler) Revoke(c *gin.Context) {
	var req identityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": err.Error(),
		})
		return
	}

	if err := h.creds.Revoke(c.Request.Context(), req.identity()); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// Sweep triggers one refresh pass over every credential inside the lookahead
// window. Safe to call while the scheduled sweep is running.
// POST /internal/sweep
func (h *CredentialHandler) Sweep(c *gin.Context) {
	refreshed, err := h.coordinator.Sweep(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refreshed": refreshed})
}

// respondError maps service errors onto the API surface. Provider error text
// never leaves the vault; it lives in the audit log only.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrAuditWrite):
		// The operation outcome is unknowable to the caller once its audit
		// record is lost, so this outranks everything else.
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             "audit_unavailable",
			"error_description": "Audit log write failed. Retry later.",
		})
	case errors.Is(err, store.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "No active credential for this identity.",
		})
	case errors.Is(err, services.ErrNeedsRefresh):
		c.JSON(http.StatusConflict, gin.H{
			"error":             "needs_refresh",
			"error_description": "Access token is expiring. Retry shortly.",
		})
	case errors.Is(err, refresh.ErrExhausted):
		c.JSON(http.StatusForbidden, gin.H{
			"error":             "reauthorization_required",
			"error_description": "The stored grant is no longer refreshable. The user must authorize again.",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             "server_error",
			"error_description": "Token unavailable. Try again later.",
		})
	}
}
