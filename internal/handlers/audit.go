package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lggm33/afp-vault/internal/services"
)

// AuditHandler exposes the per-user audit trail.
type AuditHandler struct {
	audit *services.AuditService
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(audit *services.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// ListForUser returns a user's audit entries newest first. Pagination is a
// composite cursor: pass the oldest timestamp of the previous page as
// `before` (RFC 3339) and its entry ID as `before_id` to get the next one.
// The ID part matters because entries can share a timestamp.
// GET /v1/users/:user_id/audit
func (h *AuditHandler) ListForUser(c *gin.Context) {
	userID := c.Param("user_id")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	var before time.Time
	if beforeStr := c.Query("before"); beforeStr != "" {
		t, err := time.Parse(time.RFC3339Nano, beforeStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":             "invalid_request",
				"error_description": "before must be an RFC 3339 timestamp",
			})
			return
		}
		before = t
	}
	beforeID := c.Query("before_id")

	entries, err := h.audit.ListForUser(c.Request.Context(), userID, limit, before, beforeID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{"entries": entries}
	if len(entries) > 0 {
		// Cursor for the next page.
		last := entries[len(entries)-1]
		resp["next_before"] = last.Timestamp.Format(time.RFC3339Nano)
		resp["next_before_id"] = last.ID
	}
	c.JSON(http.StatusOK, resp)
}
