package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neilastephenson/openclaw-mission-control/internal/approval"
	"github.com/neilastephenson/openclaw-mission-control/internal/models"
)

// DefaultTenant is assumed on the public endpoints when a caller names no
// tenant, matching the webhook contract agents already speak.
const DefaultTenant = "default"

// Engine is the slice of the approval service the HTTP layer consumes.
type Engine interface {
	Create(ctx context.Context, req approval.CreateRequest) (*models.ApprovalRequest, error)
	Get(ctx context.Context, id, tenantID string) (*models.ApprovalRequest, error)
	List(ctx context.Context, tenantID, status string, limit int) ([]*models.ApprovalRequest, error)
	CountPending(ctx context.Context, tenantID string) (int, error)
	Approve(ctx context.Context, id, tenantID, resolvedBy string) (*models.ApprovalRequest, error)
	Deny(ctx context.Context, id, tenantID, resolvedBy string) (*models.ApprovalRequest, error)
	MarkNotified(ctx context.Context, id, tenantID string) error
	ListUnnotified(ctx context.Context, tenantID string, limit int) ([]*models.ApprovalRequest, error)
	ExpireOld(ctx context.Context, tenantID string) (int, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine Engine
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine Engine, logger *zap.Logger) *Handlers {
	return &Handlers{engine: engine, logger: logger}
}

// CreateApprovalRequest is the body of POST /approvals/request
type CreateApprovalRequest struct {
	TenantID    string          `json:"tenantId"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	AgentID     string          `json:"agentId"`
	AgentName   string          `json:"agentName"`
	TaskID      string          `json:"taskId"`
	Metadata    json.RawMessage `json:"metadata"`
	ExpiresInMs *int64          `json:"expiresInMs"`
}

// ResolveRequest is the body of the approve/deny/notified/sweep endpoints
type ResolveRequest struct {
	TenantID   string `json:"tenantId"`
	ResolvedBy string `json:"resolvedBy"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "approval-engine",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateApproval handles POST /approvals/request
func (h *Handlers) CreateApproval(c *gin.Context) {
	var req CreateApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Type == "" || req.Title == "" || req.Description == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields: type, title, description"})
		return
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = DefaultTenant
	}

	record, err := h.engine.Create(c.Request.Context(), approval.CreateRequest{
		TenantID:    tenantID,
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
		AgentID:     req.AgentID,
		AgentName:   req.AgentName,
		TaskID:      req.TaskID,
		Metadata:    req.Metadata,
		ExpiresInMs: req.ExpiresInMs,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "approvalId": record.ID})
}

// ApprovalStatus handles GET /approvals/status?id=...
func (h *Handlers) ApprovalStatus(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id parameter"})
		return
	}

	tenantID := c.Query("tenantId")
	if tenantID == "" {
		tenantID = DefaultTenant
	}

	record, err := h.engine.Get(c.Request.Context(), id, tenantID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         record.ID,
		"status":     record.Status,
		"resolvedAt": record.ResolvedAt,
		"resolvedBy": emptyToNil(record.ResolvedBy),
	})
}

// ListApprovals handles GET /api/v1/approvals
func (h *Handlers) ListApprovals(c *gin.Context) {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing tenantId parameter"})
		return
	}

	records, err := h.engine.List(c.Request.Context(), tenantID, c.Query("status"), queryInt(c, "limit"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"approvals": records})
}

// PendingCount handles GET /api/v1/approvals/pending/count
func (h *Handlers) PendingCount(c *gin.Context) {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing tenantId parameter"})
		return
	}

	count, err := h.engine.CountPending(c.Request.Context(), tenantID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// ListUnnotified handles GET /api/v1/approvals/unnotified
func (h *Handlers) ListUnnotified(c *gin.Context) {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing tenantId parameter"})
		return
	}

	records, err := h.engine.ListUnnotified(c.Request.Context(), tenantID, queryInt(c, "limit"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"approvals": records})
}

// ApproveRequest handles POST /api/v1/approvals/:id/approve
func (h *Handlers) ApproveRequest(c *gin.Context) {
	h.resolve(c, h.engine.Approve)
}

// DenyRequest handles POST /api/v1/approvals/:id/deny
func (h *Handlers) DenyRequest(c *gin.Context) {
	h.resolve(c, h.engine.Deny)
}

func (h *Handlers) resolve(c *gin.Context, fn func(ctx context.Context, id, tenantID, resolvedBy string) (*models.ApprovalRequest, error)) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.TenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required field: tenantId"})
		return
	}

	record, err := fn(c.Request.Context(), c.Param("id"), req.TenantID, req.ResolvedBy)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "approval": record})
}

// MarkNotified handles POST /api/v1/approvals/:id/notified
func (h *Handlers) MarkNotified(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.TenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required field: tenantId"})
		return
	}

	if err := h.engine.MarkNotified(c.Request.Context(), c.Param("id"), req.TenantID); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// RunSweep handles POST /api/v1/approvals/sweep
func (h *Handlers) RunSweep(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.TenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required field: tenantId"})
		return
	}

	expired, err := h.engine.ExpireOld(c.Request.Context(), req.TenantID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"expiredCount": expired})
}

// writeError maps engine errors to HTTP responses.
func (h *Handlers) writeError(c *gin.Context, err error) {
	var validationErr *approval.ValidationError
	var transitionErr *approval.InvalidTransitionError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "approval not found"})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":         transitionErr.Error(),
			"currentStatus": transitionErr.Current,
		})
	default:
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func queryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}

func emptyToNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
