// Package approval implements the approval governance engine: the state
// machine by which an autonomous agent obtains human sign-off before
// performing a sensitive action. Requests start pending and are resolved
// exactly once, by approval, denial, or expiry.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/neilastephenson/openclaw-mission-control/internal/models"
)

// DefaultResolver is credited when a resolution does not name an actor.
const DefaultResolver = "dashboard"

// Store is the persistence contract the engine requires. All coordination
// between concurrent resolvers goes through Resolve's conditional update;
// the engine holds no mutable state of its own.
type Store interface {
	Insert(ctx context.Context, req *models.ApprovalRequest) error
	GetByID(ctx context.Context, id, tenantID string) (*models.ApprovalRequest, error)
	ListByTenant(ctx context.Context, tenantID, status string, limit int) ([]*models.ApprovalRequest, error)
	CountByStatus(ctx context.Context, tenantID, status string) (int, error)
	Resolve(ctx context.Context, id, tenantID, status string, resolvedAtMs int64, resolvedBy string) (bool, error)
	MarkNotified(ctx context.Context, id, tenantID string) error
	ListDuePending(ctx context.Context, tenantID string, nowMs int64, limit int) ([]*models.ApprovalRequest, error)
	ListUnnotified(ctx context.Context, tenantID string, limit int) ([]*models.ApprovalRequest, error)
	TenantsWithPending(ctx context.Context) ([]string, error)
}

// Config holds engine tunables
type Config struct {
	DefaultTTL time.Duration // deadline applied when a create request names none
	ListLimit  int           // default page size for list queries
	MaxLimit   int           // hard cap on caller-supplied limits
	SweepBatch int           // due records fetched per sweep pass
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 24 * time.Hour,
		ListLimit:  50,
		MaxLimit:   200,
		SweepBatch: 100,
	}
}

// Service is the boundary exposed to calling agents, the UI, and the
// notifier. Every operation is tenant-scoped by explicit parameter.
type Service struct {
	store  Store
	cfg    Config
	logger *zap.Logger

	now func() time.Time
}

// NewService creates a new approval service
func NewService(store Store, cfg Config, logger *zap.Logger) *Service {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 50
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 200
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// CreateRequest carries the inputs for a new approval request.
// Type, Title and Description are required; everything else is optional.
// ExpiresInMs overrides the default deadline when set, including zero.
type CreateRequest struct {
	TenantID    string
	Type        string
	Title       string
	Description string
	AgentID     string
	AgentName   string
	TaskID      string
	Metadata    json.RawMessage
	ExpiresInMs *int64
}

// Create registers a new pending approval request and returns it.
// No authorization check is performed here: any caller may request
// approval, the gate is in the resolution step.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.ApprovalRequest, error) {
	if req.TenantID == "" {
		return nil, &ValidationError{Reason: "missing required field: tenantId"}
	}
	if req.Type == "" || req.Title == "" || req.Description == "" {
		return nil, &ValidationError{Reason: "missing required fields: type, title, description"}
	}
	if !models.ValidType(req.Type) {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown approval type: %q", req.Type)}
	}

	now := s.now().UnixMilli()
	ttlMs := s.cfg.DefaultTTL.Milliseconds()
	if req.ExpiresInMs != nil {
		ttlMs = *req.ExpiresInMs
	}
	expiresAt := now + ttlMs

	record := &models.ApprovalRequest{
		TenantID:         req.TenantID,
		Type:             req.Type,
		Status:           models.StatusPending,
		Title:            req.Title,
		Description:      req.Description,
		AgentID:          req.AgentID,
		AgentName:        req.AgentName,
		TaskID:           req.TaskID,
		Metadata:         req.Metadata,
		ExpiresAt:        &expiresAt,
		NotificationSent: false,
		CreatedAt:        now,
	}

	if err := s.store.Insert(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info("Approval request created",
		zap.String("id", record.ID),
		zap.String("tenant_id", record.TenantID),
		zap.String("type", record.Type))
	return record, nil
}

// Get retrieves a request scoped to a tenant.
func (s *Service) Get(ctx context.Context, id, tenantID string) (*models.ApprovalRequest, error) {
	return s.store.GetByID(ctx, id, tenantID)
}

// List retrieves requests for a tenant, newest first, optionally filtered
// by status. A non-positive limit falls back to the configured default.
func (s *Service) List(ctx context.Context, tenantID, status string, limit int) ([]*models.ApprovalRequest, error) {
	if status != "" && !models.ValidStatus(status) {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown status filter: %q", status)}
	}
	return s.store.ListByTenant(ctx, tenantID, status, s.clampLimit(limit))
}

// CountPending returns the number of pending requests for a tenant.
func (s *Service) CountPending(ctx context.Context, tenantID string) (int, error) {
	return s.store.CountByStatus(ctx, tenantID, models.StatusPending)
}

// Approve resolves a pending request in favor of the action.
func (s *Service) Approve(ctx context.Context, id, tenantID, resolvedBy string) (*models.ApprovalRequest, error) {
	return s.resolve(ctx, id, tenantID, models.StatusApproved, resolvedBy)
}

// Deny resolves a pending request against the action.
func (s *Service) Deny(ctx context.Context, id, tenantID, resolvedBy string) (*models.ApprovalRequest, error) {
	return s.resolve(ctx, id, tenantID, models.StatusDenied, resolvedBy)
}

// resolve performs the guarded pending -> terminal transition. The store's
// conditional update is the only arbiter: when two resolvers race, exactly
// one update matches and the loser re-reads to learn the winning status.
func (s *Service) resolve(ctx context.Context, id, tenantID, status, resolvedBy string) (*models.ApprovalRequest, error) {
	if resolvedBy == "" {
		resolvedBy = DefaultResolver
	}

	nowMs := s.now().UnixMilli()
	ok, err := s.store.Resolve(ctx, id, tenantID, status, nowMs, resolvedBy)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, getErr := s.store.GetByID(ctx, id, tenantID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &InvalidTransitionError{ID: id, Current: current.Status}
	}

	s.logger.Info("Approval request resolved",
		zap.String("id", id),
		zap.String("tenant_id", tenantID),
		zap.String("status", status),
		zap.String("resolved_by", resolvedBy))

	return s.store.GetByID(ctx, id, tenantID)
}

// MarkNotified records that an external notifier has announced the request.
// Repeated calls are a no-op; only an unknown id is an error.
func (s *Service) MarkNotified(ctx context.Context, id, tenantID string) error {
	return s.store.MarkNotified(ctx, id, tenantID)
}

// ListUnnotified retrieves pending requests a notifier has not yet
// announced. The notifier calls MarkNotified after alerting a human; a
// failed page never touches the approval lifecycle.
func (s *Service) ListUnnotified(ctx context.Context, tenantID string, limit int) ([]*models.ApprovalRequest, error) {
	return s.store.ListUnnotified(ctx, tenantID, s.clampLimit(limit))
}

// ExpireOld transitions every overdue pending request for a tenant to
// expired and returns the number transitioned. Each record is handled
// independently: a failure is logged and skipped, and a record resolved
// concurrently by a human simply no-ops here. Expiry is not attributed
// to a resolver.
func (s *Service) ExpireOld(ctx context.Context, tenantID string) (int, error) {
	nowMs := s.now().UnixMilli()

	due, err := s.store.ListDuePending(ctx, tenantID, nowMs, s.cfg.SweepBatch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, req := range due {
		ok, err := s.store.Resolve(ctx, req.ID, tenantID, models.StatusExpired, nowMs, "")
		if err != nil {
			s.logger.Warn("Failed to expire approval request",
				zap.String("id", req.ID),
				zap.String("tenant_id", tenantID),
				zap.Error(err))
			continue
		}
		if ok {
			expired++
		}
	}

	if expired > 0 {
		s.logger.Info("Expired overdue approval requests",
			zap.String("tenant_id", tenantID),
			zap.Int("count", expired))
	}
	return expired, nil
}

// SweepAll runs ExpireOld for every tenant that has pending requests.
// A failing tenant does not block the rest of the batch.
func (s *Service) SweepAll(ctx context.Context) (int, error) {
	tenants, err := s.store.TenantsWithPending(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, tenant := range tenants {
		n, err := s.ExpireOld(ctx, tenant)
		if err != nil {
			// Retried on the next scheduled pass.
			s.logger.Warn("Sweep failed for tenant",
				zap.String("tenant_id", tenant),
				zap.Error(err))
			continue
		}
		total += n
	}
	return total, nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.ListLimit
	}
	if limit > s.cfg.MaxLimit {
		return s.cfg.MaxLimit
	}
	return limit
}

// IsNotFound reports whether err is the tenant-scoped not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
