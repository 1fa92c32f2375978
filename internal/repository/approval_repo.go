package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neilastephenson/openclaw-mission-control/internal/models"
)

// ApprovalRepository handles approval request database operations.
// Every query is tenant-filtered; a mismatched tenant behaves like an
// absent record.
type ApprovalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *sql.DB, logger *zap.Logger) *ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

const approvalColumns = `
	id, tenant_id, type, status, title, description,
	agent_id, agent_name, task_id, metadata,
	expires_at_ms, notification_sent, resolved_at_ms, resolved_by, created_at_ms`

// Insert stores a new approval request and assigns its identifier.
func (r *ApprovalRepository) Insert(ctx context.Context, req *models.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = "apr_" + uuid.NewString()
	}

	query := `
		INSERT INTO approvals (
			id, tenant_id, type, status, title, description,
			agent_id, agent_name, task_id, metadata,
			expires_at_ms, notification_sent, resolved_at_ms, resolved_by, created_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		req.ID,
		req.TenantID,
		req.Type,
		req.Status,
		req.Title,
		req.Description,
		nullString(req.AgentID),
		nullString(req.AgentName),
		nullString(req.TaskID),
		nullBlob(req.Metadata),
		nullInt64(req.ExpiresAt),
		req.NotificationSent,
		nullInt64(req.ResolvedAt),
		nullString(req.ResolvedBy),
		req.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert approval request",
			zap.String("tenant_id", req.TenantID),
			zap.Error(err))
		return fmt.Errorf("failed to insert approval request: %w", err)
	}

	return nil
}

// GetByID retrieves an approval request scoped to a tenant.
// Returns models.ErrNotFound when the id is absent or belongs to a
// different tenant.
func (r *ApprovalRepository) GetByID(ctx context.Context, id, tenantID string) (*models.ApprovalRequest, error) {
	query := `SELECT` + approvalColumns + `
		FROM approvals
		WHERE id = ? AND tenant_id = ?
	`

	req, err := scanApproval(r.db.QueryRowContext(ctx, query, id, tenantID))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get approval request",
			zap.String("id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}

	return req, nil
}

// ListByTenant retrieves approval requests for a tenant, newest first.
// status is an optional equality filter; an empty string means all statuses.
func (r *ApprovalRepository) ListByTenant(ctx context.Context, tenantID, status string, limit int) ([]*models.ApprovalRequest, error) {
	query := `SELECT` + approvalColumns + `
		FROM approvals
		WHERE tenant_id = ?
	`
	args := []interface{}{tenantID}

	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}

	query += ` ORDER BY created_at_ms DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list approval requests",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	defer rows.Close()

	return collectApprovals(rows)
}

// CountByStatus returns the number of requests in a given status for a tenant.
func (r *ApprovalRepository) CountByStatus(ctx context.Context, tenantID, status string) (int, error) {
	query := `SELECT COUNT(*) FROM approvals WHERE tenant_id = ? AND status = ?`

	var count int
	if err := r.db.QueryRowContext(ctx, query, tenantID, status).Scan(&count); err != nil {
		r.logger.Error("Failed to count approval requests",
			zap.String("tenant_id", tenantID),
			zap.String("status", status),
			zap.Error(err))
		return 0, fmt.Errorf("failed to count approval requests: %w", err)
	}

	return count, nil
}

// Resolve transitions a request out of pending with a conditional update
// guarded on the current status. Returns false when no pending record
// matched, which covers both an absent id and an already-resolved record;
// the caller re-reads to tell the two apart. At most one concurrent
// Resolve can succeed for a given record.
func (r *ApprovalRepository) Resolve(ctx context.Context, id, tenantID, status string, resolvedAtMs int64, resolvedBy string) (bool, error) {
	query := `
		UPDATE approvals
		SET status = ?, resolved_at_ms = ?, resolved_by = ?
		WHERE id = ? AND tenant_id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		status, resolvedAtMs, nullString(resolvedBy),
		id, tenantID, models.StatusPending)
	if err != nil {
		r.logger.Error("Failed to resolve approval request",
			zap.String("id", id),
			zap.String("status", status),
			zap.Error(err))
		return false, fmt.Errorf("failed to resolve approval request: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected > 0, nil
}

// MarkNotified sets the one-shot notification flag. The update is
// unconditional so repeated calls are a no-op rather than an error.
func (r *ApprovalRepository) MarkNotified(ctx context.Context, id, tenantID string) error {
	query := `UPDATE approvals SET notification_sent = 1 WHERE id = ? AND tenant_id = ?`

	result, err := r.db.ExecContext(ctx, query, id, tenantID)
	if err != nil {
		r.logger.Error("Failed to mark approval request notified",
			zap.String("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to mark approval request notified: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}

	return nil
}

// ListDuePending retrieves pending requests whose deadline has passed.
func (r *ApprovalRepository) ListDuePending(ctx context.Context, tenantID string, nowMs int64, limit int) ([]*models.ApprovalRequest, error) {
	query := `SELECT` + approvalColumns + `
		FROM approvals
		WHERE tenant_id = ? AND status = ? AND expires_at_ms IS NOT NULL AND expires_at_ms < ?
		ORDER BY expires_at_ms ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, models.StatusPending, nowMs, limit)
	if err != nil {
		r.logger.Error("Failed to list due pending requests",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list due pending requests: %w", err)
	}
	defer rows.Close()

	return collectApprovals(rows)
}

// ListUnnotified retrieves pending requests that have not yet been
// announced to a notifier.
func (r *ApprovalRepository) ListUnnotified(ctx context.Context, tenantID string, limit int) ([]*models.ApprovalRequest, error) {
	query := `SELECT` + approvalColumns + `
		FROM approvals
		WHERE tenant_id = ? AND status = ? AND notification_sent = 0
		ORDER BY created_at_ms DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, models.StatusPending, limit)
	if err != nil {
		r.logger.Error("Failed to list unnotified requests",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list unnotified requests: %w", err)
	}
	defer rows.Close()

	return collectApprovals(rows)
}

// TenantsWithPending returns every tenant that currently has pending
// requests, for global sweeps.
func (r *ApprovalRepository) TenantsWithPending(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT tenant_id FROM approvals WHERE status = ?`

	rows, err := r.db.QueryContext(ctx, query, models.StatusPending)
	if err != nil {
		r.logger.Error("Failed to list tenants with pending requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list tenants with pending requests: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}

	return tenants, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApproval(row rowScanner) (*models.ApprovalRequest, error) {
	var (
		req          models.ApprovalRequest
		agentID      sql.NullString
		agentName    sql.NullString
		taskID       sql.NullString
		metadata     sql.NullString
		expiresAtMs  sql.NullInt64
		resolvedAtMs sql.NullInt64
		resolvedBy   sql.NullString
	)

	err := row.Scan(
		&req.ID,
		&req.TenantID,
		&req.Type,
		&req.Status,
		&req.Title,
		&req.Description,
		&agentID,
		&agentName,
		&taskID,
		&metadata,
		&expiresAtMs,
		&req.NotificationSent,
		&resolvedAtMs,
		&resolvedBy,
		&req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.AgentID = agentID.String
	req.AgentName = agentName.String
	req.TaskID = taskID.String
	req.ResolvedBy = resolvedBy.String
	if metadata.Valid && metadata.String != "" {
		req.Metadata = []byte(metadata.String)
	}
	if expiresAtMs.Valid {
		req.ExpiresAt = &expiresAtMs.Int64
	}
	if resolvedAtMs.Valid {
		req.ResolvedAt = &resolvedAtMs.Int64
	}

	return &req, nil
}

func collectApprovals(rows *sql.Rows) ([]*models.ApprovalRequest, error) {
	var requests []*models.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullBlob(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
