package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neilastephenson/openclaw-mission-control/internal/models"
	"github.com/neilastephenson/openclaw-mission-control/pkg/database"
)

func setupTestRepo(t *testing.T) *ApprovalRepository {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrator := database.NewMigrator(db, logger)
	require.NoError(t, migrator.RunMigrations("../../migrations"))

	return NewApprovalRepository(db.DB, logger)
}

func pendingRequest(tenantID, title string, createdAtMs int64) *models.ApprovalRequest {
	expiresAt := createdAtMs + (24 * time.Hour).Milliseconds()
	return &models.ApprovalRequest{
		TenantID:    tenantID,
		Type:        models.TypeDangerousCommand,
		Status:      models.StatusPending,
		Title:       title,
		Description: "test request",
		ExpiresAt:   &expiresAt,
		CreatedAt:   createdAtMs,
	}
}

func TestApprovalRepository_InsertAndGet(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	req := pendingRequest("t1", "rm -rf", 1000)
	req.AgentID = "agent-7"
	req.AgentName = "cleaner"
	req.TaskID = "task-42"
	req.Metadata = []byte(`{"path":"/tmp/scratch","recursive":true}`)

	require.NoError(t, repo.Insert(ctx, req))
	require.NotEmpty(t, req.ID)

	got, err := repo.GetByID(ctx, req.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, "agent-7", got.AgentID)
	assert.Equal(t, "task-42", got.TaskID)
	assert.JSONEq(t, `{"path":"/tmp/scratch","recursive":true}`, string(got.Metadata))
	assert.False(t, got.NotificationSent)
	assert.Nil(t, got.ResolvedAt)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, *req.ExpiresAt, *got.ExpiresAt)
}

func TestApprovalRepository_TenantIsolation(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	req := pendingRequest("t1", "delete config", 1000)
	require.NoError(t, repo.Insert(ctx, req))

	// Wrong tenant looks identical to an absent id
	_, err := repo.GetByID(ctx, req.ID, "t2")
	assert.ErrorIs(t, err, models.ErrNotFound)

	list, err := repo.ListByTenant(ctx, "t2", "", 50)
	require.NoError(t, err)
	assert.Empty(t, list)

	ok, err := repo.Resolve(ctx, req.ID, "t2", models.StatusApproved, 2000, "intruder")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, req.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestApprovalRepository_ListOrderingAndFilter(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	oldest := pendingRequest("t1", "oldest", 1000)
	middle := pendingRequest("t1", "middle", 2000)
	newest := pendingRequest("t1", "newest", 3000)
	for _, req := range []*models.ApprovalRequest{oldest, middle, newest} {
		require.NoError(t, repo.Insert(ctx, req))
	}

	ok, err := repo.Resolve(ctx, middle.ID, "t1", models.StatusDenied, 2500, "alice")
	require.NoError(t, err)
	require.True(t, ok)

	list, err := repo.ListByTenant(ctx, "t1", "", 50)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "newest", list[0].Title)
	assert.Equal(t, "middle", list[1].Title)
	assert.Equal(t, "oldest", list[2].Title)

	pending, err := repo.ListByTenant(ctx, "t1", models.StatusPending, 50)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	limited, err := repo.ListByTenant(ctx, "t1", "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "newest", limited[0].Title)

	count, err := repo.CountByStatus(ctx, "t1", models.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestApprovalRepository_ResolveSingleWinner(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	req := pendingRequest("t1", "spawn agent", 1000)
	require.NoError(t, repo.Insert(ctx, req))

	ok, err := repo.Resolve(ctx, req.ID, "t1", models.StatusApproved, 2000, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	// The losing resolution matches no pending row
	ok, err = repo.Resolve(ctx, req.ID, "t1", models.StatusDenied, 2001, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, req.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, "alice", got.ResolvedBy)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, int64(2000), *got.ResolvedAt)
}

func TestApprovalRepository_ExpiryLeavesResolverUnset(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	req := pendingRequest("t1", "stale", 1000)
	require.NoError(t, repo.Insert(ctx, req))

	ok, err := repo.Resolve(ctx, req.ID, "t1", models.StatusExpired, 5000, "")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetByID(ctx, req.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.Empty(t, got.ResolvedBy)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, int64(5000), *got.ResolvedAt)
}

func TestApprovalRepository_MarkNotified(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	req := pendingRequest("t1", "notify me", 1000)
	require.NoError(t, repo.Insert(ctx, req))

	require.NoError(t, repo.MarkNotified(ctx, req.ID, "t1"))
	// Second call is a no-op, not an error
	require.NoError(t, repo.MarkNotified(ctx, req.ID, "t1"))

	got, err := repo.GetByID(ctx, req.ID, "t1")
	require.NoError(t, err)
	assert.True(t, got.NotificationSent)
	assert.Equal(t, models.StatusPending, got.Status)

	assert.ErrorIs(t, repo.MarkNotified(ctx, "apr_missing", "t1"), models.ErrNotFound)
	assert.ErrorIs(t, repo.MarkNotified(ctx, req.ID, "t2"), models.ErrNotFound)
}

func TestApprovalRepository_ListDuePending(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	overdue := pendingRequest("t1", "overdue", 1000)
	overdueAt := int64(4000)
	overdue.ExpiresAt = &overdueAt

	fresh := pendingRequest("t1", "fresh", 1000)
	freshAt := int64(9000)
	fresh.ExpiresAt = &freshAt

	boundary := pendingRequest("t1", "boundary", 1000)
	boundaryAt := int64(5000)
	boundary.ExpiresAt = &boundaryAt

	noDeadline := pendingRequest("t1", "no deadline", 1000)
	noDeadline.ExpiresAt = nil

	for _, req := range []*models.ApprovalRequest{overdue, fresh, boundary, noDeadline} {
		require.NoError(t, repo.Insert(ctx, req))
	}

	due, err := repo.ListDuePending(ctx, "t1", 5000, 100)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "overdue", due[0].Title)
}

func TestApprovalRepository_ListUnnotified(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	quiet := pendingRequest("t1", "quiet", 1000)
	heard := pendingRequest("t1", "heard", 2000)
	resolved := pendingRequest("t1", "resolved", 3000)
	for _, req := range []*models.ApprovalRequest{quiet, heard, resolved} {
		require.NoError(t, repo.Insert(ctx, req))
	}

	require.NoError(t, repo.MarkNotified(ctx, heard.ID, "t1"))
	ok, err := repo.Resolve(ctx, resolved.ID, "t1", models.StatusApproved, 4000, "alice")
	require.NoError(t, err)
	require.True(t, ok)

	list, err := repo.ListUnnotified(ctx, "t1", 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "quiet", list[0].Title)
}

func TestApprovalRepository_TenantsWithPending(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, pendingRequest("t1", "a", 1000)))
	require.NoError(t, repo.Insert(ctx, pendingRequest("t2", "b", 1000)))
	done := pendingRequest("t3", "c", 1000)
	require.NoError(t, repo.Insert(ctx, done))
	ok, err := repo.Resolve(ctx, done.ID, "t3", models.StatusDenied, 2000, "alice")
	require.NoError(t, err)
	require.True(t, ok)

	tenants, err := repo.TenantsWithPending(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, tenants)
}
