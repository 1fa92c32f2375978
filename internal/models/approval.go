package models

import (
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when no approval request matches an id/tenant pair.
// A cross-tenant id is reported exactly like an absent id so that callers
// cannot probe for records belonging to other tenants.
var ErrNotFound = errors.New("approval request not found")

// ApprovalRequest represents a pending authorization decision for a sensitive
// agent action. Every request belongs to exactly one tenant and starts out
// pending; it is resolved at most once, by a human decision or by expiry.
type ApprovalRequest struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenantId"`
	Type             string          `json:"type"`
	Status           string          `json:"status"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	AgentID          string          `json:"agentId,omitempty"`
	AgentName        string          `json:"agentName,omitempty"`
	TaskID           string          `json:"taskId,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"` // opaque payload, stored and returned verbatim
	ExpiresAt        *int64          `json:"expiresAt,omitempty"` // ms since epoch
	NotificationSent bool            `json:"notificationSent"`
	ResolvedAt       *int64          `json:"resolvedAt,omitempty"` // ms since epoch, set once on resolution
	ResolvedBy       string          `json:"resolvedBy,omitempty"`
	CreatedAt        int64           `json:"createdAt"` // ms since epoch
}

// Status constants
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusExpired  = "expired"
)

// Request type constants
const (
	TypeDeleteFile       = "delete_file"
	TypeExternalSend     = "external_send"
	TypeSpawnAgent       = "spawn_agent"
	TypeModifyConfig     = "modify_config"
	TypeDangerousCommand = "dangerous_command"
	TypeOther            = "other"
)

// ValidStatus reports whether s is a known approval status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusApproved, StatusDenied, StatusExpired:
		return true
	}
	return false
}

// ValidType reports whether t is a known request type.
func ValidType(t string) bool {
	switch t {
	case TypeDeleteFile, TypeExternalSend, TypeSpawnAgent,
		TypeModifyConfig, TypeDangerousCommand, TypeOther:
		return true
	}
	return false
}

// IsResolved reports whether the request has left the pending state.
func (r *ApprovalRequest) IsResolved() bool {
	return r.Status != StatusPending
}
