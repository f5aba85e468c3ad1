package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuditAction names a lifecycle operation recorded in the audit log.
type AuditAction string

const (
	ActionSoftDelete      AuditAction = "soft_delete"
	ActionHardDelete      AuditAction = "hard_delete"
	ActionReactivate      AuditAction = "reactivate"
	ActionRetentionUpdate AuditAction = "retention_update"
)

// AllAuditActions lists every lifecycle operation.
var AllAuditActions = []AuditAction{
	ActionSoftDelete,
	ActionHardDelete,
	ActionReactivate,
	ActionRetentionUpdate,
}

// LifecycleAuditEntry is an immutable record of one committed transition.
// PreviousStatus and NewStatus are nil for retention updates, which do not
// change status.
type LifecycleAuditEntry struct {
	ID             string        `json:"id"`
	TenantID       string        `json:"tenantId"`
	Action         AuditAction   `json:"action"`
	PreviousStatus *TenantStatus `json:"previousStatus"`
	NewStatus      *TenantStatus `json:"newStatus"`
	PerformedBy    string        `json:"performedBy"`
	Reason         *string       `json:"reason"`
	Metadata       AuditMetadata `json:"metadata"`
	ScheduledAt    *time.Time    `json:"scheduledAt"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// AuditMetadata is the closed set of per-action payloads. Only the types in
// this file implement it.
type AuditMetadata interface {
	AuditAction() AuditAction
	isAuditMetadata()
}

// SoftDeleteMetadata captures the schedule computed when a tenant is soft
// deleted.
type SoftDeleteMetadata struct {
	RetentionPeriodDays   int       `json:"retentionPeriodDays"`
	HardDeleteScheduledAt time.Time `json:"hardDeleteScheduledAt"`
}

// RetentionUpdateMetadata records both sides of a schedule change.
type RetentionUpdateMetadata struct {
	PreviousRetentionPeriodDays   int       `json:"previousRetentionPeriodDays"`
	RetentionPeriodDays           int       `json:"retentionPeriodDays"`
	PreviousHardDeleteScheduledAt time.Time `json:"previousHardDeleteScheduledAt"`
	HardDeleteScheduledAt         time.Time `json:"hardDeleteScheduledAt"`
}

// ReactivateMetadata records the deletion that was cancelled.
type ReactivateMetadata struct {
	SoftDeletedAt          time.Time `json:"softDeletedAt"`
	CancelledScheduledAt   time.Time `json:"cancelledScheduledAt"`
	PreviousDeletedBy      string    `json:"previousDeletedBy,omitempty"`
	PreviousDeletionReason string    `json:"previousDeletionReason,omitempty"`
}

// HardDeleteMetadata records what the purge removed.
type HardDeleteMetadata struct {
	SoftDeletedAt         time.Time        `json:"softDeletedAt"`
	HardDeleteScheduledAt time.Time        `json:"hardDeleteScheduledAt"`
	PurgedRecords         map[string]int64 `json:"purgedRecords"`
}

func (SoftDeleteMetadata) AuditAction() AuditAction      { return ActionSoftDelete }
func (RetentionUpdateMetadata) AuditAction() AuditAction { return ActionRetentionUpdate }
func (ReactivateMetadata) AuditAction() AuditAction      { return ActionReactivate }
func (HardDeleteMetadata) AuditAction() AuditAction      { return ActionHardDelete }

func (SoftDeleteMetadata) isAuditMetadata()      {}
func (RetentionUpdateMetadata) isAuditMetadata() {}
func (ReactivateMetadata) isAuditMetadata()      {}
func (HardDeleteMetadata) isAuditMetadata()      {}

// EncodeMetadata serializes metadata to the JSON object stored alongside the
// entry. A nil payload encodes as an empty object.
func EncodeMetadata(m AuditMetadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// DecodeMetadata rebuilds the typed payload for action from raw JSON.
func DecodeMetadata(action AuditAction, raw []byte) (AuditMetadata, error) {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "{}" {
		return nil, nil
	}
	var (
		m   AuditMetadata
		err error
	)
	switch action {
	case ActionSoftDelete:
		var v SoftDeleteMetadata
		err = json.Unmarshal(raw, &v)
		m = v
	case ActionRetentionUpdate:
		var v RetentionUpdateMetadata
		err = json.Unmarshal(raw, &v)
		m = v
	case ActionReactivate:
		var v ReactivateMetadata
		err = json.Unmarshal(raw, &v)
		m = v
	case ActionHardDelete:
		var v HardDeleteMetadata
		err = json.Unmarshal(raw, &v)
		m = v
	default:
		return nil, fmt.Errorf("unknown audit action %q", action)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", action, err)
	}
	return m, nil
}

// UnmarshalJSON decodes the entry, resolving Metadata by Action.
func (e *LifecycleAuditEntry) UnmarshalJSON(data []byte) error {
	type plain LifecycleAuditEntry
	var aux struct {
		plain
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	md, err := DecodeMetadata(aux.Action, aux.Metadata)
	if err != nil {
		return err
	}
	*e = LifecycleAuditEntry(aux.plain)
	e.Metadata = md
	return nil
}

// StatusPtr returns a pointer to a copy of s.
func StatusPtr(s TenantStatus) *TenantStatus { return &s }
