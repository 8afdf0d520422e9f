package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog is one entry of the tamper-evident security audit trail.
//
// Entries form a singly-linked hash chain ordered by ID: each entry stores
// the SHA-256 hash of its own canonical content (EntryHash) and the
// EntryHash of the entry with the next-lower ID (PreviousHash, null for the
// first entry). Modifying any historical entry invalidates its own hash and
// breaks the link to every later entry.
type AuditLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType string    `gorm:"type:varchar(64);not null;index:idx_audit_logs_event_type" json:"eventType"`
	Success   bool      `gorm:"not null" json:"success"`
	Timestamp time.Time `gorm:"not null;index:idx_audit_logs_timestamp" json:"timestamp"`

	// Actor fields are nullable: failed logins have a username but no user
	// ID, system-initiated events have neither.
	Username *string    `gorm:"type:varchar(255);index:idx_audit_logs_username" json:"username,omitempty"`
	UserID   *uuid.UUID `json:"userId,omitempty"`

	IPAddress     *string `gorm:"type:varchar(64)" json:"ipAddress,omitempty"`
	UserAgent     *string `gorm:"type:varchar(512)" json:"userAgent,omitempty"`
	SessionID     *string `gorm:"type:varchar(255)" json:"sessionId,omitempty"`
	FailureReason *string `gorm:"type:varchar(255)" json:"failureReason,omitempty"`

	// Details is stored as text, not jsonb: the verifier re-hashes the
	// stored bytes, so the column must preserve them exactly as written.
	Details json.RawMessage `gorm:"type:text" json:"details,omitempty"`

	PreviousHash *string `gorm:"type:varchar(64)" json:"previousHash,omitempty"`
	EntryHash    string  `gorm:"type:varchar(64);not null" json:"entryHash"`

	CreatedAt time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName sets the table name for AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// BeforeCreate hook to set default values
func (l *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC().Truncate(time.Microsecond)
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Validate performs validation checks before the entry is written
func (l *AuditLog) Validate() error {
	if l.EventType == "" {
		return fmt.Errorf("eventType is required")
	}
	if l.Details != nil && !json.Valid(l.Details) {
		return fmt.Errorf("details must be valid JSON")
	}
	return nil
}

// auditChainContent is the canonical representation hashed into EntryHash.
// It is a fixed struct so the serialized field order is the declared order,
// independent of map iteration or caller field order. The hash fields
// themselves, UserAgent and FailureReason are excluded.
type auditChainContent struct {
	EventType string          `json:"event_type"`
	Success   bool            `json:"success"`
	Username  *string         `json:"username"`
	UserID    *string         `json:"user_id"`
	IPAddress *string         `json:"ip_address"`
	Timestamp string          `json:"timestamp"`
	SessionID *string         `json:"session_id"`
	Details   json.RawMessage `json:"details"`
}

// ComputeEntryHash returns the SHA-256 hex digest of the entry's canonical
// content. Timestamps are rendered in UTC RFC 3339 with sub-second digits;
// they are truncated to microseconds at creation time so the rendering
// survives a round-trip through timestamptz columns.
func (l *AuditLog) ComputeEntryHash() (string, error) {
	var userID *string
	if l.UserID != nil {
		s := l.UserID.String()
		userID = &s
	}

	content := auditChainContent{
		EventType: l.EventType,
		Success:   l.Success,
		Username:  l.Username,
		UserID:    userID,
		IPAddress: l.IPAddress,
		Timestamp: l.Timestamp.UTC().Format(time.RFC3339Nano),
		SessionID: l.SessionID,
		Details:   l.Details,
	}

	canonical, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize audit entry: %w", err)
	}

	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:]), nil
}
