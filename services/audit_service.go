package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/WestWindsorForward/Pinpoint-311/models"
)

// AuditService maintains the hash-chained security audit trail.
//
// Appends are serialized through a mutex held across the read-last-hash and
// insert steps. Without that, two concurrent appends can read the same
// predecessor and write two entries claiming the same previous hash, which
// forks the chain.
type AuditService struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewAuditService creates a new audit service instance
func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// AuditEvent describes one entry to append to the audit trail.
// EventType is required; the remaining fields are optional per event semantics.
type AuditEvent struct {
	EventType     string
	Success       bool
	Username      *string
	UserID        *uuid.UUID
	IPAddress     *string
	UserAgent     *string
	SessionID     *string
	FailureReason *string
	Details       map[string]any
}

// Append writes one entry to the audit trail, chained to its predecessor.
//
// The operation is deliberately not idempotent: two appends with identical
// content produce two distinct entries, each linked to its true predecessor.
// Storage errors abort the append and propagate to the caller; nothing is
// retried or swallowed here.
func (s *AuditService) Append(ctx context.Context, event AuditEvent) (*models.AuditLog, error) {
	if event.EventType == "" {
		return nil, fmt.Errorf("%w: eventType is required", ErrValidation)
	}

	var details json.RawMessage
	if event.Details != nil {
		encoded, err := json.Marshal(event.Details)
		if err != nil {
			return nil, fmt.Errorf("%w: details are not serializable: %v", ErrValidation, err)
		}
		details = encoded
	}

	entry := &models.AuditLog{
		EventType:     event.EventType,
		Success:       event.Success,
		Timestamp:     time.Now().UTC().Truncate(time.Microsecond),
		Username:      event.Username,
		UserID:        event.UserID,
		IPAddress:     event.IPAddress,
		UserAgent:     event.UserAgent,
		SessionID:     event.SessionID,
		FailureReason: event.FailureReason,
		Details:       details,
	}
	if err := entry.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		previousHash, err := lastEntryHash(tx)
		if err != nil {
			return err
		}
		entry.PreviousHash = previousHash

		entryHash, err := entry.ComputeEntryHash()
		if err != nil {
			return err
		}
		entry.EntryHash = entryHash

		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// lastEntryHash returns the EntryHash of the most recently appended entry,
// or nil if the chain is empty.
func lastEntryHash(tx *gorm.DB) (*string, error) {
	var last models.AuditLog
	err := tx.Select("entry_hash").Order("id DESC").First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last audit entry: %w", err)
	}
	return &last.EntryHash, nil
}

// LogLoginSuccess records a successful staff login.
func (s *AuditService) LogLoginSuccess(ctx context.Context, user *models.User, ipAddress, userAgent, sessionID string) (*models.AuditLog, error) {
	return s.Append(ctx, AuditEvent{
		EventType: models.EventLoginSuccess,
		Success:   true,
		Username:  &user.Email,
		UserID:    &user.ID,
		IPAddress: optional(ipAddress),
		UserAgent: optional(userAgent),
		SessionID: optional(sessionID),
	})
}

// LogLoginFailed records a failed login attempt. The username is whatever
// was attempted; there is no user ID for unauthenticated failures.
func (s *AuditService) LogLoginFailed(ctx context.Context, username, ipAddress, userAgent, reason string) (*models.AuditLog, error) {
	return s.Append(ctx, AuditEvent{
		EventType:     models.EventLoginFailed,
		Success:       false,
		Username:      optional(username),
		IPAddress:     optional(ipAddress),
		UserAgent:     optional(userAgent),
		FailureReason: optional(reason),
	})
}

// LogLogout records a staff logout.
func (s *AuditService) LogLogout(ctx context.Context, user *models.User, ipAddress, sessionID string) (*models.AuditLog, error) {
	return s.Append(ctx, AuditEvent{
		EventType: models.EventLogout,
		Success:   true,
		Username:  &user.Email,
		UserID:    &user.ID,
		IPAddress: optional(ipAddress),
		SessionID: optional(sessionID),
	})
}

// LogRoleChange records an administrative role change on a staff account.
func (s *AuditService) LogRoleChange(ctx context.Context, user *models.User, oldRole, newRole models.UserRole, changedBy, ipAddress string) (*models.AuditLog, error) {
	return s.Append(ctx, AuditEvent{
		EventType: models.EventRoleChanged,
		Success:   true,
		Username:  &user.Email,
		UserID:    &user.ID,
		IPAddress: optional(ipAddress),
		Details: map[string]any{
			"old_role":   string(oldRole),
			"new_role":   string(newRole),
			"changed_by": changedBy,
		},
	})
}

// LogStatusChange records a staff status change on a service request.
func (s *AuditService) LogStatusChange(ctx context.Context, actorEmail string, actorID uuid.UUID, ipAddress, publicID string, from, to models.RequestStatus) (*models.AuditLog, error) {
	return s.Append(ctx, AuditEvent{
		EventType: models.EventStatusChanged,
		Success:   true,
		Username:  &actorEmail,
		UserID:    &actorID,
		IPAddress: optional(ipAddress),
		Details: map[string]any{
			"request_public_id": publicID,
			"from_status":       string(from),
			"to_status":         string(to),
		},
	})
}

// IntegrityResult reports the outcome of a chain verification walk.
type IntegrityResult struct {
	Intact        bool
	FirstFailedID *int64
}

// VerifyIntegrity walks the audit chain in ascending ID order, recomputing
// every entry's content hash and checking each entry's previous-hash link
// against the recomputed hash of its predecessor in the walk. A mismatch in
// either check means an entry was altered, deleted, reordered or inserted.
//
// When fromID is non-zero the walk starts at that entry and trusts the
// stored hash of its predecessor as the chain anchor.
func (s *AuditService) VerifyIntegrity(ctx context.Context, fromID int64) (IntegrityResult, error) {
	query := s.db.WithContext(ctx).Model(&models.AuditLog{}).Order("id ASC")
	if fromID > 0 {
		query = query.Where("id >= ?", fromID)
	}

	rows, err := query.Rows()
	if err != nil {
		return IntegrityResult{}, fmt.Errorf("failed to read audit chain: %w", err)
	}
	defer rows.Close()

	var previousHash *string
	first := true
	for rows.Next() {
		var entry models.AuditLog
		if err := s.db.ScanRows(rows, &entry); err != nil {
			return IntegrityResult{}, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		computed, err := entry.ComputeEntryHash()
		if err != nil {
			return IntegrityResult{}, err
		}
		if computed != entry.EntryHash {
			// Content was altered after the fact.
			id := entry.ID
			return IntegrityResult{Intact: false, FirstFailedID: &id}, nil
		}

		if first && fromID > 0 {
			// Partial walk: accept the stored link as the anchor.
			previousHash = entry.PreviousHash
		}
		first = false

		if !hashesEqual(previousHash, entry.PreviousHash) {
			// An entry was deleted, reordered or inserted.
			id := entry.ID
			return IntegrityResult{Intact: false, FirstFailedID: &id}, nil
		}

		hash := entry.EntryHash
		previousHash = &hash
	}
	if err := rows.Err(); err != nil {
		return IntegrityResult{}, fmt.Errorf("failed to walk audit chain: %w", err)
	}

	return IntegrityResult{Intact: true}, nil
}

// GetLogs retrieves audit log entries with optional filtering, newest first.
func (s *AuditService) GetLogs(ctx context.Context, eventType string, username string, limit, offset int) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}
	if username != "" {
		query = query.Where("username = ?", username)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	if err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to retrieve audit logs: %w", err)
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}

	return logs, total, nil
}

func hashesEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// optional returns a pointer to s, or nil when s is empty.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
