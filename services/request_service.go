package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/WestWindsorForward/Pinpoint-311/config"
	"github.com/WestWindsorForward/Pinpoint-311/models"
)

// RequestService handles resident submissions and staff triage of service
// requests, including the immutable status history.
type RequestService struct {
	db  *gorm.DB
	cfg *config.TownshipConfig
}

// NewRequestService creates a new request service instance
func NewRequestService(db *gorm.DB, cfg *config.TownshipConfig) *RequestService {
	return &RequestService{db: db, cfg: cfg}
}

// RequestFilter represents filter criteria for listing requests
type RequestFilter struct {
	Status       models.RequestStatus
	Priority     models.RequestPriority
	CategoryCode string
	AssignedToID *uuid.UUID
	Limit        int
	Offset       int
}

// Create stores a new resident submission with a fresh public ID.
func (s *RequestService) Create(ctx context.Context, input *models.SubmitRequestInput) (*models.ServiceRequest, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if input.Description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrValidation)
	}
	if input.CategoryCode != nil && !s.cfg.IsValidCategory(*input.CategoryCode) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrValidation, *input.CategoryCode)
	}

	request := &models.ServiceRequest{
		PublicID:        newPublicID(),
		Title:           input.Title,
		Description:     input.Description,
		Status:          models.StatusNew,
		Priority:        models.PriorityMedium,
		CategoryCode:    input.CategoryCode,
		SubmitterName:   input.SubmitterName,
		SubmitterEmail:  input.SubmitterEmail,
		SubmitterPhone:  input.SubmitterPhone,
		LocationLat:     input.LocationLat,
		LocationLng:     input.LocationLng,
		LocationAddress: input.LocationAddress,
	}

	// Route to the configured department for the category, when known.
	if input.CategoryCode != nil {
		if dept := s.cfg.DepartmentFor(*input.CategoryCode); dept != "" {
			request.AssignedDepartment = &dept
		}
	}

	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.db.WithContext(ctx).Create(request).Error; err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return request, nil
}

// Get loads one request with its associations.
func (s *RequestService) Get(ctx context.Context, id uuid.UUID) (*models.ServiceRequest, error) {
	var request models.ServiceRequest
	err := s.db.WithContext(ctx).
		Preload("AssignedTo").
		Preload("Notes").
		Preload("Notes.Author").
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("History.ChangedBy").
		Preload("Attachments").
		Preload("Notifications").
		First(&request, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	return &request, nil
}

// GetByPublicID loads one request by its public short ID for the resident
// timeline view. Internal notes are filtered out by the handler.
func (s *RequestService) GetByPublicID(ctx context.Context, publicID string) (*models.ServiceRequest, error) {
	var request models.ServiceRequest
	err := s.db.WithContext(ctx).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Notes", "visibility = ?", models.VisibilityPublic).
		First(&request, "public_id = ?", publicID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: request %s", ErrNotFound, publicID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	return &request, nil
}

// List retrieves requests with optional filtering, newest first.
func (s *RequestService) List(ctx context.Context, filter *RequestFilter) ([]models.ServiceRequest, int64, error) {
	var requests []models.ServiceRequest
	var total int64

	query := s.db.WithContext(ctx).Model(&models.ServiceRequest{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Priority != "" {
		query = query.Where("priority = ?", filter.Priority)
	}
	if filter.CategoryCode != "" {
		query = query.Where("category_code = ?", filter.CategoryCode)
	}
	if filter.AssignedToID != nil {
		query = query.Where("assigned_to_id = ?", *filter.AssignedToID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	if err := query.Preload("AssignedTo").Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&requests).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to retrieve requests: %w", err)
	}
	if requests == nil {
		requests = []models.ServiceRequest{}
	}

	return requests, total, nil
}

// DashboardSummary returns open workload counts grouped by status.
func (s *RequestService) DashboardSummary(ctx context.Context) (map[models.RequestStatus]int64, error) {
	type statusCount struct {
		Status models.RequestStatus
		Count  int64
	}
	var counts []statusCount
	err := s.db.WithContext(ctx).Model(&models.ServiceRequest{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to summarize requests: %w", err)
	}

	summary := make(map[models.RequestStatus]int64, len(counts))
	for _, c := range counts {
		summary[c.Status] = c.Count
	}
	return summary, nil
}

// RecordTransition durably records a status change for a request.
//
// When newStatus equals the request's current status the call is a no-op and
// returns (nil, nil): idempotent updates must not pollute the history. The
// current-status check, history insert and request update all run inside one
// transaction holding a row lock on the request, so two concurrent changes
// to the same request cannot both be accepted as non-duplicate transitions.
//
// The caller is responsible for webhook and subscriber notification after a
// successful return; this method knows nothing about delivery.
func (s *RequestService) RecordTransition(ctx context.Context, requestID uuid.UUID, newStatus models.RequestStatus, actorID *uuid.UUID, note *string) (*models.RequestStatusHistory, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, newStatus)
	}

	var entry *models.RequestStatusHistory
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			// SQLite has no FOR UPDATE; its single-writer transactions
			// already serialize the read-then-write below.
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var request models.ServiceRequest
		err := q.First(&request, "id = ?", requestID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: request %s", ErrNotFound, requestID)
		}
		if err != nil {
			return fmt.Errorf("failed to load request: %w", err)
		}

		if request.Status == newStatus {
			return nil
		}

		fromStatus := request.Status
		entry = &models.RequestStatusHistory{
			RequestID:   request.ID,
			FromStatus:  &fromStatus,
			ToStatus:    newStatus,
			ChangedByID: actorID,
			Note:        note,
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to record status transition: %w", err)
		}

		updates := map[string]any{
			"status":     newStatus,
			"updated_at": time.Now().UTC(),
		}
		if err := tx.Model(&request).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update request status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// UpdatePriority changes a request's triage priority.
func (s *RequestService) UpdatePriority(ctx context.Context, requestID uuid.UUID, priority models.RequestPriority) (*models.ServiceRequest, error) {
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: invalid priority %q", ErrValidation, priority)
	}

	request, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(request).Update("priority", priority).Error; err != nil {
		return nil, fmt.Errorf("failed to update priority: %w", err)
	}
	request.Priority = priority
	return request, nil
}

// UpdateAssignment changes a request's department and assignee.
func (s *RequestService) UpdateAssignment(ctx context.Context, requestID uuid.UUID, input *models.AssignmentUpdateInput) (*models.ServiceRequest, error) {
	request, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"assigned_to_id": input.AssignedToID}
	if input.AssignedDepartment != nil {
		updates["assigned_department"] = *input.AssignedDepartment
	}
	if err := s.db.WithContext(ctx).Model(request).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update assignment: %w", err)
	}

	return s.Get(ctx, requestID)
}

// AddNote attaches a staff note to a request.
func (s *RequestService) AddNote(ctx context.Context, requestID uuid.UUID, authorID *uuid.UUID, input *models.NoteCreateInput) (*models.RequestNote, error) {
	if input.Body == "" {
		return nil, fmt.Errorf("%w: body is required", ErrValidation)
	}
	visibility := input.Visibility
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	if !visibility.Valid() {
		return nil, fmt.Errorf("%w: invalid visibility %q", ErrValidation, visibility)
	}

	if _, err := s.Get(ctx, requestID); err != nil {
		return nil, err
	}

	note := &models.RequestNote{
		RequestID:  requestID,
		AuthorID:   authorID,
		Visibility: visibility,
		Body:       input.Body,
	}
	if err := s.db.WithContext(ctx).Create(note).Error; err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}
	return note, nil
}

// AddOptIn subscribes a contact to status-change notifications for a request.
func (s *RequestService) AddOptIn(ctx context.Context, requestID uuid.UUID, input *models.OptInInput) (*models.NotificationOptIn, error) {
	if !input.Method.Valid() {
		return nil, fmt.Errorf("%w: invalid notification method %q", ErrValidation, input.Method)
	}
	if input.Target == "" {
		return nil, fmt.Errorf("%w: target is required", ErrValidation)
	}

	if _, err := s.Get(ctx, requestID); err != nil {
		return nil, err
	}

	optIn := &models.NotificationOptIn{
		RequestID: requestID,
		Method:    input.Method,
		Target:    input.Target,
	}
	if err := s.db.WithContext(ctx).Create(optIn).Error; err != nil {
		return nil, fmt.Errorf("failed to create notification opt-in: %w", err)
	}
	return optIn, nil
}

// AddAttachment records an uploaded file against a request. Completion
// photos are also mirrored onto the request row for the public timeline.
func (s *RequestService) AddAttachment(ctx context.Context, requestID uuid.UUID, uploadedByID *uuid.UUID, filePath string, fileType models.AttachmentType, label *string) (*models.RequestAttachment, error) {
	if filePath == "" {
		return nil, fmt.Errorf("%w: filePath is required", ErrValidation)
	}
	if !fileType.Valid() {
		return nil, fmt.Errorf("%w: invalid attachment type %q", ErrValidation, fileType)
	}

	request, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	attachment := &models.RequestAttachment{
		RequestID:    requestID,
		UploadedByID: uploadedByID,
		FilePath:     filePath,
		FileType:     fileType,
		Label:        label,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(attachment).Error; err != nil {
			return fmt.Errorf("failed to create attachment: %w", err)
		}
		if fileType == models.AttachmentCompletion {
			if err := tx.Model(request).Update("completion_photo_path", filePath).Error; err != nil {
				return fmt.Errorf("failed to update completion photo: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attachment, nil
}

// newPublicID generates the short resident-facing identifier, e.g. "WW-4F21A0B3".
func newPublicID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "WW-" + strings.ToUpper(raw[:8])
}
