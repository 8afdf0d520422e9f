package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ServiceRequest is a resident-submitted 311 issue report.
type ServiceRequest struct {
	ID          uuid.UUID       `gorm:"primaryKey" json:"id"`
	PublicID    string          `gorm:"type:varchar(12);uniqueIndex;not null" json:"publicId"`
	Title       string          `gorm:"type:varchar(255);not null" json:"title"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Status      RequestStatus   `gorm:"type:varchar(32);not null;default:'new';index:idx_requests_status" json:"status"`
	Priority    RequestPriority `gorm:"type:varchar(32);not null;default:'medium'" json:"priority"`

	CategoryCode   *string `gorm:"type:varchar(64)" json:"categoryCode,omitempty"`
	SubmitterName  *string `gorm:"type:varchar(255)" json:"submitterName,omitempty"`
	SubmitterEmail *string `gorm:"type:varchar(255)" json:"submitterEmail,omitempty"`
	SubmitterPhone *string `gorm:"type:varchar(32)" json:"submitterPhone,omitempty"`

	LocationLat     *float64 `json:"locationLat,omitempty"`
	LocationLng     *float64 `json:"locationLng,omitempty"`
	LocationAddress *string  `gorm:"type:varchar(512)" json:"locationAddress,omitempty"`

	AssignedDepartment *string    `gorm:"type:varchar(255)" json:"assignedDepartment,omitempty"`
	AssignedToID       *uuid.UUID `gorm:"index" json:"assignedToId,omitempty"`
	AssignedTo         *User      `gorm:"foreignKey:AssignedToID" json:"assignedTo,omitempty"`

	InitialPhotoPath    *string    `gorm:"type:varchar(512)" json:"initialPhotoPath,omitempty"`
	CompletionPhotoPath *string    `gorm:"type:varchar(512)" json:"completionPhotoPath,omitempty"`
	DueAt               *time.Time `json:"dueAt,omitempty"`

	Notes         []RequestNote          `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"notes,omitempty"`
	History       []RequestStatusHistory `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"history,omitempty"`
	Attachments   []RequestAttachment    `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
	Notifications []NotificationOptIn    `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"notifications,omitempty"`

	BaseModel
}

// TableName sets the table name for ServiceRequest model
func (ServiceRequest) TableName() string {
	return "requests"
}

// BeforeCreate hook to set default values
func (r *ServiceRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = StatusNew
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	return r.BaseModel.BeforeCreate(tx)
}

// Validate performs validation checks matching the database constraints
func (r *ServiceRequest) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("title is required")
	}
	if r.Description == "" {
		return fmt.Errorf("description is required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid status: %s", r.Status)
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("invalid priority: %s", r.Priority)
	}
	return nil
}

// RequestStatusHistory is the immutable record of one status transition.
// Rows are created exactly once per transition and never updated.
type RequestStatusHistory struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID   uuid.UUID      `gorm:"not null;index:idx_status_history_request" json:"requestId"`
	FromStatus  *RequestStatus `gorm:"type:varchar(32)" json:"fromStatus,omitempty"`
	ToStatus    RequestStatus  `gorm:"type:varchar(32);not null" json:"toStatus"`
	ChangedByID *uuid.UUID     `json:"changedById,omitempty"`
	ChangedBy   *User          `gorm:"foreignKey:ChangedByID" json:"changedBy,omitempty"`
	Note        *string        `gorm:"type:text" json:"note,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at;default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName sets the table name for RequestStatusHistory model
func (RequestStatusHistory) TableName() string {
	return "request_status_history"
}

// BeforeCreate hook to set default values
func (h *RequestStatusHistory) BeforeCreate(tx *gorm.DB) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	return nil
}

// RequestNote is a staff comment on a request, public or internal.
type RequestNote struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID  uuid.UUID      `gorm:"not null;index" json:"requestId"`
	AuthorID   *uuid.UUID     `json:"authorId,omitempty"`
	Author     *User          `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Visibility NoteVisibility `gorm:"type:varchar(32);not null;default:'public'" json:"visibility"`
	Body       string         `gorm:"type:text;not null" json:"body"`

	BaseModel
}

// TableName sets the table name for RequestNote model
func (RequestNote) TableName() string {
	return "request_notes"
}

// RequestAttachment records an uploaded photo or document for a request.
type RequestAttachment struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID    uuid.UUID      `gorm:"not null;index" json:"requestId"`
	UploadedByID *uuid.UUID     `json:"uploadedById,omitempty"`
	FilePath     string         `gorm:"type:varchar(512);not null" json:"filePath"`
	FileType     AttachmentType `gorm:"type:varchar(32);not null;default:'other'" json:"fileType"`
	Label        *string        `gorm:"type:varchar(255)" json:"label,omitempty"`

	BaseModel
}

// TableName sets the table name for RequestAttachment model
func (RequestAttachment) TableName() string {
	return "request_attachments"
}

// NotificationOptIn is a subscriber channel for status-change notifications.
type NotificationOptIn struct {
	ID         int64              `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID  uuid.UUID          `gorm:"not null;index" json:"requestId"`
	Method     NotificationMethod `gorm:"type:varchar(32);not null" json:"method"`
	Target     string             `gorm:"type:varchar(255);not null" json:"target"`
	IsVerified bool               `gorm:"not null;default:false" json:"isVerified"`

	BaseModel
}

// TableName sets the table name for NotificationOptIn model
func (NotificationOptIn) TableName() string {
	return "notification_opt_ins"
}

// WebhookDelivery is one scheduled Open311 status webhook and its outcome.
type WebhookDelivery struct {
	ID             int64                 `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID      uuid.UUID             `gorm:"not null;index" json:"requestId"`
	TargetURL      string                `gorm:"type:varchar(512);not null" json:"targetUrl"`
	Payload        json.RawMessage       `gorm:"type:text;not null" json:"payload"`
	Status         WebhookDeliveryStatus `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	ResponseStatus *int                  `json:"responseStatus,omitempty"`
	ResponseBody   *string               `gorm:"type:text" json:"responseBody,omitempty"`
	Attempts       int                   `gorm:"not null;default:0" json:"attempts"`
	LastAttemptAt  *time.Time            `json:"lastAttemptAt,omitempty"`

	BaseModel
}

// TableName sets the table name for WebhookDelivery model
func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}
