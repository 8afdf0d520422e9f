package models

import (
	"time"

	"github.com/google/uuid"
)

// SubmitRequestInput is the resident-facing submission payload.
type SubmitRequestInput struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	CategoryCode    *string  `json:"categoryCode,omitempty"`
	SubmitterName   *string  `json:"submitterName,omitempty"`
	SubmitterEmail  *string  `json:"submitterEmail,omitempty"`
	SubmitterPhone  *string  `json:"submitterPhone,omitempty"`
	LocationLat     *float64 `json:"locationLat,omitempty"`
	LocationLng     *float64 `json:"locationLng,omitempty"`
	LocationAddress *string  `json:"locationAddress,omitempty"`
}

// StatusUpdateInput changes a request's lifecycle status.
type StatusUpdateInput struct {
	Status RequestStatus `json:"status"`
	Note   *string       `json:"note,omitempty"`
}

// PriorityUpdateInput changes a request's triage priority.
type PriorityUpdateInput struct {
	Priority RequestPriority `json:"priority"`
}

// AssignmentUpdateInput changes department and assignee.
type AssignmentUpdateInput struct {
	AssignedDepartment *string    `json:"assignedDepartment,omitempty"`
	AssignedToID       *uuid.UUID `json:"assignedToId,omitempty"`
}

// NoteCreateInput adds a staff note to a request.
type NoteCreateInput struct {
	Visibility NoteVisibility `json:"visibility"`
	Body       string         `json:"body"`
}

// OptInInput subscribes a contact to status-change notifications.
type OptInInput struct {
	Method NotificationMethod `json:"method"`
	Target string             `json:"target"`
}

// LoginInput is the staff login payload.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries an issued staff access token.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
}

// DashboardResponse summarizes open workload per status.
type DashboardResponse struct {
	Summary map[RequestStatus]int64 `json:"summary"`
}

// RequestListResponse is a paginated request listing.
type RequestListResponse struct {
	Requests []ServiceRequest `json:"requests"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// AuditLogListResponse is a paginated audit log listing.
type AuditLogListResponse struct {
	Logs   []AuditLog `json:"logs"`
	Total  int64      `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// PublicRequestView is the resident-facing projection of a request: no
// submitter contact details, no internal notes, no staff identities.
type PublicRequestView struct {
	PublicID            string                `json:"publicId"`
	Title               string                `json:"title"`
	Description         string                `json:"description"`
	Status              RequestStatus         `json:"status"`
	CategoryCode        *string               `json:"categoryCode,omitempty"`
	LocationAddress     *string               `json:"locationAddress,omitempty"`
	CompletionPhotoPath *string               `json:"completionPhotoPath,omitempty"`
	CreatedAt           time.Time             `json:"createdAt"`
	UpdatedAt           time.Time             `json:"updatedAt"`
	History             []PublicHistoryEntry `json:"history"`
	Notes               []PublicNoteEntry    `json:"notes"`
}

// PublicHistoryEntry is one status transition as shown on the public timeline.
type PublicHistoryEntry struct {
	FromStatus *RequestStatus `json:"fromStatus,omitempty"`
	ToStatus   RequestStatus  `json:"toStatus"`
	Note       *string        `json:"note,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// PublicNoteEntry is one public staff note as shown on the public timeline.
type PublicNoteEntry struct {
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// PublicView projects the request for unauthenticated resident access. Only
// notes already filtered to public visibility should be loaded on r.
func (r *ServiceRequest) PublicView() *PublicRequestView {
	view := &PublicRequestView{
		PublicID:            r.PublicID,
		Title:               r.Title,
		Description:         r.Description,
		Status:              r.Status,
		CategoryCode:        r.CategoryCode,
		LocationAddress:     r.LocationAddress,
		CompletionPhotoPath: r.CompletionPhotoPath,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		History:             make([]PublicHistoryEntry, 0, len(r.History)),
		Notes:               make([]PublicNoteEntry, 0, len(r.Notes)),
	}
	for _, h := range r.History {
		view.History = append(view.History, PublicHistoryEntry{
			FromStatus: h.FromStatus,
			ToStatus:   h.ToStatus,
			Note:       h.Note,
			CreatedAt:  h.CreatedAt,
		})
	}
	for _, n := range r.Notes {
		view.Notes = append(view.Notes, PublicNoteEntry{Body: n.Body, CreatedAt: n.CreatedAt})
	}
	return view
}

// IntegrityResponse is the result of an audit chain verification.
type IntegrityResponse struct {
	Intact        bool   `json:"intact"`
	FirstFailedID *int64 `json:"firstFailedId,omitempty"`
	Message       string `json:"message"`
}
