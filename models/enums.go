package models

// RequestStatus is the lifecycle status of a service request.
type RequestStatus string

const (
	StatusNew        RequestStatus = "new"
	StatusInProgress RequestStatus = "in_progress"
	StatusResolved   RequestStatus = "resolved"
	StatusClosed     RequestStatus = "closed"
)

// Valid reports whether the status is one of the known lifecycle values.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// RequestPriority is the triage priority assigned by staff.
type RequestPriority string

const (
	PriorityLow       RequestPriority = "low"
	PriorityMedium    RequestPriority = "medium"
	PriorityHigh      RequestPriority = "high"
	PriorityEmergency RequestPriority = "emergency"
)

func (p RequestPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityEmergency:
		return true
	}
	return false
}

// UserRole is the staff role attached to a portal account.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleManager UserRole = "manager"
	RoleWorker  UserRole = "worker"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleWorker:
		return true
	}
	return false
}

// AtLeast reports whether the role grants at least the privileges of other.
// Roles are strictly ordered: worker < manager < admin.
func (r UserRole) AtLeast(other UserRole) bool {
	rank := map[UserRole]int{RoleWorker: 1, RoleManager: 2, RoleAdmin: 3}
	return rank[r] >= rank[other]
}

// NoteVisibility controls whether a request note is shown on the public timeline.
type NoteVisibility string

const (
	VisibilityPublic   NoteVisibility = "public"
	VisibilityInternal NoteVisibility = "internal"
)

func (v NoteVisibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityInternal
}

// NotificationMethod is the channel a subscriber opted into.
type NotificationMethod string

const (
	MethodEmail NotificationMethod = "email"
	MethodSMS   NotificationMethod = "sms"
)

func (m NotificationMethod) Valid() bool {
	return m == MethodEmail || m == MethodSMS
}

// AttachmentType classifies uploaded request photos.
type AttachmentType string

const (
	AttachmentInitial    AttachmentType = "initial"
	AttachmentCompletion AttachmentType = "completion"
	AttachmentOther      AttachmentType = "other"
)

func (a AttachmentType) Valid() bool {
	switch a {
	case AttachmentInitial, AttachmentCompletion, AttachmentOther:
		return true
	}
	return false
}

// WebhookDeliveryStatus tracks the outcome of an Open311 webhook delivery.
type WebhookDeliveryStatus string

const (
	DeliveryPending WebhookDeliveryStatus = "pending"
	DeliverySuccess WebhookDeliveryStatus = "success"
	DeliveryFailed  WebhookDeliveryStatus = "failed"
)

// Audit event types recorded by the hash-chained audit log.
const (
	EventLoginSuccess      = "login_success"
	EventLoginFailed       = "login_failed"
	EventLogout            = "logout"
	EventRoleChanged       = "role_changed"
	EventStatusChanged     = "request_status_changed"
	EventPriorityChanged   = "request_priority_changed"
	EventAssignmentChanged = "request_assignment_changed"
	EventNoteAdded         = "request_note_added"
	EventAttachmentAdded   = "request_attachment_added"
)
