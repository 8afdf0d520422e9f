package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/WestWindsorForward/Pinpoint-311/middleware"
	"github.com/WestWindsorForward/Pinpoint-311/models"
	"github.com/WestWindsorForward/Pinpoint-311/monitoring"
	"github.com/WestWindsorForward/Pinpoint-311/services"
	"github.com/WestWindsorForward/Pinpoint-311/utils"
)

// maxUploadBytes caps attachment uploads.
const maxUploadBytes = 10 << 20

// DeliveryDispatcher wakes webhook delivery for a freshly scheduled row.
// Implemented by the in-process worker kick and by the Redis stream producer.
type DeliveryDispatcher interface {
	Dispatch(ctx context.Context, deliveryID int64) error
}

// StaffHandler serves the authenticated staff API: dashboard, triage and the
// request lifecycle. Status changes fan out to the audit trail, the Open311
// webhook outbox and subscriber notifications.
type StaffHandler struct {
	requests      *services.RequestService
	audit         *services.AuditService
	webhooks      *services.WebhookService
	notifications *services.NotificationService
	dispatcher    DeliveryDispatcher
	telemetry     *monitoring.Telemetry
	uploadDir     string
}

// NewStaffHandler creates a new staff handler. dispatcher and telemetry may
// be nil; scheduled webhooks are then picked up by the worker's next poll.
func NewStaffHandler(
	requests *services.RequestService,
	audit *services.AuditService,
	webhooks *services.WebhookService,
	notifications *services.NotificationService,
	dispatcher DeliveryDispatcher,
	telemetry *monitoring.Telemetry,
	uploadDir string,
) *StaffHandler {
	if uploadDir == "" {
		uploadDir = "uploads"
	}
	return &StaffHandler{
		requests:      requests,
		audit:         audit,
		webhooks:      webhooks,
		notifications: notifications,
		dispatcher:    dispatcher,
		telemetry:     telemetry,
		uploadDir:     uploadDir,
	}
}

// SetupRoutes registers the staff endpoints on the mux. Authentication and
// the worker-role floor are applied by the caller's middleware chain.
func (h *StaffHandler) SetupRoutes(mux *http.ServeMux) {
	mux.Handle("/api/staff/dashboard", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleDashboard)))
	mux.Handle("/api/staff/requests", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleRequests)))
	mux.Handle("/api/staff/requests/", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleRequests)))
}

func (h *StaffHandler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	summary, err := h.requests.DashboardSummary(r.Context())
	if err != nil {
		slog.Error("Failed to build dashboard summary", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to build dashboard", nil)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, models.DashboardResponse{Summary: summary})
}

// handleRequests dispatches:
//
//	GET   /api/staff/requests                    list with filters
//	GET   /api/staff/requests/{id}               full detail
//	PATCH /api/staff/requests/{id}/status        lifecycle transition
//	PATCH /api/staff/requests/{id}/priority      triage priority
//	PATCH /api/staff/requests/{id}/assignment    department / assignee
//	POST  /api/staff/requests/{id}/notes         staff note
//	POST  /api/staff/requests/{id}/attachments   file upload
func (h *StaffHandler) handleRequests(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/staff/requests")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		parts = nil
	}

	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
			return
		}
		h.list(w, r)
		return
	}

	requestID, err := uuid.Parse(parts[0])
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request ID", err)
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
			return
		}
		h.detail(w, r, requestID)
	case len(parts) == 2 && parts[1] == "status":
		if r.Method != http.MethodPatch {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
			return
		}
		h.updateStatus(w, r, requestID)
	case len(parts) == 2 && parts[1] == "priority":
		if r.Method != http.MethodPatch {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
			return
		}
		h.updatePriority(w, r, requestID)
	case len(parts) == 2 && parts[1] == "assignment":
		if r.Method != http.MethodPatch {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
			return
		}
		h.updateAssignment(w, r, requestID)
	case len(parts) == 2 && parts[1] == "notes":
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
			return
		}
		h.addNote(w, r, requestID)
	case len(parts) == 2 && parts[1] == "attachments":
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
			return
		}
		h.addAttachment(w, r, requestID)
	default:
		utils.RespondWithError(w, http.StatusNotFound, "Not found", nil)
	}
}

func (h *StaffHandler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := &services.RequestFilter{
		Status:       models.RequestStatus(query.Get("status")),
		Priority:     models.RequestPriority(query.Get("priority")),
		CategoryCode: query.Get("category"),
		Limit:        parseQueryInt(query.Get("limit"), 100),
		Offset:       parseQueryInt(query.Get("offset"), 0),
	}
	if assignee := query.Get("assignedTo"); assignee != "" {
		id, err := uuid.Parse(assignee)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid assignedTo filter", err)
			return
		}
		filter.AssignedToID = &id
	}

	requests, total, err := h.requests.List(r.Context(), filter)
	if err != nil {
		slog.Error("Failed to list requests", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list requests", nil)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, models.RequestListResponse{
		Requests: requests,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

func (h *StaffHandler) detail(w http.ResponseWriter, r *http.Request, requestID uuid.UUID) {
	request, err := h.requests.Get(r.Context(), requestID)
	if err != nil {
		if services.IsNotFoundError(err) {
			utils.RespondWithError(w, http.StatusNotFound, "Request not found", nil)
			return
		}
		slog.Error("Failed to load request", "request_id", requestID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load request", nil)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, request)
}

// updateStatus applies a lifecycle transition. On an actual change it records
// the transition in the immutable history, appends an audit entry, schedules
// the Open311 webhook and notifies subscribers. A same-status update returns
// the request unchanged with nothing recorded.
func (h *StaffHandler) updateStatus(w http.ResponseWriter, r *http.Request, requestID uuid.UUID) {
	actor, ok := middleware.GetAuthenticatedUser(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	var input models.StatusUpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	before, err := h.requests.Get(r.Context(), requestID)
	if err != nil {
		if services.IsNotFoundError(err) {
			utils.RespondWithError(w, http.StatusNotFound, "Request not found", nil)
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load request", nil)
		return
	}
	fromStatus := before.Status

	actorID := actor.ID
	entry, err := h.requests.RecordTransition(r.Context(), requestID, input.Status, &actorID, input.Note)
	if err != nil {
		switch {
		case services.IsValidationError(err):
			utils.RespondWithError(w, http.StatusBadRequest, err.Error(), nil)
		case services.IsNotFoundError(err):
			utils.RespondWithError(w, http.StatusNotFound, "Request not found", nil)
		default:
			slog.Error("Failed to record status transition", "request_id", requestID, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to update status", nil)
		}
		return
	}

	request, err := h.requests.Get(r.Context(), requestID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to reload request", nil)
		return
	}

	if entry == nil {
		// Same status, nothing recorded.
		utils.RespondWithJSON(w, http.StatusOK, request)
		return
	}

	if _, err := h.audit.LogStatusChange(r.Context(), actor.Email, actor.ID, ClientIP(r), request.PublicID, fromStatus, request.Status); err != nil {
		// The transition is already durable; losing the audit entry is the
		// one thing this trail exists to prevent.
		slog.Error("Failed to audit status change", "request_id", requestID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to record audit entry", nil)
		return
	}

	if h.telemetry != nil {
		h.telemetry.RecordBusinessEvent(r.Context(), "status_changed", string(request.Status))
	}

	delivery, err := h.webhooks.Schedule(r.Context(), request, entry)
	if err != nil {
		slog.Error("Failed to schedule webhook", "request_id", requestID, "error", err)
	} else if delivery != nil && h.dispatcher != nil {
		if err := h.dispatcher.Dispatch(r.Context(), delivery.ID); err != nil {
			// The poller picks it up on the next sweep.
			slog.Warn("Failed to dispatch webhook delivery", "delivery_id", delivery.ID, "error", err)
		}
	}

	h.notifications.NotifySubscribers(r.Context(), request)

	utils.RespondWithJSON(w, http.StatusOK, request)
}

func (h *StaffHandler) updatePriority(w http.ResponseWriter, r *http.Request, requestID uuid.UUID) {
	var input models.PriorityUpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	request, err := h.requests.UpdatePriority(r.Context(), requestID, input.Priority)
	if err != nil {
		h.respondServiceError(w, err, "Failed to update priority")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, request)
}

func (h *StaffHandler) updateAssignment(w http.ResponseWriter, r *http.Request, requestID uuid.UUID) {
	actor, ok := middleware.GetAuthenticatedUser(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}
	if !actor.Role.AtLeast(models.RoleManager) {
		utils.RespondWithError(w, http.StatusForbidden, "Manager role required", nil)
		return
	}

	var input models.AssignmentUpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	request, err := h.requests.UpdateAssignment(r.Context(), requestID, &input)
	if err != nil {
		h.respondServiceError(w, err, "Failed to update assignment")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, request)
}

func (h *StaffHandler) addNote(w http.ResponseWriter, r *http.Request, requestID uuid.UUID) {
	actor, ok := middleware.GetAuthenticatedUser(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	var input models.NoteCreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	actorID := actor.ID
	note, err := h.requests.AddNote(r.Context(), requestID, &actorID, &input)
	if err != nil {
		h.respondServiceError(w, err, "Failed to create note")
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, note)
}

// addAttachment accepts a multipart upload with a "file" part and optional "type"
// and "label" fields, stores the file under the upload directory and records
// the attachment.
func (h *StaffHandler) addAttachment(w http.ResponseWriter, r *http.Request, requestID uuid.UUID) {
	actor, ok := middleware.GetAuthenticatedUser(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid multipart upload", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "file part is required", err)
		return
	}
	defer file.Close()

	fileType := models.AttachmentType(r.FormValue("type"))
	if fileType == "" {
		fileType = models.AttachmentOther
	}
	var label *string
	if v := r.FormValue("label"); v != "" {
		label = &v
	}

	storedPath, err := h.storeUpload(requestID, header.Filename, file)
	if err != nil {
		slog.Error("Failed to store upload", "request_id", requestID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to store upload", nil)
		return
	}

	actorID := actor.ID
	attachment, err := h.requests.AddAttachment(r.Context(), requestID, &actorID, storedPath, fileType, label)
	if err != nil {
		h.respondServiceError(w, err, "Failed to record attachment")
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, attachment)
}

// storeUpload writes the upload under uploadDir/{requestID}/ with a random
// prefix so colliding filenames never overwrite each other.
func (h *StaffHandler) storeUpload(requestID uuid.UUID, filename string, src io.Reader) (string, error) {
	dir := filepath.Join(h.uploadDir, requestID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := uuid.NewString()[:8] + "_" + filepath.Base(filename)
	path := filepath.Join(dir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(src, maxUploadBytes)); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// parseQueryInt parses a query string value, falling back on empty or
// malformed input.
func parseQueryInt(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func (h *StaffHandler) respondServiceError(w http.ResponseWriter, err error, message string) {
	switch {
	case services.IsValidationError(err):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error(), nil)
	case services.IsNotFoundError(err):
		utils.RespondWithError(w, http.StatusNotFound, "Request not found", nil)
	default:
		slog.Error(message, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, message, nil)
	}
}
