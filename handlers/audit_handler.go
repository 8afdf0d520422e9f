package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/WestWindsorForward/Pinpoint-311/middleware"
	"github.com/WestWindsorForward/Pinpoint-311/models"
	"github.com/WestWindsorForward/Pinpoint-311/services"
	"github.com/WestWindsorForward/Pinpoint-311/utils"
)

// AuditHandler exposes the audit trail to staff: managers can read the log,
// admins can run an integrity verification over the hash chain.
type AuditHandler struct {
	audit *services.AuditService
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(audit *services.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// SetupRoutes registers the audit endpoints on the mux.
func (h *AuditHandler) SetupRoutes(mux *http.ServeMux) {
	mux.Handle("/api/staff/audit-logs", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleAuditLogs)))
	mux.Handle("/api/staff/audit-logs/", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleAuditLogs)))
}

// handleAuditLogs dispatches:
//
//	GET /api/staff/audit-logs           paginated listing
//	GET /api/staff/audit-logs/verify    chain integrity check (admin)
func (h *AuditHandler) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/staff/audit-logs")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		parts = nil
	}

	switch {
	case len(parts) == 0:
		h.list(w, r)
	case len(parts) == 1 && parts[0] == "verify":
		h.verify(w, r)
	default:
		utils.RespondWithError(w, http.StatusNotFound, "Not found", nil)
	}
}

func (h *AuditHandler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAuthenticatedUser(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}
	if !actor.Role.AtLeast(models.RoleManager) {
		utils.RespondWithError(w, http.StatusForbidden, "Manager role required", nil)
		return
	}

	query := r.URL.Query()
	limit := parseQueryInt(query.Get("limit"), 100)
	offset := parseQueryInt(query.Get("offset"), 0)

	logs, total, err := h.audit.GetLogs(r.Context(), query.Get("eventType"), query.Get("username"), limit, offset)
	if err != nil {
		slog.Error("Failed to retrieve audit logs", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve audit logs", nil)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, models.AuditLogListResponse{
		Logs:   logs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// verify recomputes the hash chain. The first failing entry ID is only shown
// to admins; that detail maps directly to a row in the audit table.
func (h *AuditHandler) verify(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAuthenticatedUser(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}
	if !actor.Role.AtLeast(models.RoleAdmin) {
		utils.RespondWithError(w, http.StatusForbidden, "Admin role required", nil)
		return
	}

	var fromID int64
	if raw := r.URL.Query().Get("fromId"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid fromId", err)
			return
		}
		fromID = parsed
	}

	result, err := h.audit.VerifyIntegrity(r.Context(), fromID)
	if err != nil {
		slog.Error("Audit chain verification errored", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to verify audit chain", nil)
		return
	}

	response := models.IntegrityResponse{
		Intact:        result.Intact,
		FirstFailedID: result.FirstFailedID,
		Message:       "Audit log integrity verified: all entries intact",
	}
	if !result.Intact {
		response.Message = "WARNING: Audit log tampering detected"
		slog.Warn("Audit chain verification failed", "first_failed_id", result.FirstFailedID)
	}
	utils.RespondWithJSON(w, http.StatusOK, response)
}
