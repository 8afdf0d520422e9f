package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/WestWindsorForward/Pinpoint-311/models"
	"github.com/WestWindsorForward/Pinpoint-311/monitoring"
	"github.com/WestWindsorForward/Pinpoint-311/services"
	"github.com/WestWindsorForward/Pinpoint-311/utils"
)

// RequestHandler serves the unauthenticated resident API: submitting a
// request, tracking it by public ID and opting into status notifications.
type RequestHandler struct {
	requests  *services.RequestService
	telemetry *monitoring.Telemetry
}

// NewRequestHandler creates a new resident request handler. The telemetry
// argument may be nil, which disables business-event metrics.
func NewRequestHandler(requests *services.RequestService, telemetry *monitoring.Telemetry) *RequestHandler {
	return &RequestHandler{requests: requests, telemetry: telemetry}
}

// SetupRoutes registers the resident endpoints on the mux.
func (h *RequestHandler) SetupRoutes(mux *http.ServeMux) {
	mux.Handle("/api/requests", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleRequests)))
	mux.Handle("/api/requests/", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleRequests)))
}

// handleRequests dispatches:
//
//	POST /api/requests                        submit a new request
//	GET  /api/requests/{publicID}             public timeline
//	POST /api/requests/{publicID}/subscribe   notification opt-in
func (h *RequestHandler) handleRequests(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/requests")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		parts = nil
	}

	switch {
	case len(parts) == 0:
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
			return
		}
		h.submit(w, r)
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
			return
		}
		h.track(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "subscribe":
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
			return
		}
		h.subscribe(w, r, parts[0])
	default:
		utils.RespondWithError(w, http.StatusNotFound, "Not found", nil)
	}
}

func (h *RequestHandler) submit(w http.ResponseWriter, r *http.Request) {
	var input models.SubmitRequestInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	request, err := h.requests.Create(r.Context(), &input)
	if err != nil {
		if services.IsValidationError(err) {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		slog.Error("Failed to create request", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create request", nil)
		return
	}

	if h.telemetry != nil {
		h.telemetry.RecordBusinessEvent(r.Context(), "request_submitted", "success")
	}
	slog.Info("Request submitted", "public_id", request.PublicID, "category", request.CategoryCode)
	utils.RespondWithJSON(w, http.StatusCreated, request)
}

func (h *RequestHandler) track(w http.ResponseWriter, r *http.Request, publicID string) {
	request, err := h.requests.GetByPublicID(r.Context(), publicID)
	if err != nil {
		if services.IsNotFoundError(err) {
			utils.RespondWithError(w, http.StatusNotFound, "Request not found", nil)
			return
		}
		slog.Error("Failed to load request", "public_id", publicID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load request", nil)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, request.PublicView())
}

func (h *RequestHandler) subscribe(w http.ResponseWriter, r *http.Request, publicID string) {
	request, err := h.requests.GetByPublicID(r.Context(), publicID)
	if err != nil {
		if services.IsNotFoundError(err) {
			utils.RespondWithError(w, http.StatusNotFound, "Request not found", nil)
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load request", nil)
		return
	}

	var input models.OptInInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	optIn, err := h.requests.AddOptIn(r.Context(), request.ID, &input)
	if err != nil {
		if services.IsValidationError(err) {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		slog.Error("Failed to create opt-in", "public_id", publicID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create opt-in", nil)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, optIn)
}
