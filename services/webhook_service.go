package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/WestWindsorForward/Pinpoint-311/config"
	"github.com/WestWindsorForward/Pinpoint-311/models"
	"github.com/WestWindsorForward/Pinpoint-311/monitoring"
)

// maxResponseBodyBytes caps the stored webhook response body.
const maxResponseBodyBytes = 2000

// WebhookService schedules and delivers Open311 status webhooks to the
// configured regional endpoint.
type WebhookService struct {
	db         *gorm.DB
	cfg        *config.TownshipConfig
	httpClient *http.Client
	telemetry  *monitoring.Telemetry
}

// NewWebhookService creates a new webhook service instance
func NewWebhookService(db *gorm.DB, cfg *config.TownshipConfig) *WebhookService {
	return &WebhookService{
		db:  db,
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Notification.WebhookTimeout,
		},
	}
}

// open311Payload is the Open311 GeoReport service_request representation
// posted on each status change.
type open311Payload struct {
	ServiceRequestID  string   `json:"service_request_id"`
	ServiceCode       *string  `json:"service_code"`
	Status            string   `json:"status"`
	StatusNotes       *string  `json:"status_notes"`
	StatusDatetime    string   `json:"status_datetime"`
	AgencyResponsible *string  `json:"agency_responsible"`
	RequestedDatetime string   `json:"requested_datetime"`
	UpdatedDatetime   string   `json:"updated_datetime"`
	Address           *string  `json:"address"`
	Lat               *float64 `json:"lat"`
	Long              *float64 `json:"long"`
	JurisdictionID    string   `json:"jurisdiction_id"`
}

// BuildPayload renders the Open311 payload for a request and the transition
// that triggered it.
func (s *WebhookService) BuildPayload(request *models.ServiceRequest, history *models.RequestStatusHistory) (json.RawMessage, error) {
	statusTime := request.UpdatedAt
	var statusNotes *string
	if history != nil {
		statusTime = history.CreatedAt
		statusNotes = history.Note
	}

	payload := open311Payload{
		ServiceRequestID:  request.PublicID,
		ServiceCode:       request.CategoryCode,
		Status:            string(request.Status),
		StatusNotes:       statusNotes,
		StatusDatetime:    statusTime.UTC().Format(time.RFC3339),
		AgencyResponsible: request.AssignedDepartment,
		RequestedDatetime: request.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedDatetime:   request.UpdatedAt.UTC().Format(time.RFC3339),
		Address:           request.LocationAddress,
		Lat:               request.LocationLat,
		Long:              request.LocationLng,
		JurisdictionID:    s.cfg.JurisdictionID(),
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}
	return encoded, nil
}

// Schedule persists a pending delivery for a status change. Returns nil
// without error when no Open311 endpoint is configured.
func (s *WebhookService) Schedule(ctx context.Context, request *models.ServiceRequest, history *models.RequestStatusHistory) (*models.WebhookDelivery, error) {
	url := s.cfg.Open311EndpointURL()
	if url == "" {
		slog.Debug("No Open311 endpoint configured, skipping webhook scheduling")
		return nil, nil
	}

	payload, err := s.BuildPayload(request, history)
	if err != nil {
		return nil, err
	}

	delivery := &models.WebhookDelivery{
		RequestID: request.ID,
		TargetURL: url,
		Payload:   payload,
		Status:    models.DeliveryPending,
	}
	if err := s.db.WithContext(ctx).Create(delivery).Error; err != nil {
		return nil, fmt.Errorf("failed to schedule webhook delivery: %w", err)
	}
	return delivery, nil
}

// SetTelemetry enables external-call metrics for deliveries. May stay unset
// in tests.
func (s *WebhookService) SetTelemetry(t *monitoring.Telemetry) {
	s.telemetry = t
}

// ProcessDelivery adapts Deliver to the queue consumer contract.
func (s *WebhookService) ProcessDelivery(ctx context.Context, deliveryID int64) error {
	_, err := s.Deliver(ctx, deliveryID)
	return err
}

// Deliver posts one scheduled delivery and records the attempt outcome.
// A non-2xx/3xx response or transport error marks the delivery failed; the
// worker decides whether to retry based on the attempt count.
func (s *WebhookService) Deliver(ctx context.Context, deliveryID int64) (*models.WebhookDelivery, error) {
	var delivery models.WebhookDelivery
	err := s.db.WithContext(ctx).First(&delivery, "id = ?", deliveryID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: webhook delivery %d", ErrNotFound, deliveryID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.TargetURL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	now := time.Now().UTC()
	delivery.Attempts++
	delivery.LastAttemptAt = &now

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if s.telemetry != nil {
		s.telemetry.RecordExternalCall(ctx, "open311", "webhook_post", time.Since(start), err)
	}
	if err != nil {
		slog.Warn("Webhook delivery failed", "delivery_id", delivery.ID, "error", err)
		delivery.Status = models.DeliveryFailed
		body := err.Error()
		delivery.ResponseBody = &body
		delivery.ResponseStatus = nil
	} else {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
		resp.Body.Close()
		if readErr != nil {
			body = []byte(fmt.Sprintf("failed to read response body: %v", readErr))
		}

		status := resp.StatusCode
		text := string(body)
		delivery.ResponseStatus = &status
		delivery.ResponseBody = &text
		if resp.StatusCode < 400 {
			delivery.Status = models.DeliverySuccess
		} else {
			delivery.Status = models.DeliveryFailed
		}
	}

	if err := s.db.WithContext(ctx).Save(&delivery).Error; err != nil {
		return nil, fmt.Errorf("failed to record webhook attempt: %w", err)
	}
	return &delivery, nil
}
