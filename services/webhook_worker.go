package services

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/WestWindsorForward/Pinpoint-311/models"
)

// WebhookWorker drains pending webhook deliveries from the outbox table in
// the background. Retries are the worker's policy, not the scheduler's: a
// failed delivery is retried on later polls until maxAttempts is reached.
type WebhookWorker struct {
	db           *gorm.DB
	webhooks     *WebhookService
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	kick         chan struct{}
}

// NewWebhookWorker creates a new webhook delivery worker
func NewWebhookWorker(db *gorm.DB, webhooks *WebhookService, maxAttempts int) *WebhookWorker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &WebhookWorker{
		db:           db,
		webhooks:     webhooks,
		pollInterval: 5 * time.Second,
		batchSize:    10,
		maxAttempts:  maxAttempts,
		kick:         make(chan struct{}, 1),
	}
}

// Start runs the worker loop until the context is cancelled.
func (w *WebhookWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Webhook worker started", "pollInterval", w.pollInterval, "maxAttempts", w.maxAttempts)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Webhook worker stopped")
			return
		case <-w.kick:
			w.ProcessPending(ctx)
		case <-ticker.C:
			w.ProcessPending(ctx)
		}
	}
}

// Kick nudges the worker to process immediately instead of waiting for the
// next poll tick. Non-blocking; a pending kick is enough.
func (w *WebhookWorker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// ProcessPending delivers one batch of due deliveries.
func (w *WebhookWorker) ProcessPending(ctx context.Context) {
	var deliveries []models.WebhookDelivery
	err := w.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND attempts < ?)",
			models.DeliveryPending, models.DeliveryFailed, w.maxAttempts).
		Order("id ASC").
		Limit(w.batchSize).
		Find(&deliveries).Error
	if err != nil {
		slog.Error("Failed to fetch pending webhook deliveries", "error", err)
		return
	}

	for i := range deliveries {
		delivery, err := w.webhooks.Deliver(ctx, deliveries[i].ID)
		if err != nil {
			slog.Error("Failed to process webhook delivery", "delivery_id", deliveries[i].ID, "error", err)
			continue
		}
		if delivery.Status == models.DeliveryFailed && delivery.Attempts >= w.maxAttempts {
			slog.Warn("Webhook delivery exhausted retries",
				"delivery_id", delivery.ID,
				"attempts", delivery.Attempts,
				"target_url", delivery.TargetURL)
		}
	}
}
