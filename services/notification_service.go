package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WestWindsorForward/Pinpoint-311/config"
	"github.com/WestWindsorForward/Pinpoint-311/models"
)

// EmailSender delivers one email. Implementations wrap a provider API.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers one text message. Implementations wrap a provider API.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// NotificationService fans status-change notifications out to a request's
// subscribers. Provider integrations are injected; the default senders only
// log, which keeps local development working without credentials.
type NotificationService struct {
	cfg   *config.TownshipConfig
	email EmailSender
	sms   SMSSender
}

// NewNotificationService creates a new notification service instance
func NewNotificationService(cfg *config.TownshipConfig, email EmailSender, sms SMSSender) *NotificationService {
	if email == nil {
		email = logEmailSender{}
	}
	if sms == nil {
		sms = logSMSSender{}
	}
	return &NotificationService{cfg: cfg, email: email, sms: sms}
}

// NotifySubscribers tells every opt-in contact about the request's new
// status. Individual send failures are logged and do not abort the rest.
func (s *NotificationService) NotifySubscribers(ctx context.Context, request *models.ServiceRequest) {
	if !s.cfg.FeatureFlags.SubscriberUpdates {
		return
	}

	message := fmt.Sprintf("Your request %s status changed to %s.", request.PublicID, request.Status)
	subject := fmt.Sprintf("Request %s status update", request.PublicID)

	for _, optIn := range request.Notifications {
		if optIn.Target == "" {
			continue
		}
		var err error
		switch optIn.Method {
		case models.MethodEmail:
			err = s.email.SendEmail(ctx, optIn.Target, subject, message)
		case models.MethodSMS:
			err = s.sms.SendSMS(ctx, optIn.Target, message)
		}
		if err != nil {
			slog.Warn("Failed to notify subscriber",
				"request_id", request.ID,
				"method", optIn.Method,
				"error", err)
		}
	}
}

type logEmailSender struct{}

func (logEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	slog.Info("Email notification (no provider configured)", "to", to, "subject", subject)
	return nil
}

type logSMSSender struct{}

func (logSMSSender) SendSMS(ctx context.Context, to, body string) error {
	slog.Info("SMS notification (no provider configured)", "to", to)
	return nil
}
