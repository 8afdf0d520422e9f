package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/WestWindsorForward/Pinpoint-311/config"
	"github.com/WestWindsorForward/Pinpoint-311/models"
)

func newTestWebhookService(t *testing.T, endpointURL string) (*WebhookService, *RequestService, *gorm.DB) {
	t.Helper()
	db := SetupSQLiteTestDB(t)
	cfg := config.DefaultConfig()
	if endpointURL != "" {
		cfg.Open311 = &config.Open311Config{
			EndpointURL:    endpointURL,
			JurisdictionID: "ww.example.gov",
		}
	}
	return NewWebhookService(db, cfg), NewRequestService(db, cfg), db
}

func submitAndResolve(t *testing.T, requests *RequestService) (*models.ServiceRequest, *models.RequestStatusHistory) {
	t.Helper()
	category := "streetlight"
	request, err := requests.Create(context.Background(), &models.SubmitRequestInput{
		Title:        "Street light out on Alexander Road",
		Description:  "Light has been dark for a week",
		CategoryCode: &category,
	})
	require.NoError(t, err)

	note := "replaced bulb"
	entry, err := requests.RecordTransition(context.Background(), request.ID, models.StatusResolved, nil, &note)
	require.NoError(t, err)

	reloaded, err := requests.Get(context.Background(), request.ID)
	require.NoError(t, err)
	return reloaded, entry
}

func TestWebhookService_BuildPayload(t *testing.T) {
	service, requests, _ := newTestWebhookService(t, "https://regional.example.gov/open311")
	request, entry := submitAndResolve(t, requests)

	raw, err := service.BuildPayload(request, entry)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, request.PublicID, payload["service_request_id"])
	assert.Equal(t, "resolved", payload["status"])
	assert.Equal(t, "replaced bulb", payload["status_notes"])
	assert.Equal(t, "streetlight", payload["service_code"])
	assert.Equal(t, "ww.example.gov", payload["jurisdiction_id"])
}

func TestWebhookService_Schedule(t *testing.T) {
	t.Run("Schedule_NoEndpointConfigured", func(t *testing.T) {
		service, requests, db := newTestWebhookService(t, "")
		request, entry := submitAndResolve(t, requests)

		delivery, err := service.Schedule(context.Background(), request, entry)
		require.NoError(t, err)
		assert.Nil(t, delivery)

		var count int64
		require.NoError(t, db.Model(&models.WebhookDelivery{}).Count(&count).Error)
		assert.Equal(t, int64(0), count)
	})

	t.Run("Schedule_PersistsPendingDelivery", func(t *testing.T) {
		service, requests, _ := newTestWebhookService(t, "https://regional.example.gov/open311")
		request, entry := submitAndResolve(t, requests)

		delivery, err := service.Schedule(context.Background(), request, entry)
		require.NoError(t, err)
		require.NotNil(t, delivery)
		assert.Equal(t, models.DeliveryPending, delivery.Status)
		assert.Equal(t, "https://regional.example.gov/open311", delivery.TargetURL)
		assert.Zero(t, delivery.Attempts)
	})
}

func TestWebhookService_Deliver(t *testing.T) {
	t.Run("Deliver_Success", func(t *testing.T) {
		var received []byte
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"accepted":true}`))
		}))
		defer server.Close()

		service, requests, _ := newTestWebhookService(t, server.URL)
		request, entry := submitAndResolve(t, requests)

		scheduled, err := service.Schedule(context.Background(), request, entry)
		require.NoError(t, err)

		delivered, err := service.Deliver(context.Background(), scheduled.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliverySuccess, delivered.Status)
		assert.Equal(t, 1, delivered.Attempts)
		require.NotNil(t, delivered.ResponseStatus)
		assert.Equal(t, http.StatusOK, *delivered.ResponseStatus)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(received, &payload))
		assert.Equal(t, request.PublicID, payload["service_request_id"])
	})

	t.Run("Deliver_ServerErrorMarksFailed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream broken", http.StatusInternalServerError)
		}))
		defer server.Close()

		service, requests, _ := newTestWebhookService(t, server.URL)
		request, entry := submitAndResolve(t, requests)

		scheduled, err := service.Schedule(context.Background(), request, entry)
		require.NoError(t, err)

		delivered, err := service.Deliver(context.Background(), scheduled.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryFailed, delivered.Status)
		require.NotNil(t, delivered.ResponseStatus)
		assert.Equal(t, http.StatusInternalServerError, *delivered.ResponseStatus)
	})

	t.Run("Deliver_UnknownDelivery", func(t *testing.T) {
		service, _, _ := newTestWebhookService(t, "https://regional.example.gov/open311")

		_, err := service.Deliver(context.Background(), 999)
		assert.True(t, IsNotFoundError(err))
	})
}

func TestWebhookWorker_ProcessPending(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	service, requests, db := newTestWebhookService(t, server.URL)
	request, entry := submitAndResolve(t, requests)

	scheduled, err := service.Schedule(context.Background(), request, entry)
	require.NoError(t, err)

	worker := NewWebhookWorker(db, service, 3)

	// First sweep fails, second sweep retries and succeeds.
	worker.ProcessPending(context.Background())
	var delivery models.WebhookDelivery
	require.NoError(t, db.First(&delivery, "id = ?", scheduled.ID).Error)
	assert.Equal(t, models.DeliveryFailed, delivery.Status)
	assert.Equal(t, 1, delivery.Attempts)

	worker.ProcessPending(context.Background())
	require.NoError(t, db.First(&delivery, "id = ?", scheduled.ID).Error)
	assert.Equal(t, models.DeliverySuccess, delivery.Status)
	assert.Equal(t, 2, delivery.Attempts)
}
