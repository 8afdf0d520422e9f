package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/WestWindsorForward/Pinpoint-311/middleware"
	"github.com/WestWindsorForward/Pinpoint-311/models"
	"github.com/WestWindsorForward/Pinpoint-311/services"
)

func newAuditTestMux(t *testing.T) (*http.ServeMux, *services.AuditService, *gorm.DB) {
	t.Helper()
	db := services.SetupSQLiteTestDB(t)
	audit := services.NewAuditService(db)
	handler := NewAuditHandler(audit)

	mux := http.NewServeMux()
	handler.SetupRoutes(mux)
	return mux, audit, db
}

func serveWithRole(t *testing.T, mux *http.ServeMux, role models.UserRole, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req = req.WithContext(middleware.SetAuthenticatedUser(req.Context(), &middleware.AuthenticatedUser{
		ID:    uuid.New(),
		Email: "staff@example.gov",
		Role:  role,
	}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func appendLoginEvents(t *testing.T, audit *services.AuditService, n int) []*models.AuditLog {
	t.Helper()
	entries := make([]*models.AuditLog, 0, n)
	username := "clerk@example.gov"
	for i := 0; i < n; i++ {
		entry, err := audit.Append(context.Background(), services.AuditEvent{
			EventType: models.EventLoginSuccess,
			Success:   true,
			Username:  &username,
		})
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	return entries
}

func TestAuditHandler_List(t *testing.T) {
	t.Run("List_RequiresManager", func(t *testing.T) {
		mux, _, _ := newAuditTestMux(t)

		rec := serveWithRole(t, mux, models.RoleWorker, "/api/staff/audit-logs")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("List_ReturnsEntries", func(t *testing.T) {
		mux, audit, _ := newAuditTestMux(t)
		appendLoginEvents(t, audit, 3)

		rec := serveWithRole(t, mux, models.RoleManager, "/api/staff/audit-logs?limit=2")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.AuditLogListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(3), resp.Total)
		assert.Len(t, resp.Logs, 2)
	})
}

func TestAuditHandler_Verify(t *testing.T) {
	t.Run("Verify_RequiresAdmin", func(t *testing.T) {
		mux, _, _ := newAuditTestMux(t)

		rec := serveWithRole(t, mux, models.RoleManager, "/api/staff/audit-logs/verify")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Verify_IntactChain", func(t *testing.T) {
		mux, audit, _ := newAuditTestMux(t)
		appendLoginEvents(t, audit, 5)

		rec := serveWithRole(t, mux, models.RoleAdmin, "/api/staff/audit-logs/verify")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.IntegrityResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Intact)
		assert.Nil(t, resp.FirstFailedID)
		assert.Contains(t, resp.Message, "intact")
	})

	t.Run("Verify_TamperedChain", func(t *testing.T) {
		mux, audit, db := newAuditTestMux(t)
		entries := appendLoginEvents(t, audit, 5)

		require.NoError(t, db.Model(&models.AuditLog{}).
			Where("id = ?", entries[1].ID).
			Update("username", "attacker@example.gov").Error)

		rec := serveWithRole(t, mux, models.RoleAdmin, "/api/staff/audit-logs/verify")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.IntegrityResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Intact)
		require.NotNil(t, resp.FirstFailedID)
		assert.Equal(t, entries[1].ID, *resp.FirstFailedID)
		assert.Contains(t, resp.Message, "tampering detected")
	})

	t.Run("Verify_InvalidFromID", func(t *testing.T) {
		mux, _, _ := newAuditTestMux(t)

		rec := serveWithRole(t, mux, models.RoleAdmin, "/api/staff/audit-logs/verify?fromId=banana")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
