package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WestWindsorForward/Pinpoint-311/models"
	"github.com/WestWindsorForward/Pinpoint-311/services"
)

func newAuthTestHandler(t *testing.T) *AuthHandler {
	t.Helper()
	db := services.SetupSQLiteTestDB(t)
	audit := services.NewAuditService(db)
	auth := services.NewAuthService(db, audit, []byte("test-signing-key"), time.Hour)
	services.CreateTestUser(t, db, "clerk@example.gov", "correct-horse", models.RoleWorker)
	return NewAuthHandler(auth)
}

func TestAuthHandler_Login(t *testing.T) {
	t.Run("Login_Success", func(t *testing.T) {
		handler := newAuthTestHandler(t)

		body, _ := json.Marshal(models.LoginInput{Email: "clerk@example.gov", Password: "correct-horse"})
		req := httptest.NewRequest(http.MethodPost, "/api/staff/auth/login", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		handler.Login(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp models.TokenResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.AccessToken)
		assert.Equal(t, "bearer", resp.TokenType)
	})

	t.Run("Login_WrongPassword", func(t *testing.T) {
		handler := newAuthTestHandler(t)

		body, _ := json.Marshal(models.LoginInput{Email: "clerk@example.gov", Password: "wrong"})
		req := httptest.NewRequest(http.MethodPost, "/api/staff/auth/login", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		handler.Login(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Login_MissingCredentials", func(t *testing.T) {
		handler := newAuthTestHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/api/staff/auth/login", bytes.NewReader([]byte(`{}`)))
		rec := httptest.NewRecorder()
		handler.Login(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Login_MethodNotAllowed", func(t *testing.T) {
		handler := newAuthTestHandler(t)

		req := httptest.NewRequest(http.MethodGet, "/api/staff/auth/login", nil)
		rec := httptest.NewRecorder()
		handler.Login(rec, req)

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestClientIP(t *testing.T) {
	t.Run("PrefersForwardedFor", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")
		assert.Equal(t, "203.0.113.9", ClientIP(req))
	})

	t.Run("FallsBackToRemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.4:52011"
		assert.Equal(t, "198.51.100.4", ClientIP(req))
	})
}
