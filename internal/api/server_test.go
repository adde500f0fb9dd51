package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotecast/remotecast-server/internal/audit"
	"github.com/remotecast/remotecast-server/internal/breaker"
	"github.com/remotecast/remotecast-server/internal/config"
	"github.com/remotecast/remotecast-server/internal/gateway"
	"github.com/remotecast/remotecast-server/internal/models"
	"github.com/remotecast/remotecast-server/internal/pairing"
	"github.com/remotecast/remotecast-server/internal/session"
	"github.com/remotecast/remotecast-server/internal/storage"
	"github.com/remotecast/remotecast-server/pkg/crypto"
)

type apiFixture struct {
	server *httptest.Server
	store  *storage.MemoryStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := config.Default()
	cfg.JWT.Secret = "test-secret"

	store := storage.NewMemoryStore()
	br := breaker.New(5, 30*time.Second)
	sink := audit.NopSink{}

	pairingSvc := pairing.NewService(cfg.Pairing, store, sink, br, nil, "test-server")
	sessions := session.NewManager(cfg.Session, store, sink, br)
	gw := gateway.NewGateway(cfg.Gateway, gateway.NewHub(), sessions, store, sink, nil)

	s := NewRESTServer(cfg, store, pairingSvc, sessions, gw, nil)
	server := httptest.NewServer(s.router)
	t.Cleanup(server.Close)

	return &apiFixture{server: server, store: store}
}

func (f *apiFixture) seedUser(t *testing.T, email, password string, admin bool) *models.User {
	t.Helper()

	hash, err := crypto.HashPassword(password)
	require.NoError(t, err)

	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         "Test User",
		PasswordHash: hash,
		IsAdmin:      admin,
		IsActive:     true,
	}
	require.NoError(t, f.store.CreateUser(context.Background(), user))
	return user
}

// request sends a JSON request and decodes the JSON response body
func (f *apiFixture) request(t *testing.T, method, path, bearer string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp.StatusCode, decoded
}

func (f *apiFixture) login(t *testing.T, email, password string) string {
	t.Helper()

	status, body := f.request(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusOK, status)

	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func deviceInfoBody() map[string]interface{} {
	return map[string]interface{}{
		"deviceInfo": map[string]interface{}{
			"name":         "Pixel 8",
			"os":           "Android",
			"capabilities": []string{"playback_control", "status_read"},
		},
	}
}

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.request(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestAPI_Login(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "dev@example.com", "hunter22hunter22", false)

	t.Run("success", func(t *testing.T) {
		status, body := f.request(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email":    "dev@example.com",
			"password": "hunter22hunter22",
		})
		require.Equal(t, http.StatusOK, status)
		assert.NotEmpty(t, body["access_token"])
		assert.NotEmpty(t, body["refresh_token"])
		assert.Equal(t, "Bearer", body["token_type"])
	})

	t.Run("wrong password", func(t *testing.T) {
		status, _ := f.request(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email":    "dev@example.com",
			"password": "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("unknown user", func(t *testing.T) {
		status, _ := f.request(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email":    "nobody@example.com",
			"password": "whatever",
		})
		assert.Equal(t, http.StatusUnauthorized, status)
	})
}

func TestAPI_PairingRequestRequiresAuth(t *testing.T) {
	f := newAPIFixture(t)

	status, _ := f.request(t, http.MethodPost, "/api/v1/pairing/request", "", deviceInfoBody())
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPI_PairingFlow(t *testing.T) {
	f := newAPIFixture(t)
	user := f.seedUser(t, "dev@example.com", "hunter22hunter22", false)
	bearer := f.login(t, "dev@example.com", "hunter22hunter22")

	status, issued := f.request(t, http.MethodPost, "/api/v1/pairing/request", bearer, deviceInfoBody())
	require.Equal(t, http.StatusCreated, status)

	code, _ := issued["code"].(string)
	require.Len(t, code, 6)
	assert.NotEmpty(t, issued["qrPayload"])
	assert.NotEmpty(t, issued["instructions"])

	status, claimed := f.request(t, http.MethodPost, "/api/v1/pairing/claim", "", map[string]string{
		"code":     code,
		"deviceId": "D1",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, claimed["valid"])
	assert.Equal(t, user.ID.String(), claimed["userId"])

	sess, ok := claimed["session"].(map[string]interface{})
	require.True(t, ok)
	token, _ := sess["token"].(string)
	assert.True(t, strings.HasPrefix(token, "rst_"))
	refreshToken, _ := sess["refreshToken"].(string)
	assert.True(t, strings.HasPrefix(refreshToken, "rrt_"))

	// A pairing code is single use
	status, reclaimed := f.request(t, http.MethodPost, "/api/v1/pairing/claim", "", map[string]string{
		"code":     code,
		"deviceId": "D1",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Pairing code has already been used", reclaimed["error"])
}

func TestAPI_ClaimUnknownCode(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.request(t, http.MethodPost, "/api/v1/pairing/claim", "", map[string]string{
		"code":     "ZZZZZZ",
		"deviceId": "D1",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid pairing code", body["error"])
}

func TestAPI_SessionRefreshAndRevoke(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "dev@example.com", "hunter22hunter22", false)
	bearer := f.login(t, "dev@example.com", "hunter22hunter22")

	_, issued := f.request(t, http.MethodPost, "/api/v1/pairing/request", bearer, deviceInfoBody())
	code, _ := issued["code"].(string)

	_, claimed := f.request(t, http.MethodPost, "/api/v1/pairing/claim", "", map[string]string{
		"code":     code,
		"deviceId": "D1",
	})
	sess := claimed["session"].(map[string]interface{})
	refreshToken := sess["refreshToken"].(string)

	status, rotated := f.request(t, http.MethodPost, "/api/v1/sessions/refresh", "", map[string]string{
		"refreshToken": refreshToken,
	})
	require.Equal(t, http.StatusOK, status)
	newToken, _ := rotated["token"].(string)
	assert.NotEqual(t, sess["token"], newToken)

	// The rotated-out refresh token no longer works
	status, _ = f.request(t, http.MethodPost, "/api/v1/sessions/refresh", "", map[string]string{
		"refreshToken": refreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = f.request(t, http.MethodPost, "/api/v1/sessions/revoke", "", map[string]string{
		"token": newToken,
	})
	assert.Equal(t, http.StatusNoContent, status)

	// Idempotent
	status, _ = f.request(t, http.MethodPost, "/api/v1/sessions/revoke", "", map[string]string{
		"token": newToken,
	})
	assert.Equal(t, http.StatusNoContent, status)
}

func TestAPI_AdminSessionEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "dev@example.com", "hunter22hunter22", false)
	f.seedUser(t, "ops@example.com", "hunter22hunter22", true)

	devBearer := f.login(t, "dev@example.com", "hunter22hunter22")
	opsBearer := f.login(t, "ops@example.com", "hunter22hunter22")

	status, _ := f.request(t, http.MethodGet, "/api/v1/admin/sessions", devBearer, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := f.request(t, http.MethodGet, "/api/v1/admin/sessions", opsBearer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["total"])

	status, _ = f.request(t, http.MethodPost, "/api/v1/admin/sessions/"+uuid.NewString()+"/rotate", opsBearer, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_BroadcastWithoutBridge(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "ops@example.com", "hunter22hunter22", true)
	bearer := f.login(t, "ops@example.com", "hunter22hunter22")

	status, _ := f.request(t, http.MethodPost, "/api/v1/broadcast/device/D1", bearer, map[string]interface{}{
		"type":    "streamStatusUpdate",
		"payload": map[string]string{"state": "playing"},
	})
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
