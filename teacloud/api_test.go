package teacloud

import (
	"encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestAPI(t testing.TB, cfg *Config) *TeaCloud {
	t.Helper()
	if cfg == nil {
		cfg = newTestConfig(t)
	}
	cfg.API.Enabled = true
	tc, _ := newTestTeaCloud(t, cfg)
	require.NotNil(t, tc.api)
	return tc
}

func TestAPI_HealthCheck(t *testing.T) {
	tc := newTestAPI(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiHealthCheck, nil)
	tc.api.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Len(t, w.Header().Get(xRequestIDHeader), 32)
}

func TestAPI_Status(t *testing.T) {
	tc := newTestAPI(t, nil)
	tc.discord.setSelfUserID(testBotUserID)
	tc.stats.start()
	tc.stats.failure(ErrCollection, tc.startedAt)

	w := httptest.NewRecorder()
	tc.api.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, apiHealthCheck, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	tc.api.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, apiPrefix+apiPathStatus, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, Version, status.Version)
	assert.Equal(t, testBotUserID, status.Discord.SelfUserID)
	assert.True(t, status.Discord.GatewayEnabled)
	assert.False(t, status.Schedule.Enabled)
	assert.Nil(t, status.Schedule.NextRun)

	assert.Equal(t, int64(1), status.Clouds.Started)
	assert.Equal(t, int64(1), status.Clouds.Failed)
	assert.Equal(t, ErrCollection.Error(), status.Clouds.LastError)

	assert.Equal(t, 1, status.Requests["GET /healthz"])
	assert.Equal(t, 1, status.Requests["GET /api/status"])
}

func TestAPI_NotFound(t *testing.T) {
	tc := newTestAPI(t, nil)
	w := httptest.NewRecorder()
	tc.api.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_CORS(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.API.CORS.AllowOrigins = []string{"https://tea.example"}
	tc := newTestAPI(t, cfg)

	tests := []struct {
		name        string
		origin      string
		status      int
		allowOrigin string
	}{
		{name: "allowed", origin: "https://tea.example", status: http.StatusOK, allowOrigin: "https://tea.example"},
		{name: "not allowed", origin: "https://coffee.example", status: http.StatusForbidden},
		{name: "no origin", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				req := httptest.NewRequest(http.MethodGet, apiHealthCheck, nil)
				if tt.origin != "" {
					req.Header.Set("Origin", tt.origin)
				}
				w := httptest.NewRecorder()
				tc.api.engine.ServeHTTP(w, req)
				assert.Equal(t, tt.status, w.Code)
				assert.Equal(t, tt.allowOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			},
		)
	}
}
