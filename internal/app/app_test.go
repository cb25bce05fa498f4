package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminsync/internal/config"
	"terminsync/internal/logging"
	"terminsync/internal/response"
)

func memoryConfig() *config.Config {
	return &config.Config{
		HTTPAddr: "127.0.0.1:0",
		Store:    config.Store{Driver: config.DriverMemory, SharedCollection: "shared"},
		JWT: config.JWT{
			AccessSecret:  "a",
			RefreshSecret: "r",
			AccessTTL:     time.Minute,
			RefreshTTL:    time.Hour,
		},
		Sync:      config.Sync{Enabled: true, Interval: time.Hour},
		Workspace: config.Workspace{CacheSize: 8, CacheTTL: time.Minute},
	}
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestMemoryServiceEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), logging.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	assert.True(t, a.Scheduler.Running())
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		assert.NoError(t, a.Close(stopCtx))
		assert.False(t, a.Scheduler.Running())
	}()

	r := a.Router()

	w := call(t, r, http.MethodPost, "/auth/register", "", map[string]string{"name": "Anna", "email": "anna@example.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = call(t, r, http.MethodPost, "/auth/login", "", map[string]string{"email": "anna@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	var tokens response.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokens))

	w = call(t, r, http.MethodGet, "/api/appointments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	start := time.Now().Add(24 * time.Hour).UTC()
	w = call(t, r, http.MethodPost, "/api/appointments", tokens.AccessToken, map[string]any{
		"title": "Team Sync", "start": start, "partner_relevant": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = call(t, r, http.MethodGet, "/api/sync/status", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap struct {
		Enabled       bool `json:"enabled"`
		Running       bool `json:"running"`
		RelevantCount int  `json:"relevant_count"`
		SyncedCount   int  `json:"synced_count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.True(t, snap.Enabled)
	assert.True(t, snap.Running)
	assert.Equal(t, 1, snap.RelevantCount)
	assert.Equal(t, 1, snap.SyncedCount)

	reports := a.Scheduler.RunOnce(ctx)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Processed)
	assert.Zero(t, reports[0].Created)
}

func TestNewRejectsUnreachableRedis(t *testing.T) {
	cfg := memoryConfig()
	cfg.Redis.Addr = "127.0.0.1:1"
	_, err := New(context.Background(), cfg, logging.Nop())
	assert.Error(t, err)
}
