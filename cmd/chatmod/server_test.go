package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bluesky-social/parley/chatmod/engine"
	"github.com/bluesky-social/parley/chatmod/floodguard"
	"github.com/bluesky-social/parley/chatmod/pattern"
	"github.com/bluesky-social/parley/chatmod/quota"
	"github.com/bluesky-social/parley/chatmod/sentiment"
	"github.com/bluesky-social/parley/chatmod/trigger"
	"github.com/bluesky-social/parley/util/cliutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func testServer(t *testing.T) *Server {
	return testServerWithLogger(t, nil)
}

func testServerWithLogger(t *testing.T, logger *slog.Logger) *Server {
	db, err := cliutil.SetupDatabase("sqlite://"+filepath.Join(t.TempDir(), "chatmod.db"), 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	srv, err := NewServer(db, Config{
		Logger:            logger,
		Bind:              ":0",
		ProfileTTL:        time.Hour,
		RetentionDays:     30,
		RetentionSchedule: "@daily",
		Flood:             floodguard.DefaultConfig(),
		Pattern:           pattern.DefaultConfig(),
		Sentiment:         sentiment.DefaultConfig(),
		Quota:             quota.DefaultConfig(),
		Trigger:           trigger.DefaultConfig(),
		Registerer:        prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return srv
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	rec := doRequest(srv, http.MethodGet, "/_health", "")
	assert.Equal(http.StatusOK, rec.Code)
	assert.Contains(rec.Body.String(), `"status":"ok"`)
}

func TestMessageEndpoint(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	rec := doRequest(srv, http.MethodPost, "/v1/actions/message", `{"user": "alice", "text": "good morning"}`)
	assert.Equal(http.StatusOK, rec.Code)
	var out engine.Outcome
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(out.Decision.Allowed)
	assert.Nil(out.Trigger)

	rec = doRequest(srv, http.MethodPost, "/v1/actions/message", `{"user": "alice", "text": "I hate this terrible system"}`)
	assert.Equal(http.StatusOK, rec.Code)
	out = engine.Outcome{}
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	if assert.NotNil(out.Trigger) && assert.NotNil(out.Response) {
		assert.Equal(trigger.TypeEmotional, out.Response.Type)
		assert.NotEmpty(out.Response.VisualEffects)
	}

	// activation was persisted
	rec = doRequest(srv, http.MethodGet, "/v1/quota/alice", "")
	assert.Equal(http.StatusOK, rec.Code)
	var stats quota.Stats
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(int64(1), stats.Total)
	assert.Greater(stats.CooldownRemaining, 0)

	rec = doRequest(srv, http.MethodPost, "/v1/quota/alice/reset-cooldown", "")
	assert.Equal(http.StatusOK, rec.Code)
	rec = doRequest(srv, http.MethodGet, "/v1/quota/alice", "")
	stats = quota.Stats{}
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(0, stats.CooldownRemaining)

	rec = doRequest(srv, http.MethodPost, "/v1/actions/message", `{"text": "no user"}`)
	assert.Equal(http.StatusBadRequest, rec.Code)
}

func TestCommandAndLifecycleEndpoints(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	for i := 0; i < 5; i++ {
		rec := doRequest(srv, http.MethodPost, "/v1/actions/command", `{"user": "bob", "command": "/who"}`)
		assert.Equal(http.StatusOK, rec.Code)
	}
	rec := doRequest(srv, http.MethodPost, "/v1/actions/command", `{"user": "bob", "command": "/who"}`)
	var out engine.Outcome
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	assert.False(out.Decision.Allowed)
	assert.Equal("rate limit exceeded", out.Decision.Message)

	doRequest(srv, http.MethodPost, "/v1/actions/message", `{"user": "carol", "text": "hi"}`)
	rec = doRequest(srv, http.MethodPost, "/v1/users/cleanup", `{"active": ["carol"]}`)
	assert.Equal(http.StatusOK, rec.Code)
	var cleanup CleanupResponse
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &cleanup))
	assert.Equal(1, cleanup.Removed)
	assert.Equal(1, cleanup.Tracked)

	rec = doRequest(srv, http.MethodPost, "/v1/users/carol/disconnect", "")
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal(0, srv.Engine.TrackedUsers())
}

func TestProfileAndToggleEndpoints(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	rec := doRequest(srv, http.MethodPut, "/v1/profiles/dave", `{"interests": ["sailing"], "frequentRooms": {"harbor": 3}}`)
	assert.Equal(http.StatusOK, rec.Code)
	p, err := srv.Profiles.Get(t.Context(), "dave")
	assert.NoError(err)
	if assert.NotNil(p) {
		assert.Equal("dave", p.UserID)
		assert.Equal([]string{"sailing"}, p.Interests)
	}

	rec = doRequest(srv, http.MethodPut, "/v1/profiles/dave", `{"userId": "erin"}`)
	assert.Equal(http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, http.MethodPut, "/v1/profiles/erin", `{"interests": ["chess"]}`)
	assert.Equal(http.StatusOK, rec.Code)
	rec = doRequest(srv, http.MethodDelete, "/v1/profiles/erin", "")
	assert.Equal(http.StatusOK, rec.Code)
	p, err = srv.Profiles.Get(t.Context(), "erin")
	assert.NoError(err)
	assert.Nil(p)

	rec = doRequest(srv, http.MethodPut, "/v1/quota/enabled", `{}`)
	assert.Equal(http.StatusBadRequest, rec.Code)
	rec = doRequest(srv, http.MethodPut, "/v1/quota/enabled", `{"enabled": false}`)
	assert.Equal(http.StatusOK, rec.Code)
	assert.False(srv.Quota.Enabled())

	// disabled triggers never fire
	rec = doRequest(srv, http.MethodPost, "/v1/actions/message", `{"user": "dave", "text": "I hate this terrible system"}`)
	var out engine.Outcome
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(out.Decision.Allowed)
	assert.Nil(out.Trigger)
}

func TestToggleLoggedOnce(t *testing.T) {
	assert := assert.New(t)
	var buf bytes.Buffer
	logger, err := cliutil.NewLogger(&buf, "json", slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	srv := testServerWithLogger(t, logger)

	rec := doRequest(srv, http.MethodPut, "/v1/quota/enabled", `{"enabled": false}`)
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal(1, strings.Count(buf.String(), "trigger activations toggled"))

	// no change, nothing logged
	rec = doRequest(srv, http.MethodPut, "/v1/quota/enabled", `{"enabled": false}`)
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal(1, strings.Count(buf.String(), "trigger activations toggled"))
}

func TestNewServerValidation(t *testing.T) {
	assert := assert.New(t)

	db, err := cliutil.SetupDatabase("sqlite://"+filepath.Join(t.TempDir(), "chatmod.db"), 1, nil)
	assert.NoError(err)

	_, err = NewServer(db, Config{RetentionDays: 0})
	assert.Error(err)

	flood := floodguard.DefaultConfig()
	flood.MessageLimit = 0
	_, err = NewServer(db, Config{
		RetentionDays: 30,
		ProfileTTL:    time.Hour,
		Flood:         flood,
		Pattern:       pattern.DefaultConfig(),
		Sentiment:     sentiment.DefaultConfig(),
		Quota:         quota.DefaultConfig(),
		Trigger:       trigger.DefaultConfig(),
		Registerer:    prometheus.NewRegistry(),
	})
	assert.Error(err)
}
