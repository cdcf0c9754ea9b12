package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/boltproxy/boltproxy"
	"github.com/boltproxy/boltproxy/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &boltproxy.Config{
		Host:                 "127.0.0.1",
		Port:                 0,
		ClientReadTimeout:    time.Second,
		UpstreamDialTimeout:  time.Second,
		UpstreamReadTimeout:  time.Second,
		TunnelIdleTimeout:    time.Second,
		WorkerJoinTimeout:    time.Second,
		MaxConcurrentWorkers: 8,
	}
	cache := store.NewCache(nil, nil)
	denylist := store.NewDenylist()
	log := store.NewLog(nil, nil)
	return New(cfg, cache, denylist, log, nil)
}

func TestAdminFilterAddViewRemove(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	body, _ := json.Marshal(hostRequest{Host: "blocked.test"})
	req := httptest.NewRequest(http.MethodPost, "/filter/add", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/filter", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var hosts []string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hosts))
	require.Contains(t, hosts, "blocked.test")

	body, _ = json.Marshal(hostRequest{Host: "blocked.test"})
	req = httptest.NewRequest(http.MethodPost, "/filter/remove", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/filter", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	hosts = nil
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hosts))
	require.NotContains(t, hosts, "blocked.test")
}

func TestAdminFilterAddRejectsEmptyHost(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	body, _ := json.Marshal(hostRequest{Host: ""})
	req := httptest.NewRequest(http.MethodPost, "/filter/add", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminStatusBeforeStart(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.False(t, status.Running)
}

func TestAdminStartStop(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/start", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.True(t, status.Running)
	require.NotZero(t, status.Port)

	req = httptest.NewRequest(http.MethodPost, "/stop", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminCacheAndLogsClear(t *testing.T) {
	s := newTestServer(t)
	s.cache.Insert("http://example.test/", []byte("body"))
	s.log.Append("127.0.0.1:0", "http://example.test/", store.ActionFetched)
	router := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/cache/clear", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, s.cache.Size())

	req = httptest.NewRequest(http.MethodPost, "/logs/clear", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, s.log.Size())
}

func TestAdminMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.log.Append("127.0.0.1:0", "http://example.test/", store.ActionFetched)
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
