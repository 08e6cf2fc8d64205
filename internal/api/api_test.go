package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewayd/gatewayd/internal/forwarding"
	"github.com/gatewayd/gatewayd/internal/snapshot"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthzAlwaysOK(t *testing.T) {
	s := New(snapshot.NewStore(), silentLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyzBeforeAndAfterMarkReady(t *testing.T) {
	s := New(snapshot.NewStore(), silentLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	s.MarkReady()

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConfigReturnsCurrentSnapshot(t *testing.T) {
	store := snapshot.NewStore()
	store.Publish(snapshot.New(
		[]forwarding.Route{{RouteID: "route-weather", ClusterID: "cluster-weather", PathMatch: "/weather/{**catch-all}"}},
		[]forwarding.Cluster{{ClusterID: "cluster-weather"}},
	))
	s := New(store, silentLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		Routes   []forwarding.Route   `json:"routes"`
		Clusters []forwarding.Cluster `json:"clusters"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Routes, 1)
	assert.Equal(t, "route-weather", body.Routes[0].RouteID)
	require.Len(t, body.Clusters, 1)
	assert.Equal(t, "cluster-weather", body.Clusters[0].ClusterID)
}
