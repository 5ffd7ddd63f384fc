package weather

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceFetch(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rainfall", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("appid"))
		_ = json.NewEncoder(w).Encode(rainResponse{RainMM: 4, ObservedAt: now})
	}))
	defer srv.Close()

	s := NewHTTPSource("forecast", srv.URL, "secret", time.Second)
	r, err := s.Fetch(context.Background(), testLoc)
	require.NoError(t, err)
	assert.Equal(t, "forecast", r.Source)
	assert.Equal(t, int64(4), r.RainMM)
	assert.True(t, r.ObservedAt.Equal(now))
}

func TestHTTPSourceRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "flap", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(rainResponse{RainMM: 2, ObservedAt: time.Now()})
	}))
	defer srv.Close()

	s := NewHTTPSource("forecast", srv.URL, "", time.Second)
	r, err := s.Fetch(context.Background(), testLoc)
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.RainMM)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPSourcePersistentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewHTTPSource("forecast", srv.URL, "", time.Second)
	_, err := s.Fetch(context.Background(), testLoc)
	assert.Error(t, err)
	// Initial attempt plus two retries, then the failure surfaces.
	assert.Equal(t, int32(3), calls.Load())
}
