// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package geolocation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcodagnone/locres/geocoding"
	"github.com/jcodagnone/locres/location"
	"github.com/jcodagnone/locres/spatial"
)

func ipServer(t *testing.T, status int, body string, delay time.Duration) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv, &hits
}

func TestIPGatewaySuccess(t *testing.T) {
	srv, hits := ipServer(t, http.StatusOK,
		`{"status":"success","lat":49.8397,"lon":24.0297,"query":"203.0.113.9"}`, 0)
	g := NewIPGateway(srv.URL, srv.Client())

	pos, err := g.CurrentPosition(context.Background(), location.PositionOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.InDelta(t, 49.8397, pos.Latitude, 1e-9)
	assert.InDelta(t, 24.0297, pos.Longitude, 1e-9)
	assert.InDelta(t, ipAccuracy, pos.Accuracy, 0)
	assert.False(t, pos.Timestamp.IsZero())

	_, err = g.CurrentPosition(context.Background(), location.PositionOptions{MaximumAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "a fresh fix is reused")

	_, err = g.CurrentPosition(context.Background(), location.PositionOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "zero MaximumAge always queries")
}

func TestIPGatewayCacheExpires(t *testing.T) {
	srv, hits := ipServer(t, http.StatusOK, `{"status":"success","lat":1,"lon":2}`, 0)
	g := NewIPGateway(srv.URL, srv.Client())

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	opts := location.PositionOptions{MaximumAge: time.Minute}

	_, err := g.CurrentPosition(context.Background(), opts)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = g.CurrentPosition(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestIPGatewayFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		delay    time.Duration
		wantCode location.PositionErrorCode
	}{
		{"lookup failed", http.StatusOK, `{"status":"fail","message":"private range","query":"10.0.0.1"}`, 0, location.PositionUnavailable},
		{"garbage", http.StatusOK, `<html>`, 0, location.PositionUnavailable},
		{"out of range", http.StatusOK, `{"status":"success","lat":123,"lon":0}`, 0, location.PositionUnavailable},
		{"rate limited", http.StatusTooManyRequests, ``, 0, location.PositionUnavailable},
		{"slow", http.StatusOK, `{"status":"success","lat":1,"lon":2}`, time.Second, location.Timeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := ipServer(t, tt.status, tt.body, tt.delay)
			g := NewIPGateway(srv.URL, srv.Client())

			_, err := g.CurrentPosition(context.Background(), location.PositionOptions{Timeout: 50 * time.Millisecond})

			var perr *location.PositionError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantCode, perr.Code)
		})
	}
}

func TestIPGatewayRateLimitIsClassified(t *testing.T) {
	srv, _ := ipServer(t, http.StatusTooManyRequests, ``, 0)
	g := NewIPGateway(srv.URL, srv.Client())

	_, err := g.CurrentPosition(context.Background(), location.PositionOptions{})
	assert.True(t, geocoding.IsRateLimitError(err))
}

func TestStaticGateway(t *testing.T) {
	g := NewStaticGateway(spatial.Point{Lat: 50.45, Lng: 30.52})

	pos, err := g.CurrentPosition(context.Background(), location.DefaultPositionOptions())
	require.NoError(t, err)
	assert.InDelta(t, 50.45, pos.Latitude, 0)
	assert.InDelta(t, 30.52, pos.Longitude, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = g.CurrentPosition(ctx, location.PositionOptions{})

	var perr *location.PositionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, location.Timeout, perr.Code)

	g.Err = &location.PositionError{Code: location.PermissionDenied}
	_, err = g.CurrentPosition(context.Background(), location.PositionOptions{})
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, location.PermissionDenied, perr.Code)
}
