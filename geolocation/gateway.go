// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package geolocation provides device position gateways for hosts without a
// browser: an IP based lookup and a fixed position.
package geolocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jcodagnone/locres/geocoding"
	"github.com/jcodagnone/locres/location"
	"github.com/jcodagnone/locres/spatial"
)

// DefaultIPAPIURL is the ip-api.com endpoint. The free tier is HTTP only.
const DefaultIPAPIURL = "http://ip-api.com/json/?fields=status,message,lat,lon,query"

// ipAccuracy is the nominal accuracy reported for IP based fixes, in meters.
const ipAccuracy = 5000

// IPGateway resolves the host position from its public IP address.
type IPGateway struct {
	URL    string
	Client *http.Client

	now func() time.Time

	mu   sync.Mutex
	last *location.Position
}

// NewIPGateway creates a gateway querying url with client. Empty values
// select DefaultIPAPIURL and http.DefaultClient.
func NewIPGateway(url string, client *http.Client) *IPGateway {
	if url == "" {
		url = DefaultIPAPIURL
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &IPGateway{URL: url, Client: client, now: time.Now}
}

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Query   string  `json:"query"`
}

// CurrentPosition implements location.Gateway. A previous fix younger than
// opts.MaximumAge is returned without a request.
func (g *IPGateway) CurrentPosition(ctx context.Context, opts location.PositionOptions) (location.Position, error) {
	if pos, ok := g.cached(opts.MaximumAge); ok {
		return pos, nil
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL, nil)
	if err != nil {
		return location.Position{}, &location.PositionError{Code: location.PositionUnavailable, Err: err}
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return location.Position{}, &location.PositionError{Code: location.Timeout, Err: err}
		}

		return location.Position{}, &location.PositionError{Code: location.PositionUnavailable, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return location.Position{}, &location.PositionError{Code: location.PositionUnavailable, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return location.Position{}, &location.PositionError{
			Code: location.PositionUnavailable,
			Err:  geocoding.ClassifyHTTPError(resp.StatusCode, string(body)),
		}
	}

	var r ipAPIResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return location.Position{}, &location.PositionError{Code: location.PositionUnavailable, Message: "bad response", Err: err}
	}

	if r.Status != "success" {
		return location.Position{}, &location.PositionError{
			Code:    location.PositionUnavailable,
			Message: fmt.Sprintf("lookup of %q failed: %s", r.Query, r.Message),
		}
	}

	p := spatial.Point{Lat: r.Lat, Lng: r.Lon}
	if err := p.Validate(); err != nil {
		return location.Position{}, &location.PositionError{Code: location.PositionUnavailable, Err: err}
	}

	pos := location.Position{Latitude: r.Lat, Longitude: r.Lon, Accuracy: ipAccuracy, Timestamp: g.now()}

	g.mu.Lock()
	g.last = &pos
	g.mu.Unlock()

	return pos, nil
}

func (g *IPGateway) cached(maxAge time.Duration) (location.Position, bool) {
	if maxAge <= 0 {
		return location.Position{}, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.last == nil || g.now().Sub(g.last.Timestamp) > maxAge {
		return location.Position{}, false
	}

	return *g.last, true
}

// StaticGateway always answers with the same position, or with Err when set.
type StaticGateway struct {
	Position location.Position
	Err      error
}

// NewStaticGateway returns a gateway fixed at p.
func NewStaticGateway(p spatial.Point) *StaticGateway {
	return &StaticGateway{Position: location.Position{Latitude: p.Lat, Longitude: p.Lng}}
}

// CurrentPosition implements location.Gateway.
func (g *StaticGateway) CurrentPosition(ctx context.Context, _ location.PositionOptions) (location.Position, error) {
	if err := ctx.Err(); err != nil {
		return location.Position{}, &location.PositionError{Code: location.Timeout, Err: err}
	}

	if g.Err != nil {
		return location.Position{}, g.Err
	}

	pos := g.Position
	if pos.Timestamp.IsZero() {
		pos.Timestamp = time.Now()
	}

	return pos, nil
}
