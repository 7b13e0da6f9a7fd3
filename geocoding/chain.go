// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/jcodagnone/locres/spatial"
)

const (
	// DefaultPause is the wait between a failed provider and the next one.
	DefaultPause = 500 * time.Millisecond

	// DefaultPlaceholderCountry and DefaultPlaceholderRegion label the
	// synthetic result built when every provider failed.
	DefaultPlaceholderCountry = "Unknown"
	DefaultPlaceholderRegion  = "Unknown region"

	maxBodySize = 1 << 20
)

// Chain performs reverse geocoding against an ordered list of providers,
// returning the first usable answer.
type Chain struct {
	providers          []Provider
	client             *http.Client
	pause              time.Duration
	placeholderCountry string
	placeholderRegion  string
}

// ChainOption customizes a Chain.
type ChainOption func(*Chain)

// WithHTTPClient sets the client used for every provider request.
func WithHTTPClient(client *http.Client) ChainOption {
	return func(c *Chain) {
		c.client = client
	}
}

// WithPause sets the wait between a failed provider and the next one.
func WithPause(d time.Duration) ChainOption {
	return func(c *Chain) {
		c.pause = d
	}
}

// WithPlaceholder sets the labels of the synthetic fallback result.
func WithPlaceholder(country, region string) ChainOption {
	return func(c *Chain) {
		if country != "" {
			c.placeholderCountry = country
		}

		if region != "" {
			c.placeholderRegion = region
		}
	}
}

// NewChain creates a chain over providers, tried in the given order.
func NewChain(providers []Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		providers:          providers,
		client:             http.DefaultClient,
		pause:              DefaultPause,
		placeholderCountry: DefaultPlaceholderCountry,
		placeholderRegion:  DefaultPlaceholderRegion,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Providers returns the provider names in chain order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name
	}

	return names
}

// ReverseGeocode returns the first non-empty normalized result. It never
// fails: when every provider is exhausted a synthetic placeholder holding
// the input coordinates is returned.
func (c *Chain) ReverseGeocode(ctx context.Context, lat, lng float64) Result {
	for i, p := range c.providers {
		if i > 0 && !sleep(ctx, c.pause) {
			log.Printf("reverse geocoding (%f, %f) abandoned: %v", lat, lng, ctx.Err())

			break
		}

		res, err := c.query(ctx, p, lat, lng)
		if err != nil {
			logProviderError(lat, lng, err)

			continue
		}

		res.Provider = p.Name
		res.Latitude = lat
		res.Longitude = lng

		return *res
	}

	log.Printf("reverse geocoding (%f, %f): all %d providers failed, using placeholder", lat, lng, len(c.providers))

	return c.placeholder(lat, lng)
}

func logProviderError(lat, lng float64, err error) {
	switch {
	case IsRateLimitError(err):
		log.Printf("⚠️ reverse geocoding (%f, %f) throttled: %v", lat, lng, err)
	case IsQuotaExceededError(err):
		log.Printf("⚠️ reverse geocoding (%f, %f) quota exhausted or key rejected: %v", lat, lng, err)
	case IsTimeoutError(err):
		log.Printf("reverse geocoding (%f, %f) timed out: %v", lat, lng, err)
	default:
		log.Printf("reverse geocoding (%f, %f): %v", lat, lng, err)
	}
}

func (c *Chain) query(ctx context.Context, p Provider, lat, lng float64) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BuildURL(lat, lng), nil)
	if err != nil {
		return nil, &GeocodingError{Type: ErrorTypeInvalidRequest, Provider: p.Name, Message: "building request", Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(p.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, classifyTransportError(p.Name, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		geoErr := ClassifyHTTPError(resp.StatusCode, string(body))
		geoErr.Provider = p.Name

		return nil, geoErr
	}

	res, err := p.Parse(body)
	if err != nil {
		var geoErr *GeocodingError
		if errors.As(err, &geoErr) {
			geoErr.Provider = p.Name

			return nil, geoErr
		}

		return nil, &GeocodingError{Type: ErrorTypeBadResponse, Provider: p.Name, Message: "parsing response", Err: err}
	}

	if res.IsEmpty() {
		return nil, &GeocodingError{Type: ErrorTypeNotFound, Provider: p.Name, Message: "empty result"}
	}

	return res, nil
}

func (c *Chain) placeholder(lat, lng float64) Result {
	rounded := spatial.Point{Lat: lat, Lng: lng}.Round(4)

	return Result{
		Address: map[string]string{
			KeyCountry: c.placeholderCountry,
			KeyState:   c.placeholderRegion,
		},
		DisplayName: fmt.Sprintf("%.4f, %.4f, %s", rounded.Lat, rounded.Lng, c.placeholderCountry),
		Provider:    "placeholder",
		Latitude:    lat,
		Longitude:   lng,
		Synthetic:   true,
	}
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
