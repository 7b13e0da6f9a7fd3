// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeGeocoder struct {
	calls  int
	result Result
}

func (f *fakeGeocoder) ReverseGeocode(_ context.Context, lat, lng float64) Result {
	f.calls++

	r := f.result
	r.Latitude, r.Longitude = lat, lng

	return r
}

func TestCacheHitsSameCell(t *testing.T) {
	next := &fakeGeocoder{result: Result{Address: map[string]string{KeyCity: "Київ"}, Provider: "fake"}}
	cache := NewCache(next, CacheOptions{Resolution: 9})

	first := cache.ReverseGeocode(context.Background(), 50.45010, 30.52340)
	second := cache.ReverseGeocode(context.Background(), 50.45011, 30.52341)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, "Київ", second.Get(KeyCity))
	assert.InDelta(t, 50.45011, second.Latitude, 1e-9, "cached result carries the queried coordinates")
	assert.Equal(t, first.Provider, second.Provider)

	hits, misses := cache.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestCacheSkipsSynthetic(t *testing.T) {
	next := &fakeGeocoder{result: Result{Address: map[string]string{KeyCountry: "Unknown"}, Synthetic: true}}
	cache := NewCache(next, CacheOptions{})

	cache.ReverseGeocode(context.Background(), 50.45, 30.52)
	cache.ReverseGeocode(context.Background(), 50.45, 30.52)

	assert.Equal(t, 2, next.calls)
}

func TestCacheExpiresAndEvicts(t *testing.T) {
	next := &fakeGeocoder{result: Result{Address: map[string]string{KeyCity: "Київ"}}}
	cache := NewCache(next, CacheOptions{Resolution: 9, Size: 1, TTL: time.Minute})

	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.ReverseGeocode(context.Background(), 50.45, 30.52)

	now = now.Add(2 * time.Minute)
	cache.ReverseGeocode(context.Background(), 50.45, 30.52)
	assert.Equal(t, 2, next.calls, "expired entry is refreshed")

	// a second cell evicts the first
	cache.ReverseGeocode(context.Background(), 49.84, 24.03)
	cache.ReverseGeocode(context.Background(), 50.45, 30.52)
	assert.Equal(t, 4, next.calls)
}

func TestCacheReturnsIndependentCopies(t *testing.T) {
	next := &fakeGeocoder{result: Result{Address: map[string]string{KeyCity: "Київ"}}}
	cache := NewCache(next, CacheOptions{})

	cache.ReverseGeocode(context.Background(), 50.45, 30.52)

	hit := cache.ReverseGeocode(context.Background(), 50.45, 30.52)
	hit.Address[KeyCity] = "mutated"

	again := cache.ReverseGeocode(context.Background(), 50.45, 30.52)
	assert.Equal(t, "Київ", again.Get(KeyCity))
}
