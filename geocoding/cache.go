// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"log"
	"maps"
	"sync"
	"time"

	"github.com/jcodagnone/locres/spatial"
	"github.com/uber/h3-go/v4"
)

// CacheOptions configures a Cache.
type CacheOptions struct {
	// Resolution of the H3 cell used as key. 10 is ~66m edge.
	Resolution int `yaml:"resolution" json:"resolution"`
	// Size is the maximum number of cells kept; the oldest entry is evicted first.
	Size int `yaml:"size" json:"size"`
	// TTL after which an entry is refreshed.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultCacheOptions returns the options used by the CLI and the server.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{Resolution: 10, Size: 4096, TTL: 24 * time.Hour}
}

type cacheEntry struct {
	result   Result
	storedAt time.Time
}

// Cache memoizes reverse geocoding results per H3 cell. Synthetic results are
// never stored, so an outage does not outlive itself.
type Cache struct {
	next ReverseGeocoder
	opts CacheOptions
	now  func() time.Time

	mu      sync.Mutex
	entries map[h3.Cell]cacheEntry
	order   []h3.Cell

	hits, misses int
}

// NewCache wraps next with a cell keyed cache.
func NewCache(next ReverseGeocoder, opts CacheOptions) *Cache {
	def := DefaultCacheOptions()
	if opts.Resolution <= 0 || opts.Resolution > 15 {
		opts.Resolution = def.Resolution
	}

	if opts.Size <= 0 {
		opts.Size = def.Size
	}

	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}

	return &Cache{
		next:    next,
		opts:    opts,
		now:     time.Now,
		entries: make(map[h3.Cell]cacheEntry),
	}
}

// ReverseGeocode implements ReverseGeocoder.
func (c *Cache) ReverseGeocode(ctx context.Context, lat, lng float64) Result {
	cell, err := spatial.Point{Lat: lat, Lng: lng}.Cell(c.opts.Resolution)
	if err != nil {
		log.Printf("geocoding cache bypassed: %v", err)

		return c.next.ReverseGeocode(ctx, lat, lng)
	}

	if res, ok := c.lookup(cell); ok {
		res.Latitude = lat
		res.Longitude = lng

		return res
	}

	res := c.next.ReverseGeocode(ctx, lat, lng)
	if !res.Synthetic {
		c.store(cell, res)
	}

	return res
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hits, c.misses
}

func (c *Cache) lookup(cell h3.Cell) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cell]
	if !ok || c.now().Sub(e.storedAt) > c.opts.TTL {
		c.misses++

		return Result{}, false
	}

	c.hits++

	res := e.result
	res.Address = maps.Clone(e.result.Address)

	return res, true
}

func (c *Cache) store(cell h3.Cell, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[cell]; !ok {
		c.order = append(c.order, cell)
	}

	c.entries[cell] = cacheEntry{result: res, storedAt: c.now()}

	for len(c.order) > c.opts.Size {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}
