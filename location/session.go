// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package location keeps the per-form location state: coordinates plus the
// administrative fields derived from them, each tagged with the source that
// last wrote it.
package location

import (
	"context"
	"log"
	"maps"
	"sync"
	"time"

	"github.com/jcodagnone/locres/address"
	"github.com/jcodagnone/locres/geocoding"
	"github.com/jcodagnone/locres/spatial"
)

// DefaultDebounce is the quiet period before a scheduled geocode runs.
const DefaultDebounce = 500 * time.Millisecond

// Option configures a Session.
type Option func(*Session)

// WithSeed sets initial values. Seeded values carry no source, so any later
// write is accepted over them.
func WithSeed(values map[Field]any) Option {
	return func(s *Session) {
		s.seed = maps.Clone(values)
	}
}

// WithGateway sets the device position gateway used by RequestBrowserLocation.
func WithGateway(g Gateway) Option {
	return func(s *Session) {
		s.gateway = g
	}
}

// WithPositionOptions overrides DefaultPositionOptions.
func WithPositionOptions(opts PositionOptions) Option {
	return func(s *Session) {
		s.positionOpts = opts
	}
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.debounce = d
		}
	}
}

// WithPolicy sets the initial policy.
func WithPolicy(p Policy) Option {
	return func(s *Session) {
		s.initialPolicy = p
	}
}

// WithOnChange registers a listener called with a snapshot after every state
// change. It runs outside the session lock.
func WithOnChange(fn func(State)) Option {
	return func(s *Session) {
		s.onChange = fn
	}
}

// WithClock overrides time.Now for source timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

type pendingGeocode struct {
	point spatial.Point
	timer *time.Timer
}

// Session arbitrates writes to the location fields of a single form.
//
// Every action commits synchronously. Geocoding triggered by map clicks and
// device fixes is debounced; only the last scheduled point is looked up.
// Each lookup gets a generation number and a response whose generation is no
// longer current is discarded.
type Session struct {
	geocoder      geocoding.ReverseGeocoder
	countries     []address.Country
	gateway       Gateway
	positionOpts  PositionOptions
	debounce      time.Duration
	initialPolicy Policy
	seed          map[Field]any
	onChange      func(State)
	now           func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	pending    *pendingGeocode
	generation uint64
	epoch      uint64
	locating   int
	last       *geocoding.Result
	closed     bool
}

// NewSession creates a session. ctx bounds the lifetime of debounced lookups;
// Close cancels them as well.
func NewSession(
	ctx context.Context,
	geocoder geocoding.ReverseGeocoder,
	countries []address.Country,
	opts ...Option,
) (*Session, error) {
	s := &Session{
		geocoder:      geocoder,
		countries:     countries,
		positionOpts:  DefaultPositionOptions(),
		debounce:      DefaultDebounce,
		initialPolicy: DefaultPolicy(),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state = emptyState(s.initialPolicy)

	for f, v := range s.seed {
		nv, err := normalizeValue(f, v)
		if err != nil {
			s.cancel()

			return nil, err
		}

		s.state.Current[f] = nv
	}

	return s, nil
}

func emptyState(p Policy) State {
	return State{
		Current: map[Field]any{},
		Sources: map[Field]Source{},
		Policy:  p,
	}
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.clone()
}

// LastGeocode returns the last geocoding result applied to the session.
func (s *Session) LastGeocode() (geocoding.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == nil {
		return geocoding.Result{}, false
	}

	r := *s.last
	r.Address = maps.Clone(r.Address)

	return r, true
}

// SetFromManualInput records a value typed by the user. It never triggers
// geocoding.
func (s *Session) SetFromManualInput(field Field, value any) error {
	v, err := normalizeValue(field, value)
	if err != nil {
		return err
	}

	s.update(func() {
		s.commit(field, v, NewSource(Manual, s.now()), s.state.Policy.PreserveManualInput)
	})

	return nil
}

// SetFromMapClick records a point picked on the map and schedules a geocode
// for it.
func (s *Session) SetFromMapClick(p spatial.Point) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.update(func() {
		s.commit(FieldCoordinates, p, NewSource(MapClick, s.now()), s.state.Policy.PreserveManualInput)
		s.schedule(p)
	})

	return nil
}

// SetFromBrowserLocation records a device fix. A geocode is scheduled only
// when the policy uses the user location by default.
func (s *Session) SetFromBrowserLocation(p spatial.Point) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.update(func() {
		s.commit(FieldCoordinates, p, NewSource(BrowserLocation, s.now()), s.state.Policy.PreserveManualInput)

		if s.state.Policy.UseUserLocationByDefault {
			s.schedule(p)
		}
	})

	return nil
}

// RequestBrowserLocation asks the gateway for a fix and applies it as a
// device location. On failure the state is left as it was; unlike geocoding
// failures, which are only logged, the *PositionError is returned so the
// caller can tell the user why no position is available.
func (s *Session) RequestBrowserLocation(ctx context.Context) error {
	if s.gateway == nil {
		return &PositionError{Code: PositionUnavailable, Message: "no position gateway configured"}
	}

	var epoch uint64

	s.update(func() {
		epoch = s.epoch
		s.locating++
		s.state.Flags.IsLoadingBrowserLocation = true
	})

	pos, err := s.gateway.CurrentPosition(ctx, s.positionOpts)

	stale := false

	s.update(func() {
		if epoch != s.epoch {
			stale = true

			return
		}

		s.locating--
		s.state.Flags.IsLoadingBrowserLocation = s.locating > 0
	})

	if err != nil {
		log.Printf("Warning: device location failed: %v", err)

		return err
	}

	if stale {
		log.Printf("Discarding device fix %.5f,%.5f obtained before reset", pos.Latitude, pos.Longitude)

		return nil
	}

	return s.SetFromBrowserLocation(spatial.Point{Lat: pos.Latitude, Lng: pos.Longitude})
}

// ForceReGeocode cancels any scheduled lookup and geocodes p right away.
// The derived fields overwrite whatever is stored, manual values included,
// and names missing from the result are cleared. The policy itself is not
// changed and the coordinates field is not written.
func (s *Session) ForceReGeocode(ctx context.Context, p spatial.Point) error {
	if err := p.Validate(); err != nil {
		return err
	}

	var gen uint64

	s.update(func() {
		s.cancelPending()
		s.generation++
		gen = s.generation
		s.state.Flags.IsGeocodingInProgress = true
	})

	res := s.geocoder.ReverseGeocode(ctx, p.Lat, p.Lng)

	s.update(func() {
		s.finishGeocode(gen, res, true)
	})

	return nil
}

// SetPolicy updates the policy fields that are set in u.
func (s *Session) SetPolicy(u PolicyUpdate) {
	s.update(func() {
		if u.UseUserLocationByDefault != nil {
			s.state.Policy.UseUserLocationByDefault = *u.UseUserLocationByDefault
		}

		if u.PreserveManualInput != nil {
			s.state.Policy.PreserveManualInput = *u.PreserveManualInput
		}
	})
}

// Reset drops every value, source and flag, restores the default policy and
// invalidates lookups still in flight.
func (s *Session) Reset() {
	s.update(func() {
		s.cancelPending()
		s.generation++
		s.epoch++
		s.locating = 0
		s.last = nil
		s.state = emptyState(DefaultPolicy())
	})
}

// Close stops pending work. The session must not be used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	s.cancelPending()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
}

// update runs fn under the lock and notifies the listener afterwards.
func (s *Session) update(fn func()) {
	s.mu.Lock()
	fn()
	snapshot := s.state.clone()
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(snapshot)
	}
}

// commit writes v when the arbitrator accepts src. Caller holds the lock.
func (s *Session) commit(field Field, v any, src Source, preserveManual bool) bool {
	var existing *Source
	if cur, ok := s.state.Sources[field]; ok {
		existing = &cur
	}

	if !ShouldAccept(existing, src, preserveManual) {
		return false
	}

	s.state.Current[field] = v
	s.state.Sources[field] = src

	if field == FieldCoordinates {
		s.invalidate()
	}

	return true
}

// invalidate drops the pending lookup and discards the one in flight, if any,
// since their answers no longer describe the current coordinates. Caller
// holds the lock.
func (s *Session) invalidate() {
	s.cancelPending()
	s.generation++
	s.state.Flags.IsGeocodingInProgress = false
}

// schedule replaces any pending or running lookup with one for p. Caller
// holds the lock.
func (s *Session) schedule(p spatial.Point) {
	if s.closed {
		return
	}

	s.invalidate()

	pg := &pendingGeocode{point: p}
	pg.timer = time.AfterFunc(s.debounce, func() { s.fire(s.ctx, pg) })
	s.pending = pg
}

func (s *Session) cancelPending() {
	if s.pending != nil {
		s.pending.timer.Stop()
		s.pending = nil
	}
}

// Flush runs the scheduled geocode, if any, without waiting for the debounce
// delay and returns once it has been applied.
func (s *Session) Flush(ctx context.Context) {
	s.mu.Lock()
	pg := s.pending
	if pg != nil {
		pg.timer.Stop()
	}
	s.mu.Unlock()

	if pg != nil {
		s.fire(ctx, pg)
	}
}

func (s *Session) fire(ctx context.Context, pg *pendingGeocode) {
	var (
		gen     uint64
		current bool
	)

	s.update(func() {
		if s.pending != pg || s.closed {
			return
		}

		current = true
		s.pending = nil
		s.generation++
		gen = s.generation
		s.state.Flags.IsGeocodingInProgress = true
	})

	if !current {
		return
	}

	res := s.geocoder.ReverseGeocode(ctx, pg.point.Lat, pg.point.Lng)

	s.update(func() {
		s.finishGeocode(gen, res, false)
	})
}

// finishGeocode applies res if gen is still current. Every derived field the
// arbitrator accepts is written, or removed when the result has no value for
// it. A forced result skips arbitration. Caller holds the lock.
func (s *Session) finishGeocode(gen uint64, res geocoding.Result, force bool) {
	if gen != s.generation {
		log.Printf("Discarding stale geocoding response from %s for %.5f,%.5f", res.Provider, res.Latitude, res.Longitude)

		return
	}

	s.state.Flags.IsGeocodingInProgress = false
	s.last = &res

	ex := address.Extract(&res, s.countries)
	if ex == nil {
		log.Printf("No known country in geocoding response from %s for %.5f,%.5f",
			res.Provider, res.Latitude, res.Longitude)

		return
	}

	src := NewSource(Geocoding, s.now())

	for field, v := range map[Field]any{
		FieldCountryID:     ex.Country.ID,
		FieldLocalityName:  ex.LocalityName,
		FieldRegionName:    ex.RegionName,
		FieldCommunityName: ex.CommunityName,
	} {
		if !force {
			var existing *Source
			if cur, ok := s.state.Sources[field]; ok {
				existing = &cur
			}

			if !ShouldAccept(existing, src, s.state.Policy.PreserveManualInput) {
				continue
			}
		}

		// an empty name clears what an earlier lookup left for another point
		if v == "" {
			delete(s.state.Current, field)
			delete(s.state.Sources, field)

			continue
		}

		s.state.Current[field] = v
		s.state.Sources[field] = src
	}
}

