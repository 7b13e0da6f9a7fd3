// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"context"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcodagnone/locres/address"
	"github.com/jcodagnone/locres/geocoding"
	"github.com/jcodagnone/locres/spatial"
)

const (
	testDebounce = 20 * time.Millisecond
	waitFor      = 2 * time.Second
	tick         = 5 * time.Millisecond
)

var (
	boryspil = spatial.Point{Lat: 50.3527, Lng: 30.9551}
	lviv     = spatial.Point{Lat: 49.8397, Lng: 24.0297}
	krakow   = spatial.Point{Lat: 50.0647, Lng: 19.9450}
)

var addresses = map[spatial.Point]map[string]string{
	boryspil: {
		geocoding.KeyCity:        "Бориспіль",
		geocoding.KeyDistrict:    "Бориспільський район",
		geocoding.KeyState:       "Київська область",
		geocoding.KeyCountry:     "Україна",
		geocoding.KeyCountryCode: "UA",
	},
	lviv: {
		geocoding.KeyCity:        "Львів",
		geocoding.KeyDistrict:    "Львівський район",
		geocoding.KeyState:       "Львівська область",
		geocoding.KeyCountry:     "Україна",
		geocoding.KeyCountryCode: "UA",
	},
	krakow: {
		geocoding.KeyCity:        "Kraków",
		geocoding.KeyState:       "województwo małopolskie",
		geocoding.KeyCountryCode: "pl",
	},
}

// fakeGeocoder answers from the addresses table. Calls listed in hold block
// until their channel is closed.
type fakeGeocoder struct {
	mu       sync.Mutex
	calls    []spatial.Point
	returned int
	hold     map[int]chan struct{}
}

func (f *fakeGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) geocoding.Result {
	p := spatial.Point{Lat: lat, Lng: lng}

	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, p)
	gate := f.hold[n]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	defer func() {
		f.mu.Lock()
		f.returned++
		f.mu.Unlock()
	}()

	return geocoding.Result{
		Address:   maps.Clone(addresses[p]),
		Provider:  "fake",
		Latitude:  lat,
		Longitude: lng,
	}
}

func (f *fakeGeocoder) Calls() []spatial.Point {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]spatial.Point(nil), f.calls...)
}

func (f *fakeGeocoder) Returned() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.returned
}

type fakeGateway struct {
	pos  Position
	err  error
	wait chan struct{}
}

func (g *fakeGateway) CurrentPosition(ctx context.Context, _ PositionOptions) (Position, error) {
	if g.wait != nil {
		select {
		case <-g.wait:
		case <-ctx.Done():
			return Position{}, &PositionError{Code: Timeout, Err: ctx.Err()}
		}
	}

	return g.pos, g.err
}

func newTestSession(t *testing.T, geo *fakeGeocoder, opts ...Option) *Session {
	t.Helper()

	opts = append([]Option{WithDebounce(testDebounce)}, opts...)
	s, err := NewSession(context.Background(), geo, address.DefaultCountries(), opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return s
}

func waitIdle(t *testing.T, s *Session) {
	t.Helper()

	require.Eventually(t, func() bool {
		st := s.State()

		return !st.Flags.IsGeocodingInProgress && !st.Flags.IsLoadingBrowserLocation
	}, waitFor, tick)
}

func TestManualInputNeverGeocodes(t *testing.T) {
	geo := &fakeGeocoder{}
	s := newTestSession(t, geo)

	require.NoError(t, s.SetFromManualInput(FieldCoordinates, lviv))
	require.NoError(t, s.SetFromManualInput(FieldLocalityName, "Львів"))

	time.Sleep(5 * testDebounce)
	assert.Empty(t, geo.Calls())

	st := s.State()
	p, ok := st.Coordinates()
	require.True(t, ok)
	assert.Equal(t, lviv, p)
	assert.Equal(t, Manual, st.Sources[FieldCoordinates].Kind)
	assert.True(t, st.HasManualInput())
}

func TestMapClickGeocodes(t *testing.T) {
	geo := &fakeGeocoder{}
	s := newTestSession(t, geo)

	require.NoError(t, s.SetFromMapClick(boryspil))

	st := s.State()
	assert.Equal(t, MapClick, st.Sources[FieldCoordinates].Kind)

	require.Eventually(t, func() bool { return len(geo.Calls()) == 1 }, waitFor, tick)
	waitIdle(t, s)

	st = s.State()
	assert.Equal(t, map[Field]any{
		FieldCoordinates:   boryspil,
		FieldCountryID:     1,
		FieldLocalityName:  "Бориспіль",
		FieldRegionName:    "Київська область",
		FieldCommunityName: "Бориспільський район",
	}, st.Current)

	for _, f := range []Field{FieldCountryID, FieldLocalityName, FieldRegionName, FieldCommunityName} {
		assert.Equal(t, Geocoding, st.Sources[f].Kind, f)
	}

	last, ok := s.LastGeocode()
	require.True(t, ok)
	assert.Equal(t, "fake", last.Provider)
}

func TestDebounceKeepsLastPoint(t *testing.T) {
	geo := &fakeGeocoder{}
	s := newTestSession(t, geo, WithDebounce(80*time.Millisecond))

	require.NoError(t, s.SetFromMapClick(boryspil))
	require.NoError(t, s.SetFromMapClick(krakow))
	require.NoError(t, s.SetFromMapClick(lviv))

	require.Eventually(t, func() bool { return len(geo.Calls()) == 1 }, waitFor, tick)
	waitIdle(t, s)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []spatial.Point{lviv}, geo.Calls())

	locality, _ := s.State().Text(FieldLocalityName)
	assert.Equal(t, "Львів", locality)
}

func TestBrowserLocationRespectsPolicy(t *testing.T) {
	geo := &fakeGeocoder{}
	s := newTestSession(t, geo, WithPolicy(Policy{UseUserLocationByDefault: false, PreserveManualInput: true}))

	require.NoError(t, s.SetFromBrowserLocation(lviv))
	time.Sleep(5 * testDebounce)
	assert.Empty(t, geo.Calls())
	assert.Equal(t, BrowserLocation, s.State().Sources[FieldCoordinates].Kind)

	on := true
	s.SetPolicy(PolicyUpdate{UseUserLocationByDefault: &on})
	require.NoError(t, s.SetFromBrowserLocation(boryspil))
	require.Eventually(t, func() bool { return len(geo.Calls()) == 1 }, waitFor, tick)
}

func TestBrowserLocationDoesNotOverrideMapClick(t *testing.T) {
	geo := &fakeGeocoder{}
	s := newTestSession(t, geo)

	require.NoError(t, s.SetFromMapClick(lviv))
	require.NoError(t, s.SetFromBrowserLocation(boryspil))

	p, _ := s.State().Coordinates()
	assert.Equal(t, lviv, p)
}

func TestManualThenBrowserThenGeocode(t *testing.T) {
	geo := &fakeGeocoder{}
	gw := &fakeGateway{pos: Position{Latitude: boryspil.Lat, Longitude: boryspil.Lng}}
	s := newTestSession(t, geo, WithGateway(gw))

	require.NoError(t, s.SetFromManualInput(FieldLocalityName, "Гора"))
	require.NoError(t, s.RequestBrowserLocation(context.Background()))

	st := s.State()
	assert.Equal(t, BrowserLocation, st.Sources[FieldCoordinates].Kind)
	assert.False(t, st.Flags.IsLoadingBrowserLocation)

	require.Eventually(t, func() bool { return len(geo.Calls()) == 1 }, waitFor, tick)
	waitIdle(t, s)

	st = s.State()
	assert.Equal(t, "Гора", st.Current[FieldLocalityName])
	assert.Equal(t, Manual, st.Sources[FieldLocalityName].Kind)
	assert.Equal(t, 1, st.Current[FieldCountryID])
	assert.Equal(t, Geocoding, st.Sources[FieldCountryID].Kind)
	assert.Equal(t, "Київська область", st.Current[FieldRegionName])
}

func TestRequestBrowserLocationFailure(t *testing.T) {
	geo := &fakeGeocoder{}
	gw := &fakeGateway{err: &PositionError{Code: PermissionDenied, Message: "user denied"}}
	s := newTestSession(t, geo, WithGateway(gw))

	require.NoError(t, s.SetFromMapClick(krakow))
	require.Eventually(t, func() bool { return len(geo.Calls()) == 1 }, waitFor, tick)
	waitIdle(t, s)

	before := s.State()

	err := s.RequestBrowserLocation(context.Background())

	var perr *PositionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, PermissionDenied, perr.Code)
	assert.Equal(t, before, s.State())
}

func TestRequestBrowserLocationWithoutGateway(t *testing.T) {
	s := newTestSession(t, &fakeGeocoder{})

	var perr *PositionError
	require.ErrorAs(t, s.RequestBrowserLocation(context.Background()), &perr)
	assert.Equal(t, PositionUnavailable, perr.Code)
}

func TestRequestBrowserLocationSetsLoadingFlag(t *testing.T) {
	gw := &fakeGateway{pos: Position{Latitude: lviv.Lat, Longitude: lviv.Lng}, wait: make(chan struct{})}
	s := newTestSession(t, &fakeGeocoder{}, WithGateway(gw))

	done := make(chan error, 1)

	go func() { done <- s.RequestBrowserLocation(context.Background()) }()

	require.Eventually(t, func() bool { return s.State().Flags.IsLoadingBrowserLocation }, waitFor, tick)
	close(gw.wait)
	require.NoError(t, <-done)
	assert.False(t, s.State().Flags.IsLoadingBrowserLocation)
}

func TestForceReGeocodeOverridesManual(t *testing.T) {
	geo := &fakeGeocoder{}
	s := newTestSession(t, geo)

	require.NoError(t, s.SetFromManualInput(FieldLocalityName, "Старе місто"))
	require.NoError(t, s.SetFromManualInput(FieldCoordinates, lviv))
	require.NoError(t, s.ForceReGeocode(context.Background(), lviv))

	st := s.State()
	assert.Equal(t, "Львів", st.Current[FieldLocalityName])
	assert.Equal(t, Geocoding, st.Sources[FieldLocalityName].Kind)
	assert.Equal(t, Manual, st.Sources[FieldCoordinates].Kind)
	assert.True(t, st.Policy.PreserveManualInput)
	assert.False(t, st.Flags.IsGeocodingInProgress)

	require.NoError(t, s.SetFromManualInput(FieldLocalityName, "Знову вручну"))
	require.NoError(t, s.SetFromMapClick(boryspil))
	require.Eventually(t, func() bool { return len(geo.Calls()) == 2 }, waitFor, tick)
	waitIdle(t, s)
	assert.Equal(t, "Знову вручну", s.State().Current[FieldLocalityName])
}

func TestForceReGeocodeCancelsPending(t *testing.T) {
	geo := &fakeGeocoder{}
	s := newTestSession(t, geo, WithDebounce(100*time.Millisecond))

	require.NoError(t, s.SetFromMapClick(boryspil))
	require.NoError(t, s.ForceReGeocode(context.Background(), lviv))

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, []spatial.Point{lviv}, geo.Calls())
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	geo := &fakeGeocoder{hold: map[int]chan struct{}{0: gate}}
	s := newTestSession(t, geo)

	require.NoError(t, s.SetFromMapClick(boryspil))
	require.Eventually(t, func() bool { return len(geo.Calls()) == 1 }, waitFor, tick)
	assert.True(t, s.State().Flags.IsGeocodingInProgress)

	require.NoError(t, s.SetFromMapClick(lviv))
	require.Eventually(t, func() bool { return geo.Returned() == 1 }, waitFor, tick)
	waitIdle(t, s)
	assert.Equal(t, "Львів", s.State().Current[FieldLocalityName])

	close(gate)
	require.Eventually(t, func() bool { return geo.Returned() == 2 }, waitFor, tick)

	st := s.State()
	assert.Equal(t, "Львів", st.Current[FieldLocalityName])
	assert.False(t, st.Flags.IsGeocodingInProgress)
}

func TestUnmatchedCountryWritesNothing(t *testing.T) {
	geo := &fakeGeocoder{}
	s := newTestSession(t, geo)

	nowhere := spatial.Point{Lat: -10, Lng: -150}
	require.NoError(t, s.SetFromMapClick(nowhere))
	require.Eventually(t, func() bool { return geo.Returned() == 1 }, waitFor, tick)
	waitIdle(t, s)

	st := s.State()
	assert.Len(t, st.Current, 1)
	assert.Contains(t, st.Current, FieldCoordinates)
}

func TestReset(t *testing.T) {
	gate := make(chan struct{})
	geo := &fakeGeocoder{hold: map[int]chan struct{}{0: gate}}
	s := newTestSession(t, geo, WithPolicy(Policy{}))

	require.NoError(t, s.SetFromManualInput(FieldRegionName, "Волинська область"))
	require.NoError(t, s.SetFromMapClick(lviv))
	require.Eventually(t, func() bool { return s.State().Flags.IsGeocodingInProgress }, waitFor, tick)

	s.Reset()

	st := s.State()
	assert.Empty(t, st.Current)
	assert.Empty(t, st.Sources)
	assert.Equal(t, Flags{}, st.Flags)
	assert.Equal(t, DefaultPolicy(), st.Policy)

	close(gate)
	require.Eventually(t, func() bool { return geo.Returned() == 1 }, waitFor, tick)
	assert.Empty(t, s.State().Current)
}

func TestSeedValuesHaveNoSource(t *testing.T) {
	geo := &fakeGeocoder{}
	s := newTestSession(t, geo, WithSeed(map[Field]any{
		FieldCoordinates:  boryspil,
		FieldLocalityName: "Бориспіль",
		FieldCountryID:    float64(1),
	}))

	st := s.State()
	assert.Empty(t, st.Sources)
	assert.True(t, st.IsLocationReady())
	assert.Equal(t, 1, st.Current[FieldCountryID])

	require.NoError(t, s.SetFromBrowserLocation(lviv))
	p, _ := s.State().Coordinates()
	assert.Equal(t, lviv, p)

	_, err := NewSession(context.Background(), geo, nil, WithSeed(map[Field]any{FieldCountryID: "UA"}))
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestInvalidInput(t *testing.T) {
	s := newTestSession(t, &fakeGeocoder{})

	assert.ErrorIs(t, s.SetFromMapClick(spatial.Point{Lat: 100}), spatial.ErrInvalidCoordinates)
	assert.ErrorIs(t, s.SetFromBrowserLocation(spatial.Point{Lng: 200}), spatial.ErrInvalidCoordinates)
	assert.ErrorIs(t, s.ForceReGeocode(context.Background(), spatial.Point{Lat: -91}), spatial.ErrInvalidCoordinates)
	assert.ErrorIs(t, s.SetFromManualInput(Field("street"), "x"), ErrUnknownField)
	assert.Empty(t, s.State().Current)
}

func TestOnChange(t *testing.T) {
	var (
		mu        sync.Mutex
		snapshots []State
	)

	s := newTestSession(t, &fakeGeocoder{}, WithOnChange(func(st State) {
		mu.Lock()
		snapshots = append(snapshots, st)
		mu.Unlock()
	}))

	off := false
	s.SetPolicy(PolicyUpdate{PreserveManualInput: &off})
	require.NoError(t, s.SetFromManualInput(FieldLocalityName, "Ужгород"))

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, snapshots, 2)
	assert.False(t, snapshots[0].Policy.PreserveManualInput)
	assert.True(t, snapshots[0].Policy.UseUserLocationByDefault)
	assert.Equal(t, "Ужгород", snapshots[1].Current[FieldLocalityName])
}

func TestFlushRunsPendingGeocode(t *testing.T) {
	geo := &fakeGeocoder{}
	s := newTestSession(t, geo, WithDebounce(time.Hour))

	s.Flush(context.Background())
	assert.Empty(t, geo.Calls())

	require.NoError(t, s.SetFromManualInput(FieldLocalityName, "Бровари"))
	require.NoError(t, s.SetFromMapClick(boryspil))
	s.Flush(context.Background())

	st := s.State()
	assert.Equal(t, []spatial.Point{boryspil}, geo.Calls())
	assert.False(t, st.Flags.IsGeocodingInProgress)
	assert.Equal(t, "Бровари", st.Current[FieldLocalityName])
	assert.Equal(t, "Київська область", st.Current[FieldRegionName])
}

func TestMovingThePinDiscardsLookupInFlight(t *testing.T) {
	gate := make(chan struct{})
	geo := &fakeGeocoder{hold: map[int]chan struct{}{0: gate}}
	s := newTestSession(t, geo, WithDebounce(time.Hour))

	require.NoError(t, s.SetFromMapClick(boryspil))

	done := make(chan struct{})

	go func() {
		s.Flush(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return len(geo.Calls()) == 1 }, waitFor, tick)
	assert.True(t, s.State().Flags.IsGeocodingInProgress)

	require.NoError(t, s.SetFromMapClick(krakow))
	assert.False(t, s.State().Flags.IsGeocodingInProgress)

	close(gate)
	<-done

	st := s.State()
	assert.Equal(t, map[Field]any{FieldCoordinates: krakow}, st.Current)
	assert.False(t, st.Flags.IsGeocodingInProgress)

	s.Flush(context.Background())

	st = s.State()
	assert.Equal(t, map[Field]any{
		FieldCoordinates:  krakow,
		FieldCountryID:    2,
		FieldLocalityName: "Kraków",
		FieldRegionName:   "województwo małopolskie",
	}, st.Current)
	assert.Equal(t, []spatial.Point{boryspil, krakow}, geo.Calls())
}

func TestManualCoordinatesDropPendingLookup(t *testing.T) {
	geo := &fakeGeocoder{}
	s := newTestSession(t, geo, WithDebounce(time.Hour))

	require.NoError(t, s.SetFromMapClick(boryspil))
	require.NoError(t, s.SetFromManualInput(FieldCoordinates, lviv))
	s.Flush(context.Background())

	assert.Empty(t, geo.Calls())
	assert.Equal(t, map[Field]any{FieldCoordinates: lviv}, s.State().Current)
}

func TestNewLookupClearsNamesItDoesNotHave(t *testing.T) {
	geo := &fakeGeocoder{}
	s := newTestSession(t, geo, WithDebounce(time.Hour))

	click := func(p spatial.Point) State {
		t.Helper()
		require.NoError(t, s.SetFromMapClick(p))
		s.Flush(context.Background())

		return s.State()
	}

	st := click(boryspil)
	assert.Equal(t, "Бориспільський район", st.Current[FieldCommunityName])

	st = click(krakow)
	assert.Equal(t, 2, st.Current[FieldCountryID])
	assert.Equal(t, "Kraków", st.Current[FieldLocalityName])
	assert.NotContains(t, st.Current, FieldCommunityName)
	assert.NotContains(t, st.Sources, FieldCommunityName)

	require.NoError(t, s.SetFromManualInput(FieldCommunityName, "Підгір'я"))
	click(boryspil)
	st = click(krakow)
	assert.Equal(t, "Підгір'я", st.Current[FieldCommunityName])
	assert.Equal(t, Manual, st.Sources[FieldCommunityName].Kind)
}
