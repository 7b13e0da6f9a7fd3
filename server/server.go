// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package server exposes location sessions over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jcodagnone/locres/address"
	"github.com/jcodagnone/locres/geocoding"
	"github.com/jcodagnone/locres/location"
	"github.com/jcodagnone/locres/spatial"
	"github.com/jcodagnone/locres/store"
)

// DefaultAddr is the listen address of Run.
const DefaultAddr = "localhost:8080"

// Config tunes the sessions created by the server.
type Config struct {
	Addr            string
	Debounce        time.Duration
	PositionOptions location.PositionOptions
	// NearbyResolution is the H3 resolution used by /api/locations/nearby
	// when the request does not set one.
	NearbyResolution int
	// SessionTTL is the idle time after which a session is evicted.
	SessionTTL time.Duration
}

// Server serves the location API.
type Server struct {
	geocoder  geocoding.ReverseGeocoder
	countries []address.Country
	gateway   location.Gateway
	repo      store.Repository
	sessions  *SessionManager
	cfg       Config
}

// NewServer creates a server. gateway and repo may be nil, which disables
// /locate and the persistence endpoints.
func NewServer(
	ctx context.Context,
	geocoder geocoding.ReverseGeocoder,
	countries []address.Country,
	gateway location.Gateway,
	repo store.Repository,
	cfg Config,
) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = location.DefaultDebounce
	}

	if cfg.PositionOptions == (location.PositionOptions{}) {
		cfg.PositionOptions = location.DefaultPositionOptions()
	}

	if cfg.NearbyResolution == 0 {
		cfg.NearbyResolution = 7
	}

	s := &Server{
		geocoder:  geocoder,
		countries: countries,
		gateway:   gateway,
		repo:      repo,
		cfg:       cfg,
	}

	s.sessions = NewSessionManager(ctx, s.newSession, cfg.SessionTTL)

	return s
}

func (s *Server) newSession(ctx context.Context, opts ...location.Option) (*location.Session, error) {
	base := []location.Option{
		location.WithDebounce(s.cfg.Debounce),
		location.WithPositionOptions(s.cfg.PositionOptions),
	}
	if s.gateway != nil {
		base = append(base, location.WithGateway(s.gateway))
	}

	return location.NewSession(ctx, s.geocoder, s.countries, append(base, opts...)...)
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	api := r.Group("/api")
	api.GET("/countries", s.listCountries)
	api.GET("/reverse", s.reverse)
	api.GET("/locations", s.listLocations)
	api.GET("/locations/nearby", s.nearbyLocations)
	api.GET("/locations/nearby/clusters", s.nearbyClusters)

	sessions := api.Group("/sessions")
	sessions.POST("", s.createSession)
	sessions.GET("/:id", s.getSession)
	sessions.DELETE("/:id", s.deleteSession)
	sessions.PUT("/:id/fields/:field", s.setField)
	sessions.POST("/:id/map-click", s.mapClick)
	sessions.POST("/:id/browser-location", s.browserLocation)
	sessions.POST("/:id/locate", s.locate)
	sessions.POST("/:id/regeocode", s.regeocode)
	sessions.POST("/:id/reset", s.reset)
	sessions.POST("/:id/save", s.save)
	sessions.PATCH("/:id/policy", s.setPolicy)

	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()

	go s.sessions.RunSweeper(sweepCtx)

	go func() {
		log.Printf("🌐 Listening on http://%s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.sessions.Close()

		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)

	s.sessions.Close()

	return err
}

type sessionView struct {
	ID              string         `json:"id"`
	State           location.State `json:"state"`
	Coordinates     *spatial.Point `json:"coordinates"`
	IsLocationReady bool           `json:"is_location_ready"`
	HasManualInput  bool           `json:"has_manual_input"`
	LocationError   *errorView     `json:"location_error,omitempty"`
}

type errorView struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newSessionView(id string, st location.State) sessionView {
	v := sessionView{
		ID:              id,
		State:           st,
		IsLocationReady: st.IsLocationReady(),
		HasManualInput:  st.HasManualInput(),
	}

	if p, ok := st.Coordinates(); ok {
		v.Coordinates = &p
	}

	return v
}

type pointRequest struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

func (r pointRequest) point() spatial.Point {
	return spatial.Point{Lat: *r.Lat, Lng: *r.Lng}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, location.ErrUnknownField),
		errors.Is(err, location.ErrInvalidValue),
		errors.Is(err, spatial.ErrInvalidCoordinates):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abort(ctx *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("Error handling %s %s: %v", ctx.Request.Method, ctx.FullPath(), err)
	}

	ctx.JSON(status, gin.H{"error": err.Error()})
}

// session resolves the :id parameter, answering 404 when unknown.
func (s *Server) session(ctx *gin.Context) (*location.Session, bool) {
	sess, err := s.sessions.Get(ctx.Param("id"))
	if err != nil {
		abort(ctx, err)

		return nil, false
	}

	return sess, true
}

type createSessionRequest struct {
	Seed   map[string]json.RawMessage `json:"seed"`
	Policy *location.Policy           `json:"policy"`
}

func (s *Server) createSession(ctx *gin.Context) {
	var req createSessionRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

			return
		}
	}

	var opts []location.Option

	if len(req.Seed) > 0 {
		seed := make(map[location.Field]any, len(req.Seed))

		for name, raw := range req.Seed {
			field, err := location.ParseField(name)
			if err != nil {
				abort(ctx, err)

				return
			}

			v, err := decodeFieldValue(field, raw)
			if err != nil {
				abort(ctx, err)

				return
			}

			seed[field] = v
		}

		opts = append(opts, location.WithSeed(seed))
	}

	if req.Policy != nil {
		opts = append(opts, location.WithPolicy(*req.Policy))
	}

	id, sess, err := s.sessions.Create(opts...)
	if err != nil {
		abort(ctx, err)

		return
	}

	ctx.JSON(http.StatusCreated, newSessionView(id, sess.State()))
}

// decodeFieldValue decodes a JSON value into the type expected by field.
func decodeFieldValue(field location.Field, raw json.RawMessage) (any, error) {
	switch field {
	case location.FieldCoordinates:
		var p pointRequest
		if err := json.Unmarshal(raw, &p); err != nil || p.Lat == nil || p.Lng == nil {
			return nil, fmt.Errorf("%w: %s expects {\"lat\": number, \"lng\": number}", location.ErrInvalidValue, field)
		}

		return p.point(), nil
	case location.FieldCountryID:
		var id int
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("%w: %s expects an integer", location.ErrInvalidValue, field)
		}

		return id, nil
	default:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %s expects a string", location.ErrInvalidValue, field)
		}

		return v, nil
	}
}

func (s *Server) getSession(ctx *gin.Context) {
	sess, ok := s.session(ctx)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, newSessionView(ctx.Param("id"), sess.State()))
}

func (s *Server) deleteSession(ctx *gin.Context) {
	if err := s.sessions.Delete(ctx.Param("id")); err != nil {
		abort(ctx, err)

		return
	}

	ctx.Status(http.StatusNoContent)
}

type fieldRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

func (s *Server) setField(ctx *gin.Context) {
	sess, ok := s.session(ctx)
	if !ok {
		return
	}

	field, err := location.ParseField(ctx.Param("field"))
	if err != nil {
		abort(ctx, err)

		return
	}

	var req fieldRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	v, err := decodeFieldValue(field, req.Value)
	if err != nil {
		abort(ctx, err)

		return
	}

	if err := sess.SetFromManualInput(field, v); err != nil {
		abort(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, newSessionView(ctx.Param("id"), sess.State()))
}

func (s *Server) pointAction(ctx *gin.Context, apply func(*location.Session, spatial.Point) error) {
	sess, ok := s.session(ctx)
	if !ok {
		return
	}

	var req pointRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	if err := apply(sess, req.point()); err != nil {
		abort(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, newSessionView(ctx.Param("id"), sess.State()))
}

func (s *Server) mapClick(ctx *gin.Context) {
	s.pointAction(ctx, (*location.Session).SetFromMapClick)
}

func (s *Server) browserLocation(ctx *gin.Context) {
	s.pointAction(ctx, (*location.Session).SetFromBrowserLocation)
}

func (s *Server) locate(ctx *gin.Context) {
	sess, ok := s.session(ctx)
	if !ok {
		return
	}

	err := sess.RequestBrowserLocation(ctx.Request.Context())

	view := newSessionView(ctx.Param("id"), sess.State())

	if err != nil {
		view.LocationError = &errorView{Code: "position unavailable", Message: err.Error()}

		var perr *location.PositionError
		if errors.As(err, &perr) {
			view.LocationError.Code = perr.Code.String()
		}
	}

	ctx.JSON(http.StatusOK, view)
}

func (s *Server) regeocode(ctx *gin.Context) {
	sess, ok := s.session(ctx)
	if !ok {
		return
	}

	p, hasPoint := sess.State().Coordinates()

	if ctx.Request.ContentLength != 0 {
		var req pointRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

			return
		}

		p, hasPoint = req.point(), true
	}

	if !hasPoint {
		ctx.JSON(http.StatusConflict, gin.H{"error": "session has no coordinates to geocode"})

		return
	}

	if err := sess.ForceReGeocode(ctx.Request.Context(), p); err != nil {
		abort(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, newSessionView(ctx.Param("id"), sess.State()))
}

func (s *Server) reset(ctx *gin.Context) {
	sess, ok := s.session(ctx)
	if !ok {
		return
	}

	sess.Reset()

	ctx.JSON(http.StatusOK, newSessionView(ctx.Param("id"), sess.State()))
}

func (s *Server) setPolicy(ctx *gin.Context) {
	sess, ok := s.session(ctx)
	if !ok {
		return
	}

	var req location.PolicyUpdate
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	sess.SetPolicy(req)

	ctx.JSON(http.StatusOK, newSessionView(ctx.Param("id"), sess.State()))
}

func (s *Server) save(ctx *gin.Context) {
	if s.repo == nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence is disabled"})

		return
	}

	sess, ok := s.session(ctx)
	if !ok {
		return
	}

	var last *geocoding.Result
	if res, ok := sess.LastGeocode(); ok {
		last = &res
	}

	loc, err := store.FromState(sess.State(), last)
	if err != nil {
		abort(ctx, err)

		return
	}

	if err := s.repo.Save(loc); err != nil {
		abort(ctx, err)

		return
	}

	ctx.JSON(http.StatusCreated, loc)
}

func (s *Server) listCountries(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.countries)
}

func queryFloat(ctx *gin.Context, name string) (float64, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return 0, fmt.Errorf("%s query parameter is required", name)
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter: %w", name, err)
	}

	return v, nil
}

func queryInt(ctx *gin.Context, name string, def int) (int, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s parameter", name)
	}

	return v, nil
}

func queryPoint(ctx *gin.Context) (spatial.Point, error) {
	lat, err := queryFloat(ctx, "lat")
	if err != nil {
		return spatial.Point{}, err
	}

	lng, err := queryFloat(ctx, "lng")
	if err != nil {
		return spatial.Point{}, err
	}

	p := spatial.Point{Lat: lat, Lng: lng}

	return p, p.Validate()
}

type reverseResponse struct {
	Result     geocoding.Result    `json:"result"`
	Extraction *address.Extraction `json:"extraction"`
}

func (s *Server) reverse(ctx *gin.Context) {
	p, err := queryPoint(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	res := s.geocoder.ReverseGeocode(ctx.Request.Context(), p.Lat, p.Lng)

	ctx.JSON(http.StatusOK, reverseResponse{Result: res, Extraction: address.Extract(&res, s.countries)})
}

func (s *Server) listLocations(ctx *gin.Context) {
	if s.repo == nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence is disabled"})

		return
	}

	limit, err := queryInt(ctx, "limit", 50)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	offset, err := queryInt(ctx, "offset", 0)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	locs, err := s.repo.List(limit, offset)
	if err != nil {
		abort(ctx, err)

		return
	}

	total, err := s.repo.Count()
	if err != nil {
		abort(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, gin.H{"total": total, "locations": nonNil(locs)})
}

// nearby answers the lat, lng, resolution and limit query of the nearby
// routes, writing the error response itself when ok is false.
func (s *Server) nearby(ctx *gin.Context) (locs []*store.ResolvedLocation, ok bool) {
	if s.repo == nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence is disabled"})

		return nil, false
	}

	p, err := queryPoint(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return nil, false
	}

	resolution, err := queryInt(ctx, "resolution", s.cfg.NearbyResolution)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return nil, false
	}

	limit, err := queryInt(ctx, "limit", 20)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return nil, false
	}

	if resolution < store.MinResolution || resolution > store.MaxResolution {
		ctx.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("resolution must be between %d and %d", store.MinResolution, store.MaxResolution),
		})

		return nil, false
	}

	locs, err = s.repo.Nearby(p, resolution, limit)
	if err != nil {
		abort(ctx, err)

		return nil, false
	}

	return nonNil(locs), true
}

func (s *Server) nearbyLocations(ctx *gin.Context) {
	if locs, ok := s.nearby(ctx); ok {
		ctx.JSON(http.StatusOK, locs)
	}
}

// nearbyClusters groups the nearby locations that lie within distance meters
// of each other.
func (s *Server) nearbyClusters(ctx *gin.Context) {
	distance, err := queryInt(ctx, "distance", 100)
	if err != nil || distance <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "distance must be a positive number of meters"})

		return
	}

	if locs, ok := s.nearby(ctx); ok {
		ctx.JSON(http.StatusOK, store.Cluster(locs, float64(distance)))
	}
}

func nonNil(locs []*store.ResolvedLocation) []*store.ResolvedLocation {
	if locs == nil {
		return []*store.ResolvedLocation{}
	}

	return locs
}
