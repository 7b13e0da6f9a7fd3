// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package store persists resolved locations in DuckDB.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jcodagnone/locres/geocoding"
	"github.com/jcodagnone/locres/location"
	"github.com/jcodagnone/locres/spatial"
	"github.com/uber/h3-go/v4"
)

// Indexed H3 resolutions.
const (
	MinResolution = 1
	MaxResolution = 8
)

// ErrNotReady is returned when saving a state without coordinates.
var ErrNotReady = errors.New("location has no coordinates")

// ResolvedLocation is a snapshot of a session worth keeping.
type ResolvedLocation struct {
	ID            int64                              `json:"id"`
	Point         spatial.Point                      `json:"point"`
	CountryID     *int                               `json:"country_id,omitempty"`
	RegionName    string                             `json:"region_name,omitempty"`
	CommunityName string                             `json:"community_name,omitempty"`
	LocalityName  string                             `json:"locality_name,omitempty"`
	DisplayName   string                             `json:"display_name,omitempty"`
	Provider      string                             `json:"provider,omitempty"`
	Synthetic     bool                               `json:"synthetic"`
	Sources       map[location.Field]location.Source `json:"sources"`
	CreatedAt     time.Time                          `json:"created_at"`
	H3            [MaxResolution]int64               `json:"-"`
}

// FromState builds a record from a session snapshot and the last geocoding
// result applied to it, if any.
func FromState(st location.State, last *geocoding.Result) (*ResolvedLocation, error) {
	p, ok := st.Coordinates()
	if !ok {
		return nil, ErrNotReady
	}

	loc := &ResolvedLocation{Point: p, Sources: st.Sources}

	if id, ok := st.CountryID(); ok {
		loc.CountryID = &id
	}

	loc.RegionName, _ = st.Text(location.FieldRegionName)
	loc.CommunityName, _ = st.Text(location.FieldCommunityName)
	loc.LocalityName, _ = st.Text(location.FieldLocalityName)

	if last != nil {
		loc.DisplayName = last.DisplayName
		loc.Provider = last.Provider
		loc.Synthetic = last.Synthetic
	}

	return loc, nil
}

func (l *ResolvedLocation) computeH3() error {
	for res := MinResolution; res <= MaxResolution; res++ {
		cell, err := l.Point.Cell(res)
		if err != nil {
			return fmt.Errorf("error converting to h3 cell at res %d: %w", res, err)
		}

		l.H3[res-1] = int64(cell)
	}

	return nil
}

// Repository handles persistence of resolved locations.
type Repository interface {
	// CreateSchema creates the resolved_locations table
	CreateSchema() error

	// Save inserts a location and sets its ID and creation time
	Save(loc *ResolvedLocation) error

	// SaveAll inserts locations in a single transaction
	SaveAll(locs []*ResolvedLocation) error

	// List returns locations, newest first
	List(limit, offset int) ([]*ResolvedLocation, error)

	// Count returns the number of stored locations
	Count() (int, error)

	// Nearby returns the locations in the H3 cell of p at the given
	// resolution and its neighbors, closest first
	Nearby(p spatial.Point, resolution, limit int) ([]*ResolvedLocation, error)

	// DB returns the underlying database connection
	DB() *sql.DB
}

type sqlRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a repository on db.
func NewRepository(db *sql.DB) Repository {
	return &sqlRepository{db: db, now: time.Now}
}

func (r *sqlRepository) DB() *sql.DB {
	return r.db
}

func (r *sqlRepository) CreateSchema() error {
	_, err := r.db.Exec(`
		CREATE SEQUENCE IF NOT EXISTS resolved_locations_seq START 1;

		CREATE TABLE IF NOT EXISTS resolved_locations (
			id BIGINT PRIMARY KEY DEFAULT nextval('resolved_locations_seq'),
			lat DOUBLE NOT NULL,
			lng DOUBLE NOT NULL,
			country_id INTEGER,
			region_name VARCHAR NOT NULL,
			community_name VARCHAR NOT NULL,
			locality_name VARCHAR NOT NULL,
			display_name VARCHAR NOT NULL,
			provider VARCHAR NOT NULL,
			synthetic BOOLEAN NOT NULL DEFAULT FALSE,
			sources VARCHAR NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			h3_res1 BIGINT,
			h3_res2 BIGINT,
			h3_res3 BIGINT,
			h3_res4 BIGINT,
			h3_res5 BIGINT,
			h3_res6 BIGINT,
			h3_res7 BIGINT,
			h3_res8 BIGINT
		);
	`)

	return err
}

const insertSQL = `
	INSERT INTO resolved_locations(
		lat, lng, country_id,
		region_name, community_name, locality_name,
		display_name, provider, synthetic, sources, created_at,
		h3_res1, h3_res2, h3_res3, h3_res4, h3_res5, h3_res6, h3_res7, h3_res8
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING id
`

func (r *sqlRepository) Save(loc *ResolvedLocation) error {
	return r.SaveAll([]*ResolvedLocation{loc})
}

func (r *sqlRepository) SaveAll(locs []*ResolvedLocation) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			err = errors.Join(err, rErr)
		}

		return err
	}
	defer stmt.Close()

	for _, loc := range locs {
		if err := r.insert(stmt, loc); err != nil {
			if rErr := tx.Rollback(); rErr != nil {
				err = errors.Join(err, rErr)
			}

			return err
		}
	}

	return tx.Commit()
}

func (r *sqlRepository) insert(stmt *sql.Stmt, loc *ResolvedLocation) error {
	if err := loc.Point.Validate(); err != nil {
		return err
	}

	if err := loc.computeH3(); err != nil {
		return err
	}

	sources, err := json.Marshal(loc.Sources)
	if err != nil {
		return fmt.Errorf("encoding sources: %w", err)
	}

	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = r.now().UTC()
	}

	args := []any{
		loc.Point.Lat, loc.Point.Lng, loc.CountryID,
		loc.RegionName, loc.CommunityName, loc.LocalityName,
		loc.DisplayName, loc.Provider, loc.Synthetic, string(sources), loc.CreatedAt,
	}
	for _, c := range loc.H3 {
		args = append(args, c)
	}

	if err := stmt.QueryRow(args...).Scan(&loc.ID); err != nil {
		return fmt.Errorf("inserting location %s: %w", loc.Point, err)
	}

	return nil
}

const baseSelect = `
	SELECT id, lat, lng, country_id,
	       region_name, community_name, locality_name,
	       display_name, provider, synthetic, sources, created_at,
	       h3_res1, h3_res2, h3_res3, h3_res4, h3_res5, h3_res6, h3_res7, h3_res8
	FROM resolved_locations
`

func (r *sqlRepository) list(query string, args []any) ([]*ResolvedLocation, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locs []*ResolvedLocation

	for rows.Next() {
		loc := &ResolvedLocation{}

		var (
			countryID sql.NullInt64
			sources   string
			cells     [MaxResolution]sql.NullInt64
		)

		dest := []any{
			&loc.ID, &loc.Point.Lat, &loc.Point.Lng, &countryID,
			&loc.RegionName, &loc.CommunityName, &loc.LocalityName,
			&loc.DisplayName, &loc.Provider, &loc.Synthetic, &sources, &loc.CreatedAt,
		}
		for i := range cells {
			dest = append(dest, &cells[i])
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		if countryID.Valid {
			id := int(countryID.Int64)
			loc.CountryID = &id
		}

		if err := json.Unmarshal([]byte(sources), &loc.Sources); err != nil {
			return nil, fmt.Errorf("decoding sources of location %d: %w", loc.ID, err)
		}

		for i, c := range cells {
			if c.Valid {
				loc.H3[i] = c.Int64
			}
		}

		locs = append(locs, loc)
	}

	return locs, rows.Err()
}

func (r *sqlRepository) List(limit, offset int) ([]*ResolvedLocation, error) {
	query := baseSelect + " ORDER BY created_at DESC, id DESC"

	var args []any

	if limit > 0 {
		query += " LIMIT ? OFFSET ?"

		args = append(args, limit, offset)
	}

	return r.list(query, args)
}

func (r *sqlRepository) Count() (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM resolved_locations",
	).Scan(&count)

	return count, err
}

func (r *sqlRepository) Nearby(p spatial.Point, resolution, limit int) ([]*ResolvedLocation, error) {
	if resolution < MinResolution || resolution > MaxResolution {
		return nil, fmt.Errorf("resolution must be between %d and %d (got %d)", MinResolution, MaxResolution, resolution)
	}

	cell, err := p.Cell(resolution)
	if err != nil {
		return nil, err
	}

	disk, err := h3.GridDisk(cell, 1)
	if err != nil {
		return nil, fmt.Errorf("computing neighbors of %s: %w", cell, err)
	}

	query := fmt.Sprintf("%s WHERE h3_res%d IN (", baseSelect, resolution)
	args := make([]any, 0, len(disk))

	for i, c := range disk {
		if i > 0 {
			query += ", "
		}

		query += "?"

		args = append(args, int64(c))
	}

	query += ")"

	locs, err := r.list(query, args)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(locs, func(i, j int) bool {
		return p.HaversineDistance(&locs[i].Point) < p.HaversineDistance(&locs[j].Point)
	})

	if limit > 0 && len(locs) > limit {
		locs = locs[:limit]
	}

	return locs, nil
}
