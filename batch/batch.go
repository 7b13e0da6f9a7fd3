// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package batch resolves many points at once, one location session per row.
package batch

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/jcodagnone/locres/address"
	"github.com/jcodagnone/locres/geocoding"
	"github.com/jcodagnone/locres/location"
	"github.com/jcodagnone/locres/spatial"
	"github.com/jcodagnone/locres/store"
)

// Row is an input line: a point and an optional locality typed by a person.
type Row struct {
	Line     int
	Point    spatial.Point
	Locality string
}

// ReadRows parses "lat,lng[,locality]" records. A first line whose latitude
// is not a number is taken as a header.
func ReadRows(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []Row

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}

		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: expected lat,lng[,locality], got %d fields", line, len(rec))
		}

		lat, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			if line == 1 {
				continue
			}

			return nil, fmt.Errorf("line %d: invalid latitude %q", line, rec[0])
		}

		lng, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid longitude %q", line, rec[1])
		}

		row := Row{Line: line, Point: spatial.Point{Lat: lat, Lng: lng}}
		if len(rec) > 2 {
			row.Locality = strings.TrimSpace(rec[2])
		}

		if err := row.Point.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// Outcome is the result of resolving one row. Location is nil when Err is set.
type Outcome struct {
	Row      Row
	Location *store.ResolvedLocation
	Err      error
}

// Metrics counts what happened during a run.
type Metrics struct {
	Resolved  int
	Unmatched int
	Synthetic int
	Failed    int
}

func (m *Metrics) add(o Outcome) {
	switch {
	case o.Err != nil:
		m.Failed++
	case o.Location.Synthetic:
		m.Synthetic++
	case o.Location.CountryID == nil:
		m.Unmatched++
	default:
		m.Resolved++
	}
}

// Resolver runs rows through location sessions sharing one geocoder.
type Resolver struct {
	Geocoder  geocoding.ReverseGeocoder
	Countries []address.Country
	// Workers bounds concurrent sessions. Zero means one per CPU.
	Workers int
	// Progress shows a progress bar on a terminal.
	Progress bool
	Metrics  Metrics
}

// Resolve returns one outcome per row, in input order.
func (r *Resolver) Resolve(ctx context.Context, rows []Row) []Outcome {
	workers := r.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var bar *progressbar.ProgressBar
	if r.Progress && isatty.IsTerminal(os.Stderr.Fd()) {
		bar = progressbar.NewOptions(len(rows),
			progressbar.OptionSetDescription("Resolving"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	outcomes := make([]Outcome, len(rows))
	semaphore := make(chan struct{}, workers)

	var wg sync.WaitGroup

	for i, row := range rows {
		wg.Add(1)

		go func(i int, row Row) {
			defer wg.Done()
			semaphore <- struct{}{}

			defer func() { <-semaphore }()

			loc, err := r.resolveRow(ctx, row)
			outcomes[i] = Outcome{Row: row, Location: loc, Err: err}

			if bar != nil {
				if err := bar.Add(1); err != nil {
					log.Printf("Updating progress bar: %v", err)
				}
			}
		}(i, row)
	}

	wg.Wait()

	for _, o := range outcomes {
		r.Metrics.add(o)

		if o.Err != nil {
			log.Printf("Line %d failed - %v", o.Row.Line, o.Err)
		}
	}

	return outcomes
}

// resolveRow plays a manual locality and then a map click on a fresh session,
// so the typed name survives the geocoding that follows.
func (r *Resolver) resolveRow(ctx context.Context, row Row) (*store.ResolvedLocation, error) {
	s, err := location.NewSession(ctx, r.Geocoder, r.Countries)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if row.Locality != "" {
		if err := s.SetFromManualInput(location.FieldLocalityName, row.Locality); err != nil {
			return nil, err
		}
	}

	if err := s.SetFromMapClick(row.Point); err != nil {
		return nil, err
	}

	s.Flush(ctx)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var last *geocoding.Result
	if res, ok := s.LastGeocode(); ok {
		last = &res
	}

	return store.FromState(s.State(), last)
}
