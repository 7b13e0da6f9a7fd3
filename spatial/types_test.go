// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"errors"
	"math"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Point
		wantErr bool
	}{
		{"kyiv", Point{Lat: 50.4501, Lng: 30.5234}, false},
		{"poles", Point{Lat: -90, Lng: 180}, false},
		{"lat too big", Point{Lat: 91, Lng: 0}, true},
		{"lng too small", Point{Lat: 0, Lng: -180.5}, true},
		{"nan", Point{Lat: math.NaN(), Lng: 0}, true},
		{"inf", Point{Lat: 0, Lng: math.Inf(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}

			if err != nil && !errors.Is(err, ErrInvalidCoordinates) {
				t.Errorf("Validate() error = %v, want ErrInvalidCoordinates", err)
			}
		})
	}
}

func TestRound(t *testing.T) {
	got := Point{Lat: 50.450149, Lng: 30.523351}.Round(4)
	want := Point{Lat: 50.4501, Lng: 30.5234}

	if got != want {
		t.Errorf("Round() = %v, want %v", got, want)
	}
}

func TestCell(t *testing.T) {
	p := Point{Lat: 50.4501, Lng: 30.5234}

	c1, err := p.Cell(8)
	if err != nil {
		t.Fatalf("Cell() error = %v", err)
	}

	// A point a few meters away lands in the same res 8 cell.
	c2, err := Point{Lat: 50.45011, Lng: 30.52341}.Cell(8)
	if err != nil {
		t.Fatalf("Cell() error = %v", err)
	}

	if c1 != c2 {
		t.Errorf("expected same cell, got %v and %v", c1, c2)
	}

	if c1.Resolution() != 8 {
		t.Errorf("Resolution() = %d, want 8", c1.Resolution())
	}
}

func TestHaversineDistance(t *testing.T) {
	kyiv := &Point{Lat: 50.4501, Lng: 30.5234}
	lviv := &Point{Lat: 49.8397, Lng: 24.0297}

	d := kyiv.HaversineDistance(lviv)
	if d < 460e3 || d > 475e3 {
		t.Errorf("HaversineDistance() = %f, want ~468km", d)
	}
}
