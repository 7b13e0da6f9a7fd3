// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"strings"

	"github.com/jcodagnone/locres/spatial"
)

// Common errors returned by the session.
var (
	ErrUnknownField = errors.New("unknown location field")
	ErrInvalidValue = errors.New("invalid value for location field")
)

// Field names a location field. Each field tracks its own value and source.
type Field string

// Location fields.
const (
	FieldCoordinates   Field = "coordinates"
	FieldCountryID     Field = "countryId"
	FieldRegionName    Field = "regionName"
	FieldCommunityName Field = "communityName"
	FieldLocalityName  Field = "localityName"
)

// Fields lists every field in a stable order.
var Fields = []Field{FieldCoordinates, FieldCountryID, FieldRegionName, FieldCommunityName, FieldLocalityName}

// ParseField validates a field name.
func ParseField(s string) (Field, error) {
	for _, f := range Fields {
		if string(f) == s {
			return f, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
}

// Policy toggles session behavior.
type Policy struct {
	// UseUserLocationByDefault geocodes device fixes automatically.
	UseUserLocationByDefault bool `json:"useUserLocationByDefault"`
	// PreserveManualInput protects manual values from every other source.
	PreserveManualInput bool `json:"preserveManualInput"`
}

// DefaultPolicy is the policy of a new or reset session.
func DefaultPolicy() Policy {
	return Policy{UseUserLocationByDefault: true, PreserveManualInput: true}
}

// PolicyUpdate changes the fields that are not nil.
type PolicyUpdate struct {
	UseUserLocationByDefault *bool `json:"useUserLocationByDefault,omitempty"`
	PreserveManualInput      *bool `json:"preserveManualInput,omitempty"`
}

// Flags report the asynchronous work in progress.
type Flags struct {
	IsLoadingBrowserLocation bool `json:"isLoadingBrowserLocation"`
	IsGeocodingInProgress    bool `json:"isGeocodingInProgress"`
}

// State is a read-only snapshot of a session.
//
// Values in Current are spatial.Point for coordinates, int for countryId and
// string for the names. A value without an entry in Sources was seeded at
// construction and has no recorded source yet.
type State struct {
	Current map[Field]any    `json:"current"`
	Sources map[Field]Source `json:"sources"`
	Flags   Flags            `json:"flags"`
	Policy  Policy           `json:"policy"`
}

// Coordinates returns the current coordinates, if any.
func (s State) Coordinates() (spatial.Point, bool) {
	p, ok := s.Current[FieldCoordinates].(spatial.Point)

	return p, ok
}

// CountryID returns the current country id, if any.
func (s State) CountryID() (int, bool) {
	id, ok := s.Current[FieldCountryID].(int)

	return id, ok
}

// Text returns the current value of a name field, if any.
func (s State) Text(f Field) (string, bool) {
	v, ok := s.Current[f].(string)

	return v, ok
}

// IsLocationReady reports whether both coordinate components are set.
func (s State) IsLocationReady() bool {
	_, ok := s.Coordinates()

	return ok
}

// HasManualInput reports whether any field was last written by the user.
func (s State) HasManualInput() bool {
	for _, src := range s.Sources {
		if src.Kind == Manual {
			return true
		}
	}

	return false
}

func (s State) clone() State {
	return State{
		Current: maps.Clone(s.Current),
		Sources: maps.Clone(s.Sources),
		Flags:   s.Flags,
		Policy:  s.Policy,
	}
}

// normalizeValue checks that v fits field and converts it to the canonical
// type. JSON decoded numbers are accepted for countryId when integral.
func normalizeValue(field Field, v any) (any, error) {
	switch field {
	case FieldCoordinates:
		var p spatial.Point

		switch t := v.(type) {
		case spatial.Point:
			p = t
		case *spatial.Point:
			if t == nil {
				return nil, fmt.Errorf("%w: %s is nil", ErrInvalidValue, field)
			}

			p = *t
		default:
			return nil, fmt.Errorf("%w: %s expects a point, got %T", ErrInvalidValue, field, v)
		}

		if err := p.Validate(); err != nil {
			return nil, err
		}

		return p, nil
	case FieldCountryID:
		switch t := v.(type) {
		case int:
			return t, nil
		case int64:
			return int(t), nil
		case float64:
			if t != math.Trunc(t) {
				return nil, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidValue, field, t)
			}

			return int(t), nil
		default:
			return nil, fmt.Errorf("%w: %s expects an integer, got %T", ErrInvalidValue, field, v)
		}
	case FieldRegionName, FieldCommunityName, FieldLocalityName:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a string, got %T", ErrInvalidValue, field, v)
		}

		return strings.TrimSpace(s), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
}
