// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"encoding/json"
	"fmt"
	"time"
)

// SourceKind identifies who supplied a field value.
type SourceKind int

const (
	// Manual the user typed the value.
	Manual SourceKind = iota + 1
	// MapClick the user picked a point on the map.
	MapClick
	// BrowserLocation the device reported its position.
	BrowserLocation
	// Geocoding a reverse geocoding lookup derived the value.
	Geocoding
)

// Fixed trust ranking among sources.
const (
	PriorityManual          = 100
	PriorityMapClick        = 80
	PriorityBrowserLocation = 60
	PriorityGeocoding       = 40
)

var sourceKindNames = map[SourceKind]string{
	Manual:          "manual",
	MapClick:        "map_click",
	BrowserLocation: "browser_location",
	Geocoding:       "geocoding",
}

// Priority returns the fixed priority of the kind, 0 for unknown kinds.
func (k SourceKind) Priority() int {
	switch k {
	case Manual:
		return PriorityManual
	case MapClick:
		return PriorityMapClick
	case BrowserLocation:
		return PriorityBrowserLocation
	case Geocoding:
		return PriorityGeocoding
	default:
		return 0
	}
}

func (k SourceKind) String() string {
	if s, ok := sourceKindNames[k]; ok {
		return s
	}

	return fmt.Sprintf("SourceKind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k SourceKind) MarshalText() ([]byte, error) {
	if _, ok := sourceKindNames[k]; !ok {
		return nil, fmt.Errorf("unknown source kind %d", int(k))
	}

	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *SourceKind) UnmarshalText(b []byte) error {
	for kind, name := range sourceKindNames {
		if name == string(b) {
			*k = kind

			return nil
		}
	}

	return fmt.Errorf("unknown source kind %q", string(b))
}

// Source records which actor wrote a field and when. Its priority is always
// derived from the kind.
type Source struct {
	Kind       SourceKind
	ObservedAt time.Time
}

// NewSource creates a source of the given kind observed at t.
func NewSource(kind SourceKind, t time.Time) Source {
	return Source{Kind: kind, ObservedAt: t}
}

// Priority returns the fixed priority of the source kind.
func (s Source) Priority() int {
	return s.Kind.Priority()
}

type sourceJSON struct {
	Kind       SourceKind `json:"kind"`
	ObservedAt time.Time  `json:"observedAt"`
	Priority   int        `json:"priority"`
}

// MarshalJSON includes the derived priority.
func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(sourceJSON{Kind: s.Kind, ObservedAt: s.ObservedAt, Priority: s.Priority()})
}

// UnmarshalJSON ignores any encoded priority; it is always derived.
func (s *Source) UnmarshalJSON(b []byte) error {
	var v sourceJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	*s = NewSource(v.Kind, v.ObservedAt)

	return nil
}
