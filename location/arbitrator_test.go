// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKinds = []SourceKind{Manual, MapClick, BrowserLocation, Geocoding}

func TestPriorities(t *testing.T) {
	assert.Equal(t, 100, Manual.Priority())
	assert.Equal(t, 80, MapClick.Priority())
	assert.Equal(t, 60, BrowserLocation.Priority())
	assert.Equal(t, 40, Geocoding.Priority())
	assert.Equal(t, 0, SourceKind(99).Priority())
	assert.Equal(t, MapClick.Priority(), NewSource(MapClick, time.Now()).Priority())
}

func TestShouldAcceptWithoutExistingSource(t *testing.T) {
	for _, k := range allKinds {
		for _, preserve := range []bool{true, false} {
			assert.True(t, ShouldAccept(nil, NewSource(k, time.Now()), preserve), "%s preserve=%v", k, preserve)
		}
	}
}

func TestShouldAcceptPreservesManual(t *testing.T) {
	existing := NewSource(Manual, time.Now())

	for _, k := range allKinds {
		got := ShouldAccept(&existing, NewSource(k, time.Now()), true)
		assert.Equal(t, k == Manual, got, "candidate %s", k)
	}
}

func TestShouldAcceptByPriority(t *testing.T) {
	for _, preserve := range []bool{true, false} {
		for _, e := range allKinds {
			if preserve && e == Manual {
				continue
			}

			existing := NewSource(e, time.Now())

			for _, c := range allKinds {
				got := ShouldAccept(&existing, NewSource(c, time.Now()), preserve)
				assert.Equal(t, c.Priority() >= e.Priority(), got, "existing %s candidate %s preserve=%v", e, c, preserve)
			}
		}
	}
}

func TestShouldAcceptManualWithoutPreserve(t *testing.T) {
	existing := NewSource(Manual, time.Now())

	assert.True(t, ShouldAccept(&existing, NewSource(Manual, time.Now()), false))
	assert.False(t, ShouldAccept(&existing, NewSource(MapClick, time.Now()), false))
	assert.False(t, ShouldAccept(&existing, NewSource(Geocoding, time.Now()), false))
}

func TestSourceJSON(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	b, err := json.Marshal(NewSource(BrowserLocation, at))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"browser_location","observedAt":"2025-03-01T10:00:00Z","priority":60}`, string(b))

	var src Source
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"geocoding","observedAt":"2025-03-01T10:00:00Z","priority":999}`), &src))
	assert.Equal(t, Geocoding, src.Kind)
	assert.Equal(t, 40, src.Priority())

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"telepathy"}`), &src))
}
