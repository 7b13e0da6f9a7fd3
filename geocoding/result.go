// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"strings"
)

// Normalized address keys. Providers translate their own vocabulary into
// these before the result leaves the package.
const (
	KeyCity         = "city"
	KeyTown         = "town"
	KeyVillage      = "village"
	KeyHamlet       = "hamlet"
	KeyLocality     = "locality"
	KeyMunicipality = "municipality"
	KeySuburb       = "suburb"
	KeyCityDistrict = "city_district"
	KeyDistrict     = "district"
	KeyCounty       = "county"
	KeyState        = "state"
	KeyRegion       = "region"
	KeyProvince     = "province"
	KeyCountry      = "country"
	KeyCountryCode  = "country_code"
	KeyRoad         = "road"
	KeyHouseNumber  = "house_number"
	KeyPostcode     = "postcode"
)

// Result is the common shape every provider response is converted into.
type Result struct {
	Address     map[string]string `json:"address"`
	DisplayName string            `json:"display_name"`
	Provider    string            `json:"provider"`
	Latitude    float64           `json:"latitude"`
	Longitude   float64           `json:"longitude"`
	// Synthetic is set on the placeholder built when every provider failed.
	Synthetic bool `json:"synthetic,omitempty"`
}

// IsEmpty reports whether the result carries neither address fields nor a
// display name.
func (r *Result) IsEmpty() bool {
	if r == nil {
		return true
	}

	for _, v := range r.Address {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}

	return strings.TrimSpace(r.DisplayName) == ""
}

// Get returns the trimmed value stored under key, or "".
func (r *Result) Get(key string) string {
	if r == nil || r.Address == nil {
		return ""
	}

	return strings.TrimSpace(r.Address[key])
}

// ReverseGeocoder resolves coordinates into a normalized result. Implementations
// never fail; a total outage is represented by a synthetic result.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) Result
}

// setIfNotEmpty stores v under key when it has content.
func setIfNotEmpty(m map[string]string, key, v string) {
	if v = strings.TrimSpace(v); v != "" {
		m[key] = v
	}
}
