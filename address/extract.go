// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package address derives administrative fields from normalized reverse
// geocoding results.
package address

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/jcodagnone/locres/geocoding"
)

// Extraction holds the fields derived from a single geocoding result.
type Extraction struct {
	Country       Country `json:"country"`
	LocalityName  string  `json:"localityName,omitempty"`
	RegionName    string  `json:"regionName,omitempty"`
	CommunityName string  `json:"communityName,omitempty"`
}

var (
	localityKeys = []string{
		geocoding.KeyCity, geocoding.KeyTown, geocoding.KeyVillage, geocoding.KeyHamlet, geocoding.KeyLocality,
	}
	localityFallbackKeys = []string{
		geocoding.KeyMunicipality, geocoding.KeySuburb, geocoding.KeyCityDistrict, geocoding.KeyCounty,
	}
	regionKeys = []string{
		geocoding.KeyState, geocoding.KeyRegion, geocoding.KeyProvince, geocoding.KeyCounty,
	}
	communityKeys = []string{
		geocoding.KeyMunicipality, geocoding.KeyCityDistrict, geocoding.KeyDistrict, geocoding.KeySuburb, geocoding.KeyCounty,
	}
)

// streetWords are street type words (folded, without trailing dots) that mark
// a display token as a street rather than a place.
var streetWords = map[string]bool{
	"street": true, "st": true, "avenue": true, "ave": true, "road": true, "rd": true,
	"lane": true, "boulevard": true, "blvd": true, "square": true, "highway": true,
	"вулиця": true, "вул": true, "проспект": true, "просп": true, "пр": true,
	"бульвар": true, "бул": true, "провулок": true, "пров": true, "площа": true,
	"пл": true, "шосе": true, "узвіз": true, "набережна": true, "тупик": true,
	"улица": true, "ул": true, "переулок": true, "пер": true, "площадь": true,
	"ulica": true, "ul": true, "aleja": true, "al": true,
	"strasse": true, "straße": true, "str": true, "calle": true, "avenida": true, "av": true,
}

// Extract derives country, locality, region and community names from res.
// It returns nil when the country cannot be matched against countries.
func Extract(res *geocoding.Result, countries []Country) *Extraction {
	if res == nil {
		return nil
	}

	country := MatchCountry(res.Get(geocoding.KeyCountry), countries)
	if country == nil {
		country = MatchCountry(res.Get(geocoding.KeyCountryCode), countries)
	}

	if country == nil {
		return nil
	}

	region := firstOf(res, regionKeys)

	return &Extraction{
		Country:       *country,
		LocalityName:  locality(res, countries),
		RegionName:    region,
		CommunityName: community(res, region),
	}
}

func firstOf(res *geocoding.Result, keys []string) string {
	for _, k := range keys {
		if v := res.Get(k); v != "" {
			return v
		}
	}

	return ""
}

func locality(res *geocoding.Result, countries []Country) string {
	if v := firstOf(res, localityKeys); v != "" {
		return v
	}

	if v := firstOf(res, localityFallbackKeys); v != "" {
		return v
	}

	return localityFromDisplay(res.DisplayName, countries)
}

// community picks the sub-region, never repeating the region.
func community(res *geocoding.Result, region string) string {
	for _, k := range communityKeys {
		v := res.Get(k)
		if v != "" && !sameText(v, region) {
			return v
		}
	}

	return ""
}

// localityFromDisplay guesses the locality from a free-form display string
// such as "вулиця Хрещатик, 22, Київ, 01001, Україна".
func localityFromDisplay(display string, countries []Country) string {
	tokens := displayTokens(display)
	if len(tokens) == 0 {
		return ""
	}

	candidates := tokens
	if looksLikeStreet(tokens[0]) {
		candidates = tokens[1:]
	}

	for _, t := range candidates {
		if isNumber(t) || isCountryName(t, countries) {
			continue
		}

		if runeLen(t) > 2 {
			return t
		}
	}

	last := tokens[len(tokens)-1]
	if len(tokens) > 1 && isCountryName(last, countries) {
		return tokens[len(tokens)-2]
	}

	return last
}

func displayTokens(display string) []string {
	parts := strings.Split(display, ",")
	tokens := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tokens = append(tokens, p)
		}
	}

	return tokens
}

// looksLikeStreet reports whether a token starts with a house number or
// contains a street type word.
func looksLikeStreet(token string) bool {
	for _, r := range token {
		if unicode.IsDigit(r) {
			return true
		}

		break
	}

	for _, w := range strings.Fields(fold(token)) {
		if streetWords[strings.TrimSuffix(w, ".")] {
			return true
		}
	}

	return false
}

// isNumber reports whether a token is a bare number, as coordinates and
// postcodes are.
func isNumber(token string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(token), 64)

	return err == nil
}
