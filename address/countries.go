// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package address

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Country is an entry of the caller supplied registry. The engine only reads it.
type Country struct {
	ID        int      `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	ISOCode   string   `json:"isoCode" yaml:"isoCode"`
	Latitude  *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
}

// aliases lists common name variants per ISO code, in the languages the
// providers answer with. Keys and values are compared folded.
var aliases = map[string][]string{
	"UA": {"Ukraine", "Україна", "Украина", "Ukraina", "Ucrania", "Ukrajina"},
	"PL": {"Poland", "Polska", "Польща", "Польша", "Polen", "Polonia"},
	"MD": {"Moldova", "Republic of Moldova", "Молдова", "Молдавия", "Moldavia"},
	"RO": {"Romania", "România", "Румунія", "Румыния", "Rumänien"},
	"SK": {"Slovakia", "Slovensko", "Словаччина", "Словакия", "Slowakei"},
	"HU": {"Hungary", "Magyarország", "Угорщина", "Венгрия", "Ungarn"},
	"DE": {"Germany", "Deutschland", "Німеччина", "Германия", "Allemagne", "Alemania"},
	"CZ": {"Czechia", "Czech Republic", "Česko", "Чехія", "Чехия", "Tschechien"},
	"LT": {"Lithuania", "Lietuva", "Литва", "Litauen"},
	"LV": {"Latvia", "Latvija", "Латвія", "Латвия", "Lettland"},
	"EE": {"Estonia", "Eesti", "Естонія", "Эстония", "Estland"},
	"GB": {"United Kingdom", "UK", "Great Britain", "Britain", "Велика Британія", "Великобритания"},
	"US": {"United States", "United States of America", "USA", "США", "Сполучені Штати Америки"},
	"FR": {"France", "Франція", "Франция", "Frankreich"},
	"IT": {"Italy", "Italia", "Італія", "Италия", "Italien"},
	"ES": {"Spain", "España", "Іспанія", "Испания", "Spanien"},
	"AT": {"Austria", "Österreich", "Австрія", "Австрия"},
	"UY": {"Uruguay", "Уругвай", "República Oriental del Uruguay"},
	"GE": {"Georgia", "Sakartvelo", "Грузія", "Грузия"},
	"TR": {"Turkey", "Türkiye", "Туреччина", "Турция", "Türkei"},
}

// aliasIndex maps every folded alias (and ISO code) to its ISO code.
var aliasIndex = buildAliasIndex(aliases)

func buildAliasIndex(m map[string][]string) map[string]string {
	idx := make(map[string]string, len(m)*6)

	for iso, names := range m {
		idx[fold(iso)] = iso

		for _, n := range names {
			idx[fold(n)] = iso
		}
	}

	return idx
}

//go:embed countries.yaml
var defaultCountriesYAML []byte

// DefaultCountries returns the embedded registry.
func DefaultCountries() []Country {
	countries, err := ParseCountries(defaultCountriesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded countries registry is invalid: %v", err))
	}

	return countries
}

// LoadCountries reads a registry from a YAML or JSON file.
func LoadCountries(path string) ([]Country, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("reading countries file: %w", err)
	}

	countries, err := ParseCountries(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return countries, nil
}

// ParseCountries decodes a registry. JSON is valid YAML, so both are accepted.
func ParseCountries(data []byte) ([]Country, error) {
	var countries []Country
	if err := yaml.Unmarshal(data, &countries); err != nil {
		return nil, fmt.Errorf("decoding countries: %w", err)
	}

	seen := make(map[int]bool, len(countries))

	for i, c := range countries {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("country #%d has no name", i)
		}

		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate country id %d", c.ID)
		}

		seen[c.ID] = true
	}

	return countries, nil
}

// MatchCountry resolves a raw provider value (name or ISO code, any
// language present in the alias table) against countries. It returns nil
// when nothing matches; callers must not guess.
func MatchCountry(raw string, countries []Country) *Country {
	f := fold(raw)
	if f == "" {
		return nil
	}

	for i := range countries {
		if fold(countries[i].Name) == f || fold(countries[i].ISOCode) == f {
			return &countries[i]
		}
	}

	iso, ok := aliasIndex[f]
	if !ok {
		return nil
	}

	for i := range countries {
		if strings.EqualFold(countries[i].ISOCode, iso) || aliasIndex[fold(countries[i].Name)] == iso {
			return &countries[i]
		}
	}

	return nil
}

// isCountryName reports whether s names a country, either in the registry or
// in the alias table.
func isCountryName(s string, countries []Country) bool {
	if _, ok := aliasIndex[fold(s)]; ok {
		return true
	}

	return MatchCountry(s, countries) != nil
}
