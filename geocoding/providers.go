// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Provider is one reverse-geocoding service in the chain. Each provider
// carries its own URL builder and response parser, so payload differences
// never leak into the chain.
type Provider struct {
	Name     string
	BuildURL func(lat, lng float64) string
	Timeout  time.Duration
	// Parse returns nil when the payload holds nothing usable, and an error
	// when it cannot be decoded at all.
	Parse func(body []byte) (*Result, error)
}

// ProviderConfig describes a provider entry, usually read from the
// configuration file.
type ProviderConfig struct {
	Kind     string        `yaml:"kind" json:"kind"`
	Name     string        `yaml:"name" json:"name"`
	BaseURL  string        `yaml:"base_url" json:"base_url"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	Language string        `yaml:"language" json:"language"`
	APIKey   string        `yaml:"api_key" json:"-"`
}

// Provider kinds understood by NewProvider.
const (
	KindNominatim    = "nominatim"
	KindPhoton       = "photon"
	KindBigDataCloud = "bigdatacloud"
	KindGoogleMaps   = "google_maps"
)

// Default endpoints.
const (
	NominatimURL    = "https://nominatim.openstreetmap.org/reverse"
	PhotonURL       = "https://photon.komoot.io/reverse"
	BigDataCloudURL = "https://api.bigdatacloud.net/data/reverse-geocode-client"
	GoogleMapsURL   = "https://maps.googleapis.com/maps/api/geocode/json"
)

// DefaultProviders is the keyless chain: primary first, mirrors after, the
// slowest and least trusted last.
func DefaultProviders(language string) []ProviderConfig {
	return []ProviderConfig{
		{Kind: KindNominatim, Name: "nominatim", BaseURL: NominatimURL, Timeout: 5 * time.Second, Language: language},
		{Kind: KindPhoton, Name: "photon", BaseURL: PhotonURL, Timeout: 4 * time.Second, Language: language},
		{Kind: KindBigDataCloud, Name: "bigdatacloud", BaseURL: BigDataCloudURL, Timeout: 8 * time.Second, Language: language},
	}
}

// NewProvider builds a Provider from its configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Name == "" {
		cfg.Name = cfg.Kind
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	switch cfg.Kind {
	case KindNominatim:
		return nominatimProvider(cfg), nil
	case KindPhoton:
		return photonProvider(cfg), nil
	case KindBigDataCloud:
		return bigDataCloudProvider(cfg), nil
	case KindGoogleMaps:
		if cfg.APIKey == "" {
			return Provider{}, fmt.Errorf("provider %s: google maps requires an api key", cfg.Name)
		}

		return googleMapsProvider(cfg), nil
	default:
		return Provider{}, fmt.Errorf("provider %s: unknown kind %q", cfg.Name, cfg.Kind)
	}
}

// NewProviders builds every configured provider, keeping the order.
func NewProviders(cfgs []ProviderConfig) ([]Provider, error) {
	providers := make([]Provider, 0, len(cfgs))

	for _, cfg := range cfgs {
		p, err := NewProvider(cfg)
		if err != nil {
			return nil, err
		}

		providers = append(providers, p)
	}

	return providers, nil
}

func withBase(base, fallback string, params url.Values) string {
	if base == "" {
		base = fallback
	}

	return base + "?" + params.Encode()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 7, 64)
}

/////////////////////////////////////////
/// Nominatim: flat address object

type nominatimResponse struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

func nominatimProvider(cfg ProviderConfig) Provider {
	return Provider{
		Name:    cfg.Name,
		Timeout: cfg.Timeout,
		BuildURL: func(lat, lng float64) string {
			params := url.Values{}
			params.Set("format", "jsonv2")
			params.Set("lat", formatCoord(lat))
			params.Set("lon", formatCoord(lng))
			params.Set("addressdetails", "1")
			params.Set("zoom", "14")

			if cfg.Language != "" {
				params.Set("accept-language", cfg.Language)
			}

			return withBase(cfg.BaseURL, NominatimURL, params)
		},
		Parse: parseNominatim,
	}
}

func parseNominatim(body []byte) (*Result, error) {
	var resp nominatimResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding nominatim response: %w", err)
	}

	if resp.Error != "" {
		return nil, nil
	}

	address := make(map[string]string, len(resp.Address))
	for k, v := range resp.Address {
		setIfNotEmpty(address, k, v)
	}

	// nominatim uses lowercase iso codes
	if cc, ok := address[KeyCountryCode]; ok {
		address[KeyCountryCode] = strings.ToUpper(cc)
	}

	return &Result{Address: address, DisplayName: strings.TrimSpace(resp.DisplayName)}, nil
}

/////////////////////////////////////////
/// Photon: GeoJSON feature collection

type photonResponse struct {
	Features []struct {
		Properties struct {
			Name        string `json:"name"`
			Street      string `json:"street"`
			HouseNumber string `json:"housenumber"`
			Postcode    string `json:"postcode"`
			Locality    string `json:"locality"`
			District    string `json:"district"`
			City        string `json:"city"`
			County      string `json:"county"`
			State       string `json:"state"`
			Country     string `json:"country"`
			CountryCode string `json:"countrycode"`
			Type        string `json:"type"`
		} `json:"properties"`
	} `json:"features"`
}

func photonProvider(cfg ProviderConfig) Provider {
	return Provider{
		Name:    cfg.Name,
		Timeout: cfg.Timeout,
		BuildURL: func(lat, lng float64) string {
			params := url.Values{}
			params.Set("lat", formatCoord(lat))
			params.Set("lon", formatCoord(lng))
			params.Set("limit", "1")

			if cfg.Language != "" {
				params.Set("lang", cfg.Language)
			}

			return withBase(cfg.BaseURL, PhotonURL, params)
		},
		Parse: parsePhoton,
	}
}

func parsePhoton(body []byte) (*Result, error) {
	var resp photonResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding photon response: %w", err)
	}

	if len(resp.Features) == 0 {
		return nil, nil
	}

	p := resp.Features[0].Properties
	address := make(map[string]string)

	setIfNotEmpty(address, KeyRoad, p.Street)
	setIfNotEmpty(address, KeyHouseNumber, p.HouseNumber)
	setIfNotEmpty(address, KeyPostcode, p.Postcode)
	setIfNotEmpty(address, KeyLocality, p.Locality)
	setIfNotEmpty(address, KeyCityDistrict, p.District)
	setIfNotEmpty(address, KeyCity, p.City)
	setIfNotEmpty(address, KeyCounty, p.County)
	setIfNotEmpty(address, KeyState, p.State)
	setIfNotEmpty(address, KeyCountry, p.Country)
	setIfNotEmpty(address, KeyCountryCode, strings.ToUpper(p.CountryCode))

	// a feature of type city names the city itself
	if p.Type == "city" && address[KeyCity] == "" {
		setIfNotEmpty(address, KeyCity, p.Name)
	}

	parts := make([]string, 0, 6)
	for _, v := range []string{p.Name, p.Street, p.HouseNumber, p.City, p.State, p.Country} {
		if v = strings.TrimSpace(v); v != "" && !slices.Contains(parts, v) {
			parts = append(parts, v)
		}
	}

	return &Result{Address: address, DisplayName: strings.Join(parts, ", ")}, nil
}

/////////////////////////////////////////
/// BigDataCloud: flat client payload

type bigDataCloudResponse struct {
	CountryName          string `json:"countryName"`
	CountryCode          string `json:"countryCode"`
	PrincipalSubdivision string `json:"principalSubdivision"`
	City                 string `json:"city"`
	Locality             string `json:"locality"`
}

func bigDataCloudProvider(cfg ProviderConfig) Provider {
	return Provider{
		Name:    cfg.Name,
		Timeout: cfg.Timeout,
		BuildURL: func(lat, lng float64) string {
			params := url.Values{}
			params.Set("latitude", formatCoord(lat))
			params.Set("longitude", formatCoord(lng))

			if cfg.Language != "" {
				params.Set("localityLanguage", cfg.Language)
			}

			return withBase(cfg.BaseURL, BigDataCloudURL, params)
		},
		Parse: parseBigDataCloud,
	}
}

func parseBigDataCloud(body []byte) (*Result, error) {
	var resp bigDataCloudResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding bigdatacloud response: %w", err)
	}

	address := make(map[string]string)
	setIfNotEmpty(address, KeyCity, resp.City)
	setIfNotEmpty(address, KeyLocality, resp.Locality)
	setIfNotEmpty(address, KeyState, resp.PrincipalSubdivision)
	setIfNotEmpty(address, KeyCountry, resp.CountryName)
	setIfNotEmpty(address, KeyCountryCode, strings.ToUpper(resp.CountryCode))

	parts := make([]string, 0, 3)
	for _, v := range []string{resp.City, resp.PrincipalSubdivision, resp.CountryName} {
		if v = strings.TrimSpace(v); v != "" && !slices.Contains(parts, v) {
			parts = append(parts, v)
		}
	}

	if len(address) == 0 {
		return nil, nil
	}

	return &Result{Address: address, DisplayName: strings.Join(parts, ", ")}, nil
}

/////////////////////////////////////////
/// Google Maps: address components

type googleMapsResponse struct {
	Results []struct {
		AddressComponents []struct {
			LongName  string   `json:"long_name"`
			ShortName string   `json:"short_name"`
			Types     []string `json:"types"`
		} `json:"address_components"`
		FormattedAddress string `json:"formatted_address"`
	} `json:"results"`
	Status       string `json:"status"` // OK, ZERO_RESULTS, OVER_QUERY_LIMIT, etc.
	ErrorMessage string `json:"error_message"`
}

// googleComponentKeys maps address component types to normalized keys.
var googleComponentKeys = map[string]string{
	"locality":                    KeyCity,
	"postal_town":                 KeyTown,
	"sublocality":                 KeySuburb,
	"sublocality_level_1":         KeyCityDistrict,
	"neighborhood":                KeySuburb,
	"administrative_area_level_1": KeyState,
	"administrative_area_level_2": KeyCounty,
	"administrative_area_level_3": KeyMunicipality,
	"country":                     KeyCountry,
	"route":                       KeyRoad,
	"street_number":               KeyHouseNumber,
	"postal_code":                 KeyPostcode,
}

func googleMapsProvider(cfg ProviderConfig) Provider {
	return Provider{
		Name:    cfg.Name,
		Timeout: cfg.Timeout,
		BuildURL: func(lat, lng float64) string {
			params := url.Values{}
			params.Set("latlng", formatCoord(lat)+","+formatCoord(lng))
			params.Set("key", cfg.APIKey)

			if cfg.Language != "" {
				params.Set("language", cfg.Language)
			}

			return withBase(cfg.BaseURL, GoogleMapsURL, params)
		},
		Parse: parseGoogleMaps,
	}
}

func parseGoogleMaps(body []byte) (*Result, error) {
	var resp googleMapsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding google maps response: %w", err)
	}

	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, nil
	case "OVER_QUERY_LIMIT", "REQUEST_DENIED":
		return nil, &GeocodingError{
			Type:    ErrorTypeQuotaExceeded,
			Message: "google maps status: " + resp.Status,
		}
	default:
		return nil, &GeocodingError{
			Type:    ErrorTypeUnknown,
			Message: fmt.Sprintf("google maps status: %s %s", resp.Status, resp.ErrorMessage),
		}
	}

	if len(resp.Results) == 0 {
		return nil, nil
	}

	result := resp.Results[0]
	address := make(map[string]string)

	for _, comp := range result.AddressComponents {
		for _, typ := range comp.Types {
			key, ok := googleComponentKeys[typ]
			if !ok {
				continue
			}

			if _, seen := address[key]; !seen {
				setIfNotEmpty(address, key, comp.LongName)
			}

			if typ == "country" {
				setIfNotEmpty(address, KeyCountryCode, strings.ToUpper(comp.ShortName))
			}
		}
	}

	return &Result{Address: address, DisplayName: strings.TrimSpace(result.FormattedAddress)}, nil
}
