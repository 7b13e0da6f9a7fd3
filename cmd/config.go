// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/goccy/go-yaml"

	"github.com/jcodagnone/locres/address"
	"github.com/jcodagnone/locres/geocoding"
	"github.com/jcodagnone/locres/geolocation"
	"github.com/jcodagnone/locres/location"
	"github.com/jcodagnone/locres/server"
	"github.com/jcodagnone/locres/spatial"
	"github.com/jcodagnone/locres/store"
)

const dbFile = "locres.duckdb"

// Placeholder labels the synthetic result of an exhausted chain.
type Placeholder struct {
	Country string `yaml:"country"`
	Region  string `yaml:"region"`
}

// Config is the content of the optional configuration file.
type Config struct {
	Language  string                     `yaml:"language"`
	UserAgent string                     `yaml:"user_agent"`
	Providers []geocoding.ProviderConfig `yaml:"providers"`
	// GoogleMaps appends the Google provider when a key can be found.
	GoogleMaps    bool                     `yaml:"google_maps"`
	Pause         time.Duration            `yaml:"pause"`
	Debounce      time.Duration            `yaml:"debounce"`
	Placeholder   Placeholder              `yaml:"placeholder"`
	Cache         geocoding.CacheOptions   `yaml:"cache"`
	CountriesFile string                   `yaml:"countries_file"`
	DBPath        string                   `yaml:"db_path"`
	Listen        string                   `yaml:"listen"`
	SessionTTL    time.Duration            `yaml:"session_ttl"`
	Position      location.PositionOptions `yaml:"position"`
	// IPLocationURL overrides the IP geolocation endpoint.
	IPLocationURL string `yaml:"ip_location_url"`
	// DeviceLocation fixes the device position instead of looking it up.
	DeviceLocation *spatial.Point `yaml:"device_location"`
}

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() *Config {
	return &Config{
		Language:  geocoding.DefaultLanguage,
		UserAgent: fmt.Sprintf("locres/%s (+https://github.com/jcodagnone/locres)", Version),
		Pause:     geocoding.DefaultPause,
		Debounce:  location.DefaultDebounce,
		Placeholder: Placeholder{
			Country: geocoding.DefaultPlaceholderCountry,
			Region:  geocoding.DefaultPlaceholderRegion,
		},
		Cache:      geocoding.DefaultCacheOptions(),
		DBPath:     "db",
		Listen:     "localhost:8080",
		SessionTTL: server.DefaultSessionTTL,
		Position:   location.DefaultPositionOptions(),
	}
}

// LoadConfig reads path over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.DeviceLocation != nil {
		if err := cfg.DeviceLocation.Validate(); err != nil {
			return nil, fmt.Errorf("device_location: %w", err)
		}
	}

	return cfg, nil
}

// applyFlags overrides the configuration with the persistent flags that were
// set on the command line.
func (c *Config) applyFlags(o *rootOptions) {
	if o.DBPath != "" {
		c.DBPath = o.DBPath
	}

	if o.Language != "" {
		c.Language = o.Language
	}

	if o.CountriesPath != "" {
		c.CountriesFile = o.CountriesPath
	}
}

func (c *Config) httpClient(o *rootOptions) (*http.Client, error) {
	var trace io.Writer
	if o.TraceHTTP || o.TraceHTTPBody {
		trace = os.Stderr
	}

	return geocoding.NewHTTPClient(geocoding.HTTPOptions{
		UserAgent:   c.UserAgent,
		Language:    c.Language,
		TraceWriter: trace,
		TraceBody:   o.TraceHTTPBody,
	})
}

// providerConfigs returns the configured chain, filling the language and
// appending Google when enabled and a key is available.
func (c *Config) providerConfigs(ctx context.Context) ([]geocoding.ProviderConfig, error) {
	lang, err := geocoding.ParseLanguage(c.Language)
	if err != nil {
		return nil, err
	}

	cfgs := c.Providers
	if len(cfgs) == 0 {
		cfgs = geocoding.DefaultProviders(lang)
	}

	for i := range cfgs {
		if cfgs[i].Language == "" {
			cfgs[i].Language = lang
		}
	}

	if c.GoogleMaps {
		key, err := geocoding.GoogleAPIKey(ctx)

		switch {
		case err != nil:
			log.Printf("⚠️ Google Maps disabled: %v", err)
		case key == "":
			log.Printf("⚠️ Google Maps disabled: no api key")
		default:
			cfgs = append(cfgs, geocoding.ProviderConfig{
				Kind:     geocoding.KindGoogleMaps,
				BaseURL:  geocoding.GoogleMapsURL,
				Timeout:  5 * time.Second,
				Language: lang,
				APIKey:   key,
			})
		}
	}

	return cfgs, nil
}

// geocoder builds the cached provider chain.
func (c *Config) geocoder(ctx context.Context, client *http.Client) (*geocoding.Cache, error) {
	cfgs, err := c.providerConfigs(ctx)
	if err != nil {
		return nil, err
	}

	providers, err := geocoding.NewProviders(cfgs)
	if err != nil {
		return nil, err
	}

	chain := geocoding.NewChain(providers,
		geocoding.WithHTTPClient(client),
		geocoding.WithPause(c.Pause),
		geocoding.WithPlaceholder(c.Placeholder.Country, c.Placeholder.Region),
	)

	log.Printf("📍 Geocoding chain: %v", chain.Providers())

	return geocoding.NewCache(chain, c.Cache), nil
}

func (c *Config) countries() ([]address.Country, error) {
	if c.CountriesFile == "" {
		return address.DefaultCountries(), nil
	}

	return address.LoadCountries(c.CountriesFile)
}

func (c *Config) gateway(client *http.Client) location.Gateway {
	if c.DeviceLocation != nil {
		return geolocation.NewStaticGateway(*c.DeviceLocation)
	}

	return geolocation.NewIPGateway(c.IPLocationURL, client)
}

// openRepository opens (creating if needed) the DuckDB database under DBPath.
func (c *Config) openRepository() (*sql.DB, store.Repository, error) {
	if err := os.MkdirAll(c.DBPath, 0o750); err != nil {
		return nil, nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("duckdb", filepath.Join(c.DBPath, dbFile))
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	repo := store.NewRepository(db)
	if err := repo.CreateSchema(); err != nil {
		db.Close()

		return nil, nil, fmt.Errorf("creating schema: %w", err)
	}

	return db, repo, nil
}

// env is everything a command needs, built from the configuration.
type env struct {
	cfg       *Config
	client    *http.Client
	geocoder  *geocoding.Cache
	countries []address.Country
}

func newEnv(ctx context.Context) (*env, error) {
	cfg, err := LoadConfig(rootOpts.ConfigPath)
	if err != nil {
		return nil, err
	}

	cfg.applyFlags(rootOpts)

	client, err := cfg.httpClient(rootOpts)
	if err != nil {
		return nil, err
	}

	geocoder, err := cfg.geocoder(ctx, client)
	if err != nil {
		return nil, err
	}

	countries, err := cfg.countries()
	if err != nil {
		return nil, fmt.Errorf("loading countries: %w", err)
	}

	return &env{cfg: cfg, client: client, geocoder: geocoder, countries: countries}, nil
}
