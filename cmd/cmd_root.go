// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type logWriter struct {
	writer io.Writer
}

func (w *logWriter) Write(bytes []byte) (int, error) {
	return fmt.Fprintf(w.writer, "%s %s", time.Now().Format("2006-01-02 15:04:05"), string(bytes))
}

func init() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{writer: os.Stderr})
}

type rootOptions struct {
	ConfigPath    string
	DBPath        string
	Language      string
	CountriesPath string
	TraceHTTP     bool
	TraceHTTPBody bool
}

var rootOpts = &rootOptions{}

var rootCmd = &cobra.Command{
	Use:   "locres",
	Short: "resolve coordinates into administrative locations",
	Long: `
locres turns coordinates coming from manual input, map clicks or the device
position into a country, region, community and locality, arbitrating between
sources by trust and reverse geocoding through a chain of providers.
`,
	SilenceUsage: true,
}

var Version = "dev"

func Execute(version string) {
	Version = version

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// printer formats numbers for human output in the configured language.
func printer() *message.Printer {
	tag, err := language.Parse(rootOpts.Language)
	if err != nil || rootOpts.Language == "" {
		tag = language.English
	}

	return message.NewPrinter(tag)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootOpts.ConfigPath, "config", "", "YAML configuration file")
	flags.StringVar(&rootOpts.DBPath, "db-path", "", "Directory holding the DuckDB database (default \"db\")")
	flags.StringVar(&rootOpts.Language, "lang", "", "Preferred language of geocoding results, as a BCP 47 tag (default \"uk\")")
	flags.StringVar(&rootOpts.CountriesPath, "countries", "", "YAML or JSON country registry replacing the built-in one")
	flags.BoolVar(&rootOpts.TraceHTTP, "trace-http", false, "Dump provider requests and responses to stderr")
	flags.BoolVar(&rootOpts.TraceHTTPBody, "trace-http-body", false, "Include bodies in the HTTP dump")
}
