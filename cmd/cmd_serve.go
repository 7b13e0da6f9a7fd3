// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jcodagnone/locres/server"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the location session HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := newEnv(ctx)
		if err != nil {
			return err
		}

		db, repo, err := env.cfg.openRepository()
		if err != nil {
			return err
		}
		defer db.Close()

		listen := env.cfg.Listen
		if serveListen != "" {
			listen = serveListen
		}

		srv := server.NewServer(ctx, env.geocoder, env.countries, env.cfg.gateway(env.client), repo, server.Config{
			Addr:            listen,
			Debounce:        env.cfg.Debounce,
			PositionOptions: env.cfg.Position,
			SessionTTL:      env.cfg.SessionTTL,
		})

		fmt.Println("🗺️  Location API starting...")
		fmt.Printf("📍 Sessions at http://%s/api/sessions\n", listen)

		if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		hits, misses := env.geocoder.Stats()
		fmt.Println(printer().Sprintf("✅ Stopped. Geocoding cache: %d hits, %d misses", hits, misses))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default \"localhost:8080\")")
}
