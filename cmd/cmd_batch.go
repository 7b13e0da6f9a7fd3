// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/jcodagnone/locres/batch"
	"github.com/jcodagnone/locres/store"
)

type batchOptions struct {
	Workers int
	DryRun  bool
}

var batchOpts = batchOptions{}

var batchCmd = &cobra.Command{
	Use:   "batch <file.csv>",
	Short: "Resolve every lat,lng[,locality] line of a CSV file and store the results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		rows, err := batch.ReadRows(f)
		if err != nil {
			return err
		}

		env, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}

		r := &batch.Resolver{
			Geocoder:  env.geocoder,
			Countries: env.countries,
			Workers:   batchOpts.Workers,
			Progress:  true,
		}

		outcomes := r.Resolve(cmd.Context(), rows)

		locs := make([]*store.ResolvedLocation, 0, len(outcomes))
		for _, o := range outcomes {
			if o.Location != nil {
				locs = append(locs, o.Location)
			}
		}

		if batchOpts.DryRun {
			enc := json.NewEncoder(os.Stdout)
			for _, loc := range locs {
				if err := enc.Encode(loc); err != nil {
					return err
				}
			}
		} else {
			db, repo, err := env.cfg.openRepository()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repo.SaveAll(locs); err != nil {
				return fmt.Errorf("saving locations: %w", err)
			}

			log.Printf("Saved %d locations to %s", len(locs), env.cfg.DBPath)
		}

		m := r.Metrics
		p := printer()
		fmt.Fprintln(os.Stderr, p.Sprintf("✅ %d rows: %d resolved, %d without a known country, %d placeholders, %d failed",
			len(rows), m.Resolved, m.Unmatched, m.Synthetic, m.Failed))

		if m.Failed > 0 {
			return fmt.Errorf("%d rows failed", m.Failed)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().IntVar(&batchOpts.Workers, "workers", 1, "Concurrent sessions; providers are rate limited, so keep it low")
	batchCmd.Flags().BoolVar(&batchOpts.DryRun, "dry-run", false, "Print the resolved locations as JSON lines instead of saving them")
}
