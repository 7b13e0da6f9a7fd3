// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jcodagnone/locres/address"
	"github.com/jcodagnone/locres/geocoding"
	"github.com/jcodagnone/locres/spatial"
)

type reverseOutput struct {
	Result     geocoding.Result    `json:"result"`
	Extraction *address.Extraction `json:"extraction"`
}

func parsePoint(latArg, lngArg string) (spatial.Point, error) {
	lat, err := strconv.ParseFloat(latArg, 64)
	if err != nil {
		return spatial.Point{}, fmt.Errorf("invalid latitude %q: %w", latArg, err)
	}

	lng, err := strconv.ParseFloat(lngArg, 64)
	if err != nil {
		return spatial.Point{}, fmt.Errorf("invalid longitude %q: %w", lngArg, err)
	}

	p := spatial.Point{Lat: lat, Lng: lng}

	return p, p.Validate()
}

var reverseCmd = &cobra.Command{
	Use:   "reverse <lat> <lng>",
	Short: "Reverse geocode a point and print the derived fields",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePoint(args[0], args[1])
		if err != nil {
			return err
		}

		env, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}

		res := env.geocoder.ReverseGeocode(cmd.Context(), p.Lat, p.Lng)
		if res.Synthetic {
			fmt.Fprintln(os.Stderr, "⚠️  Every provider failed, showing a placeholder")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(reverseOutput{Result: res, Extraction: address.Extract(&res, env.countries)})
	},
}

func init() {
	rootCmd.AddCommand(reverseCmd)
}
