// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var countriesCmd = &cobra.Command{
	Use:   "countries",
	Short: "List the country registry used to match geocoding results",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := LoadConfig(rootOpts.ConfigPath)
		if err != nil {
			return err
		}

		cfg.applyFlags(rootOpts)

		countries, err := cfg.countries()
		if err != nil {
			return err
		}

		a, b, c, d := strings.Repeat("─", 3), strings.Repeat("─", 24), strings.Repeat("─", 3), strings.Repeat("─", 21)
		fmt.Printf("╭─%3s─┬─%-24s─┬─%3s─┬─%-21s─╮\n", a, b, c, d)
		fmt.Printf("│ %3s │ %-24s │ %3s │ %-21s │\n", "Id", "Name", "ISO", "Center")
		fmt.Printf("├─%3s─┼─%-24s─┼─%3s─┼─%-21s─┤\n", a, b, c, d)

		for _, country := range countries {
			center := ""
			if country.Latitude != nil && country.Longitude != nil {
				center = fmt.Sprintf("%.4f, %.4f", *country.Latitude, *country.Longitude)
			}

			fmt.Printf("│ %3d │ %-24s │ %3s │ %-21s │\n", country.ID, country.Name, country.ISOCode, center)
		}

		fmt.Printf("╰─%3s─┴─%-24s─┴─%3s─┴─%-21s─╯\n", a, b, c, d)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(countriesCmd)
}
