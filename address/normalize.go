// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package address

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold normalizes a string by removing diacritics, lowercasing, and trimming
// spaces, so "Україна", "УКРАЇНА" and " україна " compare equal.
func fold(s string) string {
	s, _, _ = transform.String(
		transform.Chain(
			norm.NFD,
			runes.Remove(runes.In(unicode.Mn)),
			norm.NFC,
		),
		strings.TrimSpace(strings.ToLower(s)),
	)

	return s
}

// sameText reports whether a and b are equal after folding.
func sameText(a, b string) bool {
	return fold(a) == fold(b)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
