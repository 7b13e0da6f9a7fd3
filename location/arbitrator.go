// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package location

// ShouldAccept decides whether candidate may overwrite a field last written
// by existing (nil when the field has no recorded source).
//
// With preserveManualInput a manual value can only be replaced by another
// manual value, whatever the numeric priorities say. Otherwise the candidate
// wins when its priority is at least the existing one, so equal priorities
// behave as last-writer-wins.
func ShouldAccept(existing *Source, candidate Source, preserveManualInput bool) bool {
	if existing == nil {
		return true
	}

	if preserveManualInput && existing.Kind == Manual {
		return candidate.Kind == Manual
	}

	return candidate.Priority() >= existing.Priority()
}
