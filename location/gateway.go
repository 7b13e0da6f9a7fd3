// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"context"
	"fmt"
	"time"
)

// Position is a one-shot device fix.
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"` // meters, 0 when unknown
	Timestamp time.Time `json:"timestamp"`
}

// PositionOptions are passed through to the gateway.
type PositionOptions struct {
	HighAccuracy bool          `json:"highAccuracy" yaml:"high_accuracy"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	// MaximumAge is the age of a cached fix the caller is willing to accept.
	MaximumAge time.Duration `json:"maximumAge" yaml:"maximum_age"`
}

// DefaultPositionOptions returns the options used by RequestBrowserLocation.
func DefaultPositionOptions() PositionOptions {
	return PositionOptions{HighAccuracy: true, Timeout: 10 * time.Second, MaximumAge: 5 * time.Minute}
}

// PositionErrorCode classifies gateway failures.
type PositionErrorCode int

// Gateway failure codes.
const (
	PermissionDenied PositionErrorCode = iota + 1
	PositionUnavailable
	Timeout
)

func (c PositionErrorCode) String() string {
	switch c {
	case PermissionDenied:
		return "permission denied"
	case PositionUnavailable:
		return "position unavailable"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("PositionErrorCode(%d)", int(c))
	}
}

// PositionError is the typed failure of a Gateway.
type PositionError struct {
	Code    PositionErrorCode
	Message string
	Err     error
}

func (e *PositionError) Error() string {
	msg := e.Code.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *PositionError) Unwrap() error {
	return e.Err
}

// Gateway requests a one-shot position fix from the device.
type Gateway interface {
	CurrentPosition(ctx context.Context, opts PositionOptions) (Position, error)
}
