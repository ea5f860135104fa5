// Package vin resolves a VIN into vehicle identity metadata via an external
// decode service. Caching of decode results belongs to that service, not here.
package vin

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when the decode source reports the VIN as invalid
// or unknown.
var ErrNotFound = errors.New("vehicle not found")

// ErrMalformed is returned for a VIN that fails shape validation.
var ErrMalformed = errors.New("malformed VIN")

// Identity is the decoded vehicle metadata for one VIN. Created once per
// lookup and never mutated.
type Identity struct {
	VIN       string `json:"vin"`
	Year      int    `json:"year"`
	Make      string `json:"make"`
	Model     string `json:"model"`
	Trim      string `json:"trim,omitempty"`
	BodyStyle string `json:"body_style,omitempty"`
}

// Pattern returns the 11-character VIN prefix distributors use as a
// cache/match key.
func (id Identity) Pattern() string {
	if len(id.VIN) < 11 {
		return id.VIN
	}
	return id.VIN[:11]
}

// Normalize trims and upper-cases a raw VIN and verifies its shape.
// Checksum correctness is delegated to the decode source.
func Normalize(raw string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	if len(v) != 17 {
		return "", fmt.Errorf("%w %q: want 17 characters, got %d", ErrMalformed, v, len(v))
	}
	for _, r := range v {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return "", fmt.Errorf("%w %q: invalid character %q", ErrMalformed, v, r)
		}
	}
	return v, nil
}

// Decoder resolves a normalized VIN to an Identity. The second return value
// reports whether the decode source answered from its cache.
type Decoder interface {
	Decode(ctx context.Context, vin string) (Identity, bool, error)
}
