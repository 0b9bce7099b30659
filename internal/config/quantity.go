package config

import (
	"fmt"
	"strconv"
	"strings"
)

// siSuffixes maps decimal (SI) byte-size suffixes to their multiplier.
// Order matters: longer suffixes must be checked before their prefixes
// ("Ki" before "K") so ParseQuantity doesn't strip the wrong one.
var siSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"E", 1_000_000_000_000_000_000},
	{"P", 1_000_000_000_000_000},
	{"T", 1_000_000_000_000},
	{"G", 1_000_000_000},
	{"M", 1_000_000},
	{"k", 1_000},
}

var binarySuffixes = []struct {
	suffix string
	mult   int64
}{
	{"Ei", 1 << 60},
	{"Pi", 1 << 50},
	{"Ti", 1 << 40},
	{"Gi", 1 << 30},
	{"Mi", 1 << 20},
	{"Ki", 1 << 10},
}

// ParseQuantity parses a byte-size string accepting both SI suffixes
// (k, M, G, T, P, E; base 1000) and binary suffixes (Ki, Mi, Gi, Ti, Pi,
// Ei; base 1024), matching spec.md's quantity grammar. A trailing "B" is
// accepted and ignored ("8MiB", "8Mi", and "8000000" all parse). Plain
// integers with no suffix are bytes. An unrecognized suffix fails fast
// rather than silently falling back to bytes, per spec.md's "invalid
// suffixes fail fast".
//
// This generalizes the ParseBytes helper of the project this module was
// adapted from (not part of this module), which only recognized the
// single-letter binary suffixes (K/M/G/T/P, always base 1024) and had no SI
// table.
func ParseQuantity(s string) (int64, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("config: empty quantity %q", raw)
	}
	s = strings.TrimSuffix(s, "B")

	for _, e := range binarySuffixes {
		if strings.HasSuffix(s, e.suffix) {
			return parseQuantityNum(raw, strings.TrimSuffix(s, e.suffix), e.mult)
		}
	}
	for _, e := range siSuffixes {
		if strings.HasSuffix(s, e.suffix) {
			return parseQuantityNum(raw, strings.TrimSuffix(s, e.suffix), e.mult)
		}
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid quantity %q: unrecognized suffix", raw)
	}
	return int64(n), nil
}

func parseQuantityNum(raw, numPart string, mult int64) (int64, error) {
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid quantity %q: %w", raw, err)
	}
	return int64(n * float64(mult)), nil
}
