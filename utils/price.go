package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Price is an amount in minor currency units plus an ISO currency code.
// Handlers should carry this end-to-end instead of reconstructing amounts
// from display strings.
type Price struct {
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
}

// ParseDisplayPrice converts a legacy display price such as "$19.99/mes" or
// "$5/mes" into minor currency units (1999, 500). Older clients still send
// this form; new clients send a structured Price instead.
func ParseDisplayPrice(display string) (int64, error) {
	s := strings.TrimSpace(display)
	s = strings.TrimPrefix(s, "$")
	if idx := strings.Index(s, "/"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty price %q", display)
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %v", display, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("price must be positive, got %q", display)
	}

	return int64(math.Round(value * 100)), nil
}
