package otel

import (
	"fmt"
	"strconv"
)

func parseRatio(raw string) (float64, error) {
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse sample ratio: %w", err)
	}
	if ratio < 0 {
		return 0, fmt.Errorf("sample ratio must not be negative")
	}
	return ratio, nil
}
