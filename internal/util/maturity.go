// Package util provides small shared conversions for dates and maturities.
package util

import (
	"fmt"
	"strings"
	"time"
)

// ParseDate parses a YYYYMMDD date into a UTC midnight time.
func ParseDate(yyyymmdd string) (time.Time, error) {
	t, err := time.ParseInLocation("20060102", yyyymmdd, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", yyyymmdd, err)
	}
	return t, nil
}

// FormatDate renders a time as YYYYMMDD.
func FormatDate(t time.Time) string {
	return t.UTC().Format("20060102")
}

// Maturity renders a contract month as YYYYMM.
func Maturity(t time.Time) string {
	return t.UTC().Format("200601")
}

// MaturityDisplay converts an internal YYYYMM maturity to the broker's
// display form, e.g. "201711" → "NOV-17".
func MaturityDisplay(yyyymm string) (string, error) {
	t, err := time.ParseInLocation("200601", yyyymm, time.UTC)
	if err != nil {
		return "", fmt.Errorf("parsing maturity %q: %w", yyyymm, err)
	}
	return strings.ToUpper(t.Format("Jan-06")), nil
}
