// Package util contains misc internal utilities.
package util

import (
	"strconv"
	"strings"
	"time"
)

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// AllElementsNumbers is true when every rune of s is a digit or a decimal
// point, e.g. "2.5" but not "2.5ms"
func AllElementsNumbers(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

// Clamp limits input to [low, high]
func Clamp(input, low, high float64) float64 {
	if input < low {
		return low
	}
	if input > high {
		return high
	}
	return input
}

// SecsToDuration converts a float64 number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * 1e9)
}

// MsToDuration converts a float64 number of milliseconds to a time.Duration
func MsToDuration(ms float64) time.Duration {
	return time.Duration(ms * 1e6)
}

// DurationToMs is the inverse of MsToDuration
func DurationToMs(d time.Duration) float64 {
	return float64(d) / 1e6
}
