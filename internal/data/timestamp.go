package data

import (
	"fmt"
	"time"
)

// Timestamps are stored as uint64 with a fixed +2^63 offset applied to
// the unix epoch seconds. Unsigned arithmetic on the wrapped values then
// behaves like signed arithmetic on the originals, so deltas and
// comparisons stay correct across the whole range.

const timestampOffset = uint64(1) << 63

// WrapToU64 converts unix epoch seconds to the wrapped representation.
func WrapToU64(x int64) uint64 {
	return uint64(x) + timestampOffset
}

// WrapToI64 converts the wrapped representation back to epoch seconds.
func WrapToI64(x uint64) int64 {
	return int64(x - timestampOffset)
}

// U64Subtraction returns a-b as a signed delta, valid even when b > a.
func U64Subtraction(a, b uint64) int64 {
	return int64(a - b)
}

// DateStringToU64 parses "YYYY-MM-DD" or "YYYY-MM-DD HH:MM:SS" into the
// wrapped timestamp representation.
func DateStringToU64(s string) (uint64, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return WrapToU64(t.UTC().Unix()), nil
		}
	}
	return 0, fmt.Errorf("cannot parse date '%s'", s)
}

// U64ToDateString formats a wrapped timestamp as "YYYY-MM-DD".
func U64ToDateString(value uint64) string {
	return time.Unix(WrapToI64(value), 0).UTC().Format("2006-01-02")
}

// U64ToDateTimeString formats a wrapped timestamp, using the short date
// form when the time of day is midnight.
func U64ToDateTimeString(value uint64) string {
	t := time.Unix(WrapToI64(value), 0).UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04:05")
}
