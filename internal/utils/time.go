package utils

import "time"

// NowUTC is swapped in tests that need a fixed clock.
var NowUTC = func() time.Time {
	return time.Now().UTC()
}

// ISOTimestamp formats t as an RFC 3339 UTC timestamp with second precision.
func ISOTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
