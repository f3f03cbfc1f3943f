package domain

import (
	"time"

	"github.com/google/uuid"
)

// TimestampLayout renders UTC instants as ISO-8601 with microsecond precision and a Z suffix.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Clock supplies creation timestamps. Tests inject fixed clocks.
type Clock func() time.Time

// IDGenerator supplies globally unique snapshot identifiers.
type IDGenerator func() string

// Now returns the current time in UTC, truncated to microseconds.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NewID returns a random (version 4) UUID string.
func NewID() string {
	return uuid.NewString()
}

// FormatTimestamp renders t in TimestampLayout after converting it to UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
