// Package esmtime normalizes timestamps reported by the ESM platform.
//
// The ESM API returns timestamps in several textual formats and expresses
// timezones with its own zone codes rather than IANA names. This package
// parses the raw strings into instants, maps platform zone codes to
// *time.Location, and separates naive instants from localized ones at the
// type level so that idle-time arithmetic can only be performed on two
// operands expressed in the same zone.
package esmtime

import (
	"fmt"
	"strconv"
	"time"
)

// ParseError indicates a timestamp string that matched none of the known
// ESM formats. Callers treat it as "activity time unknown", never as fatal.
type ParseError struct {
	Raw string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable ESM timestamp %q", e.Raw)
}

// layouts lists the textual formats the ESM API has been observed to emit,
// most common first. Fractional seconds are accepted on any of them.
var layouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"01/02/2006 15:04:05",
	"01/02/2006 3:04:05 PM",
	"2006-01-02",
}

// Instant is a parsed timestamp. Zoned reports whether the raw string
// carried an explicit UTC offset; unzoned instants are wall-clock readings
// in the platform's local time and must be localized before comparison.
type Instant struct {
	t     time.Time
	zoned bool
}

// Wall returns the underlying wall-clock reading.
func (in Instant) Wall() time.Time { return in.t }

// Zoned reports whether the instant carried an explicit offset when parsed.
func (in Instant) Zoned() bool { return in.zoned }

// Parse interprets a raw ESM timestamp string. Epoch seconds and epoch
// milliseconds are accepted alongside the textual layouts.
func Parse(raw string) (Instant, error) {
	if raw == "" {
		return Instant{}, &ParseError{Raw: raw}
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// Heuristic split between epoch seconds and milliseconds:
		// millisecond values for any modern date exceed 1e12.
		if n >= 1_000_000_000_000 {
			return Instant{t: time.UnixMilli(n).UTC(), zoned: true}, nil
		}
		return Instant{t: time.Unix(n, 0).UTC(), zoned: true}, nil
	}

	for i, layout := range layouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		// Only the first layout carries an offset.
		return Instant{t: t, zoned: i == 0}, nil
	}

	return Instant{}, &ParseError{Raw: raw}
}

// zoneTable maps ESM platform zone codes to IANA zone names. The platform
// reports the numeric code of the zone configured on the ESM appliance;
// the table covers the codes seen on deployed systems.
var zoneTable = map[string]string{
	"1":  "Pacific/Honolulu",
	"2":  "America/Anchorage",
	"3":  "America/Los_Angeles",
	"4":  "America/Phoenix",
	"5":  "America/Denver",
	"6":  "America/Chicago",
	"7":  "America/New_York",
	"8":  "America/Halifax",
	"9":  "America/Sao_Paulo",
	"10": "Etc/UTC",
	"11": "Europe/London",
	"12": "Europe/Paris",
	"13": "Europe/Athens",
	"14": "Europe/Moscow",
	"15": "Asia/Dubai",
	"16": "Asia/Karachi",
	"17": "Asia/Kolkata",
	"18": "Asia/Shanghai",
	"19": "Asia/Tokyo",
	"20": "Australia/Sydney",
	"21": "Pacific/Auckland",
}

// ZoneLocation resolves an ESM zone code to a *time.Location. IANA names
// and the usual fixed abbreviations ("UTC", "Local") pass straight through
// to time.LoadLocation.
func ZoneLocation(code string) (*time.Location, error) {
	name := code
	if mapped, ok := zoneTable[code]; ok {
		name = mapped
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("resolve ESM zone code %q: %w", code, err)
	}
	return loc, nil
}

// Localized is an instant expressed in a known zone. It is the only type
// idle-time arithmetic is defined on: a naive Instant cannot be compared
// until it has passed through Localize.
type Localized struct {
	t time.Time
}

// Localize expresses an instant in the given zone. A zoned instant is an
// absolute point in time and is converted; a naive instant is a wall-clock
// reading in the platform's local time and is reinterpreted in loc without
// shifting the clock.
func Localize(in Instant, loc *time.Location) Localized {
	if in.zoned {
		return Localized{t: in.t.In(loc)}
	}
	t := in.t
	return Localized{t: time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)}
}

// FromTime wraps an already-localized time.Time (e.g. one produced by the
// local clock in tests).
func FromTime(t time.Time) Localized { return Localized{t: t} }

// Time returns the underlying time.
func (l Localized) Time() time.Time { return l.t }

// IsZero reports whether the instant is the zero time.
func (l Localized) IsZero() bool { return l.t.IsZero() }

// Sub returns the duration l - other.
func (l Localized) Sub(other Localized) time.Duration { return l.t.Sub(other.t) }

func (l Localized) String() string {
	return l.t.Format("2006-01-02 15:04:05 MST")
}
