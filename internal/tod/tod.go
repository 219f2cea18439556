// Package tod implements the fixed-precision time-of-day value used
// throughout the timing core: a wall-clock offset from midnight held in
// integer ticks of 1/10000 s (0.1 ms) to avoid floating point drift.
package tod

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/velotrain/internal/clock"
)

// TicksPerSecond is the fixed-point resolution of a Tod.
const TicksPerSecond = 10000

// Zero is midnight, 00:00:00.0000.
var Zero = Tod{}

// Tod is a signed count of ticks since local midnight. Subtraction between
// two Tod values produces a signed delta of the same type.
type Tod struct {
	ticks int64
}

// FromTicks constructs a Tod directly from a tick count.
func FromTicks(ticks int64) Tod {
	return Tod{ticks: ticks}
}

// FromSeconds constructs a Tod from a whole number of seconds.
func FromSeconds(sec int64) Tod {
	return Tod{ticks: sec * TicksPerSecond}
}

// FromFloatSeconds constructs a Tod from a (possibly fractional) number of
// seconds, rounding to the nearest tick.
func FromFloatSeconds(sec float64) Tod {
	return Tod{ticks: int64(sec*TicksPerSecond + 0.5)}
}

// FromTime converts the local wall-clock component of t (hour/minute/second
// plus sub-second) into a Tod, ignoring the calendar date.
func FromTime(t time.Time) Tod {
	secs := int64(t.Hour())*3600 + int64(t.Minute())*60 + int64(t.Second())
	fracTicks := int64(t.Nanosecond()) / (int64(time.Second) / TicksPerSecond)
	return Tod{ticks: secs*TicksPerSecond + fracTicks}
}

// Now returns the current local time as a Tod, read through clk.
func Now(clk clock.Clock) Tod {
	if clk == nil {
		clk = clock.System
	}
	return FromTime(clk.Now())
}

// Parse decodes one of: "HH:MM:SS.fff", "M:SS.fff", bare seconds, or the
// sentinels "now" and "0". Fields are separated by ':'; a shorter input
// fills from the least significant field (so "1:23.4" is 1m23.4s, not
// 1h23m). Fractional digits are taken verbatim up to 4 digits; further
// digits are dropped and shorter fractions are zero-padded.
func Parse(s string, clk clock.Clock) (Tod, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("tod: empty input")
	}
	if strings.EqualFold(s, "now") {
		return Now(clk), nil
	}
	if s == "0" {
		return Zero, nil
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	fields := strings.Split(s, ":")
	if len(fields) == 0 || len(fields) > 3 {
		return Zero, fmt.Errorf("tod: invalid field count in %q", s)
	}

	secField := fields[len(fields)-1]
	intPart := secField
	fracPart := ""
	if dot := strings.IndexByte(secField, '.'); dot >= 0 {
		intPart = secField[:dot]
		fracPart = secField[dot+1:]
	}
	if len(fracPart) > 4 {
		fracPart = fracPart[:4]
	}
	for len(fracPart) < 4 {
		fracPart += "0"
	}
	fracTicks, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return Zero, fmt.Errorf("tod: invalid fraction in %q: %w", s, err)
	}

	var secs int64
	if intPart != "" {
		secs, err = strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return Zero, fmt.Errorf("tod: invalid seconds in %q: %w", s, err)
		}
	}

	var mins, hours int64
	if len(fields) >= 2 {
		mins, err = strconv.ParseInt(fields[len(fields)-2], 10, 64)
		if err != nil {
			return Zero, fmt.Errorf("tod: invalid minutes in %q: %w", s, err)
		}
	}
	if len(fields) == 3 {
		hours, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return Zero, fmt.Errorf("tod: invalid hours in %q: %w", s, err)
		}
	}

	total := (hours*3600+mins*60+secs)*TicksPerSecond + fracTicks
	if neg {
		total = -total
	}
	return Tod{ticks: total}, nil
}

// Ticks returns the raw tick count.
func (t Tod) Ticks() int64 { return t.ticks }

// Seconds returns the value as floating point seconds.
func (t Tod) Seconds() float64 { return float64(t.ticks) / TicksPerSecond }

// Add returns t+d.
func (t Tod) Add(d Tod) Tod { return Tod{ticks: t.ticks + d.ticks} }

// Sub returns the signed delta t-o.
func (t Tod) Sub(o Tod) Tod { return Tod{ticks: t.ticks - o.ticks} }

// Abs returns the non-negative magnitude of t.
func (t Tod) Abs() Tod {
	if t.ticks < 0 {
		return Tod{ticks: -t.ticks}
	}
	return t
}

// Before reports whether t occurs strictly before o.
func (t Tod) Before(o Tod) bool { return t.ticks < o.ticks }

// After reports whether t occurs strictly after o.
func (t Tod) After(o Tod) bool { return t.ticks > o.ticks }

// Compare returns -1, 0 or 1 as t is less than, equal to, or greater than o.
func (t Tod) Compare(o Tod) int {
	switch {
	case t.ticks < o.ticks:
		return -1
	case t.ticks > o.ticks:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether t is the zero value.
func (t Tod) IsZero() bool { return t.ticks == 0 }

// Truncate rounds t toward zero to the given number of fractional decimal
// places (2 -> centiseconds, 3 -> milliseconds).
func (t Tod) Truncate(places int) Tod {
	div := divisorFor(places)
	return Tod{ticks: (t.ticks / div) * div}
}

func divisorFor(places int) int64 {
	switch places {
	case 3:
		return TicksPerSecond / 1000
	default:
		return TicksPerSecond / 100
	}
}

// Format renders t truncated toward zero at the given precision: 2 places
// is the ".dc" form (hundredths of a second), 3 is ".dcm" (milliseconds).
// Leading zero components larger than a minute are suppressed, so a value
// under a minute prints as "SS.ff" rather than "0:SS.ff".
func (t Tod) Format(places int) string {
	ticks := t.ticks
	neg := ticks < 0
	if neg {
		ticks = -ticks
	}

	div := divisorFor(places)
	ticks = (ticks / div) * div

	totalSec := ticks / TicksPerSecond
	frac := ticks % TicksPerSecond
	hours := totalSec / 3600
	mins := (totalSec / 60) % 60
	secs := totalSec % 60

	var fracStr string
	switch places {
	case 3:
		fracStr = fmt.Sprintf("%03d", frac/(TicksPerSecond/1000))
	default:
		fracStr = fmt.Sprintf("%02d", frac/(TicksPerSecond/100))
	}

	var body string
	switch {
	case hours > 0:
		body = fmt.Sprintf("%d:%02d:%02d.%s", hours, mins, secs, fracStr)
	case mins > 0:
		body = fmt.Sprintf("%d:%02d.%s", mins, secs, fracStr)
	default:
		body = fmt.Sprintf("%d.%s", secs, fracStr)
	}
	if neg {
		body = "-" + body
	}
	return body
}

// String is equivalent to Format(2).
func (t Tod) String() string { return t.Format(2) }
