package tod

import (
	"testing"
	"time"

	"github.com/signalsfoundry/velotrain/internal/clock"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantTicks int64
		wantErr   bool
	}{
		{name: "full hms", in: "12:00:18.000", wantTicks: (12*3600 + 18) * TicksPerSecond},
		{name: "minutes seconds fills from lsb", in: "1:23.4", wantTicks: (83 * TicksPerSecond) + 4000},
		{name: "bare seconds", in: "18", wantTicks: 18 * TicksPerSecond},
		{name: "bare seconds with fraction", in: "18.51", wantTicks: 18*TicksPerSecond + 5100},
		{name: "zero sentinel", in: "0", wantTicks: 0},
		{name: "fraction truncated beyond four digits", in: "1.123456", wantTicks: 1*TicksPerSecond + 1234},
		{name: "fraction padded", in: "1.5", wantTicks: 1*TicksPerSecond + 5000},
		{name: "too many fields", in: "1:2:3:4", wantErr: true},
		{name: "bad seconds", in: "1:xx", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.in, nil)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Ticks() != tc.wantTicks {
				t.Errorf("Parse(%q) ticks = %d, want %d", tc.in, got.Ticks(), tc.wantTicks)
			}
		})
	}
}

func TestParseNowUsesClock(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 13, 30, 0, 0, time.UTC)
	vc := clock.NewVirtual(fixed)
	got, err := Parse("now", vc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := FromTime(fixed)
	if got != want {
		t.Errorf("Parse(now) = %v, want %v", got, want)
	}
}

func TestSubProducesSignedDelta(t *testing.T) {
	a, _ := Parse("12:00:18.000", nil)
	b, _ := Parse("12:00:00.000", nil)
	d := a.Sub(b)
	if d.Seconds() != 18 {
		t.Errorf("delta seconds = %v, want 18", d.Seconds())
	}
	neg := b.Sub(a)
	if neg.Seconds() != -18 {
		t.Errorf("negative delta seconds = %v, want -18", neg.Seconds())
	}
}

func TestFormatSuppressesLeadingZeroComponents(t *testing.T) {
	tests := []struct {
		ticks int64
		want  string
	}{
		{ticks: 18 * TicksPerSecond, want: "18.00"},
		{ticks: (2*60 + 10) * TicksPerSecond, want: "2:10.00"},
		{ticks: (2*60+10)*TicksPerSecond + 5100, want: "2:10.51"},
		{ticks: (3600 + 2*60 + 10) * TicksPerSecond, want: "1:02:10.00"},
	}
	for _, tc := range tests {
		got := FromTicks(tc.ticks).Format(2)
		if got != tc.want {
			t.Errorf("Format(%d) = %q, want %q", tc.ticks, got, tc.want)
		}
	}
}

func TestFormatMillisecondPrecision(t *testing.T) {
	got := FromTicks(18*TicksPerSecond + 1234).Format(3)
	if got != "18.123" {
		t.Errorf("Format(3) = %q, want 18.123", got)
	}
}

func TestFormatNegative(t *testing.T) {
	got := FromTicks(-(18 * TicksPerSecond)).Format(2)
	if got != "-18.00" {
		t.Errorf("Format of negative = %q, want -18.00", got)
	}
}

func TestTruncateTowardZero(t *testing.T) {
	tod := FromTicks(18*TicksPerSecond + 9999)
	got := tod.Truncate(2)
	want := FromTicks(18*TicksPerSecond + 9900)
	if got != want {
		t.Errorf("Truncate(2) = %v, want %v", got, want)
	}
}

func TestCompareOrdering(t *testing.T) {
	a := FromSeconds(1)
	b := FromSeconds(2)
	if a.Compare(b) != -1 || b.Compare(a) != 1 || a.Compare(a) != 0 {
		t.Errorf("Compare ordering incorrect")
	}
	if !a.Before(b) || !b.After(a) {
		t.Errorf("Before/After incorrect")
	}
}
