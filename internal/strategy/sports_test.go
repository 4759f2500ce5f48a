package strategy

import (
	"testing"
	"time"
)

func TestParseGameDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   time.Time
		wantOK bool
	}{
		{"KXNFLGAME-25OCT19DALWAS", time.Date(2025, 10, 19, 0, 0, 0, 0, time.UTC), true},
		{"kxnbagame-26jan05lalbos", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"Lakers vs Celtics 25DEC25", time.Date(2025, 12, 25, 0, 0, 0, 0, time.UTC), true},
		{"KXNBA-25FEB30XYZ", time.Time{}, false},
		{"INXD-24DEC31-B5000", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), true},
		{"NO-DATE-HERE", time.Time{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseGameDate(tt.in)
		if ok != tt.wantOK {
			t.Errorf("ParseGameDate(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("ParseGameDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsSports(t *testing.T) {
	t.Parallel()

	tests := []struct {
		category, ticker string
		want             bool
	}{
		{"NBA", "X", true},
		{"ncaaf", "X", true},
		{"politics", "KXNFLGAME-25OCT19", true},
		{"politics", "PRES-2028", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := isSports(tt.category, tt.ticker); got != tt.want {
			t.Errorf("isSports(%q, %q) = %v, want %v", tt.category, tt.ticker, got, tt.want)
		}
	}
}
