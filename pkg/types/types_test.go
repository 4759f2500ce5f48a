package types

import (
	"math"
	"testing"
	"time"
)

func TestPriceSnapshotMid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		snap   PriceSnapshot
		want   float64
		wantOK bool
	}{
		{"bid and ask", PriceSnapshot{BidYes: Ptr(0.90), AskYes: Ptr(0.94), LastYes: Ptr(0.5)}, 0.92, true},
		{"bid only falls back to last", PriceSnapshot{BidYes: Ptr(0.90), LastYes: Ptr(0.91)}, 0.91, true},
		{"last only", PriceSnapshot{LastYes: Ptr(0.3)}, 0.3, true},
		{"nothing", PriceSnapshot{}, 0, false},
	}

	for _, tt := range tests {
		got, ok := tt.snap.Mid()
		if ok != tt.wantOK || math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("%s: Mid() = (%v, %v), want (%v, %v)", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSignalStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to SignalStatus
		want     bool
	}{
		{StatusPending, StatusIgnored, true},
		{StatusPending, StatusSimulated, true},
		{StatusPending, StatusSent, true},
		{StatusPending, StatusError, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusFilled, false},
		{StatusSent, StatusFilled, true},
		{StatusSent, StatusCancelled, true},
		{StatusSent, StatusError, true},
		{StatusSent, StatusPending, false},
		{StatusSimulated, StatusCancelled, false},
		{StatusFilled, StatusCancelled, false},
		{StatusError, StatusPending, false},
		{StatusIgnored, StatusSent, false},
		{StatusCancelled, StatusPending, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	for _, s := range []SignalStatus{StatusIgnored, StatusSimulated, StatusFilled, StatusError, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StatusPending.Terminal() || StatusSent.Terminal() {
		t.Error("pending and sent must not be terminal")
	}
}

func TestSourcesFor(t *testing.T) {
	t.Parallel()

	got := SourcesFor(StatusCancelled)
	if len(got) != 2 || got[0] != StatusPending || got[1] != StatusSent {
		t.Errorf("SourcesFor(cancelled) = %v, want [pending sent]", got)
	}
	if got := SourcesFor(StatusFilled); len(got) != 1 || got[0] != StatusSent {
		t.Errorf("SourcesFor(filled) = %v, want [sent]", got)
	}
}

func TestExpiryBucketFor(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		exp  *time.Time
		want ExpiryBucket
	}{
		{nil, ""},
		{Ptr(now.Add(2 * time.Hour)), ExpiryShort},
		{Ptr(now.Add(24 * time.Hour)), ExpiryShort},
		{Ptr(now.Add(3 * 24 * time.Hour)), ExpiryMedium},
		{Ptr(now.Add(30 * 24 * time.Hour)), ExpiryLong},
	}

	for _, tt := range tests {
		if got := ExpiryBucketFor(tt.exp, now); got != tt.want {
			t.Errorf("ExpiryBucketFor(%v) = %q, want %q", tt.exp, got, tt.want)
		}
	}
}

func TestParseExecutionMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]ExecutionMode{
		"live":     ModeLive,
		" LIVE ":   ModeLive,
		"simulate": ModeSimulate,
		"paper":    ModeSimulate,
		"":         ModeSimulate,
	} {
		if got := ParseExecutionMode(in); got != want {
			t.Errorf("ParseExecutionMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRiskPerContractAndSignedSize(t *testing.T) {
	t.Parallel()

	if got := SideYes.RiskPerContract(0.3); got != 0.3 {
		t.Errorf("yes risk = %v, want 0.3", got)
	}
	if got := SideNo.RiskPerContract(0.75); got != 0.25 {
		t.Errorf("no risk = %v, want 0.25", got)
	}

	buy := Trade{Size: 4, Direction: Buy}
	sell := Trade{Size: 4, Direction: Sell}
	if buy.SignedSize() != 4 || sell.SignedSize() != -4 {
		t.Errorf("SignedSize = %d/%d, want 4/-4", buy.SignedSize(), sell.SignedSize())
	}

	if _, err := ParseSide("maybe"); err == nil {
		t.Error("ParseSide(maybe) should fail")
	}
}
