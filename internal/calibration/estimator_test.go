package calibration

import (
	"errors"
	"math"
	"testing"

	"kalshi-edge/pkg/types"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewEstimatorRequiresData(t *testing.T) {
	t.Parallel()

	_, err := NewEstimator([]types.CalibrationBucket{{Low: 0, High: 0.5}, {Low: 0.5, High: 1}})
	if !errors.Is(err, ErrNoCalibration) {
		t.Errorf("err = %v, want ErrNoCalibration", err)
	}
}

func TestCurveInterpolation(t *testing.T) {
	t.Parallel()

	// Anchors at 0.25 -> 0.2 and 0.75 -> 0.8; middle bucket undefined.
	est, err := NewEstimator([]types.CalibrationBucket{
		{Low: 0, High: 0.5, N: 5, NYes: 1, PTrue: types.Ptr(0.2)},
		{Low: 0.5, High: 0.6},
		{Low: 0.6, High: 0.9, N: 5, NYes: 4, PTrue: types.Ptr(0.8)},
	})
	if err != nil {
		t.Fatalf("NewEstimator: %v", err)
	}

	tests := []struct {
		p, want float64
	}{
		{0.0, 0.2},   // clamped below
		{0.25, 0.2},  // on anchor
		{0.5, 0.5},   // halfway
		{0.625, 0.65},
		{0.75, 0.8},  // on anchor
		{0.99, 0.8},  // clamped above
	}
	for _, tt := range tests {
		if got := est.PTrue(tt.p); !approx(got, tt.want) {
			t.Errorf("PTrue(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestIdentity(t *testing.T) {
	t.Parallel()
	var est Estimator = Identity{}
	if got := est.PTrue(0.37); got != 0.37 {
		t.Errorf("PTrue = %v, want 0.37", got)
	}
}

func TestExpectedValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		pTrue, p     float64
		wantYes, wantNo float64
	}{
		{"fair", 0.5, 0.5, 0, 0},
		{"underpriced yes", 0.95, 0.90, 0.05, -0.05},
		{"overpriced yes", 0.03, 0.10, -0.07, 0.07},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := EVYes(tt.pTrue, tt.p); !approx(got, tt.wantYes) {
				t.Errorf("EVYes = %v, want %v", got, tt.wantYes)
			}
			if got := EVNo(tt.pTrue, tt.p); !approx(got, tt.wantNo) {
				t.Errorf("EVNo = %v, want %v", got, tt.wantNo)
			}
		})
	}
}
