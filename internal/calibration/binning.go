// Package calibration measures how well market prices predict outcomes and
// turns the measurement into a probability estimator.
//
// The engine buckets every resolved market by its last pre-resolution mid
// price and records the observed YES frequency per bucket. The estimator
// interpolates those frequencies to map any market price to an estimated
// true probability.
package calibration

import (
	"errors"
	"fmt"
)

// Binning modes persisted with each calibration result.
const (
	ModeUniform = "uniform"
	ModeExtreme = "extreme"
	ModeEdges   = "edges"
)

// DefaultBins is the bucket count used for uniform binning when none is given.
const DefaultBins = 10

// extremeEdges resolve the tails finely, where longshot mispricing lives.
var extremeEdges = []float64{0, 0.02, 0.05, 0.10, 0.20, 0.40, 0.60, 0.80, 0.90, 0.95, 0.98, 1.0}

var (
	// ErrInvalidEdges is returned for fewer than two or non-increasing edges.
	ErrInvalidEdges = errors.New("invalid calibration bin edges")
	// ErrNoCalibration is returned when no bucket has a defined p_true.
	ErrNoCalibration = errors.New("no calibration data")
)

// Binning describes how prices are grouped into buckets.
type Binning struct {
	Mode  string
	Edges []float64
}

// Uniform returns n equal-width bins over [0, 1].
func Uniform(n int) (Binning, error) {
	if n < 1 {
		return Binning{}, fmt.Errorf("uniform bins %d: %w", n, ErrInvalidEdges)
	}
	edges := make([]float64, n+1)
	for i := range edges {
		edges[i] = float64(i) / float64(n)
	}
	return Binning{Mode: ModeUniform, Edges: edges}, nil
}

// Edges returns a binning over explicit, strictly increasing edges.
func Edges(edges []float64) (Binning, error) {
	if err := validateEdges(edges); err != nil {
		return Binning{}, err
	}
	return Binning{Mode: ModeEdges, Edges: append([]float64(nil), edges...)}, nil
}

// ExtremeEdges returns the fixed tail-heavy binning used by the generator.
func ExtremeEdges() Binning {
	return Binning{Mode: ModeExtreme, Edges: append([]float64(nil), extremeEdges...)}
}

// BinningFor resolves a persisted mode name. bins applies to uniform only.
func BinningFor(mode string, bins int) (Binning, error) {
	switch mode {
	case ModeExtreme:
		return ExtremeEdges(), nil
	case ModeUniform, "":
		if bins == 0 {
			bins = DefaultBins
		}
		return Uniform(bins)
	default:
		return Binning{}, fmt.Errorf("unknown binning mode %q", mode)
	}
}

// Params is the JSON-friendly description stored alongside results.
func (b Binning) Params() map[string]any {
	edges := make([]any, len(b.Edges))
	for i, e := range b.Edges {
		edges[i] = e
	}
	return map[string]any{"bins": len(b.Edges) - 1, "edges": edges}
}

func validateEdges(edges []float64) error {
	if len(edges) < 2 {
		return fmt.Errorf("need at least two edges, got %d: %w", len(edges), ErrInvalidEdges)
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return fmt.Errorf("edge %d (%v) not above %v: %w", i, edges[i], edges[i-1], ErrInvalidEdges)
		}
	}
	return nil
}

// BucketIndex maps p to a bucket over edges. Buckets are [low, high) except
// the last, which is closed. Values at or below the first edge fall in the
// first bucket; values above the last edge fall in the last.
func BucketIndex(p float64, edges []float64) int {
	last := len(edges) - 2
	if p <= edges[0] {
		return 0
	}
	if p >= edges[len(edges)-1] {
		return last
	}
	// Binary search for the first edge strictly above p.
	lo, hi := 1, len(edges)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if edges[mid] > p {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo - 1
}
