package calibration

import (
	"sort"

	"kalshi-edge/pkg/types"
)

// Estimator maps a market price to an estimated true probability.
type Estimator interface {
	PTrue(p float64) float64
}

type anchor struct {
	x, y float64
}

// Curve interpolates linearly between bucket midpoints.
type Curve struct {
	anchors []anchor
}

// NewEstimator builds a curve from the buckets with a defined p_true.
// Returns ErrNoCalibration when there are none.
func NewEstimator(buckets []types.CalibrationBucket) (*Curve, error) {
	var anchors []anchor
	for _, b := range buckets {
		if b.PTrue == nil {
			continue
		}
		anchors = append(anchors, anchor{x: b.Mid(), y: *b.PTrue})
	}
	if len(anchors) == 0 {
		return nil, ErrNoCalibration
	}
	sort.Slice(anchors, func(i, j int) bool { return anchors[i].x < anchors[j].x })
	return &Curve{anchors: anchors}, nil
}

// PTrue interpolates between the surrounding anchors and clamps to the
// endpoint values outside the covered range.
func (c *Curve) PTrue(p float64) float64 {
	a := c.anchors
	if p <= a[0].x {
		return a[0].y
	}
	if p >= a[len(a)-1].x {
		return a[len(a)-1].y
	}
	i := sort.Search(len(a), func(i int) bool { return a[i].x >= p })
	lo, hi := a[i-1], a[i]
	if hi.x == lo.x {
		return lo.y
	}
	w := (p - lo.x) / (hi.x - lo.x)
	return lo.y + w*(hi.y-lo.y)
}

// Identity treats the market price as the true probability.
type Identity struct{}

func (Identity) PTrue(p float64) float64 { return p }

// EVYes is the expected value per contract of buying YES at p.
func EVYes(pTrue, p float64) float64 {
	return pTrue*(1-p) + (1-pTrue)*(-p)
}

// EVNo is the expected value per contract of buying NO when YES trades at p.
func EVNo(pTrue, p float64) float64 {
	qTrue, q := 1-pTrue, 1-p
	return qTrue*(1-q) + (1-qTrue)*(-q)
}
