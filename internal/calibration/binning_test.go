package calibration

import (
	"errors"
	"testing"
)

func TestBucketIndex(t *testing.T) {
	t.Parallel()

	uniform, err := Uniform(10)
	if err != nil {
		t.Fatalf("Uniform: %v", err)
	}
	extreme := ExtremeEdges().Edges

	tests := []struct {
		name  string
		p     float64
		edges []float64
		want  int
	}{
		{"below range", -0.1, uniform.Edges, 0},
		{"first edge", 0, uniform.Edges, 0},
		{"lower bound inclusive", 0.5, uniform.Edges, 5},
		{"just below edge", 0.4999, uniform.Edges, 4},
		{"top closed", 1.0, uniform.Edges, 9},
		{"above range", 1.3, uniform.Edges, 9},
		{"extreme tail", 0.01, extreme, 0},
		{"extreme 0.02 opens second bucket", 0.02, extreme, 1},
		{"extreme 0.90", 0.90, extreme, 8},
		{"extreme 0.99", 0.99, extreme, 10},
		{"two edges", 0.7, []float64{0, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := BucketIndex(tt.p, tt.edges); got != tt.want {
				t.Errorf("BucketIndex(%v) = %d, want %d", tt.p, got, tt.want)
			}
		})
	}
}

func TestEdgesValidation(t *testing.T) {
	t.Parallel()

	bad := [][]float64{
		nil,
		{0.5},
		{0, 0.5, 0.5, 1},
		{0, 0.6, 0.4, 1},
	}
	for _, edges := range bad {
		if _, err := Edges(edges); !errors.Is(err, ErrInvalidEdges) {
			t.Errorf("Edges(%v) err = %v, want ErrInvalidEdges", edges, err)
		}
	}

	if _, err := Uniform(0); !errors.Is(err, ErrInvalidEdges) {
		t.Errorf("Uniform(0) err = %v, want ErrInvalidEdges", err)
	}

	b, err := Edges([]float64{0, 0.3, 1})
	if err != nil {
		t.Fatalf("Edges: %v", err)
	}
	if b.Mode != ModeEdges {
		t.Errorf("Mode = %q, want %q", b.Mode, ModeEdges)
	}
}

func TestBinningFor(t *testing.T) {
	t.Parallel()

	b, err := BinningFor(ModeExtreme, 0)
	if err != nil {
		t.Fatalf("BinningFor(extreme): %v", err)
	}
	if len(b.Edges) != 12 {
		t.Errorf("extreme edges = %d, want 12", len(b.Edges))
	}

	b, err = BinningFor(ModeUniform, 0)
	if err != nil {
		t.Fatalf("BinningFor(uniform): %v", err)
	}
	if len(b.Edges) != DefaultBins+1 {
		t.Errorf("uniform edges = %d, want %d", len(b.Edges), DefaultBins+1)
	}

	if _, err := BinningFor("quantile", 0); err == nil {
		t.Error("BinningFor(quantile) should fail")
	}
}
