package control

import (
	"math"
	"testing"
)

// unstablePlant returns the linearized second-order unstable system.
func unstablePlant() ([][]float64, []float64) {
	a := [][]float64{
		{0, 1},
		{-1, 2},
	}
	b := []float64{0, 1}
	return a, b
}

func TestSolveCAREStabilizesUnstablePlant(t *testing.T) {
	a, b := unstablePlant()
	k, err := SolveCARE(a, b, []float64{10, 1}, 0.1)
	if err != nil {
		t.Fatalf("SolveCARE: %v", err)
	}
	if len(k) != 2 {
		t.Fatalf("gain has %d entries, want 2", len(k))
	}

	// Closed loop dx = (A - B·K)x must contract from any start.
	x := []float64{1, 1}
	dt := 1e-3
	for i := 0; i < 20000; i++ {
		u := -(k[0]*x[0] + k[1]*x[1])
		dx0 := a[0][0]*x[0] + a[0][1]*x[1] + b[0]*u
		dx1 := a[1][0]*x[0] + a[1][1]*x[1] + b[1]*u
		x[0] += dx0 * dt
		x[1] += dx1 * dt
	}
	norm := math.Hypot(x[0], x[1])
	if norm > 0.01 {
		t.Errorf("closed loop state norm %g after 20s, want near zero", norm)
	}
}

func TestSolveCAREPendulumScale(t *testing.T) {
	// Linearized cart-pole around upright.
	a := [][]float64{
		{0, 1, 0, 0},
		{0, 0, -3.924, 0},
		{0, 0, 0, 1},
		{0, 0, 45.78, 0},
	}
	b := []float64{0, 2, 0, -6.67}
	k, err := SolveCARE(a, b, []float64{10, 1, 10, 1}, 0.1)
	if err != nil {
		t.Fatalf("SolveCARE: %v", err)
	}
	for i, v := range k {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("K[%d] = %g", i, v)
		}
	}
}

func TestSolveCARERejectsBadDimensions(t *testing.T) {
	a, b := unstablePlant()
	if _, err := SolveCARE(a, b, []float64{1}, 0.1); err == nil {
		t.Error("expected error for mismatched Q dimension")
	}
}

func TestDefaultFallbackGains(t *testing.T) {
	if got := DefaultFallbackGains(4); len(got) != 4 {
		t.Errorf("4-dim fallback has %d entries", len(got))
	}
	if got := DefaultFallbackGains(2); len(got) != 2 {
		t.Errorf("2-dim fallback has %d entries", len(got))
	}
}
