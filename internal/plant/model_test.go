package plant

import (
	"errors"
	"math"
	"testing"
)

func TestNewModel(t *testing.T) {
	tests := []struct {
		plantType string
		wantDim   int
		wantErr   bool
	}{
		{TypePendulum, 4, false},
		{TypeUnstable, 2, false},
		{"bogus", 0, true},
	}
	for _, tt := range tests {
		m, err := NewModel(tt.plantType)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownPlant) {
				t.Errorf("NewModel(%q) err = %v, want ErrUnknownPlant", tt.plantType, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NewModel(%q): %v", tt.plantType, err)
		}
		if m.Dim() != tt.wantDim {
			t.Errorf("%s dim = %d, want %d", tt.plantType, m.Dim(), tt.wantDim)
		}
		if len(m.InitialState()) != tt.wantDim {
			t.Errorf("%s initial state has %d entries", tt.plantType, len(m.InitialState()))
		}
	}
}

func TestStabilityMarginClamped(t *testing.T) {
	p := &Pendulum{}
	if got := p.StabilityMargin([]float64{0, 0, 0, 0}); got != 1 {
		t.Errorf("upright margin = %g, want 1", got)
	}
	if got := p.StabilityMargin([]float64{0, 0, 10, 0}); got != 0 {
		t.Errorf("fallen margin = %g, want 0", got)
	}

	u := &Unstable{}
	if got := u.StabilityMargin([]float64{0, 0}); got != 1 {
		t.Errorf("origin margin = %g, want 1", got)
	}
	if got := u.StabilityMargin([]float64{100, 0}); got != 0 {
		t.Errorf("diverged margin = %g, want 0", got)
	}
}

func TestUnstableDynamicsMatchLinearization(t *testing.T) {
	u := &Unstable{}
	a, b := u.Linearize()

	state := []float64{0.3, -0.2}
	input := 0.7
	dst := make([]float64, 2)
	u.Derivatives(dst, state, input)

	for i := 0; i < 2; i++ {
		want := a[i][0]*state[0] + a[i][1]*state[1] + b[i]*input
		if math.Abs(dst[i]-want) > 1e-12 {
			t.Errorf("dx[%d] = %g, linearization gives %g", i, dst[i], want)
		}
	}
}

func TestPendulumLinearizationShape(t *testing.T) {
	p := &Pendulum{}
	a, b := p.Linearize()
	if len(a) != 4 || len(b) != 4 {
		t.Fatalf("linearization shape %dx%d", len(a), len(b))
	}
	for i := range a {
		if len(a[i]) != 4 {
			t.Fatalf("A row %d has %d entries", i, len(a[i]))
		}
	}
}
