package policy

import "testing"

func TestExpandDiscreteCoversWholeTable(t *testing.T) {
	for id := 0; id < NActions; id++ {
		action, err := ExpandDiscrete(id)
		if err != nil {
			t.Fatalf("ExpandDiscrete(%d): %v", id, err)
		}
		if action == nil {
			t.Fatalf("ExpandDiscrete(%d) returned nil action", id)
		}
		switch action.(type) {
		case ControlAdjust, NetworkAdjust, Combined:
		default:
			t.Errorf("ExpandDiscrete(%d) returned %T", id, action)
		}
	}
}

func TestExpandDiscreteRejectsOutOfRange(t *testing.T) {
	for _, id := range []int{-1, NActions, 100} {
		if _, err := ExpandDiscrete(id); err == nil {
			t.Errorf("ExpandDiscrete(%d) accepted", id)
		}
	}
}

func TestActionStrings(t *testing.T) {
	a := ControlAdjust{SamplingPeriod: fptr(0.01), Mode: "pid"}
	if got := a.String(); got != "control_adjust{ts=0.01 mode=pid}" {
		t.Errorf("String() = %q", got)
	}
	n := NetworkAdjust{Priority: iptr(46), Redundancy: bptr(true)}
	if got := n.String(); got != "network_adjust{priority=46 redundancy=true}" {
		t.Errorf("String() = %q", got)
	}
	d := Discrete{ID: 3}
	if got := d.String(); got != "discrete{3}" {
		t.Errorf("String() = %q", got)
	}
}

func TestStandardizerFitsAfterMinSamples(t *testing.T) {
	s := NewStandardizer(50)
	for i := 0; i < 9; i++ {
		s.Add([]float64{float64(i), 10})
	}
	if s.Fitted() {
		t.Fatal("fitted before min samples")
	}
	s.Add([]float64{9, 10})
	if !s.Fitted() {
		t.Fatal("not fitted after min samples")
	}

	// A constant dimension must not blow up the transform.
	out := s.Transform([]float64{4.5, 10})
	if out[0] != 0 {
		t.Errorf("standardized mean value = %g, want 0", out[0])
	}
	if out[1] != 0 {
		t.Errorf("zero-variance dimension = %g, want 0", out[1])
	}
}
