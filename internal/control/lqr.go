// Continuous-time LQR gain design
package control

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrRiccatiDiverged is returned when the Riccati integration fails to reach
// a steady state.
var ErrRiccatiDiverged = errors.New("riccati solve diverged")

// SolveCARE solves the continuous-time algebraic Riccati equation
//
//	AᵀP + PA − PB R⁻¹BᵀP + Q = 0
//
// by integrating the Riccati ODE forward until steady state, and returns the
// state-feedback gain K = R⁻¹BᵀP so that u = −K·x stabilizes the linearized
// plant. Q is diagonal, R scalar (single actuation channel).
func SolveCARE(a [][]float64, b []float64, qDiag []float64, r float64) ([]float64, error) {
	n := len(b)
	if n == 0 || len(a) != n || len(qDiag) != n {
		return nil, fmt.Errorf("inconsistent system dimensions: A %d, B %d, Q %d", len(a), n, len(qDiag))
	}
	if r <= 0 || math.IsNaN(r) {
		return nil, errors.New("control weight R must be positive")
	}
	flat := make([]float64, n*n)
	for i, row := range a {
		if len(row) != n {
			return nil, fmt.Errorf("A row %d has %d columns, want %d", i, len(row), n)
		}
		copy(flat[i*n:(i+1)*n], row)
	}
	for i, q := range qDiag {
		if q < 0 || math.IsNaN(q) {
			return nil, fmt.Errorf("state weight Q[%d] must be non-negative", i)
		}
	}

	A := mat.NewDense(n, n, flat)
	B := mat.NewDense(n, 1, append([]float64(nil), b...))
	Q := mat.NewDense(n, n, nil)
	for i, q := range qDiag {
		Q.Set(i, i, q)
	}

	// P starts at Q; the stabilizing solution is the attractor of the ODE for
	// stabilizable/detectable systems.
	P := mat.DenseCopyOf(Q)
	var t1, t2, t3, pb, dP mat.Dense

	const (
		step    = 1e-3
		maxIter = 200000
		tol     = 1e-8
	)
	converged := false
	for iter := 0; iter < maxIter; iter++ {
		t1.Mul(A.T(), P)
		t2.Mul(P, A)
		pb.Mul(P, B)
		t3.Mul(&pb, pb.T())
		t3.Scale(1/r, &t3)

		dP.Add(&t1, &t2)
		dP.Sub(&dP, &t3)
		dP.Add(&dP, Q)

		if iter%50 == 0 {
			res := mat.Norm(&dP, 2)
			if math.IsNaN(res) || math.IsInf(res, 0) {
				return nil, ErrRiccatiDiverged
			}
			if res < tol*(1+mat.Norm(P, 2)) {
				converged = true
				break
			}
		}

		dP.Scale(step, &dP)
		P.Add(P, &dP)
	}
	if !converged {
		return nil, ErrRiccatiDiverged
	}

	var kt mat.Dense
	kt.Mul(B.T(), P)
	kt.Scale(1/r, &kt)
	k := make([]float64, n)
	for i := range k {
		k[i] = kt.At(0, i)
	}
	return k, nil
}

// DefaultFallbackGains returns previously-validated gains used when the
// Riccati solve fails for the given state dimension.
func DefaultFallbackGains(n int) []float64 {
	switch n {
	case 4:
		return []float64{1, 0.5, 10, 2}
	case 2:
		return []float64{2, 4}
	default:
		k := make([]float64, n)
		for i := range k {
			k[i] = 1
		}
		return k
	}
}
