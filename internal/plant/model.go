// Plant models: nonlinear inverted pendulum and a second-order unstable system
package plant

import (
	"errors"
	"fmt"
	"math"
)

// Plant type names accepted in configuration.
const (
	TypePendulum = "pendulum"
	TypeUnstable = "unstable"
)

// ErrUnknownPlant is returned for plant types outside the supported set.
var ErrUnknownPlant = errors.New("unknown plant type")

// Model describes continuous-time plant dynamics and the derived indicators
// published alongside each state sample.
type Model interface {
	Type() string
	Dim() int
	InitialState() []float64
	// Derivatives writes dx/dt into dst for the given state and actuation.
	Derivatives(dst, state []float64, u float64)
	// Linearize returns the continuous-time (A, B) around the regulation point,
	// used for LQR gain design.
	Linearize() (a [][]float64, b []float64)
	// ObservedChannels lists the state indices a sensor attack perturbs.
	ObservedChannels() []int
	// Deviation is the model-specific deviation metric behind the stability
	// margin heuristic.
	Deviation(state []float64) float64
	// StabilityMargin maps deviation to [0,1]; 1 is nominal, 0 is lost. This is
	// a linear proxy for deviation, not a stability certificate.
	StabilityMargin(state []float64) float64
	Energy(state []float64) float64
}

// NewModel builds the model for a configured plant type.
func NewModel(plantType string) (Model, error) {
	switch plantType {
	case TypePendulum:
		return &Pendulum{CartMass: 0.5, PoleMass: 0.2, PoleLength: 0.3, Gravity: 9.81}, nil
	case TypeUnstable:
		return &Unstable{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlant, plantType)
	}
}

// Pendulum is the cart-pole model with nonlinear coupling terms. State layout:
// [cart position, cart velocity, pendulum angle, angular velocity].
type Pendulum struct {
	CartMass   float64
	PoleMass   float64
	PoleLength float64
	Gravity    float64
}

func (p *Pendulum) Type() string            { return TypePendulum }
func (p *Pendulum) Dim() int                { return 4 }
func (p *Pendulum) InitialState() []float64 { return []float64{0.1, 0, 0.2, 0} }
func (p *Pendulum) ObservedChannels() []int { return []int{0, 2} }

func (p *Pendulum) Derivatives(dst, state []float64, u float64) {
	_, xDot, theta, thetaDot := state[0], state[1], state[2], state[3]
	sin, cos := math.Sin(theta), math.Cos(theta)

	denom := p.CartMass + p.PoleMass - p.PoleMass*cos*cos
	xDDot := (u + p.PoleMass*p.PoleLength*thetaDot*thetaDot*sin - p.PoleMass*p.Gravity*sin*cos) / denom
	thetaDDot := (p.Gravity*sin - xDDot*cos) / p.PoleLength

	dst[0] = xDot
	dst[1] = xDDot
	dst[2] = thetaDot
	dst[3] = thetaDDot
}

func (p *Pendulum) Linearize() ([][]float64, []float64) {
	total := p.CartMass + p.PoleMass
	a := [][]float64{
		{0, 1, 0, 0},
		{0, 0, -p.PoleMass * p.Gravity / total, 0},
		{0, 0, 0, 1},
		{0, 0, p.Gravity / p.PoleLength, 0},
	}
	b := []float64{0, 1 / total, 0, -1 / (p.PoleLength * total)}
	return a, b
}

func (p *Pendulum) Deviation(state []float64) float64 { return math.Abs(state[2]) }

func (p *Pendulum) StabilityMargin(state []float64) float64 {
	return 1 - math.Min(1, math.Abs(state[2])/math.Pi)
}

func (p *Pendulum) Energy(state []float64) float64 {
	return 0.5*(state[1]*state[1]+state[3]*state[3]) +
		p.Gravity*p.PoleLength*(1-math.Cos(state[2]))
}

// Unstable is the second-order unstable linear system x'' - 2x' + x = u.
// State layout: [position, velocity].
type Unstable struct{}

func (s *Unstable) Type() string            { return TypeUnstable }
func (s *Unstable) Dim() int                { return 2 }
func (s *Unstable) InitialState() []float64 { return []float64{0.1, 0.05} }
func (s *Unstable) ObservedChannels() []int { return []int{0} }

func (s *Unstable) Derivatives(dst, state []float64, u float64) {
	dst[0] = state[1]
	dst[1] = 2*state[1] - state[0] + u
}

func (s *Unstable) Linearize() ([][]float64, []float64) {
	a := [][]float64{
		{0, 1},
		{-1, 2},
	}
	b := []float64{0, 1}
	return a, b
}

func (s *Unstable) Deviation(state []float64) float64 { return math.Abs(state[0]) }

func (s *Unstable) StabilityMargin(state []float64) float64 {
	return math.Max(0, 1-math.Abs(state[0])/5)
}

func (s *Unstable) Energy(state []float64) float64 {
	return 0.5*state[1]*state[1] + 0.5*state[0]*state[0]
}
