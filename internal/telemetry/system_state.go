package telemetry

// StateVectorDim is the fixed length of the combined system state vector
// consumed by decision policies.
const StateVectorDim = 10

// SystemState is the normalized snapshot of control, network, and plant
// indicators rebuilt every decision tick. Layout: control KPIs [0:4),
// network KPIs [4:7), plant indicators [7:9), aggregate stability [9].
type SystemState [StateVectorDim]float64

// Index constants into SystemState.
const (
	IdxControlCost = iota
	IdxSettlingTime
	IdxOvershoot
	IdxSteadyStateError
	IdxLatencyMS
	IdxJitterMS
	IdxLossRate
	IdxPosition
	IdxAngle
	IdxStability
)

// Slice returns the vector as a fresh []float64, the form policies consume.
func (s SystemState) Slice() []float64 {
	out := make([]float64, StateVectorDim)
	copy(out, s[:])
	return out
}
