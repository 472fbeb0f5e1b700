// Structured decision actions shared by all policies
package policy

import (
	"fmt"
	"strings"
)

// Action is the structured decision emitted by a policy. It is a closed sum:
// dispatchers switch exhaustively over the four variants.
type Action interface {
	isAction()
	String() string
}

// ControlAdjust tunes the control loop: sampling period, LQR weights, direct
// gains, or a mode switch. Nil/empty fields are left untouched.
type ControlAdjust struct {
	SamplingPeriod *float64
	QDiag          []float64
	RWeight        *float64
	Gains          []float64
	Mode           string
}

// NetworkAdjust tunes the network QoS protections. Nil fields are left
// untouched.
type NetworkAdjust struct {
	Priority         *int
	AdmissionControl *bool
	Redundancy       *bool
}

// Combined carries a control and a network adjustment applied together.
type Combined struct {
	Control ControlAdjust
	Network NetworkAdjust
}

// Discrete references an entry of the fixed bandit action table.
type Discrete struct {
	ID int
}

func (ControlAdjust) isAction() {}
func (NetworkAdjust) isAction() {}
func (Combined) isAction()      {}
func (Discrete) isAction()      {}

func (a ControlAdjust) String() string {
	var parts []string
	if a.SamplingPeriod != nil {
		parts = append(parts, fmt.Sprintf("ts=%g", *a.SamplingPeriod))
	}
	if a.QDiag != nil {
		parts = append(parts, fmt.Sprintf("q=%v", a.QDiag))
	}
	if a.RWeight != nil {
		parts = append(parts, fmt.Sprintf("r=%g", *a.RWeight))
	}
	if a.Gains != nil {
		parts = append(parts, fmt.Sprintf("k=%v", a.Gains))
	}
	if a.Mode != "" {
		parts = append(parts, "mode="+a.Mode)
	}
	return "control_adjust{" + strings.Join(parts, " ") + "}"
}

func (a NetworkAdjust) String() string {
	var parts []string
	if a.Priority != nil {
		parts = append(parts, fmt.Sprintf("priority=%d", *a.Priority))
	}
	if a.AdmissionControl != nil {
		parts = append(parts, fmt.Sprintf("admission=%t", *a.AdmissionControl))
	}
	if a.Redundancy != nil {
		parts = append(parts, fmt.Sprintf("redundancy=%t", *a.Redundancy))
	}
	return "network_adjust{" + strings.Join(parts, " ") + "}"
}

func (a Combined) String() string {
	return "combined{" + a.Control.String() + " " + a.Network.String() + "}"
}

func (a Discrete) String() string { return fmt.Sprintf("discrete{%d}", a.ID) }

// NActions is the size of the discrete bandit action table.
const NActions = 12

// ExpandDiscrete maps a discrete action id to its concrete adjustment.
func ExpandDiscrete(id int) (Action, error) {
	switch id {
	case 0:
		return ControlAdjust{SamplingPeriod: fptr(0.005)}, nil
	case 1:
		return ControlAdjust{SamplingPeriod: fptr(0.02)}, nil
	case 2:
		return ControlAdjust{QDiag: []float64{20, 2, 20, 2}, RWeight: fptr(0.05)}, nil
	case 3:
		return ControlAdjust{QDiag: []float64{5, 0.5, 5, 0.5}, RWeight: fptr(0.2)}, nil
	case 4:
		return NetworkAdjust{Priority: iptr(46)}, nil
	case 5:
		return NetworkAdjust{Priority: iptr(0)}, nil
	case 6:
		return NetworkAdjust{AdmissionControl: bptr(true)}, nil
	case 7:
		return NetworkAdjust{AdmissionControl: bptr(false)}, nil
	case 8:
		return NetworkAdjust{Redundancy: bptr(true)}, nil
	case 9:
		return NetworkAdjust{Redundancy: bptr(false)}, nil
	case 10:
		return ControlAdjust{Mode: "pid"}, nil
	case 11:
		return ControlAdjust{Mode: "lqr"}, nil
	default:
		return nil, fmt.Errorf("discrete action %d out of range [0,%d)", id, NActions)
	}
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }
func bptr(v bool) *bool       { return &v }
