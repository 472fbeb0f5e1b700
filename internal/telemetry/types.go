// Telemetry row structs with greptime tags
package telemetry

import (
	"os"
	"time"
)

// PlantStateRow represents one plant state sample for GreptimeDB.
type PlantStateRow struct {
	PlantID        string    `json:"plant_id"`      // TAG
	PlantType      string    `json:"plant_type"`    // TAG
	State          []float64 `json:"state"`         // FIELDS x0..x3
	ControlInput   float64   `json:"control_input"` // FIELD
	DelayS         float64   `json:"delay"`         // FIELD
	LossRate       float64   `json:"loss_rate"`     // FIELD
	JitterStdS     float64   `json:"jitter_std"`    // FIELD
	SensorAttack   bool      `json:"sensor_attack"` // FIELD
	ActuatorAttack bool      `json:"actuator_attack"`
	Timestamp      time.Time `json:"ts"` // TIME INDEX
}

// PlantKPIRow carries derived plant health indicators.
type PlantKPIRow struct {
	PlantID         string    `json:"plant_id"` // TAG
	StabilityMargin float64   `json:"stability_margin"`
	Energy          float64   `json:"energy"`
	Deviation       float64   `json:"deviation"`
	ControlEffort   float64   `json:"control_effort"`
	Timestamp       time.Time `json:"ts"`
}

// ControlKPIRow carries controller performance indicators per control tick.
type ControlKPIRow struct {
	Mode             string    `json:"mode"` // TAG
	ControlCost      float64   `json:"control_cost"`
	SettlingTime     float64   `json:"settling_time"`
	Overshoot        float64   `json:"overshoot"`
	SteadyStateError float64   `json:"steady_state_error"`
	ControlInput     float64   `json:"control_input"`
	SamplingPeriod   float64   `json:"sampling_period"`
	Timestamp        time.Time `json:"ts"`
}

// NetworkKPIRow carries the emulated network channel indicators.
type NetworkKPIRow struct {
	PlantID   string    `json:"plant_id"` // TAG
	LatencyMS float64   `json:"latency_ms"`
	JitterMS  float64   `json:"jitter_ms"`
	LossRate  float64   `json:"loss_rate"`
	Timestamp time.Time `json:"ts"`
}

// DecisionRow records one decision-engine cycle.
type DecisionRow struct {
	Policy          string    `json:"policy"` // TAG
	Action          string    `json:"action"`
	Rule            string    `json:"rule,omitempty"`
	Reward          float64   `json:"reward"`
	StabilityMargin float64   `json:"stability_margin"`
	RecoveryActive  bool      `json:"recovery_active"`
	Timestamp       time.Time `json:"ts"`
}

// AttackEventRow records an attack lifecycle event.
type AttackEventRow struct {
	AttackID  string    `json:"attack_id"` // TAG
	Kind      string    `json:"kind"`      // TAG
	Event     string    `json:"event"`     // "start" or "stop"
	Params    string    `json:"params"`
	Timestamp time.Time `json:"ts"`
}

// Attack event names.
const (
	EventAttackStart = "start"
	EventAttackStop  = "stop"
)

// PlantStateTableName holds the table used for plant state rows. It defaults
// to "ncs_plant_state" but can be overridden via NCS_STATE_TABLE.
var PlantStateTableName = func() string {
	if env := os.Getenv("NCS_STATE_TABLE"); env != "" {
		return env
	}
	return "ncs_plant_state"
}()

func (PlantStateRow) TableName() string { return PlantStateTableName }

func (PlantKPIRow) TableName() string   { return "ncs_plant_kpis" }
func (ControlKPIRow) TableName() string { return "ncs_control_kpis" }
func (NetworkKPIRow) TableName() string { return "ncs_network_kpis" }
func (DecisionRow) TableName() string   { return "ncs_decisions" }
func (AttackEventRow) TableName() string {
	return "ncs_attack_events"
}
