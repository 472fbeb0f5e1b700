// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PlantConfig selects and parameterizes the simulated plant.
type PlantConfig struct {
	ID                string  `yaml:"id"`
	Type              string  `yaml:"type"`
	IntegrationStepMS float64 `yaml:"integration_step_ms"`
	PublishStepMS     float64 `yaml:"publish_step_ms"`
	StateLimit        float64 `yaml:"state_limit"`
	Seed              int64   `yaml:"seed"`
}

// NetworkConfig is the initial emulated channel profile.
type NetworkConfig struct {
	DelayMS     float64 `yaml:"delay_ms"`
	JitterStdMS float64 `yaml:"jitter_std_ms"`
	LossRate    float64 `yaml:"loss_rate"`
}

// PIDConfig holds the three PID gains.
type PIDConfig struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

// ControlConfig parameterizes the control loop.
type ControlConfig struct {
	Mode            string    `yaml:"mode"`
	SamplingPeriod  float64   `yaml:"sampling_period"`
	QDiag           []float64 `yaml:"q_diag"`
	RWeight         float64   `yaml:"r_weight"`
	PID             PIDConfig `yaml:"pid"`
	ActuationLimit  float64   `yaml:"actuation_limit"`
	AntiWindupLimit float64   `yaml:"anti_windup_limit"`
}

// RecoveryConfig holds the MTTR hysteresis thresholds.
type RecoveryConfig struct {
	LowThreshold  float64 `yaml:"low_threshold"`
	HighThreshold float64 `yaml:"high_threshold"`
	WindowSize    int     `yaml:"window_size"`
}

// BanditConfig parameterizes the contextual bandit policy.
type BanditConfig struct {
	Alpha         float64 `yaml:"alpha"`
	Lambda        float64 `yaml:"lambda"`
	Epsilon       float64 `yaml:"epsilon"`
	MinEpsilon    float64 `yaml:"min_epsilon"`
	EpsilonDecay  float64 `yaml:"epsilon_decay"`
	ModelPath     string  `yaml:"model_path"`
	SnapshotEvery int     `yaml:"snapshot_every"`
}

// PolicyConfig selects the decision policies.
type PolicyConfig struct {
	UseReflex        bool         `yaml:"use_reflex"`
	UseBandit        bool         `yaml:"use_bandit"`
	DecisionInterval float64      `yaml:"decision_interval_s"`
	CooldownS        float64      `yaml:"cooldown_s"`
	Bandit           BanditConfig `yaml:"bandit"`
}

// ScenarioConfig drives the optional random attack sequence.
type ScenarioConfig struct {
	Enabled       bool     `yaml:"enabled"`
	TotalDuration float64  `yaml:"total_duration_s"`
	Interval      float64  `yaml:"interval_s"`
	Kinds         []string `yaml:"kinds"`
}

// GreptimeConfig points at the time-series sink.
type GreptimeConfig struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
}

// FileConfig points at the JSONL output files.
type FileConfig struct {
	StatePath  string `yaml:"state_path"`
	EventsPath string `yaml:"events_path"`
}

// TelemetryConfig selects the telemetry sinks.
type TelemetryConfig struct {
	// Outputs lists the enabled sinks: stdout, file, greptime.
	Outputs  []string       `yaml:"outputs"`
	Greptime GreptimeConfig `yaml:"greptime"`
	File     FileConfig     `yaml:"file"`
}

// AdminConfig configures the HTTP status/config surface.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// SimulationConfig is the root configuration.
type SimulationConfig struct {
	Plant     PlantConfig     `yaml:"plant"`
	Network   NetworkConfig   `yaml:"network"`
	Control   ControlConfig   `yaml:"control"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Policy    PolicyConfig    `yaml:"policy"`
	Scenario  ScenarioConfig  `yaml:"scenario"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Admin     AdminConfig     `yaml:"admin"`
}

// DecisionInterval returns the decision pacing as a duration.
func (p PolicyConfig) DecisionIntervalDuration() time.Duration {
	if p.DecisionInterval <= 0 {
		return time.Second
	}
	return time.Duration(p.DecisionInterval * float64(time.Second))
}

// Load loads YAML config, validates it against a CUE schema when a schema
// path is given, and applies defaults for omitted sections.
func Load(configPath, cueSchemaPath string) (*SimulationConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	if cueSchemaPath != "" {
		if err := validateSchema(data, cueSchemaPath); err != nil {
			return nil, fmt.Errorf("config %s: %w", configPath, err)
		}
	}

	var cfg SimulationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *SimulationConfig) applyDefaults() {
	if c.Plant.ID == "" {
		c.Plant.ID = "plant1"
	}
	if c.Plant.Type == "" {
		c.Plant.Type = "pendulum"
	}
	if c.Plant.IntegrationStepMS <= 0 {
		c.Plant.IntegrationStepMS = 1
	}
	if c.Plant.PublishStepMS <= 0 {
		c.Plant.PublishStepMS = 10
	}
	if c.Plant.StateLimit <= 0 {
		c.Plant.StateLimit = 1000
	}
	if c.Control.Mode == "" {
		c.Control.Mode = "lqr"
	}
	if c.Control.SamplingPeriod <= 0 {
		c.Control.SamplingPeriod = 0.01
	}
	if c.Control.RWeight <= 0 {
		c.Control.RWeight = 0.1
	}
	if c.Control.ActuationLimit <= 0 {
		c.Control.ActuationLimit = 10
	}
	if c.Control.PID == (PIDConfig{}) {
		c.Control.PID = PIDConfig{Kp: 10, Ki: 1, Kd: 2}
	}
	if c.Recovery.LowThreshold <= 0 {
		c.Recovery.LowThreshold = 0.5
	}
	if c.Recovery.HighThreshold <= 0 {
		c.Recovery.HighThreshold = 0.8
	}
	if c.Recovery.WindowSize <= 0 {
		c.Recovery.WindowSize = 100
	}
	if c.Policy.DecisionInterval <= 0 {
		c.Policy.DecisionInterval = 1
	}
	if c.Policy.CooldownS <= 0 {
		c.Policy.CooldownS = 5
	}
	if len(c.Telemetry.Outputs) == 0 {
		c.Telemetry.Outputs = []string{"stdout"}
	}
	if c.Admin.Listen == "" {
		c.Admin.Listen = ":8085"
	}
}

// check rejects values the CUE schema cannot express conveniently.
func (c *SimulationConfig) check() error {
	if c.Network.LossRate < 0 || c.Network.LossRate > 1 {
		return fmt.Errorf("network.loss_rate %g outside [0,1]", c.Network.LossRate)
	}
	if c.Recovery.HighThreshold <= c.Recovery.LowThreshold {
		return fmt.Errorf("recovery.high_threshold %g must exceed low_threshold %g",
			c.Recovery.HighThreshold, c.Recovery.LowThreshold)
	}
	return nil
}
