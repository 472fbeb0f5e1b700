package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ncs.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
plant:
  id: plant1
  type: pendulum
network:
  delay_ms: 20
  jitter_std_ms: 5
  loss_rate: 0.01
control:
  mode: lqr
  sampling_period: 0.01
  q_diag: [10, 1, 10, 1]
policy:
  use_reflex: true
  use_bandit: true
telemetry:
  outputs: [stdout]
`)
	cfg, err := Load(path, "../../schemas/ncs.cue")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Plant.Type != "pendulum" || cfg.Plant.ID != "plant1" {
		t.Errorf("plant = %+v", cfg.Plant)
	}
	if cfg.Network.LossRate != 0.01 {
		t.Errorf("loss_rate = %g, want 0.01", cfg.Network.LossRate)
	}
	if len(cfg.Control.QDiag) != 4 {
		t.Errorf("q_diag = %v", cfg.Control.QDiag)
	}
	if !cfg.Policy.UseReflex || !cfg.Policy.UseBandit {
		t.Errorf("policy = %+v", cfg.Policy)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
plant:
  type: unstable
`)
	cfg, err := Load(path, "../../schemas/ncs.cue")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Plant.ID != "plant1" {
		t.Errorf("default plant id = %q", cfg.Plant.ID)
	}
	if cfg.Control.Mode != "lqr" || cfg.Control.SamplingPeriod != 0.01 {
		t.Errorf("control defaults = %+v", cfg.Control)
	}
	if cfg.Recovery.LowThreshold != 0.5 || cfg.Recovery.HighThreshold != 0.8 || cfg.Recovery.WindowSize != 100 {
		t.Errorf("recovery defaults = %+v", cfg.Recovery)
	}
	if got := cfg.Policy.DecisionIntervalDuration().Seconds(); got != 1 {
		t.Errorf("decision interval = %gs, want 1s", got)
	}
	if len(cfg.Telemetry.Outputs) != 1 || cfg.Telemetry.Outputs[0] != "stdout" {
		t.Errorf("telemetry defaults = %+v", cfg.Telemetry)
	}
	if cfg.Admin.Listen != ":8085" {
		t.Errorf("admin listen = %q", cfg.Admin.Listen)
	}
}

func TestLoadRejectsBadPlantType(t *testing.T) {
	path := writeConfig(t, `
plant:
  type: helicopter
`)
	if _, err := Load(path, "../../schemas/ncs.cue"); err == nil {
		t.Error("unknown plant type passed validation")
	}
}

func TestLoadRejectsLossRateOutOfRange(t *testing.T) {
	path := writeConfig(t, `
network:
  loss_rate: 1.5
`)
	if _, err := Load(path, "../../schemas/ncs.cue"); err == nil {
		t.Error("loss_rate > 1 passed validation")
	}
	// The range check also holds without a schema.
	if _, err := Load(path, ""); err == nil {
		t.Error("loss_rate > 1 passed the built-in check")
	}
}

func TestLoadRejectsInvertedRecoveryThresholds(t *testing.T) {
	path := writeConfig(t, `
recovery:
  low_threshold: 0.9
  high_threshold: 0.4
`)
	if _, err := Load(path, ""); err == nil {
		t.Error("high_threshold below low_threshold accepted")
	}
}

func TestLoadRejectsUnknownAttackKind(t *testing.T) {
	path := writeConfig(t, `
scenario:
  enabled: true
  kinds: [dos, emp_burst]
`)
	if _, err := Load(path, "../../schemas/ncs.cue"); err == nil {
		t.Error("unknown scenario attack kind passed validation")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), ""); err == nil {
		t.Error("missing config file accepted")
	}
}
