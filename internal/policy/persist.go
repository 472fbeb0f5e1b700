package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// snapshotVersion guards the on-disk model layout.
const snapshotVersion = 1

// snapshot is the serialized bandit model. Matrices are flattened row-major.
type snapshot struct {
	Version     int         `json:"version"`
	NActions    int         `json:"n_actions"`
	ContextDim  int         `json:"context_dim"`
	A           [][]float64 `json:"a"`
	B           [][]float64 `json:"b"`
	Counts      []int       `json:"counts"`
	TotalReward float64     `json:"total_reward"`
	NUpdates    int         `json:"n_updates"`
	Epsilon     float64     `json:"epsilon"`
	ScalerMean  []float64   `json:"scaler_mean,omitempty"`
	ScalerStd   []float64   `json:"scaler_std,omitempty"`
}

// saveLocked writes the model atomically: temp file in the target directory,
// then rename.
func (bd *Bandit) saveLocked(path string) error {
	d := bd.cfg.ContextDim
	snap := snapshot{
		Version:     snapshotVersion,
		NActions:    bd.cfg.NActions,
		ContextDim:  d,
		A:           make([][]float64, bd.cfg.NActions),
		B:           make([][]float64, bd.cfg.NActions),
		Counts:      append([]int(nil), bd.counts...),
		TotalReward: bd.total,
		NUpdates:    bd.updates,
		Epsilon:     bd.epsilon,
	}
	for i := 0; i < bd.cfg.NActions; i++ {
		flat := make([]float64, d*d)
		for r := 0; r < d; r++ {
			for c := 0; c < d; c++ {
				flat[r*d+c] = bd.a[i].At(r, c)
			}
		}
		snap.A[i] = flat
		bv := make([]float64, d)
		for r := 0; r < d; r++ {
			bv[r] = bd.b[i].AtVec(r)
		}
		snap.B[i] = bv
	}
	if bd.scaler.Fitted() {
		snap.ScalerMean = append([]float64(nil), bd.scaler.mean...)
		snap.ScalerStd = append([]float64(nil), bd.scaler.std...)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("install model: %w", err)
	}
	return nil
}

// load reads a persisted snapshot and restores the bandit state. Any
// structural mismatch is an error; the caller decides whether to fall back.
func (bd *Bandit) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode model: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported model version %d", snap.Version)
	}
	if snap.NActions != bd.cfg.NActions || snap.ContextDim != bd.cfg.ContextDim {
		return fmt.Errorf("model shape %dx%d does not match configured %dx%d",
			snap.NActions, snap.ContextDim, bd.cfg.NActions, bd.cfg.ContextDim)
	}
	if len(snap.A) != snap.NActions || len(snap.B) != snap.NActions || len(snap.Counts) != snap.NActions {
		return fmt.Errorf("model arrays truncated")
	}

	d := bd.cfg.ContextDim
	a := make([]*mat.SymDense, snap.NActions)
	b := make([]*mat.VecDense, snap.NActions)
	for i := 0; i < snap.NActions; i++ {
		if len(snap.A[i]) != d*d || len(snap.B[i]) != d {
			return fmt.Errorf("model matrices for action %d truncated", i)
		}
		s := mat.NewSymDense(d, nil)
		for r := 0; r < d; r++ {
			for c := r; c < d; c++ {
				s.SetSym(r, c, snap.A[i][r*d+c])
			}
		}
		a[i] = s
		b[i] = mat.NewVecDense(d, append([]float64(nil), snap.B[i]...))
	}

	bd.a, bd.b = a, b
	bd.counts = append([]int(nil), snap.Counts...)
	bd.total = snap.TotalReward
	bd.updates = snap.NUpdates
	bd.epsilon = snap.Epsilon
	if bd.epsilon < bd.cfg.MinEpsilon {
		bd.epsilon = bd.cfg.MinEpsilon
	}
	if len(snap.ScalerMean) > 0 && len(snap.ScalerMean) == len(snap.ScalerStd) {
		bd.scaler.mean = append([]float64(nil), snap.ScalerMean...)
		bd.scaler.std = append([]float64(nil), snap.ScalerStd...)
		bd.scaler.fitted = true
	}
	return nil
}

// Save snapshots the current model to the configured path.
func (bd *Bandit) Save() error {
	if bd.cfg.ModelPath == "" {
		return fmt.Errorf("no model path configured")
	}
	bd.mu.Lock()
	defer bd.mu.Unlock()
	return bd.saveLocked(bd.cfg.ModelPath)
}

func (bd *Bandit) removeSnapshot(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		bd.log.Warn("bandit model remove failed", "path", path, "err", err)
	}
}
