// Contextual bandit policy: linear Thompson Sampling over a discrete action set
package policy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// BanditConfig configures the contextual bandit.
type BanditConfig struct {
	NActions   int
	ContextDim int
	// Alpha scales the posterior covariance when sampling.
	Alpha float64
	// Lambda seeds each covariance matrix at λI, keeping it positive-definite
	// under rank-1 updates.
	Lambda       float64
	Epsilon      float64
	MinEpsilon   float64
	EpsilonDecay float64
	// ModelPath enables periodic snapshots; empty disables persistence.
	ModelPath     string
	SnapshotEvery int
	BufferSize    int
	Seed          uint64
}

// DefaultBanditConfig returns the standard bandit parameters.
func DefaultBanditConfig() BanditConfig {
	return BanditConfig{
		NActions:      NActions,
		ContextDim:    10,
		Alpha:         0.1,
		Lambda:        1.0,
		Epsilon:       0.1,
		MinEpsilon:    0.01,
		EpsilonDecay:  0.995,
		SnapshotEvery: 10,
		BufferSize:    100,
	}
}

// Statistics summarizes bandit learning progress.
type Statistics struct {
	TotalUpdates  int     `json:"total_updates"`
	TotalReward   float64 `json:"total_reward"`
	AverageReward float64 `json:"average_reward"`
	Epsilon       float64 `json:"epsilon"`
	ActionCounts  []int   `json:"action_counts"`
	MostSelected  int     `json:"most_selected"`
	LeastSelected int     `json:"least_selected"`
}

// Preference is one entry of the per-action ranking for analysis.
type Preference struct {
	Action         int     `json:"action"`
	ExpectedReward float64 `json:"expected_reward"`
	Confidence     float64 `json:"confidence"`
	Count          int     `json:"count"`
}

// Bandit learns a linear reward model per discrete action and selects via
// Thompson Sampling with an ε-greedy exploration floor. For every action a it
// keeps A_a = λI + Σ x xᵀ and b_a = Σ r·x; the estimate θ_a = A_a⁻¹ b_a is
// derived lazily, never stored authoritatively.
type Bandit struct {
	mu sync.Mutex

	cfg     BanditConfig
	a       []*mat.SymDense
	b       []*mat.VecDense
	counts  []int
	total   float64
	updates int
	epsilon float64

	scaler *Standardizer
	rand   *xrand.Rand
	log    *slog.Logger
}

// NewBandit builds the bandit, loading a persisted model snapshot when
// configured. Any load error falls back to freshly-initialized state.
func NewBandit(cfg BanditConfig, log *slog.Logger) *Bandit {
	if cfg.NActions <= 0 {
		cfg.NActions = NActions
	}
	if cfg.ContextDim <= 0 {
		cfg.ContextDim = 10
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = 0.1
	}
	if cfg.Lambda <= 0 {
		cfg.Lambda = 1.0
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 0.1
	}
	if cfg.MinEpsilon <= 0 {
		cfg.MinEpsilon = 0.01
	}
	if cfg.EpsilonDecay <= 0 || cfg.EpsilonDecay >= 1 {
		cfg.EpsilonDecay = 0.995
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 10
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if log == nil {
		log = slog.Default()
	}

	bd := &Bandit{
		cfg:    cfg,
		scaler: NewStandardizer(cfg.BufferSize),
		rand:   xrand.New(xrand.NewSource(seed)),
		log:    log,
	}
	bd.initLocked()

	if cfg.ModelPath != "" {
		if err := bd.load(cfg.ModelPath); err != nil {
			log.Warn("bandit model load failed, starting fresh", "path", cfg.ModelPath, "err", err)
			bd.initLocked()
		} else {
			log.Info("bandit model loaded", "path", cfg.ModelPath, "updates", bd.updates)
		}
	}
	return bd
}

func (bd *Bandit) initLocked() {
	n, d := bd.cfg.NActions, bd.cfg.ContextDim
	bd.a = make([]*mat.SymDense, n)
	bd.b = make([]*mat.VecDense, n)
	for i := 0; i < n; i++ {
		s := mat.NewSymDense(d, nil)
		for j := 0; j < d; j++ {
			s.SetSym(j, j, bd.cfg.Lambda)
		}
		bd.a[i] = s
		bd.b[i] = mat.NewVecDense(d, nil)
	}
	bd.counts = make([]int, n)
	bd.total = 0
	bd.updates = 0
	bd.epsilon = bd.cfg.Epsilon
}

// PreprocessContext standardizes the raw vector, appends a bias term, and
// pads or truncates to the configured context dimension. The result always
// has exactly ContextDim entries.
func (bd *Bandit) PreprocessContext(raw []float64) []float64 {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	return bd.preprocessLocked(raw)
}

func (bd *Bandit) preprocessLocked(raw []float64) []float64 {
	bd.scaler.Add(raw)
	x := bd.scaler.Transform(raw)
	x = append(x, 1.0)
	if len(x) < bd.cfg.ContextDim {
		padded := make([]float64, bd.cfg.ContextDim)
		copy(padded, x)
		return padded
	}
	return x[:bd.cfg.ContextDim]
}

// SelectAction picks a discrete action for the raw state vector. With
// probability ε (decayed geometrically toward the floor after every
// selection) it explores uniformly; otherwise it samples
// θ̃_a ~ N(θ_a, α²A_a⁻¹) per action and takes the argmax of context·θ̃_a.
func (bd *Bandit) SelectAction(raw []float64) int {
	bd.mu.Lock()
	defer bd.mu.Unlock()

	x := bd.preprocessLocked(raw)
	defer bd.decayLocked()

	if bd.rand.Float64() < bd.epsilon {
		action := bd.rand.Intn(bd.cfg.NActions)
		bd.counts[action]++
		return action
	}

	best, bestScore := 0, 0.0
	for action := 0; action < bd.cfg.NActions; action++ {
		score := bd.sampleScoreLocked(action, x)
		if action == 0 || score > bestScore {
			best, bestScore = action, score
		}
	}
	bd.counts[best]++
	return best
}

func (bd *Bandit) decayLocked() {
	bd.epsilon *= bd.cfg.EpsilonDecay
	if bd.epsilon < bd.cfg.MinEpsilon {
		bd.epsilon = bd.cfg.MinEpsilon
	}
}

// sampleScoreLocked draws one posterior sample for the action and scores the
// context against it. A covariance inversion failure degrades to the
// posterior mean; it never propagates.
func (bd *Bandit) sampleScoreLocked(action int, x []float64) float64 {
	theta, cov, ok := bd.posteriorLocked(action)
	if !ok {
		return floats.Dot(x, theta)
	}
	normal, ok := distmv.NewNormal(theta, cov, bd.rand)
	if !ok {
		return floats.Dot(x, theta)
	}
	return floats.Dot(x, normal.Rand(nil))
}

// posteriorLocked returns θ_a and the scaled covariance α²A_a⁻¹. ok=false
// means the covariance could not be produced and only θ is valid.
func (bd *Bandit) posteriorLocked(action int) ([]float64, *mat.SymDense, bool) {
	d := bd.cfg.ContextDim
	theta := make([]float64, d)

	var chol mat.Cholesky
	if !chol.Factorize(bd.a[action]) {
		return theta, nil, false
	}
	var tv mat.VecDense
	if err := chol.SolveVecTo(&tv, bd.b[action]); err != nil {
		return theta, nil, false
	}
	for i := 0; i < d; i++ {
		theta[i] = tv.AtVec(i)
	}

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return theta, nil, false
	}
	var cov mat.SymDense
	cov.ScaleSym(bd.cfg.Alpha*bd.cfg.Alpha, &inv)
	return theta, &cov, true
}

// Update folds an observed reward into the selected action's model:
// A_a += x·xᵀ, b_a += reward·x. The rank-1 outer product keeps A_a symmetric
// positive-definite.
func (bd *Bandit) Update(raw []float64, action int, reward float64) error {
	if action < 0 || action >= bd.cfg.NActions {
		return fmt.Errorf("action %d out of range [0,%d)", action, bd.cfg.NActions)
	}
	bd.mu.Lock()
	defer bd.mu.Unlock()

	x := bd.preprocessLocked(raw)
	xv := mat.NewVecDense(len(x), x)
	bd.a[action].SymRankOne(bd.a[action], 1, xv)
	bd.b[action].AddScaledVec(bd.b[action], reward, xv)

	bd.total += reward
	bd.updates++

	if bd.cfg.ModelPath != "" && bd.updates%bd.cfg.SnapshotEvery == 0 {
		if err := bd.saveLocked(bd.cfg.ModelPath); err != nil {
			bd.log.Error("bandit model save failed", "path", bd.cfg.ModelPath, "err", err)
		}
	}
	return nil
}

// Theta returns the derived parameter estimate for an action.
func (bd *Bandit) Theta(action int) []float64 {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	theta, _, _ := bd.posteriorLocked(action)
	return theta
}

// Statistics reports learning progress counters.
func (bd *Bandit) Statistics() Statistics {
	bd.mu.Lock()
	defer bd.mu.Unlock()

	avg := 0.0
	if bd.updates > 0 {
		avg = bd.total / float64(bd.updates)
	}
	most, least := 0, 0
	for i, c := range bd.counts {
		if c > bd.counts[most] {
			most = i
		}
		if c < bd.counts[least] {
			least = i
		}
	}
	return Statistics{
		TotalUpdates:  bd.updates,
		TotalReward:   bd.total,
		AverageReward: avg,
		Epsilon:       bd.epsilon,
		ActionCounts:  append([]int(nil), bd.counts...),
		MostSelected:  most,
		LeastSelected: least,
	}
}

// ActionPreferences ranks every action for the given state, with a
// confidence width from the posterior covariance.
func (bd *Bandit) ActionPreferences(raw []float64) []Preference {
	bd.mu.Lock()
	defer bd.mu.Unlock()

	x := bd.preprocessLocked(raw)
	xv := mat.NewVecDense(len(x), x)
	prefs := make([]Preference, 0, bd.cfg.NActions)
	for action := 0; action < bd.cfg.NActions; action++ {
		theta, cov, ok := bd.posteriorLocked(action)
		p := Preference{
			Action:         action,
			ExpectedReward: floats.Dot(x, theta),
			Count:          bd.counts[action],
		}
		if ok {
			var tmp mat.VecDense
			tmp.MulVec(cov, xv)
			p.Confidence = mat.Dot(xv, &tmp)
		}
		prefs = append(prefs, p)
	}
	sort.Slice(prefs, func(i, j int) bool {
		return prefs[i].ExpectedReward > prefs[j].ExpectedReward
	})
	return prefs
}

// Epsilon returns the current exploration rate.
func (bd *Bandit) Epsilon() float64 {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	return bd.epsilon
}

// Reset reinitializes the model to λI/zero state, resets the standardizer,
// and discards any persisted snapshot.
func (bd *Bandit) Reset() {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	bd.initLocked()
	bd.scaler.Reset()
	if bd.cfg.ModelPath != "" {
		bd.removeSnapshot(bd.cfg.ModelPath)
	}
}
