// HTTP status/config surface for the simulator
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ncs-sim/internal/chaos"
	"ncs-sim/internal/control"
	"ncs-sim/internal/coordinator"
	"ncs-sim/internal/plant"
	"ncs-sim/internal/policy"
)

// Server exposes read access to KPIs and configuration plus write access to
// reconfiguration and attack commands over HTTP.
type Server struct {
	Coord  *coordinator.Coordinator
	Loop   *control.Loop
	Engine *plant.Engine
	Orch   *chaos.Orchestrator
	Bandit *policy.Bandit

	log *slog.Logger
	srv *http.Server
}

// NewServer wires the admin surface against the live components. Orch and
// Bandit may be nil when disabled.
func NewServer(coord *coordinator.Coordinator, loop *control.Loop, engine *plant.Engine, orch *chaos.Orchestrator, bandit *policy.Bandit, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{Coord: coord, Loop: loop, Engine: engine, Orch: orch, Bandit: bandit, log: log}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /kpis", s.handleKPIs)
	mux.HandleFunc("GET /mttr", s.handleMTTR)
	mux.HandleFunc("GET /attacks", s.handleAttacks)
	mux.HandleFunc("POST /set_sampling_period", s.handleSetSamplingPeriod)
	mux.HandleFunc("POST /set_lqr_weights", s.handleSetLQRWeights)
	mux.HandleFunc("POST /set_pid_params", s.handleSetPIDParams)
	mux.HandleFunc("POST /switch_mode", s.handleSwitchMode)
	mux.HandleFunc("POST /activate", s.handleActivate)
	mux.HandleFunc("POST /start_attack", s.handleStartAttack)
	mux.HandleFunc("POST /stop_attack", s.handleStopAttack)
	mux.HandleFunc("POST /reset_model", s.handleResetModel)
	return mux
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.routes()}
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()
	s.log.Info("admin server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the routed handler, used by tests.
func (s *Server) Handler() http.Handler { return s.routes() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"plant_id":        s.Engine.PlantID(),
		"plant_type":      s.Engine.Model().Type(),
		"state":           s.Engine.StateSnapshot(),
		"control_input":   s.Engine.ControlInput(),
		"mode":            s.Loop.Mode(),
		"sampling_period": s.Loop.Ts(),
		"gains":           s.Loop.Gains(),
		"control_active":  s.Loop.Active(),
		"network":         s.Engine.Network(),
		"qos":             s.Engine.QoSState(),
		"queue_depth":     s.Engine.QueueDepth(),
	})
}

func (s *Server) handleKPIs(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"system_state": s.Coord.SystemState().Slice(),
		"control":      s.Loop.KPIs(),
		"network":      s.Engine.NetworkKPIs(time.Now()),
	}
	if s.Bandit != nil {
		resp["bandit"] = s.Bandit.Statistics()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMTTR(w http.ResponseWriter, r *http.Request) {
	t := s.Coord.Tracker()
	writeJSON(w, http.StatusOK, map[string]any{
		"mttr_seconds": t.MTTR().Seconds(),
		"recovering":   t.Recovering(),
		"episodes":     t.Episodes(),
		"count":        t.Count(),
	})
}

func (s *Server) handleAttacks(w http.ResponseWriter, r *http.Request) {
	if s.Orch == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.Orch.Status())
}

func (s *Server) handleSetSamplingPeriod(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SamplingPeriod float64 `json:"sampling_period"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Loop.SetSamplingPeriod(req.SamplingPeriod); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sampling_period": s.Loop.Ts()})
}

func (s *Server) handleSetLQRWeights(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QDiag   []float64 `json:"q_diag"`
		RWeight float64   `json:"r_weight"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Loop.SetLQRWeights(r.Context(), req.QDiag, req.RWeight); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gains": s.Loop.Gains()})
}

func (s *Server) handleSetPIDParams(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kp float64 `json:"kp"`
		Ki float64 `json:"ki"`
		Kd float64 `json:"kd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Loop.SetPIDParams(req.Kp, req.Ki, req.Kd); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pid": s.Loop.PID()})
}

func (s *Server) handleSwitchMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Loop.SwitchMode(control.Mode(req.Mode)); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": s.Loop.Mode()})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.Loop.Activate(req.Active)
	writeJSON(w, http.StatusOK, map[string]any{"active": s.Loop.Active()})
}

func (s *Server) handleStartAttack(w http.ResponseWriter, r *http.Request) {
	if s.Orch == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("chaos orchestrator disabled"))
		return
	}
	var req struct {
		Kind   string       `json:"kind"`
		Params chaos.Params `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Orch.Start(context.Background(), req.Kind, req.Params); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, chaos.ErrAttackActive) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Orch.Status())
}

func (s *Server) handleStopAttack(w http.ResponseWriter, r *http.Request) {
	if s.Orch == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("chaos orchestrator disabled"))
		return
	}
	var req struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Kind == "" {
		req.Kind = "all"
	}
	s.Orch.Stop(req.Kind)
	writeJSON(w, http.StatusOK, s.Orch.Status())
}

func (s *Server) handleResetModel(w http.ResponseWriter, r *http.Request) {
	if s.Bandit == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("bandit policy disabled"))
		return
	}
	s.Bandit.Reset()
	writeJSON(w, http.StatusOK, s.Bandit.Statistics())
}
