package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ncs-sim/internal/admin"
	"ncs-sim/internal/chaos"
	"ncs-sim/internal/config"
	"ncs-sim/internal/control"
	"ncs-sim/internal/coordinator"
	"ncs-sim/internal/logging"
	"ncs-sim/internal/plant"
	"ncs-sim/internal/policy"
	"ncs-sim/internal/recovery"
)

var (
	runPrintOnly  bool
	runConfigPath string
	runSchemaPath string
	runLogFile    string
	runVerbose    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control system testbed",
	Long:  "run starts the plant simulation, control loop, decision policies, chaos orchestrator, and admin surface.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(runConfigPath, runSchemaPath)
		if err != nil {
			return err
		}

		level := slog.LevelInfo
		if runVerbose {
			level = slog.LevelDebug
		}
		log := logging.NewLevel(level)
		slog.SetDefault(log)

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		ctx = logging.NewContext(ctx, log)

		writer, cleanup, err := newWriter(cfg, runPrintOnly, runLogFile)
		if err != nil {
			return err
		}
		defer cleanup()

		engine, err := plant.NewEngine(plant.Config{
			PlantID:         cfg.Plant.ID,
			Type:            cfg.Plant.Type,
			IntegrationStep: time.Duration(cfg.Plant.IntegrationStepMS * float64(time.Millisecond)),
			PublishStep:     time.Duration(cfg.Plant.PublishStepMS * float64(time.Millisecond)),
			StateLimit:      cfg.Plant.StateLimit,
			Network: plant.NetworkProfile{
				DelayS:     cfg.Network.DelayMS / 1000,
				JitterStdS: cfg.Network.JitterStdMS / 1000,
				LossRate:   cfg.Network.LossRate,
			},
			Seed: cfg.Plant.Seed,
		}, writer)
		if err != nil {
			return err
		}

		a, b := engine.Model().Linearize()
		loop, err := control.NewLoop(ctx, a, b, control.Config{
			Mode:            control.Mode(cfg.Control.Mode),
			Ts:              cfg.Control.SamplingPeriod,
			QDiag:           fitQDiag(cfg.Control.QDiag, engine.Model().Dim()),
			RWeight:         cfg.Control.RWeight,
			PID:             control.PIDParams(cfg.Control.PID),
			ActuationLimit:  cfg.Control.ActuationLimit,
			AntiWindupLimit: cfg.Control.AntiWindupLimit,
		}, writer)
		if err != nil {
			return err
		}

		tracker := recovery.NewTracker(cfg.Recovery.LowThreshold, cfg.Recovery.HighThreshold, cfg.Recovery.WindowSize)

		var reflex *policy.Reflex
		if cfg.Policy.UseReflex {
			rc := policy.DefaultReflexConfig()
			rc.Cooldown = time.Duration(cfg.Policy.CooldownS * float64(time.Second))
			reflex = policy.NewReflex(rc)
		}
		var bandit *policy.Bandit
		if cfg.Policy.UseBandit {
			bc := policy.DefaultBanditConfig()
			if cfg.Policy.Bandit.Alpha > 0 {
				bc.Alpha = cfg.Policy.Bandit.Alpha
			}
			if cfg.Policy.Bandit.Lambda > 0 {
				bc.Lambda = cfg.Policy.Bandit.Lambda
			}
			if cfg.Policy.Bandit.Epsilon > 0 {
				bc.Epsilon = cfg.Policy.Bandit.Epsilon
			}
			if cfg.Policy.Bandit.MinEpsilon > 0 {
				bc.MinEpsilon = cfg.Policy.Bandit.MinEpsilon
			}
			if cfg.Policy.Bandit.EpsilonDecay > 0 {
				bc.EpsilonDecay = cfg.Policy.Bandit.EpsilonDecay
			}
			if cfg.Policy.Bandit.SnapshotEvery > 0 {
				bc.SnapshotEvery = cfg.Policy.Bandit.SnapshotEvery
			}
			bc.ModelPath = cfg.Policy.Bandit.ModelPath
			bandit = policy.NewBandit(bc, log)
		}

		coord := coordinator.New(coordinator.Config{
			DecisionInterval: cfg.Policy.DecisionIntervalDuration(),
			UseReflex:        cfg.Policy.UseReflex,
			UseBandit:        cfg.Policy.UseBandit,
		}, engine, loop, tracker, reflex, bandit, writer)

		// Attack-start events force the recovery tracker into RECOVERING.
		events := coordinator.AttackNotifier{Coordinator: coord, Next: writer}
		orch := chaos.NewOrchestrator(engine, engine, engine, events, log)
		defer orch.StopAll()

		srv := admin.NewServer(coord, loop, engine, orch, bandit, log)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return coord.Run(ctx) })
		g.Go(func() error { return srv.Start(ctx, cfg.Admin.Listen) })
		if cfg.Scenario.Enabled {
			g.Go(func() error {
				return orch.RunScenario(ctx, chaos.ScenarioConfig{
					TotalDuration: time.Duration(cfg.Scenario.TotalDuration * float64(time.Second)),
					Interval:      time.Duration(cfg.Scenario.Interval * float64(time.Second)),
					Kinds:         cfg.Scenario.Kinds,
				})
			})
		}

		log.Info("testbed running",
			"plant", cfg.Plant.ID, "type", cfg.Plant.Type,
			"mode", cfg.Control.Mode, "admin", cfg.Admin.Listen)

		err = g.Wait()
		if bandit != nil && cfg.Policy.Bandit.ModelPath != "" {
			if serr := bandit.Save(); serr != nil {
				log.Error("final bandit snapshot failed", "err", serr)
			}
		}
		log.Info("testbed stopped")
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

// fitQDiag pads the configured weights with the last entry or truncates to
// the plant dimension.
func fitQDiag(q []float64, dim int) []float64 {
	if len(q) == 0 {
		return nil
	}
	out := make([]float64, dim)
	for i := 0; i < dim; i++ {
		if i < len(q) {
			out[i] = q[i]
		} else {
			out[i] = q[len(q)-1]
		}
	}
	return out
}

func init() {
	runCmd.Flags().BoolVar(&runPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of the configured sinks")
	runCmd.Flags().StringVar(&runConfigPath, "config", "config/ncs.yaml", "Path to simulation configuration YAML")
	runCmd.Flags().StringVar(&runSchemaPath, "schema", "schemas/ncs.cue", "Path to CUE schema file")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "Path to export telemetry logs (JSONL)")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Enable debug logging")
}
