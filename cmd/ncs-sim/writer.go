package main

import (
	"fmt"
	"os"

	"ncs-sim/internal/config"
	"ncs-sim/internal/sink"
)

// newWriter assembles the telemetry sinks from config, flags, and env vars.
// It returns the writer and a cleanup function to close any resources.
func newWriter(cfg *config.SimulationConfig, printOnly bool, logFile string) (sink.Writer, func(), error) {
	cleanup := func() {}
	outputs := cfg.Telemetry.Outputs
	if printOnly {
		outputs = []string{"stdout"}
	}

	var writers []sink.Writer
	var closers []func()
	for _, out := range outputs {
		switch out {
		case "stdout":
			writers = append(writers, &sink.StdoutWriter{})
		case "file":
			fw, err := sink.NewFileWriter(cfg.Telemetry.File.StatePath, cfg.Telemetry.File.EventsPath)
			if err != nil {
				return nil, nil, err
			}
			writers = append(writers, fw)
			closers = append(closers, func() { fw.Close() })
		case "greptime":
			endpoint := cfg.Telemetry.Greptime.Endpoint
			if env := os.Getenv("GREPTIMEDB_ENDPOINT"); env != "" {
				endpoint = env
			}
			database := cfg.Telemetry.Greptime.Database
			if database == "" {
				database = "public"
			}
			gw, err := sink.NewGreptimeWriter(endpoint, database)
			if err != nil {
				return nil, nil, err
			}
			writers = append(writers, gw)
		default:
			return nil, nil, fmt.Errorf("unknown telemetry output %q", out)
		}
	}

	if logFile != "" {
		fw, err := sink.NewFileWriter(logFile, logFile+".events")
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, fw)
		closers = append(closers, func() { fw.Close() })
	}

	if len(closers) > 0 {
		cleanup = func() {
			for _, c := range closers {
				c()
			}
		}
	}
	if len(writers) == 1 {
		return writers[0], cleanup, nil
	}
	return sink.NewMultiWriter(writers...), cleanup, nil
}
