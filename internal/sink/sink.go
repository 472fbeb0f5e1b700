// Telemetry sinks: stdout, JSONL file, GreptimeDB, and fan-out
package sink

import (
	"ncs-sim/internal/telemetry"
)

// Writer receives every telemetry row kind the simulator produces.
type Writer interface {
	WritePlantState(telemetry.PlantStateRow) error
	WritePlantKPIs(telemetry.PlantKPIRow) error
	WriteControlKPIs(telemetry.ControlKPIRow) error
	WriteNetworkKPIs(telemetry.NetworkKPIRow) error
	WriteDecision(telemetry.DecisionRow) error
	WriteAttackEvent(telemetry.AttackEventRow) error
}

// batchStateWriter is the optional batch upgrade for high-rate state rows.
type batchStateWriter interface {
	WritePlantStates([]telemetry.PlantStateRow) error
}

// MultiWriter fans every row out to multiple writers.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a fan-out over the given writers.
func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

func (mw *MultiWriter) WritePlantState(row telemetry.PlantStateRow) error {
	for _, w := range mw.writers {
		if err := w.WritePlantState(row); err != nil {
			return err
		}
	}
	return nil
}

// WritePlantStates sends a batch to all writers, using the batch path where
// supported.
func (mw *MultiWriter) WritePlantStates(rows []telemetry.PlantStateRow) error {
	for _, w := range mw.writers {
		if bw, ok := w.(batchStateWriter); ok {
			if err := bw.WritePlantStates(rows); err != nil {
				return err
			}
			continue
		}
		for _, r := range rows {
			if err := w.WritePlantState(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (mw *MultiWriter) WritePlantKPIs(row telemetry.PlantKPIRow) error {
	for _, w := range mw.writers {
		if err := w.WritePlantKPIs(row); err != nil {
			return err
		}
	}
	return nil
}

func (mw *MultiWriter) WriteControlKPIs(row telemetry.ControlKPIRow) error {
	for _, w := range mw.writers {
		if err := w.WriteControlKPIs(row); err != nil {
			return err
		}
	}
	return nil
}

func (mw *MultiWriter) WriteNetworkKPIs(row telemetry.NetworkKPIRow) error {
	for _, w := range mw.writers {
		if err := w.WriteNetworkKPIs(row); err != nil {
			return err
		}
	}
	return nil
}

func (mw *MultiWriter) WriteDecision(row telemetry.DecisionRow) error {
	for _, w := range mw.writers {
		if err := w.WriteDecision(row); err != nil {
			return err
		}
	}
	return nil
}

func (mw *MultiWriter) WriteAttackEvent(row telemetry.AttackEventRow) error {
	for _, w := range mw.writers {
		if err := w.WriteAttackEvent(row); err != nil {
			return err
		}
	}
	return nil
}
