package sink

import (
	"encoding/json"
	"fmt"

	"ncs-sim/internal/telemetry"
)

// StdoutWriter prints every row as one JSON line to STDOUT.
type StdoutWriter struct{}

func printJSON(v any) error {
	data, _ := json.Marshal(v)
	fmt.Println(string(data))
	return nil
}

func (w *StdoutWriter) WritePlantState(row telemetry.PlantStateRow) error   { return printJSON(row) }
func (w *StdoutWriter) WritePlantKPIs(row telemetry.PlantKPIRow) error     { return printJSON(row) }
func (w *StdoutWriter) WriteControlKPIs(row telemetry.ControlKPIRow) error { return printJSON(row) }
func (w *StdoutWriter) WriteNetworkKPIs(row telemetry.NetworkKPIRow) error { return printJSON(row) }
func (w *StdoutWriter) WriteDecision(row telemetry.DecisionRow) error      { return printJSON(row) }
func (w *StdoutWriter) WriteAttackEvent(row telemetry.AttackEventRow) error {
	return printJSON(row)
}
