package sink

import (
	"context"
	"fmt"
	"net"

	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	ingesterContext "github.com/GreptimeTeam/greptimedb-ingester-go/context"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"ncs-sim/internal/telemetry"
)

// GreptimeWriter writes every telemetry row kind to GreptimeDB via the
// ingester client.
type GreptimeWriter struct {
	client *greptime.Client
	db     string
}

// tableTTL is attached as a write hint so tables auto-created on first
// ingest carry the same retention the DDL below declares.
const tableTTL = "ttl=30d"

// ddl documents the schemas GreptimeDB auto-creates on first write. The
// ingester client carries no SQL surface, so these are not executed; the
// column layout is defined by the table builders below and the ttl option
// is passed as a write hint. State vectors are flattened to x0..x3; the
// unstable plant leaves x2/x3 at zero.
var ddl = []string{
	fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  plant_id STRING TAG,
  plant_type STRING TAG,
  x0 DOUBLE, x1 DOUBLE, x2 DOUBLE, x3 DOUBLE,
  control_input DOUBLE,
  delay DOUBLE,
  loss_rate DOUBLE,
  jitter_std DOUBLE,
  sensor_attack BOOLEAN,
  actuator_attack BOOLEAN,
  ts TIMESTAMP TIME INDEX
) WITH (ttl='30d')
`, telemetry.PlantStateTableName),
	`
CREATE TABLE IF NOT EXISTS ncs_plant_kpis (
  plant_id STRING TAG,
  stability_margin DOUBLE,
  energy DOUBLE,
  deviation DOUBLE,
  control_effort DOUBLE,
  ts TIMESTAMP TIME INDEX
) WITH (ttl='30d')
`,
	`
CREATE TABLE IF NOT EXISTS ncs_control_kpis (
  mode STRING TAG,
  control_cost DOUBLE,
  settling_time DOUBLE,
  overshoot DOUBLE,
  steady_state_error DOUBLE,
  control_input DOUBLE,
  sampling_period DOUBLE,
  ts TIMESTAMP TIME INDEX
) WITH (ttl='30d')
`,
	`
CREATE TABLE IF NOT EXISTS ncs_network_kpis (
  plant_id STRING TAG,
  latency_ms DOUBLE,
  jitter_ms DOUBLE,
  loss_rate DOUBLE,
  ts TIMESTAMP TIME INDEX
) WITH (ttl='30d')
`,
	`
CREATE TABLE IF NOT EXISTS ncs_decisions (
  policy STRING TAG,
  action STRING,
  rule STRING,
  reward DOUBLE,
  stability_margin DOUBLE,
  recovery_active BOOLEAN,
  ts TIMESTAMP TIME INDEX
) WITH (ttl='30d')
`,
	`
CREATE TABLE IF NOT EXISTS ncs_attack_events (
  attack_id STRING TAG,
  kind STRING TAG,
  event STRING,
  params STRING,
  ts TIMESTAMP TIME INDEX
) WITH (ttl='30d')
`,
}

// NewGreptimeWriter creates the writer. Tables are auto-created by
// GreptimeDB on first write, carrying the ttl hint from write().
func NewGreptimeWriter(endpoint, database string) (*GreptimeWriter, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	cfg := greptime.NewConfig(endpoint)
	if err == nil {
		cfg = greptime.NewConfig(host)
		var port int
		if _, perr := fmt.Sscanf(portStr, "%d", &port); perr == nil {
			cfg = cfg.WithPort(port)
		}
	}
	cfg = cfg.WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &GreptimeWriter{client: client, db: database}, nil
}

func (w *GreptimeWriter) write(tbl *table.Table) error {
	ctx := ingesterContext.New(context.Background(), ingesterContext.WithHints(tableTTL))
	_, err := w.client.Write(ctx, tbl)
	return err
}

func stateAt(state []float64, i int) float64 {
	if i < len(state) {
		return state[i]
	}
	return 0
}

func (w *GreptimeWriter) WritePlantState(row telemetry.PlantStateRow) error {
	return w.WritePlantStates([]telemetry.PlantStateRow{row})
}

// WritePlantStates inserts a batch of state samples in one call.
func (w *GreptimeWriter) WritePlantStates(rows []telemetry.PlantStateRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(telemetry.PlantStateTableName)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("plant_id", types.STRING)
	tbl.AddTagColumn("plant_type", types.STRING)
	tbl.AddFieldColumn("x0", types.FLOAT64)
	tbl.AddFieldColumn("x1", types.FLOAT64)
	tbl.AddFieldColumn("x2", types.FLOAT64)
	tbl.AddFieldColumn("x3", types.FLOAT64)
	tbl.AddFieldColumn("control_input", types.FLOAT64)
	tbl.AddFieldColumn("delay", types.FLOAT64)
	tbl.AddFieldColumn("loss_rate", types.FLOAT64)
	tbl.AddFieldColumn("jitter_std", types.FLOAT64)
	tbl.AddFieldColumn("sensor_attack", types.BOOLEAN)
	tbl.AddFieldColumn("actuator_attack", types.BOOLEAN)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	for _, r := range rows {
		if err := tbl.AddRow(
			r.PlantID,
			r.PlantType,
			stateAt(r.State, 0),
			stateAt(r.State, 1),
			stateAt(r.State, 2),
			stateAt(r.State, 3),
			r.ControlInput,
			r.DelayS,
			r.LossRate,
			r.JitterStdS,
			r.SensorAttack,
			r.ActuatorAttack,
			r.Timestamp,
		); err != nil {
			return err
		}
	}
	return w.write(tbl)
}

func (w *GreptimeWriter) WritePlantKPIs(row telemetry.PlantKPIRow) error {
	tbl, err := table.New("ncs_plant_kpis")
	if err != nil {
		return err
	}
	tbl.AddTagColumn("plant_id", types.STRING)
	tbl.AddFieldColumn("stability_margin", types.FLOAT64)
	tbl.AddFieldColumn("energy", types.FLOAT64)
	tbl.AddFieldColumn("deviation", types.FLOAT64)
	tbl.AddFieldColumn("control_effort", types.FLOAT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	if err := tbl.AddRow(
		row.PlantID,
		row.StabilityMargin,
		row.Energy,
		row.Deviation,
		row.ControlEffort,
		row.Timestamp,
	); err != nil {
		return err
	}
	return w.write(tbl)
}

func (w *GreptimeWriter) WriteControlKPIs(row telemetry.ControlKPIRow) error {
	tbl, err := table.New("ncs_control_kpis")
	if err != nil {
		return err
	}
	tbl.AddTagColumn("mode", types.STRING)
	tbl.AddFieldColumn("control_cost", types.FLOAT64)
	tbl.AddFieldColumn("settling_time", types.FLOAT64)
	tbl.AddFieldColumn("overshoot", types.FLOAT64)
	tbl.AddFieldColumn("steady_state_error", types.FLOAT64)
	tbl.AddFieldColumn("control_input", types.FLOAT64)
	tbl.AddFieldColumn("sampling_period", types.FLOAT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	if err := tbl.AddRow(
		row.Mode,
		row.ControlCost,
		row.SettlingTime,
		row.Overshoot,
		row.SteadyStateError,
		row.ControlInput,
		row.SamplingPeriod,
		row.Timestamp,
	); err != nil {
		return err
	}
	return w.write(tbl)
}

func (w *GreptimeWriter) WriteNetworkKPIs(row telemetry.NetworkKPIRow) error {
	tbl, err := table.New("ncs_network_kpis")
	if err != nil {
		return err
	}
	tbl.AddTagColumn("plant_id", types.STRING)
	tbl.AddFieldColumn("latency_ms", types.FLOAT64)
	tbl.AddFieldColumn("jitter_ms", types.FLOAT64)
	tbl.AddFieldColumn("loss_rate", types.FLOAT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	if err := tbl.AddRow(
		row.PlantID,
		row.LatencyMS,
		row.JitterMS,
		row.LossRate,
		row.Timestamp,
	); err != nil {
		return err
	}
	return w.write(tbl)
}

func (w *GreptimeWriter) WriteDecision(row telemetry.DecisionRow) error {
	tbl, err := table.New("ncs_decisions")
	if err != nil {
		return err
	}
	tbl.AddTagColumn("policy", types.STRING)
	tbl.AddFieldColumn("action", types.STRING)
	tbl.AddFieldColumn("rule", types.STRING)
	tbl.AddFieldColumn("reward", types.FLOAT64)
	tbl.AddFieldColumn("stability_margin", types.FLOAT64)
	tbl.AddFieldColumn("recovery_active", types.BOOLEAN)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	if err := tbl.AddRow(
		row.Policy,
		row.Action,
		row.Rule,
		row.Reward,
		row.StabilityMargin,
		row.RecoveryActive,
		row.Timestamp,
	); err != nil {
		return err
	}
	return w.write(tbl)
}

func (w *GreptimeWriter) WriteAttackEvent(row telemetry.AttackEventRow) error {
	tbl, err := table.New("ncs_attack_events")
	if err != nil {
		return err
	}
	tbl.AddTagColumn("attack_id", types.STRING)
	tbl.AddTagColumn("kind", types.STRING)
	tbl.AddFieldColumn("event", types.STRING)
	tbl.AddFieldColumn("params", types.STRING)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	if err := tbl.AddRow(
		row.AttackID,
		row.Kind,
		row.Event,
		row.Params,
		row.Timestamp,
	); err != nil {
		return err
	}
	return w.write(tbl)
}
