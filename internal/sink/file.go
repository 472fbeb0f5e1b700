package sink

import (
	"encoding/json"
	"os"

	"ncs-sim/internal/telemetry"
)

// FileWriter appends every row as JSONL. State samples go to their own file
// because of their much higher rate; everything else shares the events file.
type FileWriter struct {
	stateFile  *os.File
	eventsFile *os.File
	stateEnc   *json.Encoder
	eventsEnc  *json.Encoder
}

// NewFileWriter creates a FileWriter. eventsPath may be empty to log only
// plant state samples.
func NewFileWriter(statePath, eventsPath string) (*FileWriter, error) {
	sf, err := os.Create(statePath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{stateFile: sf, stateEnc: json.NewEncoder(sf)}
	if eventsPath != "" {
		ef, err := os.Create(eventsPath)
		if err != nil {
			sf.Close()
			return nil, err
		}
		fw.eventsFile = ef
		fw.eventsEnc = json.NewEncoder(ef)
	}
	return fw, nil
}

func (f *FileWriter) WritePlantState(row telemetry.PlantStateRow) error {
	return f.stateEnc.Encode(row)
}

// WritePlantStates logs a batch of state samples.
func (f *FileWriter) WritePlantStates(rows []telemetry.PlantStateRow) error {
	for _, r := range rows {
		if err := f.WritePlantState(r); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileWriter) writeEvent(v any) error {
	if f.eventsEnc == nil {
		return nil
	}
	return f.eventsEnc.Encode(v)
}

func (f *FileWriter) WritePlantKPIs(row telemetry.PlantKPIRow) error     { return f.writeEvent(row) }
func (f *FileWriter) WriteControlKPIs(row telemetry.ControlKPIRow) error { return f.writeEvent(row) }
func (f *FileWriter) WriteNetworkKPIs(row telemetry.NetworkKPIRow) error { return f.writeEvent(row) }
func (f *FileWriter) WriteDecision(row telemetry.DecisionRow) error      { return f.writeEvent(row) }
func (f *FileWriter) WriteAttackEvent(row telemetry.AttackEventRow) error {
	return f.writeEvent(row)
}

// Close closes the underlying files.
func (f *FileWriter) Close() error {
	var err error
	if f.stateFile != nil {
		if e := f.stateFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	if f.eventsFile != nil {
		if e := f.eventsFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
