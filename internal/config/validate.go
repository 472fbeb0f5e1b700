// CUE schema validation for the simulation config
package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
)

// validateSchema unifies the raw YAML config with the CUE schema and reports
// the first constraint violation.
func validateSchema(data []byte, schemaPath string) error {
	schemaBytes, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("cannot read CUE schema: %w", err)
	}

	ctx := cuecontext.New()
	cfgFile, err := yaml.Extract("config.yaml", data)
	if err != nil {
		return fmt.Errorf("simulation config is not valid YAML: %w", err)
	}
	cfgVal := ctx.BuildFile(cfgFile)
	schemaVal := ctx.CompileBytes(schemaBytes)

	merged := cfgVal.Unify(schemaVal)
	if merged.Err() != nil {
		return fmt.Errorf("simulation config does not match schema: %w", merged.Err())
	}
	if err := merged.Validate(); err != nil {
		return fmt.Errorf("simulation config invalid: %w", err)
	}
	return nil
}
