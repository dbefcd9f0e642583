package config

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
)

//go:embed schema/driver-config-v1.json
var driverConfigSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("driver-config-v1.json",
		strings.NewReader(driverConfigSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("driver-config-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDriver checks one driver entry against the embedded schema.
// Malformed entries fail fast here, before anything is registered.
func (v *Validator) ValidateDriver(d *DriverConfig) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal driver entry: %w", err)
	}

	var entry interface{}
	if err := json.Unmarshal(data, &entry); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(entry); err != nil {
		return driver.Configurationf("schema validation failed: %v", err)
	}
	return nil
}
