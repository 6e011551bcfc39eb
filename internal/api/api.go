// Package api describes the CLI surface as data, so `get-api` can emit
// the schema as JSON for frontends to introspect.
package api

import "encoding/json"

// Flag describes one option of a CLI command.
type Flag struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
}

// Command describes one CLI subcommand.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Arguments   []Flag `json:"arguments"`
	Flags       []Flag `json:"flags"`
}

// Schema is the full CLI surface.
type Schema struct {
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	Commands []Command `json:"commands"`
}

// CLISchema returns the schema of the kalix binary.
func CLISchema(version string) Schema {
	return Schema{
		Name:    "kalix",
		Version: version,
		Commands: []Command{
			{
				Name:        "simulate",
				Description: "Run a model file and capture results",
				Arguments: []Flag{
					{Name: "model", Type: "path", Required: true, Description: "Model file to simulate"},
				},
				Flags: []Flag{
					{Name: "output", Type: "path", Description: "Write result series as CSV"},
					{Name: "mass-balance", Type: "path", Description: "Write the mass balance report"},
					{Name: "verify-mass-balance", Type: "path", Description: "Compare the mass balance report byte-wise against a reference"},
					{Name: "profile", Type: "bool", Description: "Emit timing information", Default: false},
				},
			},
			{
				Name:        "optimise",
				Description: "Calibrate model parameters against observed data",
				Arguments: []Flag{
					{Name: "config", Type: "path", Required: true, Description: "Optimisation configuration"},
					{Name: "model", Type: "path", Description: "Model file (overrides the config)"},
				},
				Flags: []Flag{
					{Name: "save-model", Type: "path", Description: "Write the calibrated model"},
					{Name: "quiet", Type: "bool", Description: "Suppress progress output", Default: false},
					{Name: "report-frequency", Type: "int", Description: "Generations between progress reports", Default: 10},
					{Name: "profile", Type: "bool", Description: "Emit timing information", Default: false},
				},
			},
			{
				Name:        "new-session",
				Description: "Start an interactive session speaking the JSON message protocol",
			},
			{
				Name:        "get-api",
				Description: "Emit this CLI schema as JSON",
			},
		},
	}
}

// CLISchemaJSON renders the schema as indented JSON.
func CLISchemaJSON(version string) (string, error) {
	schema := CLISchema(version)
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
