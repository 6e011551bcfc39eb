package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLISchemaListsAllCommands(t *testing.T) {
	schema := CLISchema("1.2.3")

	assert.Equal(t, "kalix", schema.Name)
	assert.Equal(t, "1.2.3", schema.Version)

	names := make([]string, len(schema.Commands))
	for i, cmd := range schema.Commands {
		names[i] = cmd.Name
	}
	assert.Equal(t, []string{"simulate", "optimise", "new-session", "get-api"}, names)
}

func TestCLISchemaJSONRoundTrips(t *testing.T) {
	out, err := CLISchemaJSON("1.0.0")
	require.NoError(t, err)

	var schema Schema
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Equal(t, "kalix", schema.Name)
	assert.Len(t, schema.Commands, 4)

	simulate := schema.Commands[0]
	require.NotEmpty(t, simulate.Arguments)
	assert.Equal(t, "model", simulate.Arguments[0].Name)
	assert.True(t, simulate.Arguments[0].Required)
}
