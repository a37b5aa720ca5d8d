package structured

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStrict(t *testing.T) {
	tests := []struct {
		name     string
		schema   string
		parallel bool
		wantErr  string
	}{
		{
			name: "valid strict schema",
			schema: `{"type":"object","properties":{"n":{"type":"integer"}},
				"required":["n"],"additionalProperties":false}`,
		},
		{
			name:    "root must be object",
			schema:  `{"type":"array","items":{"type":"string"}}`,
			wantErr: "root 'type' must be 'object'",
		},
		{
			name: "missing additionalProperties",
			schema: `{"type":"object","properties":{"n":{"type":"integer"}},
				"required":["n"]}`,
			wantErr: "'additionalProperties' must be set to false",
		},
		{
			name: "additionalProperties true",
			schema: `{"type":"object","properties":{"n":{"type":"integer"}},
				"required":["n"],"additionalProperties":true}`,
			wantErr: "'additionalProperties' must be false",
		},
		{
			name: "required must cover all properties",
			schema: `{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"string"}},
				"required":["a"],"additionalProperties":false}`,
			wantErr: "'required' must include every property",
		},
		{
			name: "anyOf at root",
			schema: `{"type":"object","anyOf":[{"type":"object"}],
				"properties":{},"required":[],"additionalProperties":false}`,
			wantErr: "'anyOf' is not permitted at the root",
		},
		{
			name: "nested object enforced",
			schema: `{"type":"object","properties":{
				"inner":{"type":"object","properties":{"x":{"type":"string"}},"required":["x"]}},
				"required":["inner"],"additionalProperties":false}`,
			wantErr: "'additionalProperties' must be set to false",
		},
		{
			name: "parallel tool calls rejected",
			schema: `{"type":"object","properties":{},
				"required":[],"additionalProperties":false}`,
			parallel: true,
			wantErr:  "'parallel_tool_calls' must be false",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStrict(json.RawMessage(tt.schema), tt.parallel)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGenerate_ConformsToSchema(t *testing.T) {
	schema := json.RawMessage(`{
		"type":"object",
		"properties":{
			"name":{"type":"string","minLength":3,"maxLength":20},
			"count":{"type":"integer","minimum":1,"maximum":10},
			"ratio":{"type":"number","minimum":0.2,"maximum":0.8},
			"active":{"type":"boolean"},
			"tags":{"type":"array","items":{"type":"string"},"minItems":1,"maxItems":5},
			"status":{"type":"string","enum":["new","open","closed"]}
		},
		"required":["name","count","ratio","active","tags","status"],
		"additionalProperties":false
	}`)

	compiled, err := Compile(schema)
	require.NoError(t, err)

	for seed := int64(0); seed < 10; seed++ {
		g := NewGenerator(seed)
		v, err := g.Generate(schema)
		require.NoError(t, err)

		// Round-trip so the validator sees plain JSON types.
		data, err := json.Marshal(v)
		require.NoError(t, err)
		var decoded any
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.NoError(t, compiled.Validate(decoded), "seed %d produced %s", seed, data)
	}
}

func TestGenerate_EnumDeterministicByPath(t *testing.T) {
	schema := json.RawMessage(`{
		"type":"object",
		"properties":{"status":{"type":"string","enum":["a","b","c","d","e"]}},
		"required":["status"],"additionalProperties":false
	}`)

	first, err := NewGenerator(1).Generate(schema)
	require.NoError(t, err)
	second, err := NewGenerator(999).Generate(schema)
	require.NoError(t, err)

	// Different seeds, same path, same pick.
	assert.Equal(t, first.(map[string]any)["status"], second.(map[string]any)["status"])
}

func TestGenerate_Formats(t *testing.T) {
	g := NewGenerator(42)

	gen := func(format string) string {
		schema := json.RawMessage(`{"type":"object","properties":{"v":{"type":"string","format":"` + format + `"}},"required":["v"],"additionalProperties":false}`)
		v, err := g.Generate(schema)
		require.NoError(t, err)
		s, ok := v.(map[string]any)["v"].(string)
		require.True(t, ok)
		return s
	}

	assert.Contains(t, gen("email"), "@")
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`, gen("date-time"))
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, gen("date"))
	assert.Regexp(t, `^\d{2}:\d{2}:\d{2}$`, gen("time"))

	_, err := uuid.Parse(gen("uuid"))
	assert.NoError(t, err)
	assert.Contains(t, gen("uri"), "https://")
	assert.NotNil(t, net.ParseIP(gen("ipv4")))
	assert.NotNil(t, net.ParseIP(gen("ipv6")))
	assert.Contains(t, gen("hostname"), ".")
}

func TestGenerate_ExclusiveBounds(t *testing.T) {
	schema := json.RawMessage(`{
		"type":"object",
		"properties":{"n":{"type":"integer","exclusiveMinimum":0,"exclusiveMaximum":3}},
		"required":["n"],"additionalProperties":false
	}`)

	for seed := int64(0); seed < 20; seed++ {
		v, err := NewGenerator(seed).Generate(schema)
		require.NoError(t, err)
		n := v.(map[string]any)["n"].(int64)
		assert.GreaterOrEqual(t, n, int64(1))
		assert.LessOrEqual(t, n, int64(2))
	}
}

func TestGenerate_InvalidSchemaRejected(t *testing.T) {
	_, err := NewGenerator(1).Generate(json.RawMessage(`{"type": 17`))
	assert.Error(t, err)

	_, err = NewGenerator(1).Generate(json.RawMessage(`{"type":"object","properties":{"x":{"type":"bogus"}}}`))
	assert.Error(t, err)
}

func TestGenerateJSON(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer","minimum":1,"maximum":10}},"required":["n"],"additionalProperties":false}`)

	out, err := NewGenerator(7).GenerateJSON(schema)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Contains(t, decoded, "n")
}
