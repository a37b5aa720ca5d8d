package structured

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Compile parses and compiles a schema, reporting a caller error when the
// schema itself is malformed.
func Compile(schemaBytes json.RawMessage) (*jsonschema.Schema, error) {
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Generator produces synthetic values conforming to a JSON schema. Values
// are pseudorandom from the seed; enum picks depend only on the property
// path so repeated generations agree on them.
type Generator struct {
	rng *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Generate compiles the schema and produces a conforming value.
func (g *Generator) Generate(schemaBytes json.RawMessage) (any, error) {
	if _, err := Compile(schemaBytes); err != nil {
		return nil, err
	}
	var schema map[string]any
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return g.value(schema, "#"), nil
}

// GenerateJSON is Generate rendered as a compact JSON string.
func (g *Generator) GenerateJSON(schemaBytes json.RawMessage) (string, error) {
	v, err := g.Generate(schemaBytes)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal generated value: %w", err)
	}
	return string(data), nil
}

func (g *Generator) value(schema map[string]any, path string) any {
	if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 {
		return enum[int(pathHash(path)%uint64(len(enum)))]
	}

	switch typeName(schema) {
	case "object":
		return g.object(schema, path)
	case "array":
		return g.array(schema, path)
	case "string":
		return g.str(schema, path)
	case "integer":
		return g.integer(schema)
	case "number":
		return g.number(schema)
	case "boolean":
		return g.rng.Intn(2) == 0
	case "null":
		return nil
	default:
		// Untyped schema: the safest conforming value is an empty object
		// unless properties hint at one.
		if schema["properties"] != nil {
			return g.object(schema, path)
		}
		return g.word()
	}
}

func (g *Generator) object(schema map[string]any, path string) map[string]any {
	out := make(map[string]any)
	props, _ := schema["properties"].(map[string]any)
	required := requiredSet(schema)

	for name, raw := range props {
		sub, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		// Optional properties are skipped; strict mode requires all of
		// them anyway.
		if len(required) > 0 && !required[name] {
			continue
		}
		out[name] = g.value(sub, path+"/"+name)
	}
	return out
}

func (g *Generator) array(schema map[string]any, path string) []any {
	minItems := intField(schema, "minItems", 1)
	maxItems := intField(schema, "maxItems", minItems+3)
	if maxItems > minItems+3 {
		maxItems = minItems + 3
	}
	if maxItems < minItems {
		maxItems = minItems
	}
	n := minItems + g.rng.Intn(maxItems-minItems+1)

	items, _ := schema["items"].(map[string]any)
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		if items == nil {
			out = append(out, g.word())
			continue
		}
		out = append(out, g.value(items, fmt.Sprintf("%s/%d", path, i)))
	}
	return out
}

func (g *Generator) str(schema map[string]any, path string) string {
	if format, _ := schema["format"].(string); format != "" {
		if v, ok := g.formatted(format, path); ok {
			return v
		}
	}

	word := g.word()
	minLen := intField(schema, "minLength", 0)
	maxLen := intField(schema, "maxLength", 0)
	for len(word) < minLen {
		word += g.word()
	}
	if maxLen > 0 && len(word) > maxLen {
		word = word[:maxLen]
	}
	return word
}

func (g *Generator) formatted(format, path string) (string, bool) {
	switch format {
	case "email":
		return g.word() + "@example.com", true
	case "date-time":
		return fmt.Sprintf("2024-%02d-%02dT%02d:%02d:%02dZ",
			1+g.rng.Intn(12), 1+g.rng.Intn(28),
			g.rng.Intn(24), g.rng.Intn(60), g.rng.Intn(60)), true
	case "date":
		return fmt.Sprintf("2024-%02d-%02d", 1+g.rng.Intn(12), 1+g.rng.Intn(28)), true
	case "time":
		return fmt.Sprintf("%02d:%02d:%02d", g.rng.Intn(24), g.rng.Intn(60), g.rng.Intn(60)), true
	case "uuid":
		return uuid.NewString(), true
	case "uri":
		return "https://example.com/" + g.word(), true
	case "hostname":
		return g.word() + ".example.com", true
	case "ipv4":
		return fmt.Sprintf("%d.%d.%d.%d",
			1+g.rng.Intn(223), g.rng.Intn(256), g.rng.Intn(256), 1+g.rng.Intn(254)), true
	case "ipv6":
		return fmt.Sprintf("2001:db8:%x:%x:%x:%x:%x:%x",
			g.rng.Intn(0x10000), g.rng.Intn(0x10000), g.rng.Intn(0x10000),
			g.rng.Intn(0x10000), g.rng.Intn(0x10000), g.rng.Intn(0x10000)), true
	default:
		return "", false
	}
}

func (g *Generator) integer(schema map[string]any) int64 {
	lo, hi := bounds(schema, 0, 1000)
	loInt := int64(math.Ceil(lo))
	hiInt := int64(math.Floor(hi))
	if hiInt < loInt {
		return loInt
	}
	return loInt + g.rng.Int63n(hiInt-loInt+1)
}

func (g *Generator) number(schema map[string]any) float64 {
	lo, hi := bounds(schema, 0.0, 1.0)
	if hi <= lo {
		return lo
	}
	return lo + g.rng.Float64()*(hi-lo)
}

// bounds resolves minimum/maximum honoring exclusive bounds with a small
// epsilon nudge for numbers.
func bounds(schema map[string]any, defLo, defHi float64) (float64, float64) {
	lo, hi := defLo, defHi
	if v, ok := floatField(schema, "minimum"); ok {
		lo = v
	}
	if v, ok := floatField(schema, "maximum"); ok {
		hi = v
	}
	if v, ok := floatField(schema, "exclusiveMinimum"); ok {
		lo = v + 1e-9
		if typeName(schema) == "integer" {
			lo = v + 1
		}
	}
	if v, ok := floatField(schema, "exclusiveMaximum"); ok {
		hi = v - 1e-9
		if typeName(schema) == "integer" {
			hi = v - 1
		}
	}
	return lo, hi
}

var genWords = []string{
	"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf",
	"hotel", "india", "juliet", "kilo", "lima", "mike", "november",
	"oscar", "papa", "quebec", "romeo", "sierra", "tango", "uniform",
	"victor", "whiskey", "xray", "yankee", "zulu",
}

func (g *Generator) word() string {
	return genWords[g.rng.Intn(len(genWords))]
}

func typeName(schema map[string]any) string {
	switch t := schema["type"].(type) {
	case string:
		return t
	case []any:
		// Union types: take the first non-null entry.
		for _, item := range t {
			if s, ok := item.(string); ok && s != "null" {
				return s
			}
		}
	}
	return ""
}

func intField(schema map[string]any, key string, def int) int {
	if v, ok := floatField(schema, key); ok {
		return int(v)
	}
	return def
}

func floatField(schema map[string]any, key string) (float64, bool) {
	switch v := schema[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func pathHash(path string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(path))
	return h.Sum64()
}
