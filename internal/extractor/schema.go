package extractor

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "filter.schema.json"

var filterSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("extractor: adding filter schema: %v", err))
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("extractor: compiling filter schema: %v", err))
	}
	return schema
}

// decodeFilter turns a model answer into a validated, normalized Filter.
// The answer must be a single JSON object matching schema.json; markdown
// code fences around it are tolerated.
func decodeFilter(content string) (filter.Filter, error) {
	raw := stripFence(content)
	if raw == "" {
		return filter.Filter{}, errors.New("empty model response")
	}

	doc, err := decodeInstance(raw)
	if err != nil {
		return filter.Filter{}, fmt.Errorf("model response is not JSON: %w", err)
	}
	// The prompt asks the model to answer {"error": "..."} when the query
	// lacks a required field.
	if obj, ok := doc.(map[string]any); ok {
		if msg, ok := obj["error"].(string); ok {
			return filter.Filter{}, fmt.Errorf("model rejected the query: %s", msg)
		}
	}
	if err := filterSchema.Validate(doc); err != nil {
		return filter.Filter{}, fmt.Errorf("model response does not match the filter schema: %w", err)
	}

	var f filter.Filter
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return filter.Filter{}, fmt.Errorf("decoding filter: %w", err)
	}
	if err := f.Validate(); err != nil {
		return filter.Filter{}, err
	}
	return f.Normalize(), nil
}

// decodeInstance decodes raw the way the schema validator expects
// instances: numbers stay json.Number. Trailing data is an error.
func decodeInstance(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return doc, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
