package llm

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://margin-intel.schemas.local/llm/"

// responseSchemas holds the compiled schemas LLM responses must satisfy.
type responseSchemas struct {
	themes   *jsonschema.Schema
	decision *jsonschema.Schema
}

func loadSchemas() (*responseSchemas, error) {
	themes, err := compileSchema("themes.schema.json")
	if err != nil {
		return nil, err
	}
	decision, err := compileSchema("decision.schema.json")
	if err != nil {
		return nil, err
	}
	return &responseSchemas{themes: themes, decision: decision}, nil
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := schemaBaseURL + name
	if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("schema %s load failed: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
	}
	return compiled, nil
}

func validateAgainst(schema *jsonschema.Schema, v any) error {
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: schema validation failed: %w", common.ErrMalformedLLMJSON, err)
	}
	return nil
}
