package connections

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.schema.json
var catalogSchemaJSON []byte

var catalogSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("catalog.schema.json", bytes.NewReader(catalogSchemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile("catalog.schema.json")
})

// checkSchema validates the raw catalog document before it is decoded, so a
// misspelled key or a scalar where a list belongs is reported by path.
func checkSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("connections: parse: %w", err)
	}
	if doc == nil {
		return nil
	}
	// yaml.v3 yields ints and bools; the validator wants JSON values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("connections: parse: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("connections: parse: %w", err)
	}
	schema, err := catalogSchema()
	if err != nil {
		return fmt.Errorf("connections: compile schema: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("connections: schema: %w", err)
	}
	return nil
}
