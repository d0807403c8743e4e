package descriptor

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// schemaJSON constrains field types only. Required fields are checked by
// Validate, in name, registry, tag order, so null counts as missing there.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "alorg deployment descriptor",
  "type": "object",
  "properties": {
    "name":     {"type": ["string", "null"]},
    "registry": {"type": ["string", "null"]},
    "tag":      {"type": ["string", "null"]},
    "servers":  {
      "type": ["array", "null"],
      "items": {"type": "string", "minLength": 1}
    }
  }
}`

var (
	compiledSchema *gojsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchema, compileErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	})
	return compiledSchema, compileErr
}

// CheckSchema validates raw JSON against the descriptor schema.
//
// It returns one description per violation, or an error when the document is
// not JSON at all.
func CheckSchema(data []byte) ([]string, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling descriptor schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("validating descriptor: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return problems, nil
}
