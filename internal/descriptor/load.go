package descriptor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the descriptor at path.
//
// JSON is the native format; files ending in .yaml or .yml are decoded as YAML.
// Both are checked against the descriptor schema before decoding, so a wrong
// field type is reported with the schema's message rather than a decoder one.
// Every failure is returned as a [*NotFoundError]. Load does not check required
// fields; call [Descriptor.Validate] for that.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &NotFoundError{Path: path, Err: err}
	}

	if isYAML(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, &NotFoundError{Path: path, Err: err}
		}
	}

	problems, err := CheckSchema(data)
	if err != nil {
		return nil, &NotFoundError{Path: path, Err: err}
	}
	if len(problems) > 0 {
		return nil, &NotFoundError{
			Path: path,
			Err:  fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; ")),
		}
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, &NotFoundError{Path: path, Err: err}
	}
	return &d, nil
}

// Read loads the descriptor at path and validates its required fields.
func Read(path string) (*Descriptor, error) {
	d, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share one
// schema check and one decoder.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert yaml: %w", err)
	}
	return out, nil
}
