package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrNoObject is returned when a reply contains no JSON object.
var ErrNoObject = errors.New("no JSON object in reply")

// ExtractObject returns the first JSON object found in text. Models often
// wrap JSON in prose or Markdown fences; those are skipped.
func ExtractObject(text string) (map[string]any, error) {
	for i := strings.IndexByte(text, '{'); i >= 0; {
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var obj map[string]any
		if err := dec.Decode(&obj); err == nil {
			return obj, nil
		}
		next := strings.IndexByte(text[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, ErrNoObject
}

// CompileSchema compiles a JSON Schema document.
func CompileSchema(name, schemaJSON string) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	s, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return s, nil
}

// decodeValidated validates obj against schema and decodes it into T.
func decodeValidated[T any](schema *jsonschema.Schema, obj map[string]any) (T, error) {
	var out T
	if err := schema.Validate(obj); err != nil {
		return out, err
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
