package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidDefinition = errors.New("invalid pipeline definition")

// Validate checks the fields every stage depends on.
func (d Definition) Validate() error {
	var missing []string
	if strings.TrimSpace(d.DatasetPath) == "" {
		missing = append(missing, "dataset_path")
	}
	if strings.TrimSpace(d.TargetColumn) == "" {
		missing = append(missing, "target_column")
	}
	for i, m := range d.Models {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("%w: models[%d] is empty", ErrInvalidDefinition, i)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidDefinition, strings.Join(missing, ", "))
	}
	return nil
}

// ParseDefinition decodes a pipeline definition from YAML or JSON. The
// document is normalised through JSON so both formats share one set of field
// names.
func ParseDefinition(data []byte) (Definition, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if doc == nil {
		return Definition{}, fmt.Errorf("%w: empty document", ErrInvalidDefinition)
	}
	if _, ok := doc.(map[string]any); !ok {
		return Definition{}, fmt.Errorf("%w: expected a mapping, got %T", ErrInvalidDefinition, doc)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return def, nil
}
