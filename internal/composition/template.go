package composition

import (
	"os"

	"gopkg.in/yaml.v3"
)

// WriteTemplate writes a composition to a YAML template file.
func WriteTemplate(c *Composition, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadTemplate reads a composition from a YAML template file and validates it.
func ReadTemplate(path string) (*Composition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c Composition
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
