package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Flag is a switch that may be written as a boolean or as yes/no text.
type Flag bool

func parseFlag(s string) (Flag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "on", "1":
		return true, nil
	case "no", "n", "false", "off", "0", "":
		return false, nil
	default:
		return false, fmt.Errorf("not a yes/no value: %q", s)
	}
}

func (f *Flag) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a yes/no value", n.Line)
	}

	v, err := parseFlag(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*f = v
	return nil
}

// EnvDecode lets go-envconfig read the same spellings from the environment.
func (f *Flag) EnvDecode(val string) error {
	v, err := parseFlag(val)
	if err != nil {
		return err
	}
	*f = v
	return nil
}
