package match

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	StartsWith = "starts_with"
	EndsWith   = "ends_with"
	Contains   = "contains"
	Equals     = "equals"
)

// Patterns decodes a YAML scalar or sequence into a list of pattern strings,
// so stage configs can give either one pattern or several.
type Patterns []string

func (p *Patterns) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*p = Patterns{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*p = Patterns(list)
		return nil
	default:
		return fmt.Errorf("matching value must be a string or a list of strings")
	}
}

// Config is the selector fragment embedded by stage configurations.
type Config struct {
	Type  string   `yaml:"matching_type"`
	Value Patterns `yaml:"matching_value"`
}

func (c Config) Selector() (Selector, error) {
	return New(c.Type, c.Value...)
}

// Selector matches event codes against one or more patterns. Matching is
// case-sensitive and a nil or empty code never matches.
type Selector struct {
	matchType string
	patterns  []string
}

func New(matchType string, patterns ...string) (Selector, error) {
	switch matchType {
	case StartsWith, EndsWith, Contains, Equals:
	default:
		return Selector{}, fmt.Errorf("invalid matching type: %q", matchType)
	}
	if len(patterns) == 0 {
		return Selector{}, fmt.Errorf("matching value is required")
	}
	for _, p := range patterns {
		if p == "" {
			return Selector{}, fmt.Errorf("matching value must not be empty")
		}
	}
	return Selector{matchType: matchType, patterns: patterns}, nil
}

func (s Selector) Matches(code *string) bool {
	if code == nil {
		return false
	}
	return s.MatchesString(*code)
}

func (s Selector) MatchesString(code string) bool {
	if code == "" {
		return false
	}
	for _, p := range s.patterns {
		switch s.matchType {
		case StartsWith:
			if strings.HasPrefix(code, p) {
				return true
			}
		case EndsWith:
			if strings.HasSuffix(code, p) {
				return true
			}
		case Contains:
			if strings.Contains(code, p) {
				return true
			}
		case Equals:
			if code == p {
				return true
			}
		}
	}
	return false
}
