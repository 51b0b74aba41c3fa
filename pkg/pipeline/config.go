package pipeline

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/sequelae-ai/tokenize/pkg/tokenizer"
)

// ConfigError marks a pipeline spec the caller should reject rather
// than retry.
type ConfigError struct {
	reason error
}

func (e ConfigError) Error() string {
	return e.reason.Error()
}

func (e ConfigError) Unwrap() error {
	return e.reason
}

func IsConfigError(err error) bool {
	var ce ConfigError
	return errors.As(err, &ce)
}

func configErrorf(format string, args ...interface{}) ConfigError {
	return ConfigError{reason: fmt.Errorf(format, args...)}
}

// StageSpec is one entry of a preprocessing or postprocessing list. Only
// the type is decoded up front; the full node is kept so Build can
// decode it into the stage's own config struct.
type StageSpec struct {
	Type string
	node *yaml.Node
}

func (s *StageSpec) UnmarshalYAML(value *yaml.Node) error {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := value.Decode(&head); err != nil {
		return err
	}
	if head.Type == "" {
		return fmt.Errorf("pipeline stage requires a type")
	}
	s.Type = head.Type
	s.node = value
	return nil
}

// decode fills out from the stage's YAML node. A spec built in code has
// no node; the stage constructor then sees zero values and applies its
// defaults or rejects missing fields.
func (s *StageSpec) decode(out interface{}) error {
	if s.node == nil {
		return nil
	}
	return s.node.Decode(out)
}

type DataConfig struct {
	Path string `yaml:"path"`
}

// Config is a full pipeline spec as submitted to the runs API.
type Config struct {
	Data           DataConfig       `yaml:"data"`
	Preprocessing  []StageSpec      `yaml:"preprocessing"`
	Tokenization   tokenizer.Config `yaml:"tokenization"`
	Postprocessing []StageSpec      `yaml:"postprocessing"`
}

// Parse decodes and validates a YAML pipeline spec.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, ConfigError{reason: fmt.Errorf("parsing pipeline spec: %w", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Data.Path == "" {
		return configErrorf("data.path is required")
	}
	if c.Tokenization.Tokenizer == "" {
		return configErrorf("tokenization.tokenizer is required")
	}
	if c.Tokenization.Tokenizer != "word_level" {
		return configErrorf("tokenizer %q not supported", c.Tokenization.Tokenizer)
	}
	if c.Tokenization.VocabSize <= 0 {
		return configErrorf("tokenization.vocab_size must be positive")
	}
	for i := range c.Preprocessing {
		if _, ok := preprocessorTypes[c.Preprocessing[i].Type]; !ok {
			return configErrorf("preprocessor %q not supported", c.Preprocessing[i].Type)
		}
	}
	for i := range c.Postprocessing {
		if _, ok := postprocessorTypes[c.Postprocessing[i].Type]; !ok {
			return configErrorf("postprocessor %q not supported", c.Postprocessing[i].Type)
		}
	}
	return nil
}
