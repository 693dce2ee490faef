package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Tuning holds operational knobs that can be overridden from an optional
// YAML file. Environment variables in the file are expanded before parsing.
type Tuning struct {
	Retry struct {
		MaxRetries int           `yaml:"max_retries"`
		Base       time.Duration `yaml:"base"`
		Max        time.Duration `yaml:"max"`
	} `yaml:"retry"`
	Executor struct {
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"executor"`
	Broker struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
	} `yaml:"broker"`
}

// DefaultTuning returns the built-in knob values.
func DefaultTuning() *Tuning {
	t := &Tuning{}
	t.Retry.MaxRetries = 5
	t.Retry.Base = 2 * time.Second
	t.Retry.Max = 32 * time.Second
	t.Executor.BatchTimeout = 10 * time.Second
	t.Broker.RequestsPerSecond = 2
	return t
}

// LoadTuning reads the tuning file at path. A missing file yields defaults;
// present values override defaults field by field.
func LoadTuning(path string) (*Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is a user-provided config file path
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("reading tuning file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	var file Tuning
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("parsing tuning file: %w", err)
	}

	if file.Retry.MaxRetries > 0 {
		t.Retry.MaxRetries = file.Retry.MaxRetries
	}
	if file.Retry.Base > 0 {
		t.Retry.Base = file.Retry.Base
	}
	if file.Retry.Max > 0 {
		t.Retry.Max = file.Retry.Max
	}
	if file.Executor.BatchTimeout > 0 {
		t.Executor.BatchTimeout = file.Executor.BatchTimeout
	}
	if file.Broker.RequestsPerSecond > 0 {
		t.Broker.RequestsPerSecond = file.Broker.RequestsPerSecond
	}
	return t, nil
}
