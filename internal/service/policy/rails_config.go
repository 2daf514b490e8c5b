package policy

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultHistoryLimit = 20

// RailsConfig is the on-disk rails definition.
type RailsConfig struct {
	Instructions string     `yaml:"instructions"`
	InputRails   []RailSpec `yaml:"input_rails"`
	OutputRails  []RailSpec `yaml:"output_rails"`
	HistoryLimit int        `yaml:"history_limit"`
}

// RailSpec declares one rail. Patterns are matched case-insensitively.
// Response is what the engine answers with when the rail fires; an empty
// Response on an output rail rejects the reply instead.
type RailSpec struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
	Response string   `yaml:"response"`
}

type rail struct {
	name     string
	patterns []*regexp.Regexp
	response string
}

// LoadRailsConfig reads and validates a rails file.
func LoadRailsConfig(path string) (RailsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RailsConfig{}, fmt.Errorf("policy: read rails config: %w", err)
	}

	var cfg RailsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RailsConfig{}, fmt.Errorf("policy: parse rails config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return RailsConfig{}, err
	}
	return cfg, nil
}

// Validate checks the fields the engine cannot run without.
func (c RailsConfig) Validate() error {
	if strings.TrimSpace(c.Instructions) == "" {
		return errors.New("policy: rails config requires instructions")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("policy: invalid history_limit %d", c.HistoryLimit)
	}
	for _, spec := range c.InputRails {
		if strings.TrimSpace(spec.Response) == "" {
			return fmt.Errorf("policy: input rail %q requires a response", spec.Name)
		}
	}
	if _, err := compileRails(c.InputRails); err != nil {
		return err
	}
	if _, err := compileRails(c.OutputRails); err != nil {
		return err
	}
	return nil
}

func (c RailsConfig) historyLimit() int {
	if c.HistoryLimit == 0 {
		return defaultHistoryLimit
	}
	return c.HistoryLimit
}

func compileRails(specs []RailSpec) ([]rail, error) {
	rails := make([]rail, 0, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, errors.New("policy: rail without a name")
		}
		if len(spec.Patterns) == 0 {
			return nil, fmt.Errorf("policy: rail %q has no patterns", name)
		}

		compiled := make([]*regexp.Regexp, 0, len(spec.Patterns))
		for _, p := range spec.Patterns {
			re, err := regexp.Compile(`(?i)` + p)
			if err != nil {
				return nil, fmt.Errorf("policy: rail %q pattern %q: %w", name, p, err)
			}
			compiled = append(compiled, re)
		}
		rails = append(rails, rail{name: name, patterns: compiled, response: strings.TrimSpace(spec.Response)})
	}
	return rails, nil
}

func matchRail(rails []rail, text string) (rail, bool) {
	for _, r := range rails {
		for _, re := range r.patterns {
			if re.MatchString(text) {
				return r, true
			}
		}
	}
	return rail{}, false
}
