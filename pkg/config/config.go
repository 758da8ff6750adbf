// Package config loads scanner configuration from YAML files.
//
// A configuration file may set any subset of the fields; the rest keep their
// defaults. Command-line flags override file values.
//
//	rules:
//	  paths: [./rules]
//	  exclude: ["tag:noise"]
//	  tolerant: true
//	matcher:
//	  chunk_size: 4MB
//	  regex_timeout: 2s
//	scan:
//	  workers: 8
//	  max_file_size: 50MB
//	  extract: [zip, pdf]
//	log:
//	  level: debug
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tagcheck/tagcheck/pkg/enum"
	"github.com/tagcheck/tagcheck/pkg/matcher"
	"github.com/tagcheck/tagcheck/pkg/rule"
	"github.com/tagcheck/tagcheck/pkg/ruleset"
)

// Config is the complete scanner configuration.
type Config struct {
	Rules   Rules   `yaml:"rules"`
	Matcher Matcher `yaml:"matcher"`
	Scan    Scan    `yaml:"scan"`
	Log     Log     `yaml:"log"`
}

// Rules selects the rules to load.
type Rules struct {
	Paths    []string `yaml:"paths" validate:"dive,required"` // empty = built-in rules
	Include  []string `yaml:"include" validate:"dive,required"`
	Exclude  []string `yaml:"exclude" validate:"dive,required"`
	Tolerant bool     `yaml:"tolerant"`
}

// Matcher tunes pattern matching.
type Matcher struct {
	ChunkSize            Size          `yaml:"chunk_size"`
	MaxOffsets           int           `yaml:"max_offsets" validate:"gte=0"`
	MaxMatchesPerPattern int           `yaml:"max_matches_per_pattern" validate:"gte=0"`
	BacktrackingFallback bool          `yaml:"backtracking_fallback"`
	RegexTimeout         time.Duration `yaml:"regex_timeout" validate:"gte=0"`
	CacheSize            int           `yaml:"cache_size" validate:"gte=1,lte=1024"`
}

// Scan controls artifact discovery and scanning.
type Scan struct {
	Workers       int                 `yaml:"workers" validate:"gte=1,lte=1024"`
	Timeout       time.Duration       `yaml:"timeout" validate:"gte=0"` // per artifact, 0 = none
	MaxFileSize   Size                `yaml:"max_file_size"`
	IncludeHidden bool                `yaml:"include_hidden"`
	Extract       []string            `yaml:"extract" validate:"dive,oneof=zip 7z pdf all"`
	Facts         map[string][]string `yaml:"facts"` // added to every artifact
	Output        string              `yaml:"output"` // report store; "" disables storage
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	m := matcher.DefaultOptions()
	return &Config{
		Matcher: Matcher{
			ChunkSize:            Size(m.ChunkSize),
			MaxOffsets:           m.MaxOffsets,
			MaxMatchesPerPattern: m.MaxMatchesPerPattern,
			RegexTimeout:         m.RegexTimeout,
			CacheSize:            matcher.DefaultCacheSize,
		},
		Scan: Scan{
			Workers:     runtime.NumCPU(),
			MaxFileSize: 10 * 1000 * 1000,
			Output:      "tagcheck.db",
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that rule selectors compile.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.ActualTag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := rule.NewSelector(c.Filter()); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Filter returns the rule selection.
func (c *Config) Filter() rule.FilterConfig {
	return rule.FilterConfig{Include: c.Rules.Include, Exclude: c.Rules.Exclude}
}

// MatcherOptions returns the matcher settings.
func (c *Config) MatcherOptions() matcher.Options {
	o := matcher.DefaultOptions()
	o.ChunkSize = int(c.Matcher.ChunkSize)
	o.MaxOffsets = c.Matcher.MaxOffsets
	o.MaxMatchesPerPattern = c.Matcher.MaxMatchesPerPattern
	o.BacktrackingFallback = c.Matcher.BacktrackingFallback
	o.RegexTimeout = c.Matcher.RegexTimeout
	return o
}

// RuleSetOptions returns the rule set compilation settings.
func (c *Config) RuleSetOptions() ruleset.Options {
	return ruleset.Options{Tolerant: c.Rules.Tolerant, Matcher: c.MatcherOptions()}
}

// EnumConfig returns the enumeration settings for root.
func (c *Config) EnumConfig(root string) enum.Config {
	return enum.Config{
		Root:          root,
		IncludeHidden: c.Scan.IncludeHidden,
		MaxFileSize:   int64(c.Scan.MaxFileSize),
		Extract:       strings.Join(c.Scan.Extract, ","),
		ExtractLimits: enum.DefaultExtractLimits(),
	}
}
