// Package config holds the options of the points-to analysis and loads them
// from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const DefaultWordSize = 8

// Options selects the optimizations and machine parameters of an analysis
// run.
type Options struct {
	// Optimize enables the offline optimizer. The individual optimizations
	// below only take effect when it is set.
	Optimize            bool `yaml:"optimize"`
	CollapseCycles      bool `yaml:"collapse-cycles"`
	PointerEquivalence  bool `yaml:"pointer-equivalence"`
	LocationEquivalence bool `yaml:"location-equivalence"`

	// WordSize is the size in bytes of pointers and machine words.
	WordSize uint64 `yaml:"word-size"`

	// LogLevel is one of error, warn, info, debug or trace.
	LogLevel string `yaml:"log-level"`
}

// Default returns the default options: every optimization enabled, 64-bit
// words and warnings only.
func Default() Options {
	return Options{
		Optimize:            true,
		CollapseCycles:      true,
		PointerEquivalence:  true,
		LocationEquivalence: true,
		WordSize:            DefaultWordSize,
		LogLevel:            "warn",
	}
}

// Parse decodes YAML options on top of the defaults. Unknown keys are
// rejected.
func Parse(b []byte) (Options, error) {
	opts := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, fmt.Errorf("could not unmarshal config: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Load reads options from a file.
func Load(filename string) (Options, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return Options{}, fmt.Errorf("could not read config file: %w", err)
	}
	opts, err := Parse(b)
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", filename, err)
	}
	return opts, nil
}

// Validate checks the options for values the analysis cannot work with.
func (o Options) Validate() error {
	switch o.WordSize {
	case 4, 8:
	default:
		return fmt.Errorf("unsupported word size %d", o.WordSize)
	}
	if _, err := o.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the logrus level named by LogLevel. An empty name means warn.
func (o Options) Level() (log.Level, error) {
	switch name := strings.ToLower(o.LogLevel); name {
	case "error", "warn", "info", "debug", "trace":
		return log.ParseLevel(name)
	case "":
		return log.WarnLevel, nil
	default:
		return log.PanicLevel, fmt.Errorf("unknown log level %q", o.LogLevel)
	}
}
