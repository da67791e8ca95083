package main

import (
	"fmt"
	"time"

	"github.com/Swind/go-wiring/core"
	"github.com/spf13/pflag"
)

// Options contains the command-line configuration for the demo pipeline.
type Options struct {
	ConfigPath   string        // Optional YAML PipelineConfig.
	MetricsAddr  string        // Listen address for /metrics, empty disables it.
	Messages     int64         // Messages to push through the pipeline, 0 runs until interrupted.
	LogLevel     string        // Overrides log.level from the config file.
	PollInterval time.Duration // Snapshot poller interval.
	Diagram      bool          // Print the Mermaid wiring diagram and exit.

	fs *pflag.FlagSet
}

// NewOptions returns a new Options struct initialized with default values.
func NewOptions() *Options {
	return &Options{
		MetricsAddr:  ":2112",
		Messages:     1_000_000,
		PollInterval: time.Second,
	}
}

// AddFlags binds the Options fields to command-line flags on the given FlagSet.
func (opts *Options) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	opts.fs = fs

	fs.StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath,
		"Path to a YAML pipeline configuration.")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr,
		"Address serving Prometheus metrics. Empty disables the endpoint.")
	fs.Int64VarP(&opts.Messages, "messages", "n", opts.Messages,
		"Number of messages to produce. 0 produces until interrupted.")
	fs.StringVar(&opts.LogLevel, "log-level", opts.LogLevel,
		"Log level (debug, info, warn, error). Overrides the config file.")
	fs.DurationVar(&opts.PollInterval, "poll-interval", opts.PollInterval,
		"Interval between scheduler stats snapshots.")
	fs.BoolVar(&opts.Diagram, "diagram", opts.Diagram,
		"Print the wiring diagram and exit.")
}

// Validate checks flag values that pflag cannot.
func (opts *Options) Validate() error {
	if opts.Messages < 0 {
		return fmt.Errorf("--messages must not be negative, got %d", opts.Messages)
	}
	if opts.PollInterval <= 0 {
		return fmt.Errorf("--poll-interval must be positive, got %s", opts.PollInterval)
	}
	return nil
}

// PipelineConfig loads the configuration file, if any, and applies flag overrides.
func (opts *Options) PipelineConfig() (core.PipelineConfig, error) {
	cfg := core.DefaultPipelineConfig()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = core.LoadPipelineConfig(opts.ConfigPath); err != nil {
			return cfg, err
		}
	}
	if flag := opts.fs.Lookup("log-level"); flag != nil && flag.Changed {
		cfg.Log.Level = opts.LogLevel
	}
	return cfg, nil
}
