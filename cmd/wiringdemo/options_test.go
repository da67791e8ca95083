package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	wiring "github.com/Swind/go-wiring"
	"github.com/Swind/go-wiring/core"
	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOptions(t *testing.T, args ...string) *Options {
	t.Helper()
	opts := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs)
	require.NoError(t, fs.Parse(args))
	return opts
}

func TestOptions_Defaults(t *testing.T) {
	opts := parseOptions(t)

	assert.Equal(t, ":2112", opts.MetricsAddr)
	assert.Equal(t, int64(1_000_000), opts.Messages)
	assert.Equal(t, time.Second, opts.PollInterval)
	require.NoError(t, opts.Validate())

	cfg, err := opts.PipelineConfig()
	require.NoError(t, err)
	assert.Equal(t, core.DefaultPipelineConfig(), cfg)
}

func TestOptions_ConfigFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\nworkers: 2\n"), 0o600))

	opts := parseOptions(t, "-c", path, "--log-level", "debug", "-n", "10")

	cfg, err := opts.PipelineConfig()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, int64(10), opts.Messages)
}

func TestOptions_Validate(t *testing.T) {
	assert.Error(t, parseOptions(t, "--messages", "-1").Validate())
	assert.Error(t, parseOptions(t, "--poll-interval", "0s").Validate())
}

// TestDemo_RunsToCompletion verifies the demo pipeline end to end
// Given: The demo pipeline with a small shared counter
// When: 5000 messages are produced and the pipeline shuts down
// Then: Every message is processed and the checksum matches
func TestDemo_RunsToCompletion(t *testing.T) {
	cfg := core.DefaultPipelineConfig()
	cfg.Workers = 2
	cfg.CounterCapacity = 64

	p, err := wiring.NewPipeline("demo-test", cfg)
	require.NoError(t, err)
	d, err := buildDemo(p)
	require.NoError(t, err)

	p.Model.Start(t.Context())
	produced, err := d.produce(t.Context(), 5000)
	require.NoError(t, err)
	require.NoError(t, d.shutdown(logr.Discard(), produced, time.Second))

	assert.Equal(t, int64(5000), d.processed.Load())
	assert.Zero(t, p.Counter.Count())
}
