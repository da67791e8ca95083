package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedulerConfiguration(t *testing.T) {
	tests := []struct {
		in      string
		want    SchedulerConfiguration
		wantErr error
	}{
		{in: "", want: DefaultSchedulerConfiguration()},
		{in: "CONCURRENT", want: SchedulerConfiguration{Type: SchedulerTypeConcurrent, Capacity: UnlimitedCapacity}},
		{
			in:   "SEQUENTIAL CAPACITY(500) FLUSHABLE",
			want: SchedulerConfiguration{Type: SchedulerTypeSequential, Capacity: 500, Flushable: true},
		},
		{
			in:   "  concurrent   capacity(7) UNHANDLED_TASK_METRIC",
			want: SchedulerConfiguration{Type: SchedulerTypeConcurrent, Capacity: 7},
		},
		{in: "DIRECT", want: SchedulerConfiguration{Type: SchedulerTypeDirect, Capacity: UnlimitedCapacity}},
		{in: "CAPACITY(0)", wantErr: ErrInvalidCapacity},
		{in: "CAPACITY(-3)", wantErr: ErrInvalidCapacity},
		{in: "SEQUENTIAL CONCURRENT", wantErr: ErrInvalidConfiguration},
		{in: "SOMETIMES", wantErr: ErrInvalidConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSchedulerConfiguration(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// String round trips
			again, err := ParseSchedulerConfiguration(got.String())
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

const pipelineYAML = `
log:
  level: debug
workers: 4
counterCapacity: 2000
health:
  interval: 250ms
  logThreshold: 2s
schedulers:
  Verifier: CONCURRENT
  Orderer: SEQUENTIAL CAPACITY(500) FLUSHABLE
`

func TestLoadPipelineConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipelineYAML), 0o600))

	cfg, err := LoadPipelineConfig(path)
	require.NoError(t, err)

	want := DefaultPipelineConfig()
	want.Log = LogConfig{Level: "debug"}
	want.Workers = 4
	want.CounterCapacity = 2000
	want.Health.Interval = 250 * time.Millisecond
	want.Health.LogThreshold = 2 * time.Second
	want.Schedulers = map[string]SchedulerConfiguration{
		"Verifier": {Type: SchedulerTypeConcurrent, Capacity: UnlimitedCapacity},
		"Orderer":  {Type: SchedulerTypeSequential, Capacity: 500, Flushable: true},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("LoadPipelineConfig() mismatch (-want +got):\n%s", diff)
	}

	fallback := DefaultSchedulerConfiguration()
	assert.Equal(t, fallback, cfg.Scheduler("PoolReturn", fallback))
	assert.Equal(t, int64(500), cfg.Scheduler("Orderer", fallback).Capacity)
}

func TestParsePipelineConfig_Errors(t *testing.T) {
	tests := map[string]struct {
		yaml    string
		wantErr error
	}{
		"bad scheduler string": {yaml: "schedulers:\n  A: SOMETIMES\n", wantErr: ErrInvalidConfiguration},
		"bad scheduler name":   {yaml: "schedulers:\n  a-b: DIRECT\n", wantErr: ErrInvalidName},
		"zero workers":         {yaml: "workers: 0\n", wantErr: ErrInvalidConfiguration},
		"zero capacity":        {yaml: "counterCapacity: 0\n", wantErr: ErrInvalidCapacity},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePipelineConfig([]byte(tt.yaml))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := LoadPipelineConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.V(1).Enabled())

	logger, err = NewLogger(LogConfig{})
	require.NoError(t, err)
	assert.False(t, logger.V(1).Enabled())

	_, err = NewLogger(LogConfig{Level: "chatty"})
	assert.Error(t, err)
}
