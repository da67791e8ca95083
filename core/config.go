package core

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// SchedulerConfiguration is the compact form of a scheduler's settings, usually read from a
// configuration file, e.g. "SEQUENTIAL CAPACITY(500) FLUSHABLE".
type SchedulerConfiguration struct {
	Type      SchedulerType
	Capacity  int64
	Flushable bool
}

// DefaultSchedulerConfiguration is an unbounded, non-flushable Sequential scheduler.
func DefaultSchedulerConfiguration() SchedulerConfiguration {
	return SchedulerConfiguration{Type: SchedulerTypeSequential, Capacity: UnlimitedCapacity}
}

var capacityToken = regexp.MustCompile(`^CAPACITY\((-?\d+)\)$`)

// ParseSchedulerConfiguration parses whitespace separated, case insensitive tokens: a type
// keyword, CAPACITY(n) and FLUSHABLE. Omitted tokens keep their defaults.
func ParseSchedulerConfiguration(s string) (SchedulerConfiguration, error) {
	cfg := DefaultSchedulerConfiguration()
	seenType := false

	for _, token := range strings.Fields(strings.ToUpper(s)) {
		switch {
		case token == "FLUSHABLE":
			cfg.Flushable = true
		case token == "UNHANDLED_TASK_METRIC", token == "BUSY_FRACTION_METRIC":
			// Accepted for compatibility, metrics are always collected.
		case capacityToken.MatchString(token):
			n, err := strconv.ParseInt(capacityToken.FindStringSubmatch(token)[1], 10, 64)
			if err != nil {
				return cfg, fmt.Errorf("%w: %q: %v", ErrInvalidConfiguration, s, err)
			}
			if n <= 0 {
				return cfg, fmt.Errorf("%w: %q: capacity %d", ErrInvalidCapacity, s, n)
			}
			cfg.Capacity = n
		default:
			t, err := ParseSchedulerType(token)
			if err != nil {
				return cfg, fmt.Errorf("%q: %w", s, err)
			}
			if seenType {
				return cfg, fmt.Errorf("%w: %q: more than one scheduler type", ErrInvalidConfiguration, s)
			}
			cfg.Type, seenType = t, true
		}
	}
	return cfg, nil
}

func (c SchedulerConfiguration) String() string {
	parts := []string{strings.ToUpper(c.Type.String())}
	if c.Capacity != UnlimitedCapacity {
		parts = append(parts, fmt.Sprintf("CAPACITY(%d)", c.Capacity))
	}
	if c.Flushable {
		parts = append(parts, "FLUSHABLE")
	}
	return strings.Join(parts, " ")
}

// UnmarshalYAML lets pipeline files use the compact string form.
func (c *SchedulerConfiguration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseSchedulerConfiguration(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// =============================================================================
// Pipeline configuration file
// =============================================================================

// PipelineConfig describes a pipeline deployment: the shared executor, the backpressure domain,
// the health monitor and one SchedulerConfiguration per stage.
type PipelineConfig struct {
	Log LogConfig `yaml:"log"`

	Workers         int   `yaml:"workers"`
	CounterCapacity int64 `yaml:"counterCapacity"`

	Health HealthConfig `yaml:"health"`

	Schedulers map[string]SchedulerConfiguration `yaml:"schedulers"`
}

// HealthConfig holds the health monitor settings.
type HealthConfig struct {
	Interval         time.Duration `yaml:"interval"`
	LogThreshold     time.Duration `yaml:"logThreshold"`
	LogPeriod        time.Duration `yaml:"logPeriod"`
	HealthyThreshold time.Duration `yaml:"healthyThreshold"`
}

// DefaultPipelineConfig returns the settings used for anything a file leaves out.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Workers:         8,
		CounterCapacity: 10_000,
		Health: HealthConfig{
			Interval:         100 * time.Millisecond,
			LogThreshold:     5 * time.Second,
			LogPeriod:        10 * time.Minute,
			HealthyThreshold: time.Second,
		},
		Schedulers: map[string]SchedulerConfiguration{},
	}
}

// LoadPipelineConfig reads a YAML pipeline configuration from path.
func LoadPipelineConfig(path string) (PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PipelineConfig{}, fmt.Errorf("reading pipeline config: %w", err)
	}
	return ParsePipelineConfig(data)
}

// ParsePipelineConfig decodes YAML over DefaultPipelineConfig and validates the result.
func ParsePipelineConfig(data []byte) (PipelineConfig, error) {
	cfg := DefaultPipelineConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return PipelineConfig{}, fmt.Errorf("decoding pipeline config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return PipelineConfig{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and scheduler names.
func (c PipelineConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfiguration, c.Workers)
	}
	if c.CounterCapacity <= 0 {
		return fmt.Errorf("%w: counterCapacity %d", ErrInvalidCapacity, c.CounterCapacity)
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("%w: health interval must be positive", ErrInvalidConfiguration)
	}
	names := lo.Keys(c.Schedulers)
	for _, name := range names {
		if err := ValidateName(name); err != nil {
			return err
		}
	}
	return nil
}

// Scheduler returns the configuration of the named stage, or fallback if the file has none.
func (c PipelineConfig) Scheduler(name string, fallback SchedulerConfiguration) SchedulerConfiguration {
	if cfg, ok := c.Schedulers[name]; ok {
		return cfg
	}
	return fallback
}
