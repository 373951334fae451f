package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"InsiderWatch/internal/domain/models"
)

// Detector names accepted in detectors.weights.
const (
	DetectorVolume       = "volume_zscore"
	DetectorPeer         = "peer_deviation"
	DetectorDisclosure   = "disclosure_proximity"
	DetectorRelationship = "relationship_proximity"
	DetectorRemote       = "remote_model"
)

var KnownDetectors = []string{DetectorVolume, DetectorPeer, DetectorDisclosure, DetectorRelationship, DetectorRemote}

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		// IngestRPS limits event and disclosure posts per client; 0 disables it.
		IngestRPS   float64  `yaml:"ingest_rps" default:"50"`
		IngestBurst int      `yaml:"ingest_burst" default:"100"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Topics       struct {
			Trades      string `yaml:"trades" default:"trades.normalized"`
			Disclosures string `yaml:"disclosures" default:"corporate.disclosures"`
			Alerts      string `yaml:"alerts" default:"surveillance.alerts"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"insiderwatch"`
			Workers    int           `yaml:"workers" default:"4" validate:"gte=1"`
			BufferSize int           `yaml:"buffer_size" default:"1000" validate:"gte=1"`
			RetryMax   int           `yaml:"retry_max" default:"5"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"trades.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"surveillance"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"insiderwatch:seen:"`
	} `yaml:"redis"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	Metadata struct {
		Source string `yaml:"source" default:"file" validate:"oneof=file postgres none"`
		Path   string `yaml:"path" default:"metadata.yaml"`
	} `yaml:"metadata"`
	Pipeline struct {
		Partitions        int           `yaml:"partitions" default:"4" validate:"gte=1"`
		QueueDepth        int           `yaml:"queue_depth" default:"1024" validate:"gte=1"`
		LatenessTolerance time.Duration `yaml:"lateness_tolerance" default:"5m"`
		HardCutoff        time.Duration `yaml:"hard_cutoff" default:"15m"`
		ClockSkew         time.Duration `yaml:"clock_skew" default:"30s"`
		RetentionGrace    time.Duration `yaml:"retention_grace" default:"24h"`
		DispatchInterval  time.Duration `yaml:"dispatch_interval" default:"1s"`
		SinkMaxElapsed    time.Duration `yaml:"sink_max_elapsed" default:"30s"`
		MaintenanceEvery  time.Duration `yaml:"maintenance_interval" default:"1m"`
	} `yaml:"pipeline"`
	Windows struct {
		Sizes   []time.Duration `yaml:"sizes"`
		Buckets int             `yaml:"buckets" default:"24" validate:"gte=2"`
	} `yaml:"windows"`
	Features struct {
		BaselineWindow        time.Duration `yaml:"baseline_window" default:"720h"`
		ActivityWindow        time.Duration `yaml:"activity_window" default:"24h"`
		MinHistory            int           `yaml:"min_history" default:"5" validate:"gte=2"`
		StdFloorRatio         float64       `yaml:"std_floor_ratio" default:"0.1" validate:"gte=0"`
		DisclosureHorizonDays int           `yaml:"disclosure_horizon_days" default:"10" validate:"gte=1"`
		MaxGraphDepth         int           `yaml:"max_graph_depth" default:"3" validate:"gte=1"`
		// MeanWindows are the rolling windows of the per-security mean trade value.
		MeanWindows []time.Duration `yaml:"mean_windows"`
	} `yaml:"features"`
	Detectors struct {
		Weights map[string]float64 `yaml:"weights"`
		Remote  struct {
			URL     string        `yaml:"url"`
			Timeout time.Duration `yaml:"timeout" default:"2s"`
		} `yaml:"remote"`
	} `yaml:"detectors"`
	Alerts struct {
		Threshold float64       `yaml:"threshold" default:"0.6"`
		Cooldown  time.Duration `yaml:"cooldown" default:"72h"`
		Silence   time.Duration `yaml:"silence" default:"168h"`
	} `yaml:"alerts"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	c.Server.CORSOrigins = []string{"*"}
	c.Windows.Sizes = []time.Duration{time.Hour, 24 * time.Hour, 168 * time.Hour, 720 * time.Hour}
	c.Features.MeanWindows = []time.Duration{168 * time.Hour, 720 * time.Hour}
	c.Detectors.Weights = map[string]float64{
		DetectorVolume:       0.35,
		DetectorPeer:         0.15,
		DetectorDisclosure:   0.25,
		DetectorRelationship: 0.25,
	}
	return c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with .env and environment variables.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("ALERT_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, &models.ConfigurationError{Key: "ALERT_THRESHOLD", Reason: err.Error()}
		}
		c.Alerts.Threshold = f
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

var validate = validator.New()

// Validate checks struct constraints and the relationships between settings.
// Every failure is a *models.ConfigurationError.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &models.ConfigurationError{Key: fe.Namespace(), Reason: fmt.Sprintf("failed %q (%v)", fe.Tag(), fe.Value())}
		}
		return &models.ConfigurationError{Key: "config", Reason: err.Error()}
	}

	if len(c.Windows.Sizes) == 0 {
		return &models.ConfigurationError{Key: "windows.sizes", Reason: "at least one window size is required"}
	}
	minWindow := c.Windows.Sizes[0]
	for _, size := range c.Windows.Sizes {
		if size <= 0 {
			return &models.ConfigurationError{Key: "windows.sizes", Reason: fmt.Sprintf("window size %s must be positive", size)}
		}
		if size%time.Duration(c.Windows.Buckets) != 0 {
			return &models.ConfigurationError{Key: "windows.sizes", Reason: fmt.Sprintf("window size %s is not divisible into %d buckets", size, c.Windows.Buckets)}
		}
		minWindow = min(minWindow, size)
	}
	if !c.HasWindow(c.Features.BaselineWindow) {
		return &models.ConfigurationError{Key: "features.baseline_window", Reason: fmt.Sprintf("%s is not a configured window size", c.Features.BaselineWindow)}
	}
	if !c.HasWindow(c.Features.ActivityWindow) {
		return &models.ConfigurationError{Key: "features.activity_window", Reason: fmt.Sprintf("%s is not a configured window size", c.Features.ActivityWindow)}
	}
	for _, size := range c.Features.MeanWindows {
		if !c.HasWindow(size) {
			return &models.ConfigurationError{Key: "features.mean_windows", Reason: fmt.Sprintf("%s is not a configured window size", size)}
		}
	}

	p := c.Pipeline
	if p.LatenessTolerance < 0 {
		return &models.ConfigurationError{Key: "pipeline.lateness_tolerance", Reason: "must not be negative"}
	}
	// a late event, including a deferred one on its retry, must still land inside the
	// ring of the smallest window
	limit := minWindow - minWindow/time.Duration(c.Windows.Buckets)
	if p.LatenessTolerance > limit {
		return &models.ConfigurationError{Key: "pipeline.lateness_tolerance", Reason: fmt.Sprintf("must be at most %s for the smallest window", limit)}
	}
	if p.HardCutoff < p.LatenessTolerance {
		return &models.ConfigurationError{Key: "pipeline.hard_cutoff", Reason: "must not be below lateness_tolerance"}
	}
	if p.HardCutoff > limit {
		return &models.ConfigurationError{Key: "pipeline.hard_cutoff", Reason: fmt.Sprintf("must be at most %s for the smallest window", limit)}
	}
	if p.ClockSkew < 0 {
		return &models.ConfigurationError{Key: "pipeline.clock_skew", Reason: "must not be negative"}
	}

	if len(c.Detectors.Weights) == 0 {
		return &models.ConfigurationError{Key: "detectors.weights", Reason: "at least one detector weight is required"}
	}
	var total float64
	for name, w := range c.Detectors.Weights {
		if !isKnownDetector(name) {
			return &models.ConfigurationError{Key: "detectors.weights." + name, Reason: "unknown detector"}
		}
		if w < 0 {
			return &models.ConfigurationError{Key: "detectors.weights." + name, Reason: "weight must not be negative"}
		}
		total += w
	}
	if total <= 0 {
		return &models.ConfigurationError{Key: "detectors.weights", Reason: "weights must sum to a positive value"}
	}
	if w := c.Detectors.Weights[DetectorRemote]; w > 0 && c.Detectors.Remote.URL == "" {
		return &models.ConfigurationError{Key: "detectors.remote.url", Reason: "required when remote_model has a weight"}
	}

	a := c.Alerts
	if a.Threshold <= 0 || a.Threshold > 1 {
		return &models.ConfigurationError{Key: "alerts.threshold", Reason: "must be in (0, 1]"}
	}
	if a.Cooldown <= 0 {
		return &models.ConfigurationError{Key: "alerts.cooldown", Reason: "must be positive"}
	}
	if a.Silence < a.Cooldown {
		return &models.ConfigurationError{Key: "alerts.silence", Reason: "must not be shorter than cooldown"}
	}

	switch c.Metadata.Source {
	case "file":
		if c.Metadata.Path == "" {
			return &models.ConfigurationError{Key: "metadata.path", Reason: "required for file source"}
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			return &models.ConfigurationError{Key: "postgres.dsn", Reason: "required for postgres metadata source"}
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return &models.ConfigurationError{Key: "kafka.brokers", Reason: "required when kafka is enabled"}
	}
	return nil
}

// HasWindow reports whether size is one of the configured window sizes.
func (c *Config) HasWindow(size time.Duration) bool {
	for _, s := range c.Windows.Sizes {
		if s == size {
			return true
		}
	}
	return false
}

// LongestWindow is used for retention of seen ids and idle entities.
func (c *Config) LongestWindow() time.Duration {
	var longest time.Duration
	for _, s := range c.Windows.Sizes {
		longest = max(longest, s)
	}
	return longest
}

func isKnownDetector(name string) bool {
	for _, d := range KnownDetectors {
		if d == name {
			return true
		}
	}
	return false
}
