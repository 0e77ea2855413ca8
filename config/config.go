// Package config manages configuration loading and validation for the pulse binaries.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shoplytics/pulse/errs"
	"github.com/shoplytics/pulse/internal/schema"
)

// DefaultPath is probed when no -config flag is supplied.
const DefaultPath = "config/pulse.yaml"

const envPrefix = "PULSE_"

// Config is the full configuration tree shared by the pipeline binaries.
type Config struct {
	Environment string          `yaml:"environment"`
	Broker      BrokerConfig    `yaml:"broker"`
	Store       StoreConfig     `yaml:"store"`
	Processor   ProcessorConfig `yaml:"processor"`
	Detector    DetectorConfig  `yaml:"detector"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// BrokerConfig binds the pipeline to the log broker.
type BrokerConfig struct {
	Brokers       []string `yaml:"brokers"`
	OrdersTopic   string   `yaml:"ordersTopic"`
	SessionsTopic string   `yaml:"sessionsTopic"`
	GroupID       string   `yaml:"groupId"`
	OffsetReset   string   `yaml:"offsetReset"`
}

// StoreConfig binds the pipeline to the relational store.
type StoreConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
}

// ProcessorConfig tunes the stream processor loop.
type ProcessorConfig struct {
	FlushIntervalSeconds int `yaml:"flushIntervalSeconds"`
	DedupeTTLSeconds     int `yaml:"dedupeTTLSeconds"`
	LogEveryN            int `yaml:"logEveryN"`
}

// FlushInterval returns the aggregate flush cadence.
func (c ProcessorConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

// DedupeTTL returns the dedupe cache entry lifetime.
func (c ProcessorConfig) DedupeTTL() time.Duration {
	return time.Duration(c.DedupeTTLSeconds) * time.Second
}

// DetectorConfig tunes the anomaly detector.
type DetectorConfig struct {
	KPI                  string  `yaml:"kpi"`
	BaselineDays         int     `yaml:"baselineDays"`
	ThresholdPct         float64 `yaml:"thresholdPct"`
	MinBaseline          float64 `yaml:"minBaseline"`
	LookbackMinutes      int     `yaml:"lookbackMinutes"`
	IntervalSeconds      int     `yaml:"intervalSeconds"`
	CurrentWindowMinutes int     `yaml:"currentWindowMinutes"`
	DurationMinutes      int     `yaml:"durationMinutes"`
}

// Interval returns the detector tick cadence.
func (c DetectorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Lookback returns the bucket discovery window.
func (c DetectorConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackMinutes) * time.Minute
}

// TelemetryConfig configures metric export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Default returns the configuration used when no file or overrides are present.
func Default() Config {
	return Config{
		Environment: "dev",
		Broker: BrokerConfig{
			Brokers:       []string{"localhost:9092"},
			OrdersTopic:   "orders",
			SessionsTopic: "sessions",
			GroupID:       "stream-processor",
			OffsetReset:   "earliest",
		},
		Store: StoreConfig{
			DSN:      "",
			MaxConns: 5,
		},
		Processor: ProcessorConfig{
			FlushIntervalSeconds: 10,
			DedupeTTLSeconds:     300,
			LogEveryN:            200,
		},
		Detector: DetectorConfig{
			KPI:                  schema.KPIRevenue,
			BaselineDays:         7,
			ThresholdPct:         0.3,
			MinBaseline:          10,
			LookbackMinutes:      15,
			IntervalSeconds:      60,
			CurrentWindowMinutes: 3,
			DurationMinutes:      3,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "",
			ServiceName:  "pulse",
		},
	}
}

// LoadOrDefault reads the configuration file at path when it exists, then
// applies environment overrides. The boolean reports whether a file was read.
func LoadOrDefault(path string) (Config, bool, error) {
	cfg := Default()
	loaded := false

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, false, errs.New(errs.CodeConfig, errs.WithOp("config.load"),
				errs.WithMessage(fmt.Sprintf("parse %s", path)), errs.WithCause(err))
		}
		loaded = true
	case errors.Is(err, fs.ErrNotExist):
		// Defaults plus environment only.
	default:
		return Config{}, false, errs.New(errs.CodeConfig, errs.WithOp("config.load"),
			errs.WithMessage(fmt.Sprintf("read %s", path)), errs.WithCause(err))
	}

	applyEnv(&cfg)
	return cfg, loaded, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Environment, "ENV")
	if v, ok := lookup("BROKER_BROKERS"); ok {
		cfg.Broker.Brokers = splitList(v)
	}
	setString(&cfg.Broker.OrdersTopic, "BROKER_ORDERS_TOPIC")
	setString(&cfg.Broker.SessionsTopic, "BROKER_SESSIONS_TOPIC")
	setString(&cfg.Broker.GroupID, "BROKER_GROUP_ID")
	setString(&cfg.Broker.OffsetReset, "BROKER_OFFSET_RESET")
	setString(&cfg.Store.DSN, "STORE_DSN")
	setInt32(&cfg.Store.MaxConns, "STORE_MAX_CONNS")
	setInt(&cfg.Processor.FlushIntervalSeconds, "FLUSH_INTERVAL_SECONDS")
	setInt(&cfg.Processor.DedupeTTLSeconds, "DEDUPE_TTL_SECONDS")
	setInt(&cfg.Processor.LogEveryN, "LOG_EVERY_N")
	setString(&cfg.Detector.KPI, "DETECTOR_KPI")
	setInt(&cfg.Detector.BaselineDays, "DETECTOR_BASELINE_DAYS")
	setFloat(&cfg.Detector.ThresholdPct, "DETECTOR_THRESHOLD_PCT")
	setFloat(&cfg.Detector.MinBaseline, "DETECTOR_MIN_BASELINE")
	setInt(&cfg.Detector.LookbackMinutes, "DETECTOR_LOOKBACK_MINUTES")
	setInt(&cfg.Detector.IntervalSeconds, "DETECTOR_INTERVAL_SECONDS")
	setInt(&cfg.Detector.CurrentWindowMinutes, "DETECTOR_CURRENT_WINDOW_MINUTES")
	setInt(&cfg.Detector.DurationMinutes, "DETECTOR_DURATION_MINUTES")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTLP_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "SERVICE_NAME")
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ValidateProcessor checks the sections the stream processor depends on.
func (c Config) ValidateProcessor() error {
	if err := c.validateBroker(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	p := c.Processor
	switch {
	case p.FlushIntervalSeconds <= 0:
		return configErr("processor.flushIntervalSeconds must be positive")
	case p.DedupeTTLSeconds <= 0:
		return configErr("processor.dedupeTTLSeconds must be positive")
	case p.LogEveryN <= 0:
		return configErr("processor.logEveryN must be positive")
	}
	return nil
}

// ValidateDetector checks the sections the anomaly detector depends on.
func (c Config) ValidateDetector() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	d := c.Detector
	if err := schema.ValidateKPI(d.KPI); err != nil {
		return err
	}
	switch {
	case d.BaselineDays <= 0:
		return configErr("detector.baselineDays must be positive")
	case d.ThresholdPct <= 0:
		return configErr("detector.thresholdPct must be positive")
	case d.MinBaseline < 0:
		return configErr("detector.minBaseline must not be negative")
	case d.LookbackMinutes <= 0:
		return configErr("detector.lookbackMinutes must be positive")
	case d.IntervalSeconds <= 0:
		return configErr("detector.intervalSeconds must be positive")
	case d.CurrentWindowMinutes <= 0:
		return configErr("detector.currentWindowMinutes must be positive")
	case d.DurationMinutes <= 0:
		return configErr("detector.durationMinutes must be positive")
	case d.DurationMinutes > d.LookbackMinutes:
		return configErr("detector.durationMinutes must not exceed detector.lookbackMinutes")
	}
	return nil
}

func (c Config) validateBroker() error {
	b := c.Broker
	switch {
	case len(b.Brokers) == 0:
		return configErr("broker.brokers must not be empty")
	case strings.TrimSpace(b.OrdersTopic) == "":
		return configErr("broker.ordersTopic required")
	case strings.TrimSpace(b.SessionsTopic) == "":
		return configErr("broker.sessionsTopic required")
	case b.OrdersTopic == b.SessionsTopic:
		return configErr("broker topics must differ")
	case strings.TrimSpace(b.GroupID) == "":
		return configErr("broker.groupId required")
	}
	switch strings.ToLower(strings.TrimSpace(b.OffsetReset)) {
	case "", "earliest", "latest":
	default:
		return configErr("broker.offsetReset must be earliest or latest")
	}
	return nil
}

func (c Config) validateStore() error {
	if strings.TrimSpace(c.Store.DSN) == "" {
		return configErr("store.dsn required")
	}
	return nil
}

func configErr(msg string) error {
	return errs.New(errs.CodeConfig, errs.WithOp("config.validate"), errs.WithMessage(msg))
}
