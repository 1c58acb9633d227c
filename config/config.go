// Package config loads the ackflow configuration from a YAML file and
// ACKFLOW_* environment variables, and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-ackflow/flow"
	"github.com/arloliu/go-ackflow/logger"
	"github.com/arloliu/go-ackflow/printer"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of the environment variables overriding the file,
// e.g. ACKFLOW_FLOW_INFLIGHT_CAP=20.
const EnvPrefix = "ACKFLOW"

// Config is the root configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Flow    FlowConfig    `mapstructure:"flow" yaml:"flow"`
	Serial  SerialConfig  `mapstructure:"serial" yaml:"serial"`
	Host    HostConfig    `mapstructure:"host" yaml:"host"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
}

// FlowConfig holds the pacing settings. Durations accept Go duration
// strings ("100ms") or plain numbers of seconds (0.1).
type FlowConfig struct {
	Enabled              bool          `mapstructure:"enabled" yaml:"enabled"`
	MinTokenInterval     time.Duration `mapstructure:"min_token_interval" validate:"gte=0,lte=10s" yaml:"min_token_interval"`
	InflightCap          int           `mapstructure:"inflight_cap" validate:"min=1,max=49" yaml:"inflight_cap"`
	StreamingInflightCap int           `mapstructure:"streaming_inflight_cap" validate:"min=1,max=49" yaml:"streaming_inflight_cap"`
	ReportInterval       time.Duration `mapstructure:"report_interval" validate:"gte=10ms" yaml:"report_interval"`
	ReportOnSessionEnd   bool          `mapstructure:"report_on_session_end" yaml:"report_on_session_end"`
	PostResendDelay      time.Duration `mapstructure:"post_resend_delay" validate:"gte=0,lte=10s" yaml:"post_resend_delay"`
}

// SerialConfig selects the serial port of the print command.
type SerialConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
	Baud int    `mapstructure:"baud" validate:"min=300,max=4000000" yaml:"baud"`
}

// HostConfig holds the printer host settings.
type HostConfig struct {
	TokenCapacity int           `mapstructure:"token_capacity" validate:"min=2,max=64" yaml:"token_capacity"`
	OkTimeout     time.Duration `mapstructure:"ok_timeout" validate:"gte=10ms,lte=5m" yaml:"ok_timeout"`
	HistorySize   int           `mapstructure:"history_size" validate:"min=2,max=10000" yaml:"history_size"`
	FillLevel     int           `mapstructure:"fill_level" validate:"min=1,max=1000" yaml:"fill_level"`
	HelloCommand  string        `mapstructure:"hello_command" validate:"required" yaml:"hello_command"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" validate:"omitempty,hostname_port" yaml:"listen"`
}

// Default returns the built-in configuration.
func Default() *Config {
	settings := flow.DefaultSettings()

	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Flow: FlowConfig{
			Enabled:              settings.Enabled(),
			MinTokenInterval:     settings.MinTokenInterval(),
			InflightCap:          int(settings.InflightCap()),
			StreamingInflightCap: int(settings.StreamingInflightCap()),
			ReportInterval:       settings.ReportInterval(),
			ReportOnSessionEnd:   settings.ReportOnSessionEnd(),
			PostResendDelay:      settings.PostResendDelay(),
		},
		Serial: SerialConfig{Baud: 115200},
		Host: HostConfig{
			TokenCapacity: printer.DefaultTokenCapacity,
			OkTimeout:     printer.DefaultOkTimeout,
			HistorySize:   printer.DefaultHistorySize,
			FillLevel:     printer.DefaultFillLevel,
			HelloCommand:  printer.DefaultHelloCommand,
		},
		Metrics: MetricsConfig{Listen: ":9464"},
	}
}

// Load loads the configuration.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (ACKFLOW_*)
//  2. Configuration file
//  3. Default values
//
// An empty path searches config.yaml in DefaultDir. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setupViper(v, path)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path as YAML, creating the parent directory.
func Save(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config: config is nil")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its range.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("config: invalid configuration: %s", strings.Join(msgs, "; "))
		}

		return fmt.Errorf("config: %w", err)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return errors.New("config: metrics.listen is required when metrics are enabled")
	}

	return nil
}

// Settings converts the flow section to a settings snapshot.
func (c FlowConfig) Settings() (*flow.Settings, error) {
	return flow.NewSettings(
		flow.WithEnabled(c.Enabled),
		flow.WithMinTokenInterval(c.MinTokenInterval),
		flow.WithInflightCap(c.InflightCap),
		flow.WithStreamingInflightCap(c.StreamingInflightCap),
		flow.WithReportInterval(c.ReportInterval),
		flow.WithReportOnSessionEnd(c.ReportOnSessionEnd),
		flow.WithPostResendDelay(c.PostResendDelay),
	)
}

// PrinterConfig converts the host section to a printer configuration.
func (c HostConfig) PrinterConfig(l logger.Logger) (*printer.Config, error) {
	opts := []printer.ConfigOption{
		printer.WithTokenCapacity(c.TokenCapacity),
		printer.WithOkTimeout(c.OkTimeout),
		printer.WithHistorySize(c.HistorySize),
		printer.WithFillLevel(c.FillLevel),
		printer.WithHelloCommand(c.HelloCommand),
	}
	if l != nil {
		opts = append(opts, printer.WithLogger(l))
	}

	return printer.NewConfig(opts...)
}

// LogLevel returns the parsed log level.
func (c LoggingConfig) LogLevel() logger.Level {
	level, err := logger.ParseLevel(c.Level)
	if err != nil {
		return logger.InfoLevel
	}

	return level
}

// NewLogger creates a logger writing to w in the configured format and level.
func (c LoggingConfig) NewLogger(w io.Writer) logger.Logger {
	return logger.NewSlogWithOptions(w, c.LogLevel(), logger.Format(c.Format), false)
}

// DefaultDir returns the configuration directory: $XDG_CONFIG_HOME/ackflow,
// ~/.config/ackflow, or the working directory as a last resort.
func DefaultDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ackflow")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "ackflow")
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

func setupViper(v *viper.Viper, path string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		return
	}
	v.AddConfigPath(DefaultDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// setDefaults registers every key, so that environment variables are seen
// for keys the file does not set.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("flow.enabled", d.Flow.Enabled)
	v.SetDefault("flow.min_token_interval", d.Flow.MinTokenInterval)
	v.SetDefault("flow.inflight_cap", d.Flow.InflightCap)
	v.SetDefault("flow.streaming_inflight_cap", d.Flow.StreamingInflightCap)
	v.SetDefault("flow.report_interval", d.Flow.ReportInterval)
	v.SetDefault("flow.report_on_session_end", d.Flow.ReportOnSessionEnd)
	v.SetDefault("flow.post_resend_delay", d.Flow.PostResendDelay)

	v.SetDefault("serial.port", d.Serial.Port)
	v.SetDefault("serial.baud", d.Serial.Baud)

	v.SetDefault("host.token_capacity", d.Host.TokenCapacity)
	v.SetDefault("host.ok_timeout", d.Host.OkTimeout)
	v.SetDefault("host.history_size", d.Host.HistorySize)
	v.SetDefault("host.fill_level", d.Host.FillLevel)
	v.SetDefault("host.hello_command", d.Host.HelloCommand)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

func readConfigFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("config: read file: %w", err)
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// durationDecodeHook converts Go duration strings and plain numbers of
// seconds to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			s := strings.TrimSpace(v)
			if d, err := time.ParseDuration(s); err == nil {
				return d, nil
			}
			secs, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("config: invalid duration %q", v)
			}
			return secondsToDuration(secs), nil
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return secondsToDuration(v), nil
		case time.Duration:
			return v, nil
		default:
			return data, nil
		}
	}
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
