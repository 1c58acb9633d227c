package printer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-ackflow/logger"
)

// Default host settings.
const (
	DefaultTokenCapacity = 2
	DefaultOkTimeout     = 10 * time.Second
	DefaultHistorySize   = 50
	DefaultFillLevel     = 8
	DefaultHelloCommand  = "M110 N0"
)

// Range limits.
const (
	// MinTokenCapacity is the smallest usable gate. With a single slot the
	// ok of the previous line already fills it and extra grants are dropped.
	MinTokenCapacity = 2
	MaxTokenCapacity = 64

	MinOkTimeout = 10 * time.Millisecond
	MaxOkTimeout = 5 * time.Minute

	MinHistorySize = 2
	MaxHistorySize = 10000

	MaxFillLevel = 1000
)

// Config holds the settings of a printer Conn.
type Config struct {
	tokenCapacity int
	okTimeout     time.Duration
	historySize   int
	fillLevel     int
	helloCommand  string

	logger logger.Logger
}

// ConfigOption is a functional option for NewConfig.
type ConfigOption interface {
	apply(*Config) error
}

type configOptFunc func(*Config) error

func (f configOptFunc) apply(cfg *Config) error { return f(cfg) }

// NewConfig creates a host configuration from the defaults and opts.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	cfg := &Config{
		tokenCapacity: DefaultTokenCapacity,
		okTimeout:     DefaultOkTimeout,
		historySize:   DefaultHistorySize,
		fillLevel:     DefaultFillLevel,
		helloCommand:  DefaultHelloCommand,
		logger:        logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// TokenCapacity returns the capacity of the send token gate.
func (cfg *Config) TokenCapacity() int { return cfg.tokenCapacity }

// OkTimeout returns how long the send loop waits for an ok before releasing a token itself.
func (cfg *Config) OkTimeout() time.Duration { return cfg.okTimeout }

// HistorySize returns the number of sent lines kept for resend requests.
func (cfg *Config) HistorySize() int { return cfg.historySize }

// FillLevel returns the outbound queue depth kept while a session feeds commands.
func (cfg *Config) FillLevel() int { return cfg.fillLevel }

// HelloCommand returns the line number reset command sent as line 0.
func (cfg *Config) HelloCommand() string { return cfg.helloCommand }

// Logger returns the configured logger.
func (cfg *Config) Logger() logger.Logger { return cfg.logger }

// WithTokenCapacity sets the send token gate capacity, in [2, 64].
func WithTokenCapacity(n int) ConfigOption {
	return configOptFunc(func(cfg *Config) error {
		if n < MinTokenCapacity || n > MaxTokenCapacity {
			return fmt.Errorf("printer: token capacity %d out of range [%d, %d]", n, MinTokenCapacity, MaxTokenCapacity)
		}
		cfg.tokenCapacity = n

		return nil
	})
}

// WithOkTimeout sets the ok timeout, in [10ms, 5m].
func WithOkTimeout(d time.Duration) ConfigOption {
	return configOptFunc(func(cfg *Config) error {
		if d < MinOkTimeout || d > MaxOkTimeout {
			return fmt.Errorf("printer: ok timeout %v out of range [%v, %v]", d, MinOkTimeout, MaxOkTimeout)
		}
		cfg.okTimeout = d

		return nil
	})
}

// WithHistorySize sets the resend history size, in [2, 10000].
func WithHistorySize(n int) ConfigOption {
	return configOptFunc(func(cfg *Config) error {
		if n < MinHistorySize || n > MaxHistorySize {
			return fmt.Errorf("printer: history size %d out of range [%d, %d]", n, MinHistorySize, MaxHistorySize)
		}
		cfg.historySize = n

		return nil
	})
}

// WithFillLevel sets the outbound queue fill level, in [1, 1000].
func WithFillLevel(n int) ConfigOption {
	return configOptFunc(func(cfg *Config) error {
		if n < 1 || n > MaxFillLevel {
			return fmt.Errorf("printer: fill level %d out of range [1, %d]", n, MaxFillLevel)
		}
		cfg.fillLevel = n

		return nil
	})
}

// WithHelloCommand sets the command sent as line 0 when a connection starts.
func WithHelloCommand(cmd string) ConfigOption {
	return configOptFunc(func(cfg *Config) error {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			return errors.New("printer: hello command must not be empty")
		}
		cfg.helloCommand = cmd

		return nil
	})
}

// WithLogger sets the logger of the connection.
func WithLogger(l logger.Logger) ConfigOption {
	return configOptFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("printer: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
