package flow

import (
	"errors"
	"fmt"
	"time"
)

// Default settings.
const (
	DefaultMinTokenInterval     = 100 * time.Millisecond
	DefaultInflightCap          = 45
	DefaultStreamingInflightCap = 4
	DefaultReportInterval       = time.Second
	DefaultPostResendDelay      = 200 * time.Millisecond
)

// Setting range limits.
const (
	// MaxInflightCap keeps inflight below the 50 lines of resend history
	// hosts usually keep, with some headroom.
	MaxInflightCap = 49

	MaxMinTokenInterval = 10 * time.Second
	MinReportInterval   = 10 * time.Millisecond
	MaxPostResendDelay  = 10 * time.Second
)

// ErrHostNil is returned by NewController when no host is given.
var ErrHostNil = errors.New("flow: host is nil")

// Settings is an immutable snapshot of the pacing settings.
//
// Build it with NewSettings; swap it at runtime with Controller.ApplySettings.
type Settings struct {
	enabled              bool
	minTokenInterval     time.Duration
	inflightCap          uint32
	streamingInflightCap uint32
	reportInterval       time.Duration
	reportOnSessionEnd   bool
	postResendDelay      time.Duration
}

// NewSettings creates a settings snapshot from the defaults and the given options.
func NewSettings(opts ...SettingsOption) (*Settings, error) {
	s := &Settings{
		enabled:              true,
		minTokenInterval:     DefaultMinTokenInterval,
		inflightCap:          DefaultInflightCap,
		streamingInflightCap: DefaultStreamingInflightCap,
		reportInterval:       DefaultReportInterval,
		reportOnSessionEnd:   true,
		postResendDelay:      DefaultPostResendDelay,
	}

	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// DefaultSettings returns the default settings snapshot.
func DefaultSettings() *Settings {
	s, _ := NewSettings()
	return s
}

// Enabled reports whether token granting is enabled. Parsing, discovery and
// statistics run regardless.
func (s *Settings) Enabled() bool { return s.enabled }

// MinTokenInterval returns the minimum time between two grants.
func (s *Settings) MinTokenInterval() time.Duration { return s.minTokenInterval }

// InflightCap returns the policy cap on the interactive inflight target.
func (s *Settings) InflightCap() uint32 { return s.inflightCap }

// StreamingInflightCap returns the inflight target used while streaming a
// file to the controller's storage.
func (s *Settings) StreamingInflightCap() uint32 { return s.streamingInflightCap }

// ReportInterval returns the period of metrics reports.
func (s *Settings) ReportInterval() time.Duration { return s.reportInterval }

// ReportOnSessionEnd reports whether a summary is emitted when a print or transfer ends.
func (s *Settings) ReportOnSessionEnd() bool { return s.reportOnSessionEnd }

// PostResendDelay returns how long granting stays paused after a resend in
// an interactive session.
func (s *Settings) PostResendDelay() time.Duration { return s.postResendDelay }

// SettingsOption is a functional option for NewSettings.
type SettingsOption interface {
	apply(*Settings) error
}

type settingsOptFunc func(*Settings) error

func (f settingsOptFunc) apply(s *Settings) error { return f(s) }

// WithEnabled enables or disables token granting. Enabled by default.
func WithEnabled(enabled bool) SettingsOption {
	return settingsOptFunc(func(s *Settings) error {
		s.enabled = enabled
		return nil
	})
}

// WithMinTokenInterval sets the minimum interval between grants, in [0, 10s].
func WithMinTokenInterval(d time.Duration) SettingsOption {
	return settingsOptFunc(func(s *Settings) error {
		if d < 0 || d > MaxMinTokenInterval {
			return fmt.Errorf("flow: min token interval %v out of range [0, %v]", d, MaxMinTokenInterval)
		}
		s.minTokenInterval = d

		return nil
	})
}

// WithInflightCap sets the cap on the interactive inflight target, in [1, 49].
func WithInflightCap(n int) SettingsOption {
	return settingsOptFunc(func(s *Settings) error {
		if n < 1 || n > MaxInflightCap {
			return fmt.Errorf("flow: inflight cap %d out of range [1, %d]", n, MaxInflightCap)
		}
		s.inflightCap = uint32(n)

		return nil
	})
}

// WithStreamingInflightCap sets the streaming inflight target, in [1, 49].
func WithStreamingInflightCap(n int) SettingsOption {
	return settingsOptFunc(func(s *Settings) error {
		if n < 1 || n > MaxInflightCap {
			return fmt.Errorf("flow: streaming inflight cap %d out of range [1, %d]", n, MaxInflightCap)
		}
		s.streamingInflightCap = uint32(n)

		return nil
	})
}

// WithReportInterval sets the metrics report period, at least 10ms.
func WithReportInterval(d time.Duration) SettingsOption {
	return settingsOptFunc(func(s *Settings) error {
		if d < MinReportInterval {
			return fmt.Errorf("flow: report interval %v below minimum %v", d, MinReportInterval)
		}
		s.reportInterval = d

		return nil
	})
}

// WithReportOnSessionEnd enables or disables the end-of-session summary. Enabled by default.
func WithReportOnSessionEnd(enabled bool) SettingsOption {
	return settingsOptFunc(func(s *Settings) error {
		s.reportOnSessionEnd = enabled
		return nil
	})
}

// WithPostResendDelay sets the pause before interactive pacing resumes after a resend, in [0, 10s].
func WithPostResendDelay(d time.Duration) SettingsOption {
	return settingsOptFunc(func(s *Settings) error {
		if d < 0 || d > MaxPostResendDelay {
			return fmt.Errorf("flow: post resend delay %v out of range [0, %v]", d, MaxPostResendDelay)
		}
		s.postResendDelay = d

		return nil
	})
}
