package flow

import (
	"fmt"
	"strings"
)

// Session is the kind of job the host is currently running on the connection.
type Session uint8

const (
	// IdleSession means no print or transfer is running.
	IdleSession Session = iota
	// PrintingSession means the host is printing, streaming commands for immediate execution.
	PrintingSession
	// StreamingSession means the host is transferring a file to the controller's storage.
	StreamingSession
)

// IsIdle returns if no job is running.
func (s Session) IsIdle() bool { return s == IdleSession }

// IsPrinting returns if a print is running.
func (s Session) IsPrinting() bool { return s == PrintingSession }

// IsStreaming returns if a file transfer to storage is running.
func (s Session) IsStreaming() bool { return s == StreamingSession }

// String returns string representation of the session.
func (s Session) String() string {
	switch s {
	case IdleSession:
		return "ready"
	case PrintingSession:
		return "printing"
	case StreamingSession:
		return "transferring"
	default:
		return "unknown"
	}
}

// Event is a host lifecycle event delivered to Controller.HandleEvent.
type Event uint8

// Lifecycle events. The names returned by String are the ones accepted by ParseEvent.
const (
	EventConnecting Event = iota
	EventTransferStarted
	EventTransferDone
	EventTransferFailed
	EventPrintStarted
	EventPrintDone
	EventPrintFailed
)

var eventNames = [...]string{
	EventConnecting:      "connecting",
	EventTransferStarted: "transfer_started",
	EventTransferDone:    "transfer_done",
	EventTransferFailed:  "transfer_failed",
	EventPrintStarted:    "print_started",
	EventPrintDone:       "print_done",
	EventPrintFailed:     "print_failed",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}

	return "unknown"
}

// IsSessionEnd returns if the event finishes a print or a transfer.
func (e Event) IsSessionEnd() bool {
	switch e {
	case EventTransferDone, EventTransferFailed, EventPrintDone, EventPrintFailed:
		return true
	default:
		return false
	}
}

// IsFailure returns if the event reports a failed print or transfer.
func (e Event) IsFailure() bool {
	return e == EventTransferFailed || e == EventPrintFailed
}

// ParseEvent converts an event name, e.g. "print_started", to an Event.
// Names are case-insensitive; dashes and underscores are interchangeable.
func ParseEvent(name string) (Event, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for i, n := range eventNames {
		if n == norm {
			return Event(i), nil
		}
	}

	return 0, fmt.Errorf("flow: unknown lifecycle event %q", name)
}
