package ack

import (
	"math"
	"strings"
)

const okToken = "ok "

// Info is the buffer telemetry carried by one advanced ok line.
type Info struct {
	// Line is the acknowledged line number, valid only when HasLine is true.
	Line uint64
	// HasLine reports whether the ok line carried an N<line> group.
	HasLine bool
	// PlannerAvail is the number of free planner (motion) buffer slots.
	PlannerAvail uint32
	// CommandAvail is the number of free command (serial receive) buffer slots.
	CommandAvail uint32
}

// Actionable reports whether the info may drive pacing decisions.
// An ok without a line number can't be correlated with the sent stream.
func (i Info) Actionable() bool { return i.HasLine }

// IsHandshake reports whether the info acknowledges line 0, the reset
// command (M110 N0) sent when the connection is established.
func (i Info) IsHandshake() bool { return i.HasLine && i.Line == 0 }

// Parse looks for an advanced ok anywhere in line.
//
// The accepted grammar is
//
//	"ok " [ "N" digits " " ] "P" digits " B" digits
//
// Every occurrence of "ok " is tried in order and the first one that matches
// wins. It returns false when no occurrence matches; there is no partial
// extraction.
func Parse(line string) (Info, bool) {
	from := 0
	for {
		idx := strings.Index(line[from:], okToken)
		if idx < 0 {
			return Info{}, false
		}

		start := from + idx + len(okToken)
		if info, ok := matchAt(line, start); ok {
			return info, true
		}
		from += idx + 1
	}
}

// matchAt matches the part of the grammar following "ok " at pos.
func matchAt(line string, pos int) (Info, bool) {
	s := scanner{input: line, pos: pos}

	if s.accept('N') {
		if n, ok := s.number(math.MaxUint64); ok && s.accept(' ') {
			if p, b, ok := s.buffers(); ok {
				return Info{Line: n, HasLine: true, PlannerAvail: p, CommandAvail: b}, true
			}
		}
		// the line group is optional, retry without it
		s.pos = pos
	}

	if p, b, ok := s.buffers(); ok {
		return Info{PlannerAvail: p, CommandAvail: b}, true
	}

	return Info{}, false
}

// scanner is a byte cursor over a single line.
type scanner struct {
	input string
	pos   int
}

// accept consumes the next byte if it equals c.
func (s *scanner) accept(c byte) bool {
	if s.pos < len(s.input) && s.input[s.pos] == c {
		s.pos++
		return true
	}

	return false
}

// acceptFold consumes prefix ignoring ASCII case.
func (s *scanner) acceptFold(prefix string) bool {
	end := s.pos + len(prefix)
	if end > len(s.input) || !strings.EqualFold(s.input[s.pos:end], prefix) {
		return false
	}
	s.pos = end

	return true
}

// skipSpaces consumes a run of blanks.
func (s *scanner) skipSpaces() {
	for s.pos < len(s.input) && (s.input[s.pos] == ' ' || s.input[s.pos] == '\t') {
		s.pos++
	}
}

// number consumes a run of at least one decimal digit. A value above limit fails.
func (s *scanner) number(limit uint64) (uint64, bool) {
	start := s.pos
	var n uint64
	for s.pos < len(s.input) {
		c := s.input[s.pos]
		if c < '0' || c > '9' {
			break
		}
		d := uint64(c - '0')
		if n > (limit-d)/10 {
			return 0, false
		}
		n = n*10 + d
		s.pos++
	}

	return n, s.pos > start
}

// buffers consumes "P" digits " B" digits.
func (s *scanner) buffers() (uint32, uint32, bool) {
	if !s.accept('P') {
		return 0, 0, false
	}
	p, ok := s.number(math.MaxUint32)
	if !ok || !s.accept(' ') || !s.accept('B') {
		return 0, 0, false
	}
	b, ok := s.number(math.MaxUint32)
	if !ok {
		return 0, 0, false
	}

	return uint32(p), uint32(b), true
}
