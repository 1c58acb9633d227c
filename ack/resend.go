package ack

import (
	"math"
	"strconv"
	"strings"
)

// ParseResend recognises a firmware resend request and returns the line
// number the firmware expects next.
//
// Accepted forms, case-insensitive, surrounding blanks ignored:
//
//	Resend: 123
//	Resend:123
//	rs 123
//	rs N123
func ParseResend(line string) (uint64, bool) {
	s := scanner{input: strings.TrimSpace(line)}

	switch {
	case s.acceptFold("resend"):
		s.skipSpaces()
		s.accept(':')
	case s.acceptFold("rs"):
		if !s.accept(' ') {
			return 0, false
		}
	default:
		return 0, false
	}

	s.skipSpaces()
	if !s.accept('N') {
		s.accept('n')
	}

	return s.number(math.MaxUint64)
}

// Checksum returns the XOR of every byte in s.
func Checksum(s string) byte {
	var cs byte
	for i := 0; i < len(s); i++ {
		cs ^= s[i]
	}

	return cs
}

// Format builds the wire form of cmd sent as line number line:
//
//	N<line> <cmd>*<checksum>
//
// cmd is expected to be trimmed and free of comments.
func Format(line uint64, cmd string) string {
	var sb strings.Builder
	sb.Grow(len(cmd) + 16)
	sb.WriteByte('N')
	sb.WriteString(strconv.FormatUint(line, 10))
	sb.WriteByte(' ')
	sb.WriteString(cmd)

	cs := Checksum(sb.String())
	sb.WriteByte('*')
	sb.WriteString(strconv.Itoa(int(cs)))

	return sb.String()
}

// ParseNumbered is the inverse of Format: it splits a numbered line into its
// line number and command, and verifies the checksum.
func ParseNumbered(raw string) (uint64, string, bool) {
	raw = strings.TrimSpace(raw)
	star := strings.LastIndexByte(raw, '*')
	if !strings.HasPrefix(raw, "N") || star < 0 {
		return 0, "", false
	}

	cs, err := strconv.Atoi(raw[star+1:])
	if err != nil || cs < 0 || cs > math.MaxUint8 || byte(cs) != Checksum(raw[:star]) {
		return 0, "", false
	}

	body := raw[1:star]
	sp := strings.IndexByte(body, ' ')
	if sp <= 0 {
		return 0, "", false
	}
	n, err := strconv.ParseUint(body[:sp], 10, 64)
	if err != nil {
		return 0, "", false
	}

	return n, body[sp+1:], true
}
