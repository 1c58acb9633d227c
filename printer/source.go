package printer

import (
	"bufio"
	"io"
	"strings"
)

// Source supplies the commands of a print or a transfer. Next returns io.EOF
// after the last command.
type Source interface {
	Next() (string, error)
}

// lineSource reads commands from a G-code stream, one per line. Comments and
// blank lines are skipped.
type lineSource struct {
	scanner *bufio.Scanner
}

// NewLineSource creates a Source reading commands from r.
func NewLineSource(r io.Reader) Source {
	return &lineSource{scanner: bufio.NewScanner(r)}
}

func (s *lineSource) Next() (string, error) {
	for s.scanner.Scan() {
		if cmd := StripComment(s.scanner.Text()); cmd != "" {
			return cmd, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		return "", err
	}

	return "", io.EOF
}

type sliceSource struct {
	cmds []string
	pos  int
}

// NewSliceSource creates a Source over a fixed list of commands.
func NewSliceSource(cmds ...string) Source {
	return &sliceSource{cmds: cmds}
}

func (s *sliceSource) Next() (string, error) {
	for s.pos < len(s.cmds) {
		cmd := StripComment(s.cmds[s.pos])
		s.pos++
		if cmd != "" {
			return cmd, nil
		}
	}

	return "", io.EOF
}

// framedSource wraps a Source with a leading and a trailing command.
type framedSource struct {
	head, tail string
	src        Source
	state      int
}

func (s *framedSource) Next() (string, error) {
	switch s.state {
	case 0:
		s.state = 1
		return s.head, nil
	case 1:
		cmd, err := s.src.Next()
		if err == io.EOF {
			s.state = 2
			return s.tail, nil
		}
		return cmd, err
	default:
		return "", io.EOF
	}
}

// StripComment removes a trailing ';' comment and surrounding spaces from a
// G-code line.
func StripComment(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}

	return strings.TrimSpace(line)
}
