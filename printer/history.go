package printer

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// history keeps the last sent commands by line number, so that resend
// requests can be answered. It is written by the send loop and read by the
// receive loop.
type history struct {
	lines *xsync.MapOf[uint64, string]
	size  uint64
}

func newHistory(size int) *history {
	return &history{
		lines: xsync.NewMapOf[uint64, string](),
		size:  uint64(size),
	}
}

// put records cmd as line n and evicts the line that fell out of the window.
func (h *history) put(n uint64, cmd string) {
	h.lines.Store(n, cmd)
	if n >= h.size {
		h.lines.Delete(n - h.size)
	}
}

func (h *history) get(n uint64) (string, bool) {
	return h.lines.Load(n)
}

func (h *history) reset() {
	h.lines.Clear()
}

func (h *history) len() int {
	return h.lines.Size()
}
