package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
)

// progressPrinter writes coarse transfer progress, one line per 10% step so
// logs stay readable without a terminal UI.
type progressPrinter struct {
	w  io.Writer
	mu sync.Mutex
	// last reported 10%-step per file
	steps map[string]int64
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, steps: make(map[string]int64)}
}

func (p *progressPrinter) update(name string, done, total int64) {
	if total <= 0 {
		return
	}
	step := done * 10 / total
	p.mu.Lock()
	defer p.mu.Unlock()
	if step <= p.steps[name] && done < total {
		return
	}
	p.steps[name] = step
	fmt.Fprintf(p.w, "%s: %s / %s (%d%%)\n",
		name, humanize.Bytes(uint64(done)), humanize.Bytes(uint64(total)), done*100/total)
}
