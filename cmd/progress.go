package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/audiolibrelab/echoprint/internal/playback"
)

const barWidth = 30

// progressBar is the terminal playback surface: one redrawn line per
// session.
type progressBar struct {
	out io.Writer

	mu     sync.Mutex
	handle playback.Handle
	active bool
	done   chan struct{}
}

func newProgressBar(out io.Writer) *progressBar {
	return &progressBar{out: out, done: make(chan struct{})}
}

func (p *progressBar) PlaybackStarted(h playback.Handle, id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handle = h
	p.active = true
	p.done = make(chan struct{})
	p.draw(0)
}

func (p *progressBar) PlaybackProgress(h playback.Handle, ratio float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active && h == p.handle {
		p.draw(ratio)
	}
}

func (p *progressBar) PlaybackStopped(h playback.Handle, id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active && h == p.handle {
		p.active = false
		fmt.Fprintln(p.out)
		close(p.done)
	}
}

// Done is closed when the current session stops.
func (p *progressBar) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *progressBar) draw(ratio float64) {
	filled := int(ratio * barWidth)
	fmt.Fprintf(p.out, "\r[%s%s] %3d%%",
		strings.Repeat("#", filled), strings.Repeat("-", barWidth-filled), int(ratio*100))
}
