package audio

import (
	"io"
	"time"
)

// Bell stands in for a vibration motor by ringing the terminal bell.
type Bell struct {
	w io.Writer
}

func NewBell(w io.Writer) *Bell {
	return &Bell{w: w}
}

func (b *Bell) Vibrate(time.Duration) {
	if b == nil || b.w == nil {
		return
	}
	b.w.Write([]byte{'\a'})
}
