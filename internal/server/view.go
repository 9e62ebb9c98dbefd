package server

import (
	"sync"

	"github.com/audiolibrelab/echoprint/internal/playback"
)

// View tracks the Play/Stop button and progress bar of one list.
type View struct {
	name string

	mu        sync.Mutex
	active    bool
	handle    playback.Handle
	playingID int64
	progress  float64
}

// ViewState is the JSON form of a View.
type ViewState struct {
	View      string  `json:"view"`
	Playing   bool    `json:"playing"`
	PlayingID int64   `json:"playing_id,omitempty"`
	Progress  float64 `json:"progress"`
}

func NewView(name string) *View {
	return &View{name: name}
}

func (v *View) PlaybackStarted(h playback.Handle, id int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = true
	v.handle = h
	v.playingID = id
	v.progress = 0
}

func (v *View) PlaybackProgress(h playback.Handle, ratio float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active && h == v.handle {
		v.progress = ratio
	}
}

// PlaybackStopped resets the button unless a newer session already took
// over this view.
func (v *View) PlaybackStopped(h playback.Handle, _ int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active && h == v.handle {
		v.active = false
		v.playingID = 0
		v.progress = 0
	}
}

func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return ViewState{
		View:      v.name,
		Playing:   v.active,
		PlayingID: v.playingID,
		Progress:  v.progress,
	}
}

// Label is the text of the row button for id.
func (v *View) Label(id int64) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active && v.playingID == id {
		return "Stop"
	}
	return "Play"
}
