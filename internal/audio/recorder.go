package audio

import (
	"context"
	"errors"
	"io"
	"time"
)

// Status represents the current state of the microphone
type Status string

const (
	StatusStandby   Status = "STANDBY"
	StatusRecording Status = "RECORDING"
	StatusError     Status = "ERROR"
)

var (
	ErrNotRecording     = errors.New("not recording")
	ErrAlreadyRecording = errors.New("already recording")
	ErrEmptyCapture     = errors.New("capture produced no audio")
)

// Take is a finished capture held in temporary storage until it is saved
// or discarded.
type Take interface {
	Path() string
	Open() (io.ReadCloser, error)
	Duration() time.Duration
	Discard() error
}

// Microphone defines the interface every capture backend must implement
type Microphone interface {
	// RequestPermission reports whether capture is possible on this system.
	RequestPermission(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) (Take, error)
	Status() Status
}
