// Package media wraps capture handles and recorded-fragment assembly.
package media

import (
	"context"
	"errors"
	"sync"
)

// Constraints mirror the capture request sent to the browser: camera plus
// microphone, user-facing, 720p ideal.
type Constraints struct {
	Width      int
	Height     int
	FacingMode string
	Audio      bool
}

// DefaultConstraints returns the fixed capture constraints for interviews.
func DefaultConstraints() Constraints {
	return Constraints{Width: 1280, Height: 720, FacingMode: "user", Audio: true}
}

// ErrNoDevice indicates the environment refused or lacks a capture device.
var ErrNoDevice = errors.New("media: no capture device available")

// Stream is a live capture handle. Release must be idempotent.
type Stream interface {
	Release()
}

// Capture acquires a capture stream from the environment.
type Capture interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// NopCapture hands out inert streams. Used when the live channel itself is the
// capture transport and there is nothing to acquire server-side.
type NopCapture struct{}

type nopStream struct{}

func (nopStream) Release() {}

func (NopCapture) Acquire(context.Context, Constraints) (Stream, error) { return nopStream{}, nil }

// Recorder accumulates opaque media fragments during the active phase and
// concatenates them into a single blob at finalization.
type Recorder struct {
	mu        sync.Mutex
	fragments [][]byte
	size      int
	closed    bool
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append stores one fragment. Fragments arriving after Blob are dropped.
func (r *Recorder) Append(fragment []byte) {
	if len(fragment) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	buf := make([]byte, len(fragment))
	copy(buf, fragment)
	r.fragments = append(r.fragments, buf)
	r.size += len(buf)
}

// Len reports the number of buffered fragments.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fragments)
}

// Blob concatenates all fragments into one buffer and discards them. The
// recorder accepts no further fragments afterwards.
func (r *Recorder) Blob() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if len(r.fragments) == 0 {
		return nil
	}
	out := make([]byte, 0, r.size)
	for _, f := range r.fragments {
		out = append(out, f...)
	}
	r.fragments = nil
	r.size = 0
	return out
}
