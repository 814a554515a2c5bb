package player

import (
	"errors"
	"time"
)

// ErrInterrupted is reported to a completion callback when Stop cut a track short.
var ErrInterrupted = errors.New("playback interrupted")

// PlayRequest describes one track to render.
type PlayRequest struct {
	Path  string
	Start time.Duration // zero: from the beginning
	End   time.Duration // zero: to the end
	Gain  float64       // linear, in [0,1]
}

// Sink renders audio. It plays at most one track at a time.
//
// After a successful Play, done is called exactly once: with nil when the
// track ended, with ErrInterrupted after Stop, or with a decode error. Stop
// with nothing playing is a no-op.
type Sink interface {
	Play(req PlayRequest, done func(error)) error
	SetGain(gain float64)
	Stop()
}
