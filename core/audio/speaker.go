package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dndj/core/player"
	"dndj/logger"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

const (
	// OutputSampleRate is the rate the speaker runs at; tracks are resampled to it.
	OutputSampleRate = beep.SampleRate(44100)
	speakerBuffer    = 100 * time.Millisecond
	resampleQuality  = 4
)

// ErrUnsupportedFormat is returned for files no decoder handles.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

type decodeFunc func(io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)

func decoderFor(path string) (decodeFunc, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return mp3.Decode, nil
	case ".wav":
		return func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(rc) }, nil
	case ".flac":
		return func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) { return flac.Decode(rc) }, nil
	case ".ogg", ".oga":
		return vorbis.Decode, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// volumeFor maps a linear gain in [0,1] to an effects.Volume exponent with base 2.
func volumeFor(gain float64) (exponent float64, silent bool) {
	if gain <= 0 {
		return 0, true
	}
	if gain > 1 {
		gain = 1
	}
	return math.Log2(gain), false
}

type playback struct {
	streamer beep.StreamSeekCloser
	volume   *effects.Volume
	done     func(error)
	once     sync.Once
}

func (p *playback) finish(err error) {
	p.once.Do(func() {
		if cerr := p.streamer.Close(); cerr != nil {
			logger.Warn("close audio stream", logger.ErrorField(cerr))
		}
		p.done(err)
	})
}

// SpeakerSink plays tracks on the local audio device.
type SpeakerSink struct {
	initOnce sync.Once
	initErr  error

	mu          sync.Mutex
	current     *playback
	initialized bool
}

func NewSpeakerSink() *SpeakerSink {
	return &SpeakerSink{}
}

func (s *SpeakerSink) init() error {
	s.initOnce.Do(func() {
		if err := speaker.Init(OutputSampleRate, OutputSampleRate.N(speakerBuffer)); err != nil {
			s.initErr = fmt.Errorf("failed to initialize speaker: %w", err)
			return
		}
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		logger.Info("speaker initialized", logger.Int("sample_rate", int(OutputSampleRate)))
	})
	return s.initErr
}

// Play implements player.Sink.
func (s *SpeakerSink) Play(req player.PlayRequest, done func(error)) error {
	if err := s.init(); err != nil {
		return err
	}

	decode, err := decoderFor(req.Path)
	if err != nil {
		return err
	}
	f, err := os.Open(req.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", req.Path, err)
	}
	streamer, format, err := decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode %s: %w", req.Path, err)
	}

	if req.Start > 0 {
		if err := streamer.Seek(format.SampleRate.N(req.Start)); err != nil {
			streamer.Close()
			return fmt.Errorf("seek %s to %v: %w", req.Path, req.Start, err)
		}
	}

	var source beep.Streamer = streamer
	if req.End > req.Start {
		source = beep.Take(format.SampleRate.N(req.End-req.Start), source)
	}
	if format.SampleRate != OutputSampleRate {
		source = beep.Resample(resampleQuality, format.SampleRate, OutputSampleRate, source)
	}

	exponent, silent := volumeFor(req.Gain)
	p := &playback{
		streamer: streamer,
		volume: &effects.Volume{
			Streamer: source,
			Base:     2,
			Volume:   exponent,
			Silent:   silent,
		},
		done: done,
	}

	s.mu.Lock()
	prev := s.current
	s.current = p
	s.mu.Unlock()
	if prev != nil {
		speaker.Clear()
		go prev.finish(player.ErrInterrupted)
	}

	// The callback runs on the speaker goroutine with its lock held.
	speaker.Play(beep.Seq(p.volume, beep.Callback(func() {
		go s.ended(p)
	})))
	return nil
}

func (s *SpeakerSink) ended(p *playback) {
	s.mu.Lock()
	if s.current == p {
		s.current = nil
	}
	s.mu.Unlock()
	p.finish(p.streamer.Err())
}

// SetGain implements player.Sink.
func (s *SpeakerSink) SetGain(gain float64) {
	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	if p == nil {
		return
	}
	exponent, silent := volumeFor(gain)
	speaker.Lock()
	p.volume.Volume = exponent
	p.volume.Silent = silent
	speaker.Unlock()
}

// Stop implements player.Sink.
func (s *SpeakerSink) Stop() {
	s.mu.Lock()
	p := s.current
	s.current = nil
	s.mu.Unlock()
	if p == nil {
		return
	}
	speaker.Clear()
	go p.finish(player.ErrInterrupted)
}

// Close stops playback and releases the device.
func (s *SpeakerSink) Close() {
	s.Stop()
	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()
	if initialized {
		speaker.Close()
	}
}
