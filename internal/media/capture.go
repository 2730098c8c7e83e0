package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var (
	ErrNoDevice        = errors.New("no capture device available")
	ErrKindUnsupported = errors.New("requested media kind is not supported")
)

// Constraints select which kinds a capture must produce.
type Constraints struct {
	Audio bool
	Video bool
}

// Capturer is the platform media-capture contract.
type Capturer interface {
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
}

// CapturerFunc adapts a function to Capturer.
type CapturerFunc func(ctx context.Context, c Constraints) (*Stream, error)

func (f CapturerFunc) GetUserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	return f(ctx, c)
}

const frameDuration = 20 * time.Millisecond

// SilenceSource yields an Opus silence frame every 20ms.
type SilenceSource struct {
	ticker *time.Ticker
	once   sync.Once
	done   chan struct{}
}

func NewSilenceSource() *SilenceSource {
	return &SilenceSource{ticker: time.NewTicker(frameDuration), done: make(chan struct{})}
}

func (s *SilenceSource) Read() (Sample, func(), error) {
	select {
	case <-s.done:
		return Sample{}, nil, io.EOF
	case <-s.ticker.C:
		return Sample{Data: opusSilence, Duration: frameDuration}, nil, nil
	}
}

func (s *SilenceSource) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	return nil
}

// SyntheticCapturer produces a silent audio stream. It is the capturer on
// hosts without a capture driver and in headless runs.
type SyntheticCapturer struct{}

func (SyntheticCapturer) GetUserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if c.Video {
		return nil, ErrKindUnsupported
	}
	if !c.Audio {
		return nil, ErrNoDevice
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream := NewStream("")
	track, err := NewTrack(KindAudio, stream.ID(), NewSilenceSource())
	if err != nil {
		return nil, err
	}
	stream.tracks = append(stream.tracks, track)
	return stream, nil
}
