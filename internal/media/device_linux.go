//go:build linux && cgo

package media

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const opusClockRate = 48000

// encodedSource adapts a mediadevices Opus reader to Source.
type encodedSource struct {
	r     mediadevices.EncodedReadCloser
	track mediadevices.Track
}

func (s *encodedSource) Read() (Sample, func(), error) {
	buf, release, err := s.r.Read()
	if err != nil {
		return Sample{}, nil, err
	}
	d := time.Duration(buf.Samples) * time.Second / opusClockRate
	if d == 0 {
		d = frameDuration
	}
	return Sample{Data: buf.Data, Duration: d}, release, nil
}

func (s *encodedSource) Close() error {
	err := s.r.Close()
	if cerr := s.track.Close(); err == nil {
		err = cerr
	}
	return err
}

// DeviceCapturer opens the system microphone through pion/mediadevices.
type DeviceCapturer struct{}

func (DeviceCapturer) GetUserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if c.Video {
		return nil, ErrKindUnsupported
	}
	if !c.Audio {
		return nil, ErrNoDevice
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	codecSelector := mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&opusParams))

	devices := mediadevices.EnumerateDevices()
	for _, d := range devices {
		log.Debug().Str("module", "media.device").Str("label", d.Label).Str("kind", fmt.Sprint(d.Kind)).Msg("media device")
	}

	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: codecSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}

	stream := NewStream("")
	for _, mt := range ms.GetAudioTracks() {
		r, err := mt.NewEncodedReader(webrtc.MimeTypeOpus)
		if err != nil {
			_ = mt.Close()
			log.Warn().Err(err).Str("module", "media.device").Msg("opus reader")
			continue
		}
		track, err := NewTrack(KindAudio, stream.ID(), &encodedSource{r: r, track: mt})
		if err != nil {
			_ = r.Close()
			_ = mt.Close()
			return nil, err
		}
		stream.tracks = append(stream.tracks, track)
	}
	if len(stream.tracks) == 0 {
		return nil, ErrNoDevice
	}
	log.Info().Str("module", "media.device").Int("tracks", len(stream.tracks)).Msg("microphone captured")
	return stream, nil
}

// DefaultCapturer is the platform capturer.
func DefaultCapturer() Capturer { return DeviceCapturer{} }
