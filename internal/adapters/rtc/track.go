package rtc

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/peerline/internal/media"
)

// RemoteTrack adapts a pion remote track to the playback relay.
type RemoteTrack struct {
	track *webrtc.TrackRemote
}

func NewRemoteTrack(t *webrtc.TrackRemote) *RemoteTrack {
	return &RemoteTrack{track: t}
}

func (r *RemoteTrack) ID() string { return r.track.ID() }

func (r *RemoteTrack) Kind() media.Kind {
	if r.track.Kind() == webrtc.RTPCodecTypeVideo {
		return media.KindVideo
	}
	return media.KindAudio
}

func (r *RemoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.track.ReadRTP()
	return pkt, err
}
