package core

import (
	"context"

	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/media"
)

// PeerClient is a registered identity on the broker. Callbacks run on
// library goroutines; handlers must not block.
type PeerClient interface {
	ID() domain.PeerID
	// Start dials the broker. Open or Error fire once the broker answers.
	Start(ctx context.Context) error
	// Reconnect re-registers the same identifier after a disconnect.
	Reconnect(ctx context.Context) error
	// Connect opens a reliable data connection to remote.
	Connect(remote domain.PeerID) (DataConnection, error)
	// Call places an outgoing call carrying stream.
	Call(remote domain.PeerID, stream *media.Stream) (MediaConnection, error)
	// Destroy closes every connection and the broker link.
	Destroy()

	OnOpen(func(domain.PeerID))
	OnConnection(func(DataConnection))
	OnCall(func(MediaConnection))
	OnError(func(error))
	OnDisconnected(func())
}

// DataConnection is a text channel to one remote peer.
type DataConnection interface {
	ID() string
	Peer() domain.PeerID
	Open() bool
	Send(data []byte) error
	Close()

	OnOpen(func())
	// OnData receives payloads verbatim. Payloads that arrive before a
	// handler is set are held and delivered once it is.
	OnData(func([]byte))
	OnClose(func())
	OnError(func(error))
}

// MediaConnection is one call leg.
type MediaConnection interface {
	ID() string
	Peer() domain.PeerID
	// Answer accepts an incoming call. stream may be nil to receive only.
	Answer(stream *media.Stream) error
	Close()

	OnStream(func(media.RemoteStream))
	OnClose(func())
	OnError(func(error))
}
