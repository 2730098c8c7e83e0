package peer

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	router "github.com/dkeye/peerline/internal/adapters/http"
	"github.com/dkeye/peerline/internal/adapters/rtc"
	"github.com/dkeye/peerline/internal/app"
	"github.com/dkeye/peerline/internal/app/broker"
	"github.com/dkeye/peerline/internal/config"
	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/media"
)

const waitFor = 10 * time.Second

type harness struct {
	url    string
	broker *broker.Broker
	api    *webrtc.API
	ctx    context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{
		Mode:   "test",
		Broker: config.BrokerConfig{Key: "k", Secret: "secret", SendBuffer: 64},
	}
	b := broker.New(app.NewRegistry(nil), app.SimplePolicy{}, nil)
	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, b))
	t.Cleanup(srv.Close)

	api, err := rtc.NewAPI(zerolog.Disabled, true)
	require.NoError(t, err)
	return &harness{
		url:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		broker: b,
		api:    api,
		ctx:    ctx,
	}
}

// open starts a peer and waits for the broker to confirm it.
func (h *harness) open(t *testing.T, hint domain.PeerID) *Peer {
	t.Helper()
	p, err := New(hint, Options{BrokerURL: h.url, Key: "k", API: h.api, Heartbeat: time.Second})
	require.NoError(t, err)
	opened := make(chan domain.PeerID, 1)
	p.OnOpen(func(id domain.PeerID) { opened <- id })
	require.NoError(t, p.Start(h.ctx))
	t.Cleanup(p.Destroy)

	select {
	case <-opened:
	case <-time.After(waitFor):
		t.Fatal("peer never opened")
	}
	return p
}

func TestPeerOpensWithHint(t *testing.T) {
	h := newHarness(t)
	p := h.open(t, "alice")
	assert.EqualValues(t, "alice", p.ID())
	assert.True(t, p.Open())
}

func TestPeerAssignedID(t *testing.T) {
	h := newHarness(t)
	p := h.open(t, "")
	_, err := domain.ParsePeerID(string(p.ID()))
	assert.NoError(t, err)
}

func TestPeerIDTaken(t *testing.T) {
	h := newHarness(t)
	h.open(t, "alice")

	dup, err := New("alice", Options{BrokerURL: h.url, Key: "k", API: h.api})
	require.NoError(t, err)
	errs := make(chan error, 1)
	dup.OnError(func(err error) { errs <- err })
	require.NoError(t, dup.Start(h.ctx))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrIDTaken)
	case <-time.After(waitFor):
		t.Fatal("no id-taken error")
	}
	_, err = dup.Connect("bob")
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestDataConnectionRoundTrip(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")
	bob := h.open(t, "bob")

	inbound := make(chan core.DataConnection, 1)
	bob.OnConnection(func(c core.DataConnection) { inbound <- c })

	out, err := alice.Connect("bob")
	require.NoError(t, err)
	outOpen := make(chan struct{})
	out.OnOpen(func() { close(outOpen) })

	var in core.DataConnection
	select {
	case in = <-inbound:
	case <-time.After(waitFor):
		t.Fatal("no inbound connection")
	}
	assert.EqualValues(t, "alice", in.Peer())

	received := make(chan string, 1)
	in.OnData(func(b []byte) { received <- string(b) })
	inClosed := make(chan struct{})
	in.OnClose(func() { close(inClosed) })

	select {
	case <-outOpen:
	case <-time.After(waitFor):
		t.Fatal("outbound never opened")
	}
	require.NoError(t, out.Send([]byte("  hello there ")))

	select {
	case got := <-received:
		assert.Equal(t, "  hello there ", got)
	case <-time.After(waitFor):
		t.Fatal("message not delivered")
	}

	out.Close()
	assert.False(t, out.Open())
	assert.ErrorIs(t, out.Send([]byte("late")), ErrNotOpen)
	select {
	case <-inClosed:
	case <-time.After(waitFor):
		t.Fatal("remote side not closed")
	}
}

func TestConnectToUnknownPeerExpires(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")

	out, err := alice.Connect("ghost")
	require.NoError(t, err)
	errs := make(chan error, 1)
	out.OnError(func(err error) { errs <- err })

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrPeerUnavailable)
	case <-time.After(waitFor):
		t.Fatal("no expire error")
	}
}

func TestCallDeliversRemoteStream(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")
	bob := h.open(t, "bob")

	local, err := media.SyntheticCapturer{}.GetUserMedia(h.ctx, media.Constraints{Audio: true})
	require.NoError(t, err)
	local.Start(h.ctx)
	t.Cleanup(local.Stop)

	calls := make(chan core.MediaConnection, 1)
	bob.OnCall(func(c core.MediaConnection) { calls <- c })

	out, err := alice.Call("bob", local)
	require.NoError(t, err)
	streams := make(chan media.RemoteStream, 1)
	out.OnStream(func(s media.RemoteStream) {
		select {
		case streams <- s:
		default:
		}
	})

	var in core.MediaConnection
	select {
	case in = <-calls:
	case <-time.After(waitFor):
		t.Fatal("no inbound call")
	}
	require.NoError(t, in.Answer(local))
	assert.ErrorIs(t, in.Answer(local), ErrAlreadyAnswered)

	select {
	case s := <-streams:
		require.Len(t, s.Tracks, 1)
		assert.Equal(t, media.KindAudio, s.Tracks[0].Kind())
	case <-time.After(waitFor):
		t.Fatal("no remote stream")
	}

	closed := make(chan struct{})
	in.OnClose(func() { close(closed) })
	out.Close()
	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("callee not notified of hangup")
	}
}

func TestReconnectKeepsID(t *testing.T) {
	h := newHarness(t)
	p, err := New("alice", Options{BrokerURL: h.url, Key: "k", API: h.api, Heartbeat: time.Second})
	require.NoError(t, err)
	opened := make(chan domain.PeerID, 2)
	lost := make(chan struct{}, 1)
	p.OnOpen(func(id domain.PeerID) { opened <- id })
	p.OnDisconnected(func() { lost <- struct{}{} })
	require.NoError(t, p.Start(h.ctx))
	t.Cleanup(p.Destroy)
	<-opened

	h.broker.Kick("alice")
	select {
	case <-lost:
	case <-time.After(waitFor):
		t.Fatal("disconnect not reported")
	}
	_, err = p.Connect("bob")
	assert.ErrorIs(t, err, ErrDisconnected)

	require.Eventually(t, func() bool {
		return p.Reconnect(h.ctx) == nil
	}, waitFor, 50*time.Millisecond)
	select {
	case id := <-opened:
		assert.EqualValues(t, "alice", id)
	case <-time.After(waitFor):
		t.Fatal("not reopened")
	}
}
