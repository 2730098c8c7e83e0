package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/peerline/internal/app"
	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/proto"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (f *fakeSignal) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return assert.AnError
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func claim(t *testing.T, reg *app.Registry, id string) *fakeSignal {
	t.Helper()
	sig := &fakeSignal{}
	require.NoError(t, reg.Claim(core.NewPeerSession(domain.PeerID(id), "tok-"+core.SessionID(id), sig), nil))
	return sig
}

func TestRelayRewritesSource(t *testing.T) {
	reg := app.NewRegistry(nil)
	b := New(reg, app.SimplePolicy{}, nil)
	bob := claim(t, reg, "bob")

	res := b.Relay("alice", &proto.Message{Type: proto.TypeAnswer, Src: "mallory", Dst: "bob"})
	assert.True(t, res.Delivered)
	require.Len(t, bob.frames, 1)

	m, err := proto.Decode(bob.frames[0])
	require.NoError(t, err)
	assert.Equal(t, "alice", m.Src)
}

func TestRelayUnknownDestination(t *testing.T) {
	b := New(app.NewRegistry(nil), app.SimplePolicy{}, nil)
	res := b.Relay("alice", &proto.Message{Type: proto.TypeOffer, Dst: "ghost"})
	assert.True(t, res.Expired)
	assert.False(t, res.Delivered)
}

func TestRelayBackpressureKicks(t *testing.T) {
	reg := app.NewRegistry(nil)
	b := New(reg, app.SimplePolicy{}, nil)
	bob := claim(t, reg, "bob")
	bob.full = true

	res := b.Relay("alice", &proto.Message{Type: proto.TypeCandidate, Dst: "bob"})
	require.NotNil(t, res.Dropped)
	assert.True(t, bob.closed)
	assert.Equal(t, 0, reg.Count())
}

func TestClaimRejectsTakenID(t *testing.T) {
	reg := app.NewRegistry(nil)
	claim(t, reg, "alice")
	err := reg.Claim(core.NewPeerSession("alice", "other", &fakeSignal{}), nil)
	assert.ErrorIs(t, err, app.ErrIDTaken)
}

func TestSweepExpiresSilentPeers(t *testing.T) {
	mock := clock.NewMock()
	reg := app.NewRegistry(mock)
	b := New(reg, app.SimplePolicy{}, mock)
	quiet := claim(t, reg, "quiet")
	claim(t, reg, "chatty")

	mock.Add(40 * time.Second)
	reg.Touch("chatty")
	mock.Add(30 * time.Second)

	expired := b.Sweep(time.Minute)
	assert.Len(t, expired, 1)
	assert.EqualValues(t, "quiet", expired[0])
	assert.True(t, quiet.closed)
	assert.Equal(t, 1, reg.Count())
}
