package orch

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/ui"
)

// Connect opens a text channel to remote, closing the current one first.
func (o *Orchestrator) Connect(ctx context.Context, remote string) error {
	return o.do(ctx, func() { o.connect(remote) })
}

func (o *Orchestrator) connect(raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		o.doc.Alert("Please enter a peer ID")
		return
	}
	remote, err := domain.ParsePeerID(raw)
	if err != nil {
		o.status.Update("Connection error: "+err.Error(), ui.KindError)
		return
	}
	if o.peer == nil {
		o.status.Update("Connection error: "+ErrNoPeer.Error(), ui.KindError)
		return
	}
	o.dropSession()

	conn, err := o.peer.Connect(remote)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("remote", raw).Msg("connect failed")
		o.status.Update("Connection error: "+err.Error(), ui.KindError)
		return
	}
	log.Info().Str("module", "orch").Str("remote", raw).Msg("connecting")
	o.bindChat(conn)
}

// dropSession forgets the current session before closing it, so its close
// event is treated as stale.
func (o *Orchestrator) dropSession() {
	if o.session == nil {
		return
	}
	old := o.session.Conn
	o.session = nil
	o.closeAsync(old.Close)
}

func (o *Orchestrator) bindChat(conn core.DataConnection) {
	o.session = &SignalingSession{Remote: conn.Peer(), Conn: conn}
	conn.OnOpen(func() { o.post(func() { o.onChatOpen(conn) }) })
	conn.OnData(func(b []byte) {
		text := string(b)
		o.post(func() { o.onChatData(conn, text) })
	})
	conn.OnClose(func() { o.post(func() { o.onChatClose(conn) }) })
	conn.OnError(func(err error) { o.post(func() { o.onChatError(conn, err) }) })
	if conn.Open() {
		o.onChatOpen(conn)
	}
}

func (o *Orchestrator) current(conn core.DataConnection) bool {
	return o.session != nil && o.session.Conn == conn
}

func (o *Orchestrator) onIncomingConnection(gen int, conn core.DataConnection) {
	if gen != o.peerGen {
		o.closeAsync(conn.Close)
		return
	}
	if o.session != nil && o.incomingConn == PolicyReject {
		log.Info().Str("module", "orch").Str("remote", string(conn.Peer())).Msg("rejecting second connection")
		o.closeAsync(conn.Close)
		return
	}
	log.Info().Str("module", "orch").Str("remote", string(conn.Peer())).Msg("incoming connection")
	o.dropSession()
	o.doc.SetDisabled(ui.RegionStartCall, false)
	o.bindChat(conn)
}

func (o *Orchestrator) onChatOpen(conn core.DataConnection) {
	if !o.current(conn) || o.session.Open {
		return
	}
	o.session.Open = true
	remote := o.session.Remote
	o.status.Update("Connected to "+string(remote), ui.KindConnected)
	o.doc.SetDisabled(ui.RegionMessage, false)
	o.doc.SetDisabled(ui.RegionSend, false)
	o.doc.SetDisabled(ui.RegionStartCall, false)
	o.doc.SetText(ui.RegionChatPeerName, remote.DisplayName())
	o.doc.SetText(ui.RegionChatPeerStatus, "Online")
	o.chat.AppendSystem("Connected to peer " + string(remote))
}

func (o *Orchestrator) onChatData(conn core.DataConnection, text string) {
	if !o.current(conn) {
		return
	}
	o.chat.Append(text, domain.OriginRemote)
}

func (o *Orchestrator) onChatClose(conn core.DataConnection) {
	if !o.current(conn) {
		return
	}
	o.session = nil
	o.status.Update("Connection closed", ui.KindNone)
	o.doc.SetDisabled(ui.RegionMessage, true)
	o.doc.SetDisabled(ui.RegionSend, true)
	o.doc.SetDisabled(ui.RegionStartCall, true)
	o.doc.SetText(ui.RegionChatPeerName, "Not connected")
	o.doc.SetText(ui.RegionChatPeerStatus, "Offline")
	o.hangup()
	o.chat.AppendSystem("Connection closed")
}

func (o *Orchestrator) onChatError(conn core.DataConnection, err error) {
	if !o.current(conn) {
		return
	}
	log.Error().Err(err).Str("module", "orch").Msg("connection error")
	o.status.Update("Connection error: "+err.Error(), ui.KindError)
}

// Send delivers text over the open channel. Whitespace-only text is ignored.
func (o *Orchestrator) Send(ctx context.Context, text string) error {
	return o.do(ctx, func() { o.send(text) })
}

func (o *Orchestrator) send(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if o.session == nil || !o.session.Open {
		o.status.Update("Error sending message", ui.KindError)
		return
	}
	if err := o.session.Conn.Send([]byte(text)); err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("send failed")
		o.status.Update("Error sending message", ui.KindError)
		return
	}
	o.chat.Append(text, domain.OriginLocal)
	o.doc.SetText(ui.RegionMessage, "")
}
