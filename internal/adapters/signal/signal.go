package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerline/internal/app/broker"
	"github.com/dkeye/peerline/internal/config"
	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/proto"
)

var ErrBackpressure = errors.New("backpressure")

// IssuedIDKey is the cookie-session key under which /api/id stores the last
// identifier handed to a client.
const IssuedIDKey = "issued_id"

type SignalWSController struct {
	Broker  *broker.Broker
	Limiter *RateLimiter
	cfg     config.BrokerConfig
}

func NewSignalWSController(b *broker.Broker, cfg config.BrokerConfig) *SignalWSController {
	return &SignalWSController{
		Broker:  b,
		Limiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow, b.Clock),
		cfg:     cfg,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	if c.Query("key") != ctl.cfg.Key {
		ctl.reject(ws, proto.TypeError, "Invalid key provided")
		return
	}

	id, err := ctl.resolveID(c)
	if err != nil {
		ctl.reject(ws, proto.TypeError, err.Error())
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.sendBuffer()),
	}
	sess := core.NewPeerSession(id, sid, conn)
	ctx, cancel := context.WithCancel(ctx)
	if err := ctl.Broker.Registry.Claim(sess, cancel); err != nil {
		cancel()
		ctl.reject(ws, proto.TypeIDTaken, "ID is taken")
		return
	}

	ctl.sendJSON(conn, proto.Message{Type: proto.TypeOpen, ID: string(id)})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sess, conn)
}

// resolveID picks the requested id, else the one issued to this client by
// /api/id, else a fresh one.
func (ctl *SignalWSController) resolveID(c *gin.Context) (domain.PeerID, error) {
	if raw := c.Query("id"); raw != "" {
		return domain.ParsePeerID(raw)
	}
	session := sessions.Default(c)
	if issued, ok := session.Get(IssuedIDKey).(string); ok && issued != "" {
		if id, err := domain.ParsePeerID(issued); err == nil {
			if _, taken := ctl.Broker.Registry.GetSession(id); !taken {
				return id, nil
			}
		}
	}
	return domain.NewPeerID(), nil
}

func (ctl *SignalWSController) sendBuffer() int {
	if ctl.cfg.SendBuffer > 0 {
		return ctl.cfg.SendBuffer
	}
	return 32
}

// reject writes one frame synchronously and closes the socket.
func (ctl *SignalWSController) reject(ws *websocket.Conn, typ, msg string) {
	var frame []byte
	if typ == proto.TypeError {
		frame, _ = proto.Encode(typ, "", "", &proto.Payload{Msg: msg})
	} else {
		frame, _ = proto.Encode(typ, "", "", nil)
	}
	log.Warn().Str("module", "signal").Str("type", typ).Str("reason", msg).Msg("rejecting connection")
	_ = ws.WriteMessage(websocket.TextMessage, frame)
	_ = ws.Close()
}
