package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerline/internal/adapters/signal"
	"github.com/dkeye/peerline/internal/app/broker"
	"github.com/dkeye/peerline/internal/config"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/proto"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, b *broker.Broker) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Broker.Secret))
	r.Use(sessions.Sessions("PeerlineSessions", store))
	r.Use(ClientTokenMiddleware())

	ctrl := signal.NewSignalWSController(b, cfg.Broker)

	r.GET(proto.SignalPath, func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/id", func(c *gin.Context) {
		id := domain.NewPeerID()
		session := sessions.Default(c)
		session.Set(signal.IssuedIDKey, string(id))
		if err := session.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
		}
		c.String(http.StatusOK, string(id))
	})

	api.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"count": b.Registry.Count(),
			"peers": b.Registry.Snapshot(),
		})
	})

	log.Info().Str("module", "adapters.http").Str("signal", proto.SignalPath).Msg("router setup")
	return r
}
