package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/Rover/internal/adapters/signal"
	"github.com/dkeye/Rover/internal/app/broker"
	"github.com/dkeye/Rover/internal/config"
	"github.com/dkeye/Rover/internal/core"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

// Session is the operator view of the producing session.
type Session interface {
	Status() broker.Status
	Restart(ctx context.Context) error
}

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware keeps one random token per browser in the session
// cookie. It only labels log lines; viewers are keyed per socket.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, sess Session, ctl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("RoverSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	wsSignal := func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	}
	// Existing rover clients dial /ws.
	r.GET("/ws", wsSignal)

	api := r.Group("/api")

	api.GET("/ws/signal", wsSignal)

	api.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, sess.Status())
	})

	api.POST("/session/restart", func(c *gin.Context) {
		err := sess.Restart(c.Request.Context())
		switch {
		case err == nil:
			c.JSON(http.StatusOK, sess.Status())
		case errors.Is(err, core.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Str("module", "adapters.http").Msg("restart negotiation")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})

	return r
}
