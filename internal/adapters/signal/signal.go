// Package signal is the WebSocket gateway between viewers and the broker.
package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Rover/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Viewers receives the lifecycle and traffic of every viewer connection.
type Viewers interface {
	OnViewerJoin(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc)
	OnViewerLeave(sid core.SessionID)
	OnViewerMessage(sid core.SessionID, conn core.SignalConnection, data []byte) error
}

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	// SendBuffer must hold a full replay of the cached session.
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

// pongWait is how long a viewer may stay silent, pongs included.
func (o Options) pongWait() time.Duration {
	return o.PingPeriod * 10 / 9
}

type SignalWSController struct {
	viewers Viewers
	opts    Options
}

func NewSignalWSController(viewers Viewers, opts Options) *SignalWSController {
	return &SignalWSController{
		viewers: viewers,
		opts:    opts.withDefaults(),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and registers the socket as a viewer
// under a fresh session id. ctx bounds the connection's lifetime.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	logger := log.With().Str("module", "signal").Str("sid", string(sid)).Str("client", c.GetString("client_token")).Logger()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	logger.Info().Msg("new WS connection")

	conn := NewWsSignalConn(ws, ctl.opts.SendBuffer)
	ctx, cancel := context.WithCancel(ctx)

	go ctl.writePump(ctx, sid, conn)
	ctl.viewers.OnViewerJoin(sid, conn, cancel)
	go ctl.readPump(ctx, sid, conn, cancel)
}
