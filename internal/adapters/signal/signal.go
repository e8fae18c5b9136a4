package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/glagius/signal-server/internal/app"
	"github.com/glagius/signal-server/internal/config"
	"github.com/glagius/signal-server/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the WebSocket side of the relay: it upgrades connections,
// pumps frames in and out, and hands every decoded envelope to the router.
type Controller struct {
	Router *app.Router
	Store  *app.Store

	limiter   *AuthRateLimiter
	heartbeat time.Duration
	readLimit int64
}

func NewController(router *app.Router, store *app.Store, cfg *config.Config) *Controller {
	return &Controller{
		Router:    router,
		Store:     store,
		limiter:   NewAuthRateLimiter(cfg.AuthAttempts, cfg.AuthWindow),
		heartbeat: cfg.HeartbeatPeriod,
		readLimit: cfg.ReadLimit,
	}
}

// WsSignalConn adapts one websocket to core.SignalConnection. Writes go
// through a buffered channel; a full buffer is backpressure, not a stall.
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

// HandleSignal upgrades the request and serves the connection until the
// socket drops.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("token", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.readLimit)

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		defer conn.Close()
		ctl.writePump(ctx, conn)
	}()
	go func() {
		defer cancel()
		ctl.readPump(ctx, conn)
	}()
}
