package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/glagius/signal-server/internal/core"
)

func (ctl *Controller) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump owns the sender identity for its socket: empty until the first
// successful authenticate, then the user id the router bound. On exit the
// connection entry is removed, unless the user has already re-authenticated
// over a newer socket (last-writer-wins replacement must survive the old
// socket's close, so the removal is guarded inside the store).
func (ctl *Controller) readPump(ctx context.Context, c *WsSignalConn) {
	sid := ""
	defer func() {
		log.Info().Str("module", "signal").Str("sid", sid).Msg("readPump closing")
		if sid != "" {
			ctl.Store.RemoveConnectionIf(sid, c)
		}
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", sid).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", sid).Msg("readPump read error")
				return
			}
			sid = ctl.handleFrame(sid, c, data)
		}
	}
}

// handleFrame decodes one frame and routes it. Heartbeats and auth throttling
// are transport concerns and never reach the router.
func (ctl *Controller) handleFrame(sid string, c *WsSignalConn, data []byte) string {
	env, err := core.DecodeEnvelope(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "malformed message")
		return sid
	}

	switch {
	case env.Kind == core.KindHeartbeat:
		ctl.keepAlive(c)
		return sid
	case env.Kind == core.KindAuthenticate && env.Payload != nil && !ctl.limiter.Allow(env.Payload.Login):
		log.Warn().Str("module", "signal").Str("login", env.Payload.Login).Msg("auth throttled")
		ctl.sendError(c, "too many authentication attempts")
		return sid
	}

	newSid := ctl.Router.Dispatch(sid, c, env)
	if sid != "" && newSid != sid {
		// The socket switched identities; the previous login's entry would
		// otherwise keep pointing at this socket until process end.
		ctl.Store.RemoveConnectionIf(sid, c)
	}
	return newSid
}

func (ctl *Controller) sendError(c *WsSignalConn, msg string) {
	frame, err := (core.Envelope{Kind: core.KindError, Payload: &core.Payload{Error: msg}}).Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendError encode")
		return
	}
	_ = c.TrySend(frame)
}
