package signal

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/glagius/signal-server/internal/core"
)

// keepAlive answers a client heartbeat with a delayed re-emit, keeping the
// exchange ticking for the life of the socket. No registry state involved.
func (ctl *Controller) keepAlive(c *WsSignalConn) {
	frame, err := (core.Envelope{Kind: core.KindHeartbeat}).Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("heartbeat encode")
		return
	}
	time.AfterFunc(ctl.heartbeat, func() {
		_ = c.TrySend(frame)
	})
}
