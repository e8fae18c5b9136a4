package app

import (
	"context"

	"github.com/rs/zerolog/log"
)

// RunJournal subscribes to all three registry tables and logs every change
// until ctx is done. It is the operational trail of presence: who registered,
// which rooms exist, how many sockets are live.
func RunJournal(ctx context.Context, store *Store) {
	users, cancelUsers := store.WatchUsers()
	rooms, cancelRooms := store.WatchRooms()
	conns, cancelConns := store.WatchConnections()

	go func() {
		defer cancelUsers()
		defer cancelRooms()
		defer cancelConns()
		for {
			select {
			case <-ctx.Done():
				log.Info().Str("module", "app.journal").Msg("journal stopped")
				return
			case snap := <-users:
				log.Info().Str("module", "app.journal").Int("users", len(snap)).Msg("users changed")
			case snap := <-rooms:
				log.Info().Str("module", "app.journal").Int("rooms", len(snap)).Msg("rooms changed")
			case snap := <-conns:
				log.Info().Str("module", "app.journal").Int("connections", len(snap)).Msg("connections changed")
			}
		}
	}()
}
