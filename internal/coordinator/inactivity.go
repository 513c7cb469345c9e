package coordinator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/smart-lamp/internal/events"
	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

// RunInactivityTicker publishes an inactivity check every interval. The
// coordinator decides whether the timeout has passed.
func RunInactivityTicker(ctx context.Context, pub events.Publisher, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := pub.Publish(ctx, events.Event{Kind: events.KindInactivityCheck, At: now}); err != nil {
				log.Debug().Err(err).Msg("Inactivity check not queued")
			}
		}
	}
}

// StateObserverFunc adapts a plain function to Observer.
type StateObserverFunc func(s model.LampState)

func (f StateObserverFunc) StateChanged(s model.LampState) { f(s) }
