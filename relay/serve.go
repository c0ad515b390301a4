package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glimte/jsonp-bridge/interceptors"
)

var errChannelUnavailable = errors.New("relay: channel unavailable")

// ChannelOpener opens a fresh channel, typically on the live connection of a
// rabbitmq.ConnectionManager
type ChannelOpener func() (Channel, error)

// Serve runs a relay and starts a new one on a fresh channel whenever the
// broker closes the current consumer. It returns nil once ctx is done, or the
// error of a relay that could not be set up on an open channel.
func Serve(ctx context.Context, open ChannelOpener, handler interceptors.Handler, opts ...Option) error {
	if open == nil || handler == nil {
		return fmt.Errorf("channel opener and handler cannot be nil")
	}
	base := configure(opts)

	for {
		err := base.serveOnce(ctx, open, handler)
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, ErrDeliveriesClosed) && !errors.Is(err, errChannelUnavailable) {
			return err
		}

		base.logger.Warn("relay consumer lost, reopening channel", "error", err, "retryIn", base.retryDelay)
		timer := time.NewTimer(base.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// serveOnce runs a copy of r on a newly opened channel
func (r *Relay) serveOnce(ctx context.Context, open ChannelOpener, handler interceptors.Handler) error {
	ch, err := open()
	if err != nil {
		return fmt.Errorf("%w: %w", errChannelUnavailable, err)
	}
	if closer, ok := ch.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	run := *r
	run.channel = ch
	run.handler = handler
	return run.Run(ctx)
}
