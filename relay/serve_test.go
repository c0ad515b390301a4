package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glimte/jsonp-bridge/contracts"
	"github.com/glimte/jsonp-bridge/interceptors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestServe(t *testing.T) {
	t.Run("reopens the channel after the consumer is closed", func(t *testing.T) {
		var opened atomic.Int32
		second := newMockChannel()
		second.expectSetup(contracts.FetchRequestType)

		open := func() (Channel, error) {
			switch opened.Add(1) {
			case 1:
				return nil, errors.New("connection not ready")
			case 2:
				first := newMockChannel()
				first.expectSetup(contracts.FetchRequestType)
				close(first.deliveries)
				return first, nil
			default:
				return second, nil
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- Serve(ctx, open, interceptors.UnsupportedHandler, WithRetryDelay(time.Millisecond)) }()

		assert.Eventually(t, func() bool { return opened.Load() >= 3 }, time.Second, time.Millisecond)
		assert.Eventually(t, second.consumed.Load, time.Second, time.Millisecond)
		cancel()

		assert.NoError(t, <-done)
		assert.Equal(t, int32(3), opened.Load())
	})

	t.Run("setup errors are returned", func(t *testing.T) {
		open := func() (Channel, error) {
			ch := newMockChannel()
			ch.On("QueueDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return(errors.New("access refused"))
			return ch, nil
		}

		err := Serve(context.Background(), open, interceptors.UnsupportedHandler, WithRetryDelay(time.Millisecond))
		assert.ErrorContains(t, err, "access refused")
	})
}
