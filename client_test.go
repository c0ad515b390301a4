package jsonp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glimte/jsonp-bridge/bridge"
	"github.com/glimte/jsonp-bridge/contracts"
	"github.com/glimte/jsonp-bridge/interceptors"
	"github.com/glimte/jsonp-bridge/internal/metrics"
	"github.com/glimte/jsonp-bridge/internal/reliability"
	"github.com/glimte/jsonp-bridge/scriptloader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userURL = "https://api.example/users/1?callback=JSONP_CALLBACK"

func TestClientGet(t *testing.T) {
	fetcher := scriptloader.NewStaticFetcher(map[string]string{
		"https://api.example/users/1?callback=ng_jsonp_callback_0": `ng_jsonp_callback_0({"id": 1, "name": "Ada"})`,
	})
	client, err := NewClient(WithFetcher(fetcher))
	require.NoError(t, err)
	defer client.Close()

	var user struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	resp, err := client.Get(context.Background(), userURL, &user)

	require.NoError(t, err)
	assert.Equal(t, contracts.StatusOK, resp.Status)
	assert.Equal(t, 1, user.ID)
	assert.Equal(t, "Ada", user.Name)
	assert.Zero(t, client.Bridge().PendingCount())
}

func TestClientErrors(t *testing.T) {
	t.Run("missing callback", func(t *testing.T) {
		fetcher := scriptloader.NewStaticFetcher(map[string]string{
			"https://api.example/users/1?callback=ng_jsonp_callback_0": `var ignored = 1;`,
		})
		client, err := NewClient(WithFetcher(fetcher))
		require.NoError(t, err)
		defer client.Close()

		_, err = client.Get(context.Background(), userURL, nil)

		assert.ErrorIs(t, err, contracts.ErrNoCallbackInvoked)
		var errResp *contracts.ErrorResponse
		require.ErrorAs(t, err, &errResp)
		assert.Equal(t, contracts.StatusUnknown, errResp.Status)
	})

	t.Run("plain HTTP methods are not handled", func(t *testing.T) {
		client, err := NewClient()
		require.NoError(t, err)
		defer client.Close()

		_, err = client.Do(context.Background(), contracts.NewRequest(contracts.MethodGet, "https://api.example"))
		assert.ErrorIs(t, err, interceptors.ErrUnsupportedRequest)
	})

	t.Run("hosts outside the allow-list are rejected", func(t *testing.T) {
		client, err := NewClient(WithAllowedHosts("trusted.example"))
		require.NoError(t, err)
		defer client.Close()

		_, err = client.Get(context.Background(), userURL, nil)
		assert.ErrorIs(t, err, interceptors.ErrRequestFiltered)
	})

	t.Run("closed client", func(t *testing.T) {
		client, err := NewClient(WithFetcher(scriptloader.NewStaticFetcher(nil)))
		require.NoError(t, err)
		require.NoError(t, client.Close())

		_, err = client.Get(context.Background(), userURL, nil)
		assert.ErrorIs(t, err, bridge.ErrBridgeClosed)
	})

	t.Run("strict placeholder", func(t *testing.T) {
		client, err := NewClient(WithBridgeOptions(bridge.WithStrictPlaceholder(true)))
		require.NoError(t, err)
		defer client.Close()

		_, err = client.Get(context.Background(), "https://api.example/users/1", nil)
		assert.ErrorIs(t, err, bridge.ErrMissingPlaceholder)
	})
}

func TestClientRetriesLoadErrors(t *testing.T) {
	var calls atomic.Int32
	fetcher := scriptloader.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		n := calls.Add(1)
		if n == 1 {
			return nil, errors.New("connection reset")
		}
		// every attempt gets a fresh callback id
		assert.Contains(t, url, "ng_jsonp_callback_1")
		return []byte(`ng_jsonp_callback_1("second time")`), nil
	})

	collector := metrics.NewCollector()
	client, err := NewClient(
		WithFetcher(fetcher),
		WithRetryPolicy(reliability.NewFixedDelay(time.Millisecond, 2)),
		WithMetrics(collector),
	)
	require.NoError(t, err)
	defer client.Close()

	var body string
	_, err = client.Get(context.Background(), userURL, &body)

	require.NoError(t, err)
	assert.Equal(t, "second time", body)
	assert.Equal(t, int32(2), calls.Load())

	snap := collector.Snapshot()
	assert.Equal(t, int64(1), snap.Requests[contracts.MethodJSONP])
	assert.Empty(t, snap.Errors[contracts.MethodJSONP])
}

func TestClientCircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	fetcher := scriptloader.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("unreachable")
	})
	cb := reliability.NewCircuitBreaker(reliability.WithFailureThreshold(2), reliability.WithTimeout(time.Hour))

	client, err := NewClient(WithFetcher(fetcher), WithCircuitBreaker(cb))
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < 2; i++ {
		_, err := client.Get(context.Background(), userURL, nil)
		assert.ErrorIs(t, err, contracts.ErrLoadError)
	}

	_, err = client.Get(context.Background(), userURL, nil)
	assert.ErrorIs(t, err, reliability.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientTimeoutDetachesScript(t *testing.T) {
	fetcher := scriptloader.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	client, err := NewClient(WithFetcher(fetcher), WithTimeout(20*time.Millisecond))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Get(context.Background(), userURL, nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Eventually(t, func() bool { return client.Bridge().PendingCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClientInterceptors(t *testing.T) {
	client, err := NewClient(
		WithMetrics(metrics.NewCollector()),
		WithAllowedHosts("api.example"),
		WithRetryPolicy(reliability.NewFixedDelay(time.Millisecond, 1)),
		WithCircuitBreaker(reliability.NewCircuitBreaker()),
		WithLogger(nil),
	)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, []string{
		"LoggingInterceptor",
		"MetricsInterceptor",
		"FilteringInterceptor",
		"TimeoutInterceptor",
		"CircuitBreakerInterceptor",
		"RetryInterceptor",
		"JSONPInterceptor",
	}, client.Interceptors())
	assert.NotNil(t, client.Handler())
}
