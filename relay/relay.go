package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/jsonp-bridge/contracts"
	"github.com/glimte/jsonp-bridge/interceptors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrDeliveriesClosed is returned by Run when the broker stops the consumer
	ErrDeliveriesClosed = errors.New("relay: delivery channel closed")
	// ErrInvalidRequest marks a delivery that is not a usable FetchRequest
	ErrInvalidRequest = errors.New("relay: invalid fetch request")
)

// Channel is the part of *amqp.Channel the relay uses
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

var _ Channel = (*amqp.Channel)(nil)

// Relay answers FetchRequests from a queue
type Relay struct {
	channel     Channel
	handler     interceptors.Handler
	queue       string
	consumerTag string
	concurrency int
	prefetch    int
	retryDelay  time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures the relay
type Option func(*Relay)

// WithQueue sets the request queue. Defaults to "jsonp.fetch".
func WithQueue(queue string) Option {
	return func(r *Relay) {
		r.queue = queue
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) Option {
	return func(r *Relay) {
		r.consumerTag = tag
	}
}

// WithConcurrency bounds the number of exchanges in flight
func WithConcurrency(n int) Option {
	return func(r *Relay) {
		r.concurrency = n
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithRetryDelay sets how long Serve waits before reopening a lost channel
func WithRetryDelay(d time.Duration) Option {
	return func(r *Relay) {
		r.retryDelay = d
	}
}

// New creates a relay
func New(channel Channel, handler interceptors.Handler, opts ...Option) (*Relay, error) {
	if channel == nil {
		return nil, fmt.Errorf("channel cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	r := configure(opts)
	r.channel = channel
	r.handler = handler
	return r, nil
}

func configure(opts []Option) *Relay {
	r := &Relay{
		queue:       contracts.FetchRequestType,
		concurrency: 4,
		retryDelay:  5 * time.Second,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.prefetch = r.concurrency * 2
	return r
}

// Run declares the queue and serves requests until ctx is done or the broker
// closes the delivery channel. In-flight requests are finished before it
// returns.
func (r *Relay) Run(ctx context.Context) error {
	if _, err := r.channel.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", r.queue, err)
	}
	if err := r.channel.Qos(r.prefetch, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}
	deliveries, err := r.channel.Consume(r.queue, r.consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", r.queue, err)
	}

	r.logger.Info("relay started",
		"queue", r.queue,
		"concurrency", r.concurrency,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	runErr := func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-deliveries:
				if !ok {
					return ErrDeliveriesClosed
				}
				g.Go(func() error {
					r.serve(gctx, d)
					return nil
				})
			}
		}
	}()

	_ = g.Wait()
	r.logger.Info("relay stopped", "queue", r.queue)
	return runErr
}

// serve handles one delivery and settles it
func (r *Relay) serve(ctx context.Context, d amqp.Delivery) {
	logger := r.logger.With("messageId", d.MessageId, "correlationId", d.CorrelationId)

	req, err := decodeRequest(d)
	if err != nil {
		logger.Warn("rejecting fetch request", "error", err)
		r.settle(logger, d, d.Nack(false, false))
		return
	}

	resp, err := r.handler.Handle(ctx, contracts.NewJSONPRequest(req.URL))
	if ctx.Err() != nil {
		logger.Info("relay shutting down, requeueing request", "url", req.URL)
		r.settle(logger, d, d.Nack(false, true))
		return
	}

	reply := r.buildReply(req, resp, err)
	if d.ReplyTo == "" {
		logger.Warn("fetch request has no reply queue, dropping reply", "url", req.URL)
		r.settle(logger, d, d.Ack(false))
		return
	}

	if err := r.publish(ctx, d, reply); err != nil {
		logger.Error("failed to publish fetch reply", "error", err)
		r.settle(logger, d, d.Nack(false, true))
		return
	}
	r.settle(logger, d, d.Ack(false))
}

func (r *Relay) settle(logger *slog.Logger, d amqp.Delivery, err error) {
	if err != nil {
		logger.Error("failed to settle delivery", "deliveryTag", d.DeliveryTag, "error", err)
	}
}

func decodeRequest(d amqp.Delivery) (contracts.FetchRequest, error) {
	var req contracts.FetchRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.URL == "" {
		return req, fmt.Errorf("%w: missing url", ErrInvalidRequest)
	}
	if req.ID == "" {
		req.ID = d.MessageId
	}
	return req, nil
}

func (r *Relay) buildReply(req contracts.FetchRequest, resp *contracts.Response, err error) contracts.FetchReply {
	reply := contracts.FetchReply{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		URL:       req.URL,
		Timestamp: r.now().UTC(),
	}

	if err != nil {
		reply.Error = err.Error()
		reply.Status = contracts.StatusUnknown
		reply.StatusText = "Unknown Error"
		var errResp *contracts.ErrorResponse
		if errors.As(err, &errResp) {
			reply.URL = errResp.URL
			reply.Status = errResp.Status
			reply.StatusText = errResp.StatusText
		}
		return reply
	}

	reply.Success = true
	reply.URL = resp.URL
	reply.Status = resp.Status
	reply.StatusText = resp.StatusText
	if resp.HasBody() {
		body, merr := json.Marshal(resp.Body)
		if merr != nil {
			reply.Success = false
			reply.Error = fmt.Sprintf("encode response body: %v", merr)
			return reply
		}
		reply.Body = body
	}
	return reply
}

func (r *Relay) publish(ctx context.Context, d amqp.Delivery, reply contracts.FetchReply) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to serialize reply: %w", err)
	}

	correlationID := d.CorrelationId
	if correlationID == "" {
		correlationID = reply.RequestID
	}

	return r.channel.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		MessageId:     reply.ID,
		Type:          contracts.FetchReplyType,
		Timestamp:     reply.Timestamp,
		Body:          body,
	})
}
