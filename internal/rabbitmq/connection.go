package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// Dialer opens an AMQP connection
type Dialer func(url string) (*amqp.Connection, error)

// ConnectionManager manages the RabbitMQ connection with automatic reconnection
type ConnectionManager struct {
	url            string
	dial           Dialer
	conn           *amqp.Connection
	mu             sync.RWMutex
	reconnectDelay time.Duration
	dialTimeout    time.Duration
	maxRetries     int
	logger         *slog.Logger
	notifyClose    chan *amqp.Error
	isConnected    bool
	done           chan struct{}
	closeOnce      sync.Once
	stateListeners []ConnectionStateListener
	listenersMu    sync.RWMutex
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithReconnectDelay sets the base reconnection delay
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithMaxRetries sets the maximum number of reconnection attempts; -1 retries forever
func WithMaxRetries(retries int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.maxRetries = retries
	}
}

// WithDialTimeout bounds each dial attempt
func WithDialTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dialTimeout = timeout
	}
}

// WithDialer replaces amqp.Dial
func WithDialer(dial Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		dial:           amqp.Dial,
		reconnectDelay: 5 * time.Second,
		dialTimeout:    30 * time.Second,
		maxRetries:     -1,
		logger:         slog.Default(),
		done:           make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}
	if cm.logger == nil {
		cm.logger = slog.Default()
	}

	return cm
}

// Connect establishes the initial connection
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.isConnected {
		return nil
	}

	conn, err := cm.dialWithTimeout(ctx)
	if err != nil {
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}

	cm.attach(conn)
	cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
	cm.notifyConnected()

	go cm.handleReconnect(cm.notifyClose)
	return nil
}

// Channel opens a new channel on the current connection
func (cm *ConnectionManager) Channel() (*amqp.Channel, error) {
	conn, err := cm.GetConnection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{Op: "open", Err: fmt.Errorf("%w: %w", ErrChannelCreationFailed, err), Timestamp: time.Now()}
	}
	return ch, nil
}

// GetConnection returns the current connection
func (cm *ConnectionManager) GetConnection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.isConnected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	return cm.conn, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected
}

// Close stops reconnecting and closes the connection
func (cm *ConnectionManager) Close() error {
	cm.closeOnce.Do(func() { close(cm.done) })

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.isConnected = false
	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		return err
	}
	return nil
}

// attach must be called with mu held
func (cm *ConnectionManager) attach(conn *amqp.Connection) {
	cm.conn = conn
	cm.isConnected = true
	cm.notifyClose = conn.NotifyClose(make(chan *amqp.Error, 1))
}

func (cm *ConnectionManager) dialWithTimeout(ctx context.Context) (*amqp.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cm.dialTimeout)
	defer cancel()

	type result struct {
		conn *amqp.Connection
		err  error
	}
	results := make(chan result, 1)
	go func() {
		conn, err := cm.dial(cm.url)
		results <- result{conn, err}
	}()

	select {
	case r := <-results:
		return r.conn, r.err
	case <-dialCtx.Done():
		// a late connection is closed by whoever receives it
		go func() {
			if r := <-results; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ErrConnectionTimeout
	}
}

// handleReconnect waits for the connection to drop and reconnects
func (cm *ConnectionManager) handleReconnect(notifyClose chan *amqp.Error) {
	for {
		select {
		case err, ok := <-notifyClose:
			if !ok && err == nil {
				// closed by Close()
				select {
				case <-cm.done:
					return
				default:
				}
			}
			if err != nil {
				cm.logger.Error("connection closed", "error", err)
			}

			cm.mu.Lock()
			cm.isConnected = false
			cm.conn = nil
			cm.mu.Unlock()

			cm.notifyDisconnected(err)

			next, ok := cm.reconnect()
			if !ok {
				return
			}
			notifyClose = next

		case <-cm.done:
			cm.logger.Info("connection manager shutting down")
			return
		}
	}
}

// reconnect dials until it succeeds, runs out of retries or is closed
func (cm *ConnectionManager) reconnect() (chan *amqp.Error, bool) {
	retries := 0
	startTime := time.Now()

	for {
		select {
		case <-cm.done:
			return nil, false
		default:
		}

		if cm.maxRetries >= 0 && retries >= cm.maxRetries {
			cm.logger.Error("max reconnection attempts reached",
				"attempts", retries,
				"duration", time.Since(startTime))

			cm.notifyDisconnected(&ConnectionError{
				Op:        "reconnect",
				URL:       SanitizeURL(cm.url),
				Err:       ErrMaxRetriesExceeded,
				Timestamp: time.Now(),
				Attempts:  retries,
			})
			return nil, false
		}

		cm.notifyReconnecting(retries + 1)

		if retries > 0 {
			delay := cm.calculateBackoff(retries - 1)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-cm.done:
				timer.Stop()
				return nil, false
			}
		}

		cm.logger.Info("attempting to reconnect", "attempt", retries+1, "maxRetries", cm.maxRetries)

		conn, err := cm.dialWithTimeout(context.Background())
		if err != nil {
			cm.logger.Error("reconnection failed", "error", err, "attempt", retries+1)
			retries++
			continue
		}

		cm.mu.Lock()
		select {
		case <-cm.done:
			cm.mu.Unlock()
			_ = conn.Close()
			return nil, false
		default:
		}
		cm.attach(conn)
		notifyClose := cm.notifyClose
		cm.mu.Unlock()

		cm.logger.Info("successfully reconnected to RabbitMQ",
			"attempts", retries+1,
			"duration", time.Since(startTime))
		cm.notifyConnected()
		return notifyClose, true
	}
}

// AddStateListener adds a connection state listener
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.stateListeners = append(cm.stateListeners, listener)
}

// RemoveStateListener removes a connection state listener
func (cm *ConnectionManager) RemoveStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()

	for i, l := range cm.stateListeners {
		if l == listener {
			cm.stateListeners = append(cm.stateListeners[:i], cm.stateListeners[i+1:]...)
			break
		}
	}
}

func (cm *ConnectionManager) listeners() []ConnectionStateListener {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	return append([]ConnectionStateListener(nil), cm.stateListeners...)
}

func (cm *ConnectionManager) notifyConnected() {
	for _, listener := range cm.listeners() {
		go listener.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	for _, listener := range cm.listeners() {
		go listener.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	for _, listener := range cm.listeners() {
		go listener.OnReconnecting(attempt)
	}
}

// calculateBackoff returns the delay before reconnect attempt n, capped at
// five minutes with ±12.5% jitter
func (cm *ConnectionManager) calculateBackoff(attempt int) time.Duration {
	base := cm.reconnectDelay
	if base <= 0 {
		base = 5 * time.Second
	}
	maxDelay := 5 * time.Minute

	delay := maxDelay
	if attempt < 16 {
		delay = min(base*time.Duration(1<<uint(attempt)), maxDelay)
	}

	jitter := int64(float64(delay) * 0.25)
	if jitter <= 0 {
		return delay
	}
	return delay - time.Duration(jitter/2) + time.Duration(rand.Int63n(jitter))
}
