package broker

import (
	"errors"
	"sync"
	"time"

	"orderly/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrNotConnected is returned while the broker connection is down.
var ErrNotConnected = errors.New("broker: not connected")

const initialBackoff = 500 * time.Millisecond

// Backoff returns base × 2^attempt capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// Connection keeps one AMQP connection alive, redialing with exponential
// backoff whenever it drops. Callers open channels on demand.
type Connection struct {
	url        string
	maxBackoff time.Duration
	logger     *zap.Logger

	mu   sync.RWMutex
	conn *amqp.Connection

	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
}

// Connect starts dialing url in the background and returns immediately.
func Connect(url string, maxBackoff time.Duration) *Connection {
	c := &Connection{
		url:        url,
		maxBackoff: maxBackoff,
		logger:     util.GetLogger(),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go c.maintain()
	return c
}

func (c *Connection) maintain() {
	defer close(c.stopped)

	attempt := 0
	first := true
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			delay := Backoff(attempt, initialBackoff, c.maxBackoff)
			attempt++
			c.logger.Warn("RabbitMQ dial failed",
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			select {
			case <-c.done:
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		c.set(conn)
		if !first {
			util.BrokerReconnectsTotal.Inc()
		}
		first = false
		c.logger.Info("RabbitMQ connected")

		select {
		case <-c.done:
			c.set(nil)
			_ = conn.Close()
			return
		case amqpErr := <-closed:
			c.set(nil)
			c.logger.Warn("RabbitMQ connection lost", zap.Any("reason", amqpErr))
		}
	}
}

func (c *Connection) set(conn *amqp.Connection) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	if conn != nil {
		util.BrokerConnected.Set(1)
	} else {
		util.BrokerConnected.Set(0)
	}
}

// IsConnected reports whether a live connection is currently held.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Channel opens a new channel, or returns ErrNotConnected.
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, ErrNotConnected
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Join(ErrNotConnected, err)
	}
	return ch, nil
}

// Close stops reconnecting and closes the live connection.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	<-c.stopped
	return nil
}
