// Package broker owns the process-wide RabbitMQ connection used to publish
// payment confirmations.
package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	errspkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/errors"
	loggingpkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/logging"
	"github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/metrics"
	"github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/secrets"
)

// State is the lifecycle state of the cached handle.
type State int32

const (
	StateAbsent State = iota
	StateEstablishing
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateEstablishing:
		return "establishing"
	case StateEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// Cache lazily establishes a single Handle and hands it to every caller until
// it is released.
type Cache struct {
	mu     sync.RWMutex
	handle *Handle
	state  atomic.Int32

	provider  secrets.Provider
	connector Connector
	logger    loggingpkg.ServiceLogger
	metrics   *metrics.Metrics
}

func NewCache(provider secrets.Provider, connector Connector, logger loggingpkg.ServiceLogger, m *metrics.Metrics) *Cache {
	if provider == nil {
		panic(errspkg.ErrProviderRequired)
	}
	if connector == nil {
		panic(errspkg.ErrConnectorRequired)
	}
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return &Cache{
		provider:  provider,
		connector: connector,
		logger:    logger.With(loggingpkg.LogFields{"component": "broker_cache"}),
		metrics:   m,
	}
}

// State returns the current lifecycle state.
func (c *Cache) State() State {
	return State(c.state.Load())
}

// Acquire returns the cached handle, establishing it on first use. Concurrent
// first callers wait for a single handshake and share its result. A failed
// handshake leaves nothing behind, so the next call starts over.
func (c *Cache) Acquire(ctx context.Context) (*Handle, error) {
	c.mu.RLock()
	h := c.handle
	c.mu.RUnlock()
	if h != nil && !h.Dead() {
		return h, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		if !c.handle.Dead() {
			return c.handle, nil
		}
		c.logger.Info("Cached broker channel is closed, reconnecting", nil)
		c.drop(c.handle)
	}

	c.state.Store(int32(StateEstablishing))
	session, err := c.establish(ctx)
	c.metrics.ObserveHandshake(err)
	if err != nil {
		c.state.Store(int32(StateAbsent))
		c.logger.Error("Broker connection establishment failed", err, nil)
		return nil, err
	}

	h = newHandle(&c.mu, session)
	c.handle = h
	c.state.Store(int32(StateEstablished))
	c.logger.Info("Broker connection established", loggingpkg.LogFields{"queue": session.Queue})

	if session.Closed != nil || session.ChannelClosed != nil {
		go c.watch(h, session.Closed, session.ChannelClosed)
	}
	return h, nil
}

func (c *Cache) establish(ctx context.Context) (Session, error) {
	creds, err := c.provider.Fetch(ctx)
	if err != nil {
		return Session{}, &errspkg.ConnectionError{Stage: errspkg.StageCredentials, Err: err}
	}
	session, err := c.connector.Connect(ctx, creds)
	if err != nil && credentialsRefused(err) {
		if inv, ok := c.provider.(invalidator); ok {
			c.logger.Info("Broker refused the cached credentials, fetching them again next time", nil)
			inv.Invalidate()
		}
	}
	return session, err
}

// invalidator is implemented by providers that cache credentials.
type invalidator interface {
	Invalidate()
}

// credentialsRefused reports whether the broker rejected the login, which is
// what a rotated secret looks like.
func credentialsRefused(err error) bool {
	if errors.Is(err, amqp.ErrCredentials) {
		return true
	}
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.AccessRefused
}

// watch drops h when the broker closes the connection or the channel so the
// next Acquire reconnects. A client-side close delivers no value.
func (c *Cache) watch(h *Handle, connClosed, chanClosed <-chan *amqp.Error) {
	var (
		amqpErr  *amqp.Error
		ok       bool
		resource string
	)
	select {
	case amqpErr, ok = <-connClosed:
		resource = "connection"
	case amqpErr, ok = <-chanClosed:
		resource = "channel"
	}
	if !ok || amqpErr == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != h {
		return
	}
	c.logger.Error("Broker closed the "+resource+", dropping cached handle", amqpErr, loggingpkg.LogFields{
		"code":     amqpErr.Code,
		"server":   amqpErr.Server,
		"resource": resource,
	})
	c.drop(h)
}

// drop must be called with the write lock held.
func (c *Cache) drop(h *Handle) {
	h.close(c.logCloseError)
	c.handle = nil
	c.state.Store(int32(StateAbsent))
}

// Release closes the channel and then the connection. It waits for in-flight
// publishes, ignores close errors, and is a no-op without a handle.
func (c *Cache) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.handle
	if h == nil {
		return
	}

	c.drop(h)
	c.metrics.ObserveRelease()
	c.logger.Info("Broker connection released", nil)
}

func (c *Cache) logCloseError(what string, err error) {
	c.logger.Error("Ignoring broker close error", err, loggingpkg.LogFields{"resource": what})
}
