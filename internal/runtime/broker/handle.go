package broker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	amqp "github.com/rabbitmq/amqp091-go"

	errspkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/errors"
)

const contentTypeJSON = "application/json"

// Handle is an established connection, channel and queue binding. It is owned
// by the Cache; callers only borrow it to publish.
type Handle struct {
	// lifecycle is the Cache's lock. Publishes hold it for reading so a
	// Release cannot close the channel underneath them.
	lifecycle *sync.RWMutex
	// writeMu serializes frames on the channel.
	writeMu sync.Mutex

	conn    io.Closer
	channel Channel
	queue   string
	closed  bool
	// dead is set once the channel reports it is no longer open. The cache
	// replaces a dead handle on the next Acquire.
	dead atomic.Bool

	marshaler wmamqp.Marshaler
}

func newHandle(lifecycle *sync.RWMutex, s Session) *Handle {
	return &Handle{
		lifecycle: lifecycle,
		conn:      s.Conn,
		channel:   s.Channel,
		queue:     s.Queue,
		marshaler: wmamqp.DefaultMarshaler{},
	}
}

// Queue is the response queue confirmations are routed to.
func (h *Handle) Queue() string {
	return h.queue
}

// Closed reports whether the handle was released or dropped by the cache.
func (h *Handle) Closed() bool {
	h.lifecycle.RLock()
	defer h.lifecycle.RUnlock()
	return h.closed
}

// Publish sends msg to the response queue through the default exchange.
func (h *Handle) Publish(ctx context.Context, msg *message.Message) error {
	h.lifecycle.RLock()
	defer h.lifecycle.RUnlock()

	if h.closed {
		return errspkg.ErrHandleClosed
	}

	p, err := h.marshaler.Marshal(msg)
	if err != nil {
		return err
	}
	p.MessageId = msg.UUID
	p.ContentType = contentTypeJSON
	p.Timestamp = time.Now().UTC()
	if cid := middleware.MessageCorrelationID(msg); cid != "" {
		p.CorrelationId = cid
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	err = h.channel.PublishWithContext(ctx, "", h.queue, false, false, p)
	if errors.Is(err, amqp.ErrClosed) {
		h.dead.Store(true)
	}
	return err
}

// Dead reports whether a publish found the channel or connection closed.
func (h *Handle) Dead() bool {
	return h.dead.Load()
}

// close must be called with the lifecycle write lock held.
func (h *Handle) close(onErr func(what string, err error)) {
	if h.closed {
		return
	}
	h.closed = true
	if h.channel != nil {
		if err := h.channel.Close(); err != nil {
			onErr("channel", err)
		}
	}
	if h.conn != nil {
		if err := h.conn.Close(); err != nil {
			onErr("connection", err)
		}
	}
}
