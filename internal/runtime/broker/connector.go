package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	errspkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/errors"
	loggingpkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/logging"
	"github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/secrets"
)

// Channel is the part of *amqp.Channel the bridge publishes through.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Session is a fully established connection/channel/queue triple as
// returned by a Connector.
type Session struct {
	Conn    io.Closer
	Channel Channel
	Queue   string
	// Closed, when set, receives the error the broker closed the connection
	// with. amqp091 closes it without a value on a client-side Close.
	Closed <-chan *amqp.Error
	// ChannelClosed is the channel-level counterpart of Closed. A channel
	// exception kills the channel while the connection stays up.
	ChannelClosed <-chan *amqp.Error
}

// Connector performs the broker handshake. Implementations must either return
// a complete Session or release everything they opened.
type Connector interface {
	Connect(ctx context.Context, creds secrets.Credentials) (Session, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, creds secrets.Credentials) (Session, error)

func (f ConnectorFunc) Connect(ctx context.Context, creds secrets.Credentials) (Session, error) {
	return f(ctx, creds)
}

// AMQPConnectorConfig tunes the AMQP handshake.
type AMQPConnectorConfig struct {
	Port           int
	VHost          string
	Insecure       bool
	Heartbeat      time.Duration
	DialTimeout    time.Duration
	Queue          string
	ConnectionName string
}

var AmqpDialer = func(url string, cfg amqp.Config) (*amqp.Connection, error) {
	return amqp.DialConfig(url, cfg)
}

// AMQPConnector dials RabbitMQ (Amazon MQ) over TLS, opens a channel and
// declares the durable response queue.
type AMQPConnector struct {
	cfg    AMQPConnectorConfig
	logger loggingpkg.ServiceLogger
}

func NewAMQPConnector(cfg AMQPConnectorConfig, logger loggingpkg.ServiceLogger) *AMQPConnector {
	if cfg.Queue == "" {
		panic("response queue is required")
	}
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return &AMQPConnector{cfg: cfg, logger: logger}
}

func (c *AMQPConnector) Connect(ctx context.Context, creds secrets.Credentials) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, &errspkg.ConnectionError{Stage: errspkg.StageDial, Err: err}
	}

	uri, err := BrokerURI(creds, c.cfg)
	if err != nil {
		return Session{}, &errspkg.ConnectionError{Stage: errspkg.StageDial, Err: err}
	}

	c.logger.Info("Connecting to broker", loggingpkg.LogFields{
		"host":  uri.Host,
		"port":  uri.Port,
		"vhost": uri.Vhost,
	})

	conn, err := AmqpDialer(uri.String(), c.amqpConfig(uri))
	if err != nil {
		return Session{}, &errspkg.ConnectionError{Stage: errspkg.StageDial, Err: err}
	}

	ch, err := conn.Channel()
	if err != nil {
		c.closeQuietly("connection", conn)
		return Session{}, &errspkg.ConnectionError{Stage: errspkg.StageChannel, Err: err}
	}

	if _, err := ch.QueueDeclare(
		c.cfg.Queue, // name
		true,        // durable
		false,       // auto-deleted
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	); err != nil {
		c.closeQuietly("channel", ch)
		c.closeQuietly("connection", conn)
		return Session{}, &errspkg.ConnectionError{Stage: errspkg.StageDeclare, Err: err}
	}

	return Session{
		Conn:          conn,
		Channel:       ch,
		Queue:         c.cfg.Queue,
		Closed:        conn.NotifyClose(make(chan *amqp.Error, 1)),
		ChannelClosed: ch.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

func (c *AMQPConnector) amqpConfig(uri amqp.URI) amqp.Config {
	props := amqp.NewConnectionProperties()
	if c.cfg.ConnectionName != "" {
		props.SetClientConnectionName(c.cfg.ConnectionName)
	}
	cfg := amqp.Config{
		Heartbeat:  c.cfg.Heartbeat,
		Locale:     "en_US",
		Properties: props,
	}
	if c.cfg.DialTimeout > 0 {
		cfg.Dial = amqp.DefaultDial(c.cfg.DialTimeout)
	}
	if uri.Scheme == "amqps" {
		cfg.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: uri.Host,
		}
	}
	return cfg
}

func (c *AMQPConnector) closeQuietly(what string, closer io.Closer) {
	if err := closer.Close(); err != nil {
		c.logger.Debug("Ignoring close error after failed handshake", loggingpkg.LogFields{
			"resource": what,
			"error":    err.Error(),
		})
	}
}

// BrokerURI builds the connection URI from the secret. The host may be a bare
// hostname, host:port, or a full amqp(s):// URL as shown in the Amazon MQ
// console.
func BrokerURI(creds secrets.Credentials, cfg AMQPConnectorConfig) (amqp.URI, error) {
	host := strings.TrimSpace(creds.Host)
	if host == "" {
		return amqp.URI{}, fmt.Errorf("broker host is empty")
	}

	var uri amqp.URI
	if strings.Contains(host, "://") {
		parsed, err := amqp.ParseURI(host)
		if err != nil {
			return amqp.URI{}, fmt.Errorf("parse broker host: %w", err)
		}
		uri = parsed
	} else {
		uri = amqp.URI{Scheme: "amqps", Host: host, Port: cfg.Port, Vhost: cfg.VHost}
		if cfg.Insecure {
			uri.Scheme = "amqp"
		}
		if h, p, err := net.SplitHostPort(host); err == nil {
			port, convErr := strconv.Atoi(p)
			if convErr != nil {
				return amqp.URI{}, fmt.Errorf("parse broker port %q: %w", p, convErr)
			}
			uri.Host, uri.Port = h, port
		}
		if uri.Port == 0 {
			uri.Port = 5671
			if uri.Scheme == "amqp" {
				uri.Port = 5672
			}
		}
		if uri.Vhost == "" {
			uri.Vhost = "/"
		}
	}

	uri.Username = creds.Username
	uri.Password = creds.Password
	return uri, nil
}
