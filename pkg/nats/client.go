// Package nats is the process-wide NATS connection wrapper subhub's
// cluster bridges and transports are built on top of, grounded on the
// teacher's pkg/nats Client: connection lifecycle handlers feeding
// Prometheus, a subscription registry keyed by subject, and a thin
// publish/request layer.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/hevyhomie/subhub/internal/metrics"
)

type Client struct {
	conn      *nats.Conn
	metrics   metrics.MetricsInterface
	subs      map[string]*nats.Subscription
	subsMutex sync.RWMutex
	handlers  map[string]func([]byte)
	logger    *zap.SugaredLogger
}

type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

func NewClient(config Config, m metrics.MetricsInterface, logger *zap.Logger) (*Client, error) {
	client := &Client{
		metrics:  m,
		subs:     make(map[string]*nats.Subscription),
		handlers: make(map[string]func([]byte)),
		logger:   logger.Sugar(),
	}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.ReconnectJitter(config.ReconnectJitter, config.ReconnectJitter),
		nats.MaxPingsOutstanding(config.MaxPingsOut),
		nats.PingInterval(config.PingInterval),
		nats.ConnectHandler(client.connectHandler),
		nats.DisconnectErrHandler(client.disconnectHandler),
		nats.ReconnectHandler(client.reconnectHandler),
		nats.ErrorHandler(client.errorHandler),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	client.conn = conn
	client.metrics.SetNATSConnected(true)

	return client, nil
}

// Conn exposes the underlying *nats.Conn for collaborators that need
// raw publish/subscribe/request access, namely internal/clusterbridge's
// per-topic bridges and transports, which all share this one connection.
func (c *Client) Conn() *nats.Conn { return c.conn }

func (c *Client) connectHandler(conn *nats.Conn) {
	c.logger.Infow("connected to NATS", "url", conn.ConnectedUrl())
	c.metrics.SetNATSConnected(true)
}

func (c *Client) disconnectHandler(conn *nats.Conn, err error) {
	if err != nil {
		c.logger.Warnw("disconnected from NATS", "error", err)
		c.metrics.RecordError("nats_disconnect")
	} else {
		c.logger.Infow("disconnected from NATS")
	}
	c.metrics.SetNATSConnected(false)
}

func (c *Client) reconnectHandler(conn *nats.Conn) {
	c.logger.Infow("reconnected to NATS", "url", conn.ConnectedUrl())
	c.metrics.SetNATSConnected(true)
	c.metrics.IncrementNATSReconnects()
}

func (c *Client) errorHandler(conn *nats.Conn, sub *nats.Subscription, err error) {
	c.logger.Errorw("NATS error", "error", err)
	c.metrics.RecordError("nats_error")
}

// Subscribe registers handler for subject, recording per-message
// latency and throughput metrics around every invocation.
func (c *Client) Subscribe(subject string, handler func([]byte)) error {
	c.subsMutex.Lock()
	defer c.subsMutex.Unlock()

	c.handlers[subject] = handler

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		start := time.Now()
		handler(msg.Data)
		c.metrics.IncrementNATSMessages()
		c.metrics.RecordNATSLatency(time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.subs[subject] = sub
	c.logger.Debugw("subscribed to NATS subject", "subject", subject)
	return nil
}

func (c *Client) Unsubscribe(subject string) error {
	c.subsMutex.Lock()
	defer c.subsMutex.Unlock()

	sub, exists := c.subs[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", subject, err)
	}

	delete(c.subs, subject)
	delete(c.handlers, subject)
	return nil
}

func (c *Client) Publish(subject string, data []byte) error {
	start := time.Now()
	if err := c.conn.Publish(subject, data); err != nil {
		c.metrics.RecordError("nats_publish")
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	c.metrics.RecordNATSLatency(time.Since(start))
	return nil
}

func (c *Client) PublishJSON(subject string, obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.Publish(subject, data)
}

func (c *Client) Request(subject string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	start := time.Now()
	msg, err := c.conn.Request(subject, data, timeout)
	if err != nil {
		c.metrics.RecordError("nats_request")
		return nil, fmt.Errorf("failed to send request to %s: %w", subject, err)
	}
	c.metrics.RecordNATSLatency(time.Since(start))
	return msg, nil
}

func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) Status() nats.Status {
	if c.conn == nil {
		return nats.DISCONNECTED
	}
	return c.conn.Status()
}

func (c *Client) Stats() nats.Statistics {
	if c.conn == nil {
		return nats.Statistics{}
	}
	return c.conn.Stats()
}

func (c *Client) Close() error {
	c.subsMutex.Lock()
	defer c.subsMutex.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warnw("error unsubscribing", "subject", subject, "error", err)
		}
	}

	if c.conn != nil {
		c.conn.Close()
		c.metrics.SetNATSConnected(false)
	}

	return nil
}

// WaitForConnection blocks until the client is connected or ctx is done.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.IsConnected() {
				return nil
			}
		}
	}
}
