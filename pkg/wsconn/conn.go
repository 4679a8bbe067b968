// Package wsconn adapts a gorilla/websocket connection to
// registry.Connection, grounded on the teacher's pkg/websocket Client:
// the same buffered-send-channel, single-writer-goroutine, ping/pong
// deadline pattern, generalized from one flat hub to arbitrary
// subscription registries.
package wsconn

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hevyhomie/subhub/internal/metrics"
	"github.com/hevyhomie/subhub/pkg/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Inbound is the handler a caller provides to process a decoded
// message arriving from the client; the connection layer itself has
// no knowledge of registry semantics or topic routing.
type Inbound func(conn *Conn, raw []byte)

// Conn is the concrete registry.Connection used by the server's
// websocket acceptor. Every outbound call enqueues onto a single
// writer goroutine so registry fanout never blocks on a slow socket's
// own I/O.
type Conn struct {
	id   string
	sock *websocket.Conn
	send chan []byte

	metrics metrics.MetricsInterface
	logger  registry.Logger
	handle  Inbound

	cacheMu sync.Mutex
	cacheID string
	cache   []byte

	closeOnce sync.Once
	sendMu    sync.Mutex
	closed    bool
	hooksMu   sync.Mutex
	hooks     []*registry.CloseHook
}

// Accept upgrades an HTTP request to a websocket and starts the
// connection's read/write goroutines. id identifies the connection for
// logging and metrics (typically the authenticated user's subject).
func Accept(w http.ResponseWriter, r *http.Request, id string, m metrics.MetricsInterface, logger registry.Logger, handle Inbound) (*Conn, error) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		id:      id,
		sock:    sock,
		send:    make(chan []byte, sendBuffer),
		metrics: m,
		logger:  logger,
		handle:  handle,
	}

	m.IncrementConnections()
	go c.writePump()
	go c.readPump()

	return c, nil
}

func (c *Conn) User() string { return c.id }

// GetMessage renders m to wire bytes once and caches the result keyed
// by message identity, so repeated fanout to many connections sharing
// the same Message only pays the json.Marshal cost once per
// connection rather than once per registry (§4.5 step 4). A richer
// cross-connection cache would need a shared store; this per-connection
// one is the minimal version the registry's contract requires.
func (c *Conn) GetMessage(m *registry.Message) []byte {
	id := m.ID()

	c.cacheMu.Lock()
	if c.cacheID == id {
		b := c.cache
		c.cacheMu.Unlock()
		return b
	}
	c.cacheMu.Unlock()

	b, err := json.Marshal(wireEnvelope{
		Topic:          m.Topic.String(),
		Action:         m.Action,
		Name:           m.Name,
		OriginalAction: m.OriginalAction,
		CorrelationID:  m.CorrelationID,
		Payload:        m.Payload,
	})
	if err != nil {
		c.metrics.RecordError("message_encode")
		b = []byte(`{}`)
	}

	c.cacheMu.Lock()
	c.cacheID = id
	c.cache = b
	c.cacheMu.Unlock()

	return b
}

type wireEnvelope struct {
	Topic          string          `json:"topic"`
	Action         registry.Action `json:"action"`
	Name           string          `json:"name,omitempty"`
	OriginalAction registry.Action `json:"originalAction,omitempty"`
	CorrelationID  string          `json:"correlationId,omitempty"`
	Payload        any             `json:"payload,omitempty"`
}

func (c *Conn) SendBuiltMessage(payload []byte, allowBatch bool) {
	c.enqueue(payload)
}

func (c *Conn) SendMessage(m *registry.Message) {
	c.enqueue(c.GetMessage(m))
}

func (c *Conn) SendAckMessage(m *registry.Message) {
	c.enqueue(c.GetMessage(m))
}

func (c *Conn) enqueue(payload []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.metrics.RecordError("send_channel_full")
		if c.logger.ShouldLog(registry.LevelWarn) {
			c.logger.Log(registry.LevelWarn, "dropping message, send buffer full", "conn", c.id)
		}
	}
}

func (c *Conn) OnClose(hook *registry.CloseHook) {
	c.hooksMu.Lock()
	c.hooks = append(c.hooks, hook)
	c.hooksMu.Unlock()
}

func (c *Conn) RemoveOnClose(hook *registry.CloseHook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	for i, h := range c.hooks {
		if h == hook {
			c.hooks = append(c.hooks[:i], c.hooks[i+1:]...)
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.metrics.RecordError("websocket_write")
				return
			}
		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) readPump() {
	defer c.close()

	c.sock.SetReadLimit(maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.metrics.RecordError("websocket_read")
			}
			return
		}
		c.metrics.IncrementMessagesReceived()
		c.handle(c, raw)
	}
}

// close fires every registered close hook exactly once, even if both
// readPump's deferred close and an external caller race to call it.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.metrics.DecrementConnections()

		c.sendMu.Lock()
		c.closed = true
		close(c.send)
		c.sendMu.Unlock()

		c.hooksMu.Lock()
		hooks := append([]*registry.CloseHook{}, c.hooks...)
		c.hooksMu.Unlock()

		for _, h := range hooks {
			h.Fire(c)
		}
	})
}

// Close closes the underlying socket, triggering the read pump's
// deferred cleanup and close-hook cascade.
func (c *Conn) Close() error {
	return c.sock.Close()
}
