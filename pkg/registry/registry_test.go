package registry_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hevyhomie/subhub/pkg/registry"
)

// fakeConn is a minimal, concurrency-safe registry.Connection test
// double. Each instance is a distinct comparable value, matching the
// pointer-identity semantics the registry relies on for map keys.
type fakeConn struct {
	id string

	mu      sync.Mutex
	sent    []*registry.Message
	acks    []*registry.Message
	built   [][]byte
	hooks   []*registry.CloseHook
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) User() string { return c.id }

func (c *fakeConn) GetMessage(m *registry.Message) []byte { return []byte(m.Name) }

func (c *fakeConn) SendBuiltMessage(b []byte, allowBatch bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.built = append(c.built, b)
}

func (c *fakeConn) SendMessage(m *registry.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
}

func (c *fakeConn) SendAckMessage(m *registry.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks = append(c.acks, m)
}

func (c *fakeConn) OnClose(h *registry.CloseHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

func (c *fakeConn) RemoveOnClose(h *registry.CloseHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, hh := range c.hooks {
		if hh == h {
			c.hooks = append(c.hooks[:i], c.hooks[i+1:]...)
			return
		}
	}
}

// close fires every hook still registered, simulating the underlying
// socket closing.
func (c *fakeConn) close() {
	c.mu.Lock()
	hooks := append([]*registry.CloseHook{}, c.hooks...)
	c.mu.Unlock()
	for _, h := range hooks {
		h.Fire(c)
	}
}

func (c *fakeConn) ackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.acks)
}

func (c *fakeConn) lastSent() *registry.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

type captureMonitor struct {
	mu       sync.Mutex
	messages []*registry.Message
	counts   []int
	events   []string
}

func (m *captureMonitor) OnBroadcast(msg *registry.Message, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	m.counts = append(m.counts, n)
}

func (m *captureMonitor) OnSubscriptionEvent(_ registry.Kind, event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

type captureTransport struct {
	mu   sync.Mutex
	sent []*registry.Message
}

func (t *captureTransport) Send(name string, m *registry.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, m)
}

func (t *captureTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type captureListener struct {
	mu       sync.Mutex
	made     []string
	removed  []string
}

func (l *captureListener) OnSubscriptionMade(name string, _ registry.Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.made = append(l.made, name)
}

func (l *captureListener) OnSubscriptionRemoved(name string, _ registry.Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, name)
}

func (l *captureListener) OnFirstSubscriptionMade(string)    {}
func (l *captureListener) OnLastSubscriptionRemoved(string)  {}

func (l *captureListener) removedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.removed)
}

func newTestRegistry(t *testing.T) (*registry.Registry, *registry.MemoryBridge, *captureTransport, *captureMonitor) {
	t.Helper()
	bridge := registry.NewMemoryBridge("node-1")
	transport := &captureTransport{}
	monitor := &captureMonitor{}
	r := registry.New(registry.Record, "node-1", bridge, transport, monitor, registry.NopLogger{})
	t.Cleanup(r.Close)
	return r, bridge, transport, monitor
}

func req(action registry.Action) *registry.Message {
	return &registry.Message{Action: action}
}

// S3: duplicate subscribe.
func TestSubscribeDuplicate(t *testing.T) {
	r, bridge, _, monitor := newTestRegistry(t)
	c1 := newFakeConn("c1")

	r.Subscribe("x", req("SUB"), c1, false)
	require.Equal(t, 1, c1.ackCount())

	r.Subscribe("x", req("SUB"), c1, false)
	require.Equal(t, 1, c1.ackCount(), "no ack on duplicate subscribe")

	msg := c1.lastSent()
	require.NotNil(t, msg)
	assert.Equal(t, registry.Action("RECORD_MULTIPLE_SUBSCRIPTIONS"), msg.Action)
	assert.Equal(t, "x", msg.Name)

	subs := r.GetLocalSubscribers("x")
	require.Len(t, subs, 1)
	assert.True(t, bridge.Has("x"))
	assert.Equal(t, []string{"subscribe", "duplicate"}, monitor.events)
}

// S4: unsubscribe of a name never subscribed.
func TestUnsubscribeUnknown(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	c1 := newFakeConn("c1")

	r.Unsubscribe("y", req("UNSUB"), c1, false)
	require.Equal(t, 0, c1.ackCount())

	msg := c1.lastSent()
	require.NotNil(t, msg)
	assert.Equal(t, registry.Action("RECORD_NOT_SUBSCRIBED"), msg.Action)
	assert.False(t, r.HasName("y"))
}

// Round trip: subscribe then unsubscribe restores empty state.
func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	r, bridge, _, _ := newTestRegistry(t)
	c1 := newFakeConn("c1")

	r.Subscribe("x", req("SUB"), c1, false)
	r.Unsubscribe("x", req("UNSUB"), c1, false)

	assert.False(t, r.HasName("x"))
	assert.False(t, bridge.Has("x"))
	assert.Empty(t, c1.hooks, "close hook removed once last subscription clears")
}

// S1: fanout excludes the sender and forwards a locally-originated
// message to the cluster transport exactly once.
func TestFanoutExcludesSenderAndForwardsOnce(t *testing.T) {
	r, _, transport, monitor := newTestRegistry(t)
	c1, c2, c3 := newFakeConn("c1"), newFakeConn("c2"), newFakeConn("c3")

	for _, c := range []*fakeConn{c1, c2, c3} {
		r.Subscribe("room/1", req("SUB"), c, true)
	}

	msg := registry.NewMessage(registry.Record, "UPDATE", "room/1", "payload")
	r.SendToSubscribers("room/1", msg, false, c2, false)

	require.Equal(t, 1, transport.count())
	require.Len(t, monitor.counts, 1)
	assert.Equal(t, 3, monitor.counts[0])

	assert.Len(t, c1.built, 1)
	assert.Len(t, c3.built, 1)
	assert.Empty(t, c2.built, "sender must not receive its own broadcast")
}

// S2: a cluster-origin message (nil sender) never re-forwards.
func TestFanoutFromClusterDoesNotReforward(t *testing.T) {
	r, _, transport, _ := newTestRegistry(t)
	c1 := newFakeConn("c1")
	r.Subscribe("room/1", req("SUB"), c1, true)

	msg := registry.NewMessage(registry.Record, "UPDATE", "room/1", "payload")
	r.SendToSubscribers("room/1", msg, false, nil, false)

	assert.Equal(t, 0, transport.count())
	assert.Len(t, c1.built, 1)
}

// S5: connection close cascades across every held subscription exactly once.
func TestCloseCascade(t *testing.T) {
	r, bridge, _, _ := newTestRegistry(t)
	listener := &captureListener{}
	r.SetSubscriptionListener(listener)

	c1 := newFakeConn("c1")
	for _, name := range []string{"a", "b", "c"} {
		r.Subscribe(name, req("SUB"), c1, true)
	}

	c1.close()

	assert.Equal(t, 3, listener.removedCount())
	for _, name := range []string{"a", "b", "c"} {
		assert.False(t, r.HasName(name))
		assert.False(t, bridge.Has(name))
	}
}

// S6: bulk subscribe sends exactly one ACK with the bulk correlation id.
func TestSubscribeBulkSingleAck(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	c1 := newFakeConn("c1")

	bulk := &registry.BulkMessage{
		Message: &registry.Message{Action: "SUB", CorrelationID: "k"},
		Names:   []string{"a", "b", "c"},
	}
	r.SubscribeBulk(bulk, c1, false)

	require.Equal(t, 1, c1.ackCount())
	for _, name := range []string{"a", "b", "c"} {
		assert.True(t, r.HasName(name))
	}
}

// Bulk unsubscribe of an unknown name still emits a per-name
// NOT_SUBSCRIBED reply even though the bulk call itself is silent.
func TestUnsubscribeBulkUnknownName(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	c1 := newFakeConn("c1")

	r.Subscribe("a", req("SUB"), c1, true)

	bulk := &registry.BulkMessage{
		Message: &registry.Message{Action: "UNSUB", CorrelationID: "k"},
		Names:   []string{"a", "b"},
	}
	r.UnsubscribeBulk(bulk, c1, false)

	require.Equal(t, 1, c1.ackCount())

	msg := c1.lastSent()
	require.NotNil(t, msg)
	assert.Equal(t, registry.Action("RECORD_NOT_SUBSCRIBED"), msg.Action)
	assert.Equal(t, "b", msg.Name)
	assert.False(t, r.HasName("a"))
}

func TestSetActionRejectsUnknownSlot(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	assert.False(t, r.SetAction("NOT_A_SLOT", "X"))
	assert.True(t, r.SetAction(registry.SlotSubscribe, "LISTEN"))
}
