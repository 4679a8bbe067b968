// Package clusterbridge implements the cluster-wide presence view a
// subscription registry bridges into: every node publishes its local
// add/remove edges for a topic over NATS, and every node keeps a
// refcounted tally of which server ids currently hold a subscriber for
// each name, grounded on the teacher's pkg/nats Client (connection
// lifecycle handlers, metrics-wrapped publish/subscribe).
package clusterbridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/exp/maps"
	"golang.org/x/time/rate"

	"github.com/hevyhomie/subhub/internal/metrics"
	"github.com/hevyhomie/subhub/pkg/registry"
)

// edgeMsg is the wire shape gossiped over NATS for a single add/remove
// edge. It carries no topic: every registry kind shares one NATS
// connection but publishes on its own subject tree, which is what
// tells the kinds apart.
type edgeMsg struct {
	Server string `json:"server"`
	Name   string `json:"name"`
	Add    bool   `json:"add"`
}

type syncRequest struct {
	Kind string `json:"kind"`
}

type syncReply struct {
	Names []string `json:"names"`
}

// Bridge is the NATS-backed registry.ClusterStateBridge for one
// registry.Kind. It holds a refcount per name, keyed by remote server
// id, and fires onAdd/onRemove only on the cluster-wide 0↔k edge
// (Design Note §9.3): a name is "present" cluster-wide the moment any
// server holds it, and "absent" only once every server has released it.
type Bridge struct {
	kind     registry.Kind
	serverID string
	conn     *nats.Conn
	metrics  metrics.MetricsInterface
	limiter  *rate.Limiter

	mu      sync.Mutex
	servers map[string]map[string]struct{} // name -> set of server ids holding it
	onAdd   []func(string)
	onRemove []func(string)

	ready     chan struct{}
	readyOnce sync.Once
}

// New subscribes to the gossip subject for kind and requests an
// initial snapshot from the cluster before returning. conn is shared
// across every Kind's Bridge; each gets its own subject namespace.
func New(kind registry.Kind, serverID string, conn *nats.Conn, m metrics.MetricsInterface) (*Bridge, error) {
	b := &Bridge{
		kind:     kind,
		serverID: serverID,
		conn:     conn,
		metrics:  m,
		limiter:  rate.NewLimiter(rate.Limit(500), 100),
		servers:  make(map[string]map[string]struct{}),
		ready:    make(chan struct{}),
	}

	if _, err := conn.Subscribe(b.edgeSubject(), b.handleEdge); err != nil {
		return nil, fmt.Errorf("subscribe to cluster edges for %s: %w", kind, err)
	}

	if _, err := conn.Subscribe(b.syncSubject()+".query", b.handleSyncRequest); err != nil {
		return nil, fmt.Errorf("subscribe to cluster sync for %s: %w", kind, err)
	}

	go b.requestInitialSync()

	return b, nil
}

func (b *Bridge) edgeSubject() string { return fmt.Sprintf("subhub.registry.%s.edge", b.kind) }
func (b *Bridge) syncSubject() string { return fmt.Sprintf("subhub.registry.%s.sync", b.kind) }

// requestInitialSync asks any already-running peer for its current
// name set, folds it in, then marks the bridge ready. If no peer
// answers within the timeout the bridge still becomes ready holding
// only its own local state (§4.4: a solitary node must still work).
func (b *Bridge) requestInitialSync() {
	defer b.readyOnce.Do(func() { close(b.ready) })

	payload, err := json.Marshal(syncRequest{Kind: b.kind.String()})
	if err != nil {
		return
	}

	msg, err := b.conn.Request(b.syncSubject()+".query", payload, 2*time.Second)
	if err != nil {
		return
	}

	var reply syncReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return
	}

	b.mu.Lock()
	for _, name := range reply.Names {
		if _, ok := b.servers[name]; !ok {
			b.servers[name] = make(map[string]struct{})
		}
	}
	b.mu.Unlock()
}

// handleSyncRequest answers a peer's initial-sync query with every
// name this node currently believes has at least one holder.
func (b *Bridge) handleSyncRequest(msg *nats.Msg) {
	if msg.Reply == "" {
		return
	}
	b.mu.Lock()
	names := maps.Keys(b.servers)
	b.mu.Unlock()

	data, err := json.Marshal(syncReply{Names: names})
	if err != nil {
		return
	}
	_ = b.conn.Publish(msg.Reply, data)
}

func (b *Bridge) handleEdge(msg *nats.Msg) {
	var e edgeMsg
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		b.metrics.RecordError("cluster_edge_decode")
		return
	}
	if e.Server == b.serverID {
		return
	}

	b.mu.Lock()
	holders, ok := b.servers[e.Name]
	if !ok {
		holders = make(map[string]struct{})
		b.servers[e.Name] = holders
	}
	wasEmpty := len(holders) == 0
	if e.Add {
		holders[e.Server] = struct{}{}
	} else {
		delete(holders, e.Server)
	}
	nowEmpty := len(holders) == 0
	if nowEmpty {
		delete(b.servers, e.Name)
	}
	addCbs, removeCbs := b.callbackSnapshot()
	b.mu.Unlock()

	if e.Add && wasEmpty {
		for _, cb := range addCbs {
			cb(e.Name)
		}
	}
	if !e.Add && nowEmpty && !wasEmpty {
		for _, cb := range removeCbs {
			cb(e.Name)
		}
	}
}

func (b *Bridge) callbackSnapshot() ([]func(string), []func(string)) {
	return append([]func(string){}, b.onAdd...), append([]func(string){}, b.onRemove...)
}

// Add records this node as a holder of name and gossips the edge to
// the rest of the cluster, rate limited so a pathological flood of
// subscribe churn cannot saturate the NATS connection.
func (b *Bridge) Add(name string) {
	b.mu.Lock()
	holders, ok := b.servers[name]
	if !ok {
		holders = make(map[string]struct{})
		b.servers[name] = holders
	}
	wasEmpty := len(holders) == 0
	holders[b.serverID] = struct{}{}
	addCbs, _ := b.callbackSnapshot()
	b.mu.Unlock()

	if wasEmpty {
		for _, cb := range addCbs {
			cb(name)
		}
	}
	b.publishEdge(name, true)
}

// Remove clears this node's holder entry for name and gossips the edge.
func (b *Bridge) Remove(name string) {
	b.mu.Lock()
	holders, ok := b.servers[name]
	if ok {
		delete(holders, b.serverID)
	}
	nowEmpty := !ok || len(holders) == 0
	if nowEmpty {
		delete(b.servers, name)
	}
	_, removeCbs := b.callbackSnapshot()
	b.mu.Unlock()

	if nowEmpty {
		for _, cb := range removeCbs {
			cb(name)
		}
	}
	b.publishEdge(name, false)
}

func (b *Bridge) publishEdge(name string, add bool) {
	if !b.limiter.Allow() {
		b.metrics.RecordError("cluster_edge_throttled")
		return
	}
	data, err := json.Marshal(edgeMsg{Server: b.serverID, Name: name, Add: add})
	if err != nil {
		return
	}
	if err := b.conn.Publish(b.edgeSubject(), data); err != nil {
		b.metrics.RecordError("cluster_edge_publish")
	}
}

func (b *Bridge) Has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.servers[name]) > 0
}

func (b *Bridge) GetAll() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Keys(b.servers)
}

func (b *Bridge) GetAllServers(name string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Keys(b.servers[name])
}

func (b *Bridge) OnAdd(cb func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onAdd = append(b.onAdd, cb)
}

func (b *Bridge) OnRemove(cb func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRemove = append(b.onRemove, cb)
}

func (b *Bridge) WhenReady() <-chan struct{} { return b.ready }

// Transport adapts a Bridge's NATS connection into registry.ClusterTransport,
// forwarding locally-originated fanout messages to the rest of the cluster.
type Transport struct {
	kind    registry.Kind
	conn    *nats.Conn
	metrics metrics.MetricsInterface
}

func NewTransport(kind registry.Kind, conn *nats.Conn, m metrics.MetricsInterface) *Transport {
	return &Transport{kind: kind, conn: conn, metrics: m}
}

func (t *Transport) Send(name string, m *registry.Message) {
	data, err := json.Marshal(struct {
		Name    string `json:"name"`
		Action  string `json:"action"`
		Payload any    `json:"payload"`
	}{Name: name, Action: string(m.Action), Payload: m.Payload})
	if err != nil {
		t.metrics.RecordError("cluster_message_encode")
		return
	}
	subject := fmt.Sprintf("subhub.registry.%s.message.%s", t.kind, name)
	if err := t.conn.Publish(subject, data); err != nil {
		t.metrics.RecordError("cluster_message_publish")
	}
}
