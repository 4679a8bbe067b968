// Package registry implements the local subscription registry: the
// per-topic map from subscription name to the set of local
// connections interested in it, fanout over that map, and the bridge
// into a cluster-wide presence view. See SPEC_FULL.md for the full
// specification this package implements.
package registry

import (
	"sync"

	"golang.org/x/exp/maps"
)

// Registry is one per-topic SubscriptionRegistry instance. All
// mutating operations are serialized through a single command loop
// goroutine (§5: "single-threaded cooperative event loop... no
// internal locking"), grounded on the teacher's Hub.Run
// register/unregister/broadcast select loop generalized from one flat
// client set to a per-name index.
type Registry struct {
	kind    Kind
	actions ActionBinding

	names map[string]*subscription
	conns map[Connection]map[*subscription]struct{}

	bridge    ClusterStateBridge
	transport ClusterTransport
	monitor   Monitor
	logger    Logger

	listenerMu sync.RWMutex
	listener   LifecycleListener

	closeHook *CloseHook

	cmds     chan func()
	stop     chan struct{}
	stopped  chan struct{}
	serverID string
}

// New constructs a registry for kind, wired to the given collaborators.
// bridge/transport/monitor/logger must not be nil; use no-op
// implementations if a collaborator is genuinely absent (§6).
func New(kind Kind, serverID string, bridge ClusterStateBridge, transport ClusterTransport, monitor Monitor, logger Logger) *Registry {
	r := &Registry{
		kind:     kind,
		actions:  newActionBinding(kind),
		names:    make(map[string]*subscription),
		conns:    make(map[Connection]map[*subscription]struct{}),
		bridge:   bridge,
		transport: transport,
		monitor:  monitor,
		logger:   logger,
		cmds:     make(chan func(), 256),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		serverID: serverID,
	}
	r.closeHook = &CloseHook{fn: func(c Connection) { r.enqueue(func() { r.onSocketClose(c) }) }}
	go r.loop()
	return r
}

func (r *Registry) loop() {
	defer close(r.stopped)
	for {
		select {
		case <-r.stop:
			for {
				select {
				case cmd := <-r.cmds:
					cmd()
				default:
					return
				}
			}
		case cmd := <-r.cmds:
			cmd()
		}
	}
}

// enqueue submits fn to the command loop and blocks until it has run,
// giving every exported operation synchronous, non-cancellable
// semantics (§5) without taking a lock.
func (r *Registry) enqueue(fn func()) {
	done := make(chan struct{})
	select {
	case r.cmds <- func() { fn(); close(done) }:
	case <-r.stop:
		return
	}
	<-done
}

// Close stops the command loop. Any command already queued finishes
// running first.
func (r *Registry) Close() {
	close(r.stop)
	<-r.stopped
}

// Kind returns the topic this registry was constructed for.
func (r *Registry) Kind() Kind { return r.kind }

// SetAction rebinds one of the four canonical action slots (§4.6).
// Returns false if slot is not one of the canonical names.
func (r *Registry) SetAction(slot string, value Action) bool {
	ok := false
	r.enqueue(func() { ok = r.actions.Set(slot, value) })
	return ok
}

// SetSubscriptionListener installs the lifecycle listener and wires
// its cluster-wide callbacks to the bridge's onAdd/onRemove (§4.7).
func (r *Registry) SetSubscriptionListener(l LifecycleListener) {
	r.listenerMu.Lock()
	r.listener = l
	r.listenerMu.Unlock()

	if l == nil {
		return
	}
	r.bridge.OnAdd(func(name string) { l.OnFirstSubscriptionMade(name) })
	r.bridge.OnRemove(func(name string) { l.OnLastSubscriptionRemoved(name) })
}

func (r *Registry) currentListener() LifecycleListener {
	r.listenerMu.RLock()
	defer r.listenerMu.RUnlock()
	return r.listener
}

// WhenReady resolves once the cluster bridge has synchronised initial
// state (§4.4).
func (r *Registry) WhenReady() <-chan struct{} {
	return r.bridge.WhenReady()
}

// GetNames returns every name with at least one local subscriber.
func (r *Registry) GetNames() []string {
	var out []string
	r.enqueue(func() { out = maps.Keys(r.names) })
	return out
}

// HasName reports whether name has at least one local subscriber.
func (r *Registry) HasName(name string) bool {
	var ok bool
	r.enqueue(func() { _, ok = r.names[name] })
	return ok
}

// HasLocalSubscribers is an alias of HasName kept for §6 parity.
func (r *Registry) HasLocalSubscribers(name string) bool { return r.HasName(name) }

// GetLocalSubscribers returns a snapshot of the connections currently
// subscribed to name locally.
func (r *Registry) GetLocalSubscribers(name string) []Connection {
	var out []Connection
	r.enqueue(func() {
		sub, ok := r.names[name]
		if !ok {
			return
		}
		out = sub.sockets.snapshot()
	})
	return out
}

// GetAllServers returns every server id holding at least one
// subscriber for name anywhere in the cluster.
func (r *Registry) GetAllServers(name string) []string {
	return r.bridge.GetAllServers(name)
}

// GetAllRemoteServers is GetAllServers minus this node's own id (§4.4).
func (r *Registry) GetAllRemoteServers(name string) []string {
	all := r.bridge.GetAllServers(name)
	out := make([]string, 0, len(all))
	for _, s := range all {
		if s != r.serverID {
			out = append(out, s)
		}
	}
	return out
}
