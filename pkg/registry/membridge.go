package registry

import "sync"

// MemoryBridge is a single-node ClusterStateBridge: it ref-counts
// local adds/removes and fires its own onAdd/onRemove on the 0→1/1→0
// edge, with no actual cluster behind it. It is what a registry used
// outside a cluster (or under test) should be constructed with; the
// NATS-backed bridge in internal/clusterbridge implements the same
// interface for the real multi-node case (§4.4).
type MemoryBridge struct {
	serverID string

	mu      sync.Mutex
	counts  map[string]int
	onAdd   []func(string)
	onRemove []func(string)

	ready chan struct{}
}

// NewMemoryBridge returns a bridge that is immediately ready.
func NewMemoryBridge(serverID string) *MemoryBridge {
	b := &MemoryBridge{
		serverID: serverID,
		counts:   make(map[string]int),
		ready:    make(chan struct{}),
	}
	close(b.ready)
	return b
}

func (b *MemoryBridge) Add(name string) {
	b.mu.Lock()
	b.counts[name]++
	edge := b.counts[name] == 1
	cbs := append([]func(string){}, b.onAdd...)
	b.mu.Unlock()

	if edge {
		for _, cb := range cbs {
			cb(name)
		}
	}
}

func (b *MemoryBridge) Remove(name string) {
	b.mu.Lock()
	b.counts[name]--
	edge := b.counts[name] == 0
	if b.counts[name] <= 0 {
		delete(b.counts, name)
	}
	cbs := append([]func(string){}, b.onRemove...)
	b.mu.Unlock()

	if edge {
		for _, cb := range cbs {
			cb(name)
		}
	}
}

func (b *MemoryBridge) Has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[name] > 0
}

func (b *MemoryBridge) GetAll() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.counts))
	for n := range b.counts {
		out = append(out, n)
	}
	return out
}

func (b *MemoryBridge) GetAllServers(name string) []string {
	if b.Has(name) {
		return []string{b.serverID}
	}
	return nil
}

func (b *MemoryBridge) OnAdd(cb func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onAdd = append(b.onAdd, cb)
}

func (b *MemoryBridge) OnRemove(cb func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRemove = append(b.onRemove, cb)
}

func (b *MemoryBridge) WhenReady() <-chan struct{} { return b.ready }
