package registry

// socketSet is a slice-backed set of connections, kept in insertion
// order until a removal moves the last member into the freed slot.
// Iteration order is not meaningful to clients but must stay put for the
// duration of a single fanout (§3 Subscription, §4.5 step 5); since
// every registry operation runs serialized on the registry's command
// loop (§5), nothing can mutate a set while a fanout iterates it.
type socketSet struct {
	order []Connection
	index map[Connection]int
}

func newSocketSet() *socketSet {
	return &socketSet{index: make(map[Connection]int)}
}

func (s *socketSet) has(c Connection) bool {
	_, ok := s.index[c]
	return ok
}

func (s *socketSet) add(c Connection) {
	if s.has(c) {
		return
	}
	s.index[c] = len(s.order)
	s.order = append(s.order, c)
}

// remove deletes c from the set in O(1) by swapping it with the last
// element. Reports whether c was present.
func (s *socketSet) remove(c Connection) bool {
	i, ok := s.index[c]
	if !ok {
		return false
	}
	last := len(s.order) - 1
	moved := s.order[last]
	s.order[i] = moved
	s.order = s.order[:last]
	s.index[moved] = i
	delete(s.index, c)
	return true
}

func (s *socketSet) len() int {
	return len(s.order)
}

// snapshot returns a copy of the current members, safe to iterate
// while the underlying set is mutated afterwards (§4.2 step 2).
func (s *socketSet) snapshot() []Connection {
	out := make([]Connection, len(s.order))
	copy(out, s.order)
	return out
}

// subscription is the live entry for one subscription name: a non-empty
// set of local connections interested in it. It is created on first
// local subscribe and torn down once its socket set empties (§3).
type subscription struct {
	name    string
	sockets *socketSet
}

func newSubscription(name string) *subscription {
	return &subscription{name: name, sockets: newSocketSet()}
}
