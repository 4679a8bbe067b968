package registry

// SendToSubscribers implements §4.5. senderConn may be nil to indicate
// the message arrived from the cluster bus (no re-forward, no
// exclusion from local fanout beyond "nil never equals a connection").
// noDelay is accepted for protocol compatibility only: its write-layer
// coalescing semantics are the connection's responsibility, not ours.
func (r *Registry) SendToSubscribers(name string, m *Message, noDelay bool, senderConn Connection, suppressRemote bool) {
	_ = noDelay
	r.enqueue(func() { r.sendToSubscribersLocked(name, m, senderConn, suppressRemote) })
}

func (r *Registry) sendToSubscribersLocked(name string, m *Message, senderConn Connection, suppressRemote bool) {
	if senderConn != nil && !suppressRemote {
		r.transport.Send(name, m)
	}

	sub, ok := r.names[name]
	if !ok {
		return
	}

	r.monitor.OnBroadcast(m, sub.sockets.len())

	members := sub.sockets.snapshot()
	var bytes []byte
	rendered := false

	for _, c := range members {
		if c == senderConn {
			continue
		}
		if !rendered {
			bytes = c.GetMessage(m)
			rendered = true
		}
		c.SendBuiltMessage(bytes, true)
	}
}
