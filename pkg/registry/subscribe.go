package registry

// Subscribe implements §4.1 subscribe(name, requestMsg, conn, silent?).
func (r *Registry) Subscribe(name string, req *Message, conn Connection, silent bool) {
	r.enqueue(func() { r.subscribeLocked(name, req, conn, silent) })
}

func (r *Registry) subscribeLocked(name string, req *Message, conn Connection, silent bool) {
	sub, exists := r.names[name]
	if !exists {
		sub = newSubscription(name)
	}

	if sub.sockets.has(conn) {
		conn.SendMessage(reply(r.actions.MultipleSubscription, r.kind, name, req.Action))
		r.monitor.OnSubscriptionEvent(r.kind, "duplicate")
		if r.logger.ShouldLog(LevelWarn) {
			r.logger.Log(LevelWarn, "duplicate subscribe", "topic", r.kind.String(), "name", name)
		}
		return
	}

	wasEmpty := sub.sockets.len() == 0
	sub.sockets.add(conn)
	if wasEmpty {
		r.names[name] = sub
	}

	held, ok := r.conns[conn]
	if !ok {
		held = make(map[*subscription]struct{})
		r.conns[conn] = held
		conn.OnClose(r.closeHook)
	}
	held[sub] = struct{}{}

	r.bridge.Add(name)
	r.monitor.OnSubscriptionEvent(r.kind, "subscribe")

	if l := r.currentListener(); l != nil {
		l.OnSubscriptionMade(name, conn)
	}

	if !silent {
		conn.SendAckMessage(ack(req))
		if r.logger.ShouldLog(LevelDebug) {
			r.logger.Log(LevelDebug, "subscribed", "topic", r.kind.String(), "name", name, "user", conn.User())
		}
	}
}

// Unsubscribe implements §4.1 unsubscribe(name, requestMsg, conn, silent?).
func (r *Registry) Unsubscribe(name string, req *Message, conn Connection, silent bool) {
	r.enqueue(func() { r.unsubscribeLocked(name, req, conn, silent) })
}

func (r *Registry) unsubscribeLocked(name string, req *Message, conn Connection, silent bool) {
	sub, exists := r.names[name]
	if !exists || !sub.sockets.remove(conn) {
		// Per-name protocol replies are emitted individually regardless
		// of silent (§4.3), matching subscribeLocked's unconditional
		// MultipleSubscription reply.
		conn.SendMessage(reply(r.actions.NotSubscribed, r.kind, name, req.Action))
		r.monitor.OnSubscriptionEvent(r.kind, "not_subscribed")
		if r.logger.ShouldLog(LevelWarn) {
			r.logger.Log(LevelWarn, "unsubscribe of unknown name", "topic", r.kind.String(), "name", name)
		}
		return
	}

	r.monitor.OnSubscriptionEvent(r.kind, "unsubscribe")
	r.removeFromNameIndex(sub, conn)

	held := r.conns[conn]
	delete(held, sub)
	if len(held) == 0 {
		delete(r.conns, conn)
		conn.RemoveOnClose(r.closeHook)
	}

	if !silent {
		conn.SendAckMessage(ack(req))
		if r.logger.ShouldLog(LevelDebug) {
			r.logger.Log(LevelDebug, "unsubscribed", "topic", r.kind.String(), "name", name, "user", conn.User())
		}
	}
}

// removeFromNameIndex runs the bookkeeping shared by Unsubscribe and
// the close-hook cascade once a socket has already been pulled out of
// a subscription's set: empty-set cleanup, lifecycle notification,
// then the cluster remove (§4.1 step 2). The empty check happens
// strictly after removal from the set, resolving Design Note §9.1.
func (r *Registry) removeFromNameIndex(sub *subscription, conn Connection) {
	if sub.sockets.len() == 0 {
		delete(r.names, sub.name)
	}

	if l := r.currentListener(); l != nil {
		l.OnSubscriptionRemoved(sub.name, conn)
	}

	r.bridge.Remove(sub.name)
}

// onSocketClose implements §4.2 onSocketClose(conn). It runs on the
// registry's own command loop (the close callback enqueues onto it),
// so it observes no concurrent mutation. It never calls
// conn.RemoveOnClose: the connection is already closing, and §5
// forbids that re-entrant call from inside the hook itself.
func (r *Registry) onSocketClose(conn Connection) {
	held, ok := r.conns[conn]
	if !ok {
		if r.logger.ShouldLog(LevelError) {
			r.logger.Log(LevelError, "a socket has an illegal registered close callback")
		}
		return
	}

	// Snapshot before mutating, per §4.2 step 2.
	subs := make([]*subscription, 0, len(held))
	for sub := range held {
		subs = append(subs, sub)
	}

	for _, sub := range subs {
		sub.sockets.remove(conn)
		r.removeFromNameIndex(sub, conn)
	}

	delete(r.conns, conn)
}
