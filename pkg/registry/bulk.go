package registry

// BulkMessage carries the names array and correlation id of a bulk
// subscribe/unsubscribe request (§4.3), mirroring the shape of the
// teacher's BatchUpdateMessage.
type BulkMessage struct {
	*Message
	Names []string
}

// SubscribeBulk implements §4.3 subscribeBulk: every name is
// subscribed individually and silently, then a single ACK is sent
// carrying the bulk message's own topic/action/correlation id unless
// the caller asked for silence too.
func (r *Registry) SubscribeBulk(bulk *BulkMessage, conn Connection, silent bool) {
	r.enqueue(func() {
		for _, name := range bulk.Names {
			r.subscribeLocked(name, bulk.Message, conn, true)
		}
	})
	if !silent {
		conn.SendAckMessage(ack(bulk.Message))
	}
}

// UnsubscribeBulk is the symmetric bulk unsubscribe.
func (r *Registry) UnsubscribeBulk(bulk *BulkMessage, conn Connection, silent bool) {
	r.enqueue(func() {
		for _, name := range bulk.Names {
			r.unsubscribeLocked(name, bulk.Message, conn, true)
		}
	})
	if !silent {
		conn.SendAckMessage(ack(bulk.Message))
	}
}
