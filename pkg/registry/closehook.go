package registry

// CloseHook is a connection-close callback bound once per registry
// instance (Design Note §9: "bind once at construction as a method
// handle; onClose/removeOnClose compare by identity"). Connection
// implementations register/deregister hooks by pointer identity, so a
// single connection can carry one hook per registry it holds
// subscriptions in without those hooks colliding.
type CloseHook struct {
	fn func(Connection)
}

// NewCloseHook binds fn into a hook. Callers outside this package use
// it to register their own bookkeeping (connection tracking, metrics)
// against a Connection's close, independent of any registry.
func NewCloseHook(fn func(Connection)) *CloseHook {
	return &CloseHook{fn: fn}
}

// Fire runs the hook's callback. Connection implementations call this
// exactly once per registered hook when the underlying socket closes.
func (h *CloseHook) Fire(c Connection) {
	h.fn(c)
}
