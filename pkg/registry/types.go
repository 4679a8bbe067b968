package registry

// Connection is the capability surface a registry needs from a client
// session, see spec §6. Concrete connections (pkg/wsconn) must be
// comparable, since the registry uses them directly as map keys.
type Connection interface {
	User() string
	GetMessage(m *Message) []byte
	SendBuiltMessage(payload []byte, allowBatch bool)
	SendMessage(m *Message)
	SendAckMessage(m *Message)
	OnClose(hook *CloseHook)
	RemoveOnClose(hook *CloseHook)
}

// ClusterTransport forwards a message that originated locally to the
// rest of the cluster, see §4.5 step 1.
type ClusterTransport interface {
	Send(name string, m *Message)
}

// ClusterStateBridge mirrors this node's local presence for names
// into a cluster-wide replicated registry, see §4.4.
type ClusterStateBridge interface {
	Add(name string)
	Remove(name string)
	Has(name string) bool
	GetAll() []string
	GetAllServers(name string) []string
	OnAdd(cb func(name string))
	OnRemove(cb func(name string))
	WhenReady() <-chan struct{}
}

// Monitor receives hot-path fanout and subscription telemetry, see
// §4.5 step 3. event passed to OnSubscriptionEvent is one of
// "subscribe", "unsubscribe", "duplicate", or "not_subscribed".
type Monitor interface {
	OnBroadcast(m *Message, subscriberCount int)
	OnSubscriptionEvent(topic Kind, event string)
}

// LogLevel mirrors the handful of levels the registry itself emits at.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelWarn
	LevelError
)

// Logger is a levelled logging collaborator with a ShouldLog guard so
// the registry never pays formatting cost for a disabled level, see §6.
type Logger interface {
	ShouldLog(level LogLevel) bool
	Log(level LogLevel, msg string, fields ...any)
}

// LifecycleListener is the single optional upstream observer, see §4.7.
type LifecycleListener interface {
	OnSubscriptionMade(name string, conn Connection)
	OnSubscriptionRemoved(name string, conn Connection)
	OnFirstSubscriptionMade(name string)
	OnLastSubscriptionRemoved(name string)
}
