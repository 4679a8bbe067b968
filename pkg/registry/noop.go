package registry

// NopTransport discards every message; useful for registries that
// never need to forward onto a cluster bus (e.g. in tests).
type NopTransport struct{}

func (NopTransport) Send(string, *Message) {}

// NopMonitor discards broadcast telemetry.
type NopMonitor struct{}

func (NopMonitor) OnBroadcast(*Message, int)        {}
func (NopMonitor) OnSubscriptionEvent(Kind, string) {}

// NopLogger discards everything and never reports a level enabled,
// so ShouldLog-guarded formatting is always skipped.
type NopLogger struct{}

func (NopLogger) ShouldLog(LogLevel) bool            { return false }
func (NopLogger) Log(LogLevel, string, ...any) {}
