package metrics

import (
	"github.com/hevyhomie/subhub/pkg/registry"
)

// RegistryMonitor adapts *Metrics into registry.Monitor, giving every
// per-topic subscription registry a home for its fanout and
// subscription-event telemetry under the same subhub_registry_*
// metric family Metrics already exposes, rather than a second,
// disconnected set of Prometheus collectors.
type RegistryMonitor struct {
	metrics *Metrics
}

func NewRegistryMonitor(m *Metrics) *RegistryMonitor {
	return &RegistryMonitor{metrics: m}
}

func (r *RegistryMonitor) OnBroadcast(m *registry.Message, subscriberCount int) {
	r.metrics.RecordRegistryBroadcast(m.Topic.String(), subscriberCount)
}

// OnSubscriptionEvent records a subscribe/unsubscribe outcome for
// topic, keeping the registry's own subscribe/unsubscribe/duplicate/
// not_subscribed vocabulary as the metric's event label.
func (r *RegistryMonitor) OnSubscriptionEvent(topic registry.Kind, event string) {
	r.metrics.RecordSubscriptionEvent(topic.String(), event)
}

// SetClusterNames records the current cluster-wide name count for topic,
// called periodically from whatever owns a Bridge.GetAll() snapshot.
func (r *RegistryMonitor) SetClusterNames(topic registry.Kind, count int) {
	r.metrics.SetRegistryClusterNames(topic.String(), count)
}
