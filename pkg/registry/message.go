package registry

import "github.com/google/uuid"

// Message is the envelope the registry passes between connections and
// the cluster transport. Payload is left opaque (the wire layer built
// on top of this package decodes it into an `any`); the registry only
// ever reads Topic/Action/Name/CorrelationID/OriginalAction.
//
// id is the message's identity for the purposes of §4.5 step 4: two
// Messages must render to the same wire bytes iff they carry the same
// id, regardless of how many connections call GetMessage on them.
type Message struct {
	Topic          Kind
	Action         Action
	Name           string
	OriginalAction Action
	CorrelationID  string
	Payload        any

	id string
}

// NewMessage builds a fresh message with a unique identity.
func NewMessage(topic Kind, action Action, name string, payload any) *Message {
	return &Message{
		Topic:   topic,
		Action:  action,
		Name:    name,
		Payload: payload,
		id:      uuid.NewString(),
	}
}

// ID returns the message's cache identity, used by Connection
// implementations to memoize GetMessage's rendered bytes.
func (m *Message) ID() string {
	if m.id == "" {
		m.id = uuid.NewString()
	}
	return m.id
}

// reply builds the protocol reply recorded in §6: MULTIPLE_SUBSCRIPTIONS
// or NOT_SUBSCRIBED, echoing the original action and carrying the name.
func reply(action Action, topic Kind, name string, original Action) *Message {
	return &Message{
		Topic:          topic,
		Action:         action,
		Name:           name,
		OriginalAction: original,
		id:             uuid.NewString(),
	}
}

// ack echoes an inbound request message back as a confirmation,
// carrying the topic/action/correlation id the client sent.
func ack(req *Message) *Message {
	return &Message{
		Topic:         req.Topic,
		Action:        req.Action,
		Name:          req.Name,
		CorrelationID: req.CorrelationID,
		id:            uuid.NewString(),
	}
}
