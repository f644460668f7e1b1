package amadeus

import (
	"time"
)

// MessageContext is the handle a plugin receives in SetupMessaging. It
// scopes every bus operation to the plugin's own identity: Send stamps
// Source automatically, and SubscribeAll is only honored for plugins
// whose metadata marks them Privileged. This mirrors the teacher's
// pattern of handing modules a narrow, capability-scoped facade
// (ServiceRegistry) rather than the whole application.
type MessageContext struct {
	pluginID  string
	privilege PluginType
	dc        *DistributionCenter
	ingress   *ingress
}

// newMessageContext builds the per-plugin handle used during registry
// startup. Unexported: plugins never construct one directly, they
// receive it from the registry's SetupMessaging phase.
func newMessageContext(pluginID string, privilege PluginType, dc *DistributionCenter, in *ingress) *MessageContext {
	return &MessageContext{pluginID: pluginID, privilege: privilege, dc: dc, ingress: in}
}

// Identity returns the owning plugin's identity.
func (c *MessageContext) Identity() string { return c.pluginID }

// Subscribe returns a receiver for every broadcast message published on
// topic, present and future. It never observes messages published
// before the call.
func (c *MessageContext) Subscribe(topic string) (<-chan Message, func()) {
	return c.dc.Subscribe(topic)
}

// SubscribeAll registers a wiretap observing every broadcast message on
// the bus regardless of topic. Only Privileged plugins may call this;
// any other caller gets ErrPermissionDenied and a nil receiver.
func (c *MessageContext) SubscribeAll() (<-chan Message, func(), error) {
	if c.privilege != Privileged {
		return nil, nil, ErrPermissionDenied
	}
	ch, cancel := c.dc.RegisterWiretap()
	return ch, cancel, nil
}

// EnableDirectMessaging opts this plugin into receiving direct messages,
// returning its bounded inbox. capacity <= 0 uses the DistributionCenter's
// default.
func (c *MessageContext) EnableDirectMessaging(capacity int) <-chan Message {
	return c.dc.EnableDirect(c.pluginID, capacity)
}

// Send stamps ID, Source and CreatedAt (if unset) on msg and hands it to
// the MessageManager's ingress queue. It returns ErrIngressClosed if the
// manager has already stopped accepting messages.
func (c *MessageContext) Send(msg Message) error {
	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	if msg.Source == "" {
		msg.Source = c.pluginID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return c.ingress.enqueue(msg)
}

// SendDirect is a convenience for Send when the caller already knows the
// recipient: it sets msg.Recipient before enqueuing.
func (c *MessageContext) SendDirect(recipient string, msg Message) error {
	msg.Recipient = recipient
	return c.Send(msg)
}
