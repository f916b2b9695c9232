package client

import (
	"encoding/json"
	"fmt"

	"github.com/sockbridge/sockbridge/internal/subscription"
)

// Channel is a handle to one named channel for one client. It holds a
// non-owning reference back to the client, used only to route bind calls;
// its lifetime follows the client's.
type Channel struct {
	name   string
	client *Client
}

func (ch *Channel) Name() string {
	return ch.name
}

// Bind registers the callback for an event on this channel, replacing any
// earlier callback for the same event, and tells the transport to forward
// it. The callback runs on the dispatch loop and must not block.
func (ch *Channel) Bind(eventName string, cb subscription.Callback) error {
	ch.client.inst.Subscriptions().Bind(ch.name, eventName, cb)
	if err := ch.client.transport.Bind(ch.client.inst.ID(), ch.name, eventName); err != nil {
		return fmt.Errorf("bind %s/%s: %w", ch.name, eventName, err)
	}
	return nil
}

// Unbind removes the registration. Unbinding an event that was never bound
// is a no-op.
func (ch *Channel) Unbind(eventName string) error {
	ch.client.inst.Subscriptions().Unbind(ch.name, eventName)
	if err := ch.client.transport.Unbind(ch.client.inst.ID(), ch.name, eventName); err != nil {
		return fmt.Errorf("unbind %s/%s: %w", ch.name, eventName, err)
	}
	return nil
}

// Trigger sends a client event with the given payload. The event name gets
// the client- prefix unless it already carries one. Fire and forget: no
// local echo, no acknowledgment beyond the request itself.
func (ch *Channel) Trigger(eventName string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode trigger data: %w", err)
	}
	return ch.TriggerRaw(eventName, string(raw))
}

// TriggerRaw sends a client event whose payload is already JSON text.
func (ch *Channel) TriggerRaw(eventName string, data string) error {
	name := subscription.NormalizeClientEvent(eventName)
	if err := ch.client.transport.Trigger(ch.client.inst.ID(), ch.name, name, data); err != nil {
		return fmt.Errorf("trigger %s/%s: %w", ch.name, name, err)
	}
	return nil
}
