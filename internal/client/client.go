package client

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tidwall/btree"

	"github.com/sockbridge/sockbridge/internal/bridge"
	"github.com/sockbridge/sockbridge/internal/instance"
)

// Client is one logical connection to the channel service. Several clients
// can live in the same process; each sees only the envelopes addressed to
// its instance id.
type Client struct {
	appKey        string
	inst          *instance.Instance
	instances     *instance.Registry
	transport     bridge.Transport
	logger        *slog.Logger
	onStateChange instance.StateCallback
	onError       instance.ErrorCallback

	mu       sync.Mutex
	channels btree.Set[string]
}

// InstanceID returns the id this client routes by.
func (c *Client) InstanceID() int64 {
	return c.inst.ID()
}

// SocketID returns the transport's socket identifier for this client, empty
// until the first connection is established.
func (c *Client) SocketID() string {
	return c.inst.SocketID()
}

// Connect registers the client's callbacks and issues the connect request,
// then replays the subscribed channel set in name order. Replay makes a
// connect after a disconnect pick up where the client left off; the
// transport reconciles repeated subscribes.
func (c *Client) Connect() error {
	if err := c.instances.Connect(c.inst.ID(), c.onStateChange, c.onError); err != nil {
		return err
	}
	for _, name := range c.SubscribedChannels() {
		if err := c.transport.Subscribe(c.inst.ID(), name); err != nil {
			c.logger.Warn("subscribe replay failed", "channel", name, "err", err)
		}
	}
	return nil
}

// Disconnect issues the disconnect request. Callback and binding records
// survive, so a later Connect resumes with the same registrations.
func (c *Client) Disconnect() error {
	return c.instances.Disconnect(c.inst.ID())
}

// Subscribe issues the subscribe request and returns a channel handle. Every
// call returns a fresh handle, also for a name already subscribed.
func (c *Client) Subscribe(channelName string) (*Channel, error) {
	if err := c.transport.Subscribe(c.inst.ID(), channelName); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channelName, err)
	}
	c.mu.Lock()
	c.channels.Insert(channelName)
	c.mu.Unlock()
	return &Channel{name: channelName, client: c}, nil
}

// Unsubscribe issues the unsubscribe request and forgets the channel.
// Bindings for the channel stay registered and simply go quiet.
func (c *Client) Unsubscribe(channelName string) error {
	if err := c.transport.Unsubscribe(c.inst.ID(), channelName); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channelName, err)
	}
	c.mu.Lock()
	c.channels.Delete(channelName)
	c.mu.Unlock()
	return nil
}

// SubscribedChannels lists the currently subscribed channel names in order.
func (c *Client) SubscribedChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, c.channels.Len())
	c.channels.Scan(func(name string) bool {
		names = append(names, name)
		return true
	})
	return names
}
