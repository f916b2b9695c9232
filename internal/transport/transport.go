// Package transport is the built-in implementation of the native transport
// boundary: a Pusher-protocol websocket client with reconnection, activity
// pings, and channel auth. It stands in for the platform SDK when the
// binding runs without one, feeding the same shared envelope stream.
package transport

import (
	"fmt"
	"log/slog"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/sockbridge/sockbridge/internal/config"
)

// Sink receives serialized envelopes, normally the central dispatcher.
type Sink interface {
	Feed(raw []byte) bool
}

// Transport multiplexes one websocket session per registered instance. It
// satisfies bridge.Transport.
type Transport struct {
	conns  *xsync.Map[int64, *conn]
	sink   Sink
	logger *slog.Logger
}

func New(logger *slog.Logger) *Transport {
	return &Transport{
		conns:  xsync.NewMap[int64, *conn](),
		logger: logger,
	}
}

// SetSink wires the envelope consumer. Must be called before Init; split
// from New because the dispatcher and the transport reference each other.
func (t *Transport) SetSink(sink Sink) {
	t.sink = sink
}

func (t *Transport) Init(instanceID int64, appKey string, optionsJSON string, loggingEnabled bool) error {
	opts, err := config.Decode(optionsJSON)
	if err != nil {
		return err
	}
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return err
	}
	if t.sink == nil {
		return fmt.Errorf("transport: no sink configured")
	}

	logger := t.logger
	if !loggingEnabled {
		logger = slog.New(slog.DiscardHandler)
	}
	t.conns.Store(instanceID, newConn(instanceID, appKey, opts, t.sink, logger))
	return nil
}

func (t *Transport) Connect(instanceID int64) error {
	c, err := t.conn(instanceID)
	if err != nil {
		return err
	}
	return c.connect()
}

func (t *Transport) Disconnect(instanceID int64) error {
	c, err := t.conn(instanceID)
	if err != nil {
		return err
	}
	return c.disconnect()
}

func (t *Transport) Subscribe(instanceID int64, channelName string) error {
	c, err := t.conn(instanceID)
	if err != nil {
		return err
	}
	return c.subscribe(channelName)
}

func (t *Transport) Unsubscribe(instanceID int64, channelName string) error {
	c, err := t.conn(instanceID)
	if err != nil {
		return err
	}
	return c.unsubscribe(channelName)
}

func (t *Transport) Bind(instanceID int64, channelName string, eventName string) error {
	c, err := t.conn(instanceID)
	if err != nil {
		return err
	}
	c.bind(channelName, eventName)
	return nil
}

func (t *Transport) Unbind(instanceID int64, channelName string, eventName string) error {
	c, err := t.conn(instanceID)
	if err != nil {
		return err
	}
	c.unbind(channelName, eventName)
	return nil
}

func (t *Transport) Trigger(instanceID int64, channelName string, eventName string, data string) error {
	c, err := t.conn(instanceID)
	if err != nil {
		return err
	}
	return c.trigger(channelName, eventName, data)
}

func (t *Transport) GetSocketID(instanceID int64) (string, error) {
	c, err := t.conn(instanceID)
	if err != nil {
		return "", err
	}
	return c.currentSocketID(), nil
}

// Close disconnects every live session.
func (t *Transport) Close() {
	t.conns.Range(func(id int64, c *conn) bool {
		if err := c.disconnect(); err != nil {
			t.logger.Warn("disconnect failed", "instance", id, "err", err)
		}
		return true
	})
}

func (t *Transport) conn(instanceID int64) (*conn, error) {
	c, ok := t.conns.Load(instanceID)
	if !ok {
		return nil, fmt.Errorf("transport: instance %d not initialized", instanceID)
	}
	return c, nil
}
