// Package mobile is the gomobile binding surface. Everything crossing this
// boundary uses primitive types, strings, and single-method callback
// interfaces so that gomobile can bind it for Swift and Kotlin.
package mobile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/sockbridge/sockbridge/internal/bridge"
	"github.com/sockbridge/sockbridge/internal/client"
	"github.com/sockbridge/sockbridge/internal/config"
	"github.com/sockbridge/sockbridge/internal/transport"
)

// ConnectionStateCallback observes connection state transitions. Invoked on
// the dispatch loop; implementations must not block.
type ConnectionStateCallback interface {
	OnConnectionStateChange(currentState string, previousState string)
}

// ErrorCallback observes transport-reported connection errors.
type ErrorCallback interface {
	OnError(message string, code string, exception string)
}

// EventCallback receives channel events. data is the decoded event payload,
// re-encoded as JSON text for the boundary.
type EventCallback interface {
	OnEvent(data string)
}

var (
	mu      sync.Mutex
	manager *client.Manager
	builtin *transport.Transport
)

// RegisterTransport is called once from native (Swift/Kotlin) before Start.
func RegisterTransport(t bridge.Transport) {
	bridge.Register(t)
}

// Start wires the dispatcher to the registered transport.
func Start() error {
	mu.Lock()
	defer mu.Unlock()

	if manager != nil {
		return fmt.Errorf("binding already started")
	}
	t, err := bridge.Safe()
	if err != nil {
		return fmt.Errorf("call RegisterTransport before Start: %w", err)
	}
	manager = client.NewManager(t, newLogger())
	return nil
}

// StartWithBuiltinTransport runs without a native SDK: the in-process
// websocket transport handles the connections itself.
func StartWithBuiltinTransport() error {
	mu.Lock()
	defer mu.Unlock()

	if manager != nil {
		return fmt.Errorf("binding already started")
	}
	logger := newLogger()
	builtin = transport.New(logger)
	bridge.Register(builtin)
	manager = client.NewManager(builtin, logger)
	builtin.SetSink(manager)
	return nil
}

// Stop tears the dispatcher down. Existing Client handles stop receiving
// callbacks.
func Stop() {
	mu.Lock()
	defer mu.Unlock()

	if manager != nil {
		if builtin != nil {
			builtin.Close()
			builtin = nil
		}
		manager.Close()
		manager = nil
	}
}

// HandleEnvelope is called by the native side for every entry on the shared
// event stream. Reports whether the envelope was accepted.
func HandleEnvelope(raw string) bool {
	mu.Lock()
	m := manager
	mu.Unlock()

	if m == nil {
		return false
	}
	return m.Feed([]byte(raw))
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// Client wraps the internal client for the binding boundary.
type Client struct {
	inner *client.Client
}

// NewClient builds a client. optionsJSON carries the connection options
// (host, port, encrypted, activityTimeout, auth endpoint and headers,
// cluster). With lazyConnect false the connect request is issued before
// returning. Either callback may be nil.
func NewClient(
	appKey string,
	optionsJSON string,
	lazyConnect bool,
	enableLogging bool,
	onError ErrorCallback,
	onStateChange ConnectionStateCallback,
) (*Client, error) {
	mu.Lock()
	m := manager
	mu.Unlock()
	if m == nil {
		return nil, fmt.Errorf("binding not started")
	}

	opts := &config.Options{}
	if optionsJSON != "" {
		parsed, err := config.Decode(optionsJSON)
		if err != nil {
			return nil, err
		}
		opts = parsed
	}

	var stateFn func(current, previous string)
	if onStateChange != nil {
		stateFn = onStateChange.OnConnectionStateChange
	}
	var errFn func(message, code, exception string)
	if onError != nil {
		errFn = onError.OnError
	}

	inner, err := m.NewClient(appKey, opts, lazyConnect, enableLogging, errFn, stateFn)
	if err != nil {
		return nil, err
	}
	return &Client{inner: inner}, nil
}

func (c *Client) Connect() error {
	return c.inner.Connect()
}

func (c *Client) Disconnect() error {
	return c.inner.Disconnect()
}

func (c *Client) Subscribe(channelName string) (*Channel, error) {
	ch, err := c.inner.Subscribe(channelName)
	if err != nil {
		return nil, err
	}
	return &Channel{inner: ch}, nil
}

func (c *Client) Unsubscribe(channelName string) error {
	return c.inner.Unsubscribe(channelName)
}

// SocketID returns the current socket identifier, empty before the first
// established connection.
func (c *Client) SocketID() string {
	return c.inner.SocketID()
}

// InstanceID returns the id envelopes for this client are tagged with.
func (c *Client) InstanceID() int64 {
	return c.inner.InstanceID()
}

// Channel wraps the internal channel handle.
type Channel struct {
	inner *client.Channel
}

func (ch *Channel) Name() string {
	return ch.inner.Name()
}

// Bind registers cb for the event. The decoded payload is re-encoded as
// JSON text before crossing the boundary.
func (ch *Channel) Bind(eventName string, cb EventCallback) error {
	if cb == nil {
		return fmt.Errorf("bind %s: nil callback", eventName)
	}
	return ch.inner.Bind(eventName, func(data any) {
		raw, err := json.Marshal(data)
		if err != nil {
			// Data came out of a JSON decode, so this should not happen.
			return
		}
		cb.OnEvent(string(raw))
	})
}

func (ch *Channel) Unbind(eventName string) error {
	return ch.inner.Unbind(eventName)
}

// Trigger sends a client event. data must be JSON text.
func (ch *Channel) Trigger(eventName string, data string) error {
	return ch.inner.TriggerRaw(eventName, data)
}
