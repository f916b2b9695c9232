package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/sockbridge/sockbridge/internal/config"
	"github.com/sockbridge/sockbridge/internal/envelope"
)

const (
	writeWait = 10 * time.Second

	// readGrace is added on top of the activity timeout before a silent
	// connection is considered dead.
	readGrace = 10 * time.Second
)

var errNotConnected = errors.New("transport: not connected")

// conn is the websocket session for one client instance. It owns the dial /
// read / reconnect lifecycle and reports everything the instance observes
// (events, state changes, errors) as envelopes on the shared stream.
type conn struct {
	id     int64
	appKey string
	opts   *config.Options
	auth   *authClient
	sink   Sink
	logger *slog.Logger

	mu         sync.Mutex
	ws         *websocket.Conn
	state      string
	socketID   string
	stop       chan struct{}
	running    bool
	subscribed map[string]struct{}
	bound      map[string]struct{}

	writeMu sync.Mutex
}

func newConn(id int64, appKey string, opts *config.Options, sink Sink, logger *slog.Logger) *conn {
	c := &conn{
		id:         id,
		appKey:     appKey,
		opts:       opts,
		sink:       sink,
		logger:     logger.With("instance", id),
		state:      envelope.StateDisconnected,
		subscribed: make(map[string]struct{}),
		bound:      make(map[string]struct{}),
	}
	if opts.Auth != nil && opts.Auth.Endpoint != "" {
		c.auth = newAuthClient(opts.Auth)
	}
	return c
}

func (c *conn) connect() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	c.setState(envelope.StateConnecting)
	go c.run(stop)
	return nil
}

// disconnect tears the session down. Subscription and binding records stay
// in place so a later connect on the same instance replays them.
func (c *conn) disconnect() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stop)
	ws := c.ws
	c.mu.Unlock()

	c.setState(envelope.StateDisconnecting)
	if ws != nil {
		ws.Close()
	}
	c.setState(envelope.StateDisconnected)
	return nil
}

func (c *conn) run(stop chan struct{}) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		err := c.session(stop)
		if stopped(stop) {
			return
		}
		if err != nil {
			c.emitError(err.Error(), "", "websocket")
		}
		c.setState(reconnectState(err))

		select {
		case <-stop:
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// session runs one dial-to-close cycle and returns the terminating error.
func (c *conn) session(stop chan struct{}) error {
	ws, _, err := websocket.DefaultDialer.Dial(c.opts.URL(c.appKey), nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if stopped(stop) {
		// Disconnected while dialing.
		c.mu.Unlock()
		ws.Close()
		return nil
	}
	c.ws = ws
	c.mu.Unlock()
	defer func() {
		ws.Close()
		c.mu.Lock()
		if c.ws == ws {
			c.ws = nil
		}
		c.mu.Unlock()
	}()

	pingStop := make(chan struct{})
	defer close(pingStop)
	go c.pingLoop(pingStop)

	for {
		ws.SetReadDeadline(time.Now().Add(c.opts.ActivityTimeout() + readGrace))
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		c.handleFrame(raw)
	}
}

// pingLoop keeps the connection alive across activity-timeout windows.
func (c *conn) pingLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.opts.ActivityTimeout())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.write(eventPing, "", nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) handleFrame(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.logger.Warn("transport dropped frame", "err", err)
		return
	}

	switch f.Event {
	case eventConnectionEstablished:
		var d connectionEstablishedData
		if err := json.Unmarshal([]byte(f.dataString()), &d); err != nil {
			c.logger.Warn("bad connection_established frame", "err", err)
			return
		}
		c.mu.Lock()
		c.socketID = d.SocketID
		c.mu.Unlock()
		c.setState(envelope.StateConnected)
		c.resubscribe()

	case eventPing:
		if err := c.write(eventPong, "", nil); err != nil {
			c.logger.Warn("pong failed", "err", err)
		}

	case eventPong:
		// Keepalive answer; the read deadline reset is enough.

	case eventError:
		var d protocolErrorData
		if err := json.Unmarshal([]byte(f.dataString()), &d); err != nil {
			c.logger.Warn("bad error frame", "err", err)
			return
		}
		c.emitError(d.Message, strconv.Itoa(d.Code), eventError)

	default:
		c.forwardEvent(&f)
	}
}

// forwardEvent puts a channel event on the stream if the instance bound it.
func (c *conn) forwardEvent(f *frame) {
	c.mu.Lock()
	_, ok := c.bound[f.Channel+f.Event]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("unbound event skipped", "channel", f.Channel, "event", f.Event)
		return
	}
	c.emit(&envelope.Envelope{
		Event: &envelope.Event{
			Channel: f.Channel,
			Event:   f.Event,
			Data:    f.dataString(),
		},
	})
}

func (c *conn) subscribe(channelName string) error {
	c.mu.Lock()
	c.subscribed[channelName] = struct{}{}
	connected := c.state == envelope.StateConnected
	c.mu.Unlock()

	if !connected {
		// Sent on connection established.
		return nil
	}
	return c.sendSubscribe(channelName)
}

func (c *conn) unsubscribe(channelName string) error {
	c.mu.Lock()
	delete(c.subscribed, channelName)
	connected := c.state == envelope.StateConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.write(eventUnsubscribe, "", subscribeData{Channel: channelName})
}

func (c *conn) sendSubscribe(channelName string) error {
	data := subscribeData{Channel: channelName}
	if needsAuth(channelName) {
		if c.auth == nil {
			return fmt.Errorf("transport: %s requires an auth endpoint", channelName)
		}
		resp, err := c.auth.authorize(c.currentSocketID(), channelName)
		if err != nil {
			return fmt.Errorf("authorize %s: %w", channelName, err)
		}
		data.Auth = resp.Auth
		data.ChannelData = resp.ChannelData
	}
	return c.write(eventSubscribe, "", data)
}

// resubscribe replays the subscription set after (re)connecting, in name
// order so replay is deterministic.
func (c *conn) resubscribe() {
	c.mu.Lock()
	channels := make([]string, 0, len(c.subscribed))
	for name := range c.subscribed {
		channels = append(channels, name)
	}
	c.mu.Unlock()
	sort.Strings(channels)

	for _, name := range channels {
		if err := c.sendSubscribe(name); err != nil {
			c.logger.Warn("resubscribe failed", "channel", name, "err", err)
		}
	}
}

func (c *conn) bind(channelName, eventName string) {
	c.mu.Lock()
	c.bound[channelName+eventName] = struct{}{}
	c.mu.Unlock()
}

func (c *conn) unbind(channelName, eventName string) {
	c.mu.Lock()
	delete(c.bound, channelName+eventName)
	c.mu.Unlock()
}

func (c *conn) trigger(channelName, eventName, data string) error {
	var payload any
	if data != "" {
		payload = json.RawMessage(data)
	}
	return c.write(eventName, channelName, payload)
}

func (c *conn) currentSocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

func (c *conn) write(event, channel string, data any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return errNotConnected
	}

	b, err := encodeFrame(event, channel, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, b)
}

// setState records the transition and reports it on the stream. Transitions
// are reported even when old and new state are equal.
func (c *conn) setState(state string) {
	c.mu.Lock()
	previous := c.state
	c.state = state
	c.mu.Unlock()

	c.logger.Debug("connection state", "from", previous, "to", state)
	c.emit(&envelope.Envelope{
		ConnectionStateChange: &envelope.StateChange{
			CurrentState:  state,
			PreviousState: previous,
		},
	})
}

func (c *conn) emitError(message, code, exception string) {
	c.emit(&envelope.Envelope{
		ConnectionError: &envelope.ConnError{
			Message:   message,
			Code:      code,
			Exception: exception,
		},
	})
}

func (c *conn) emit(env *envelope.Envelope) {
	env.InstanceID = strconv.FormatInt(c.id, 10)
	raw, err := env.Encode()
	if err != nil {
		c.logger.Error("envelope encode failed", "err", err)
		return
	}
	c.sink.Feed(raw)
}

func stopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// reconnectState distinguishes plain connection loss from an unreachable
// network, mirroring the states the native SDKs report.
func reconnectState(err error) string {
	if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return envelope.StateReconnectingWhenNetworkBecomesReachable
	}
	return envelope.StateReconnecting
}
