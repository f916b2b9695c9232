package transport

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sockbridge/sockbridge/internal/config"
	"github.com/sockbridge/sockbridge/internal/envelope"
)

const establishedFrame = `{"event":"pusher:connection_established","data":"{\"socket_id\":\"99.1\",\"activity_timeout\":120}"}`

// wsServer is a minimal channel server: it completes the handshake, then
// relays every client frame to the test and lets the test push frames back.
type wsServer struct {
	srv      *httptest.Server
	inbound  chan frame
	sessions chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		inbound:  make(chan frame, 32),
		sessions: make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(establishedFrame)); err != nil {
			return
		}
		s.sessions <- conn
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Errorf("server received bad frame: %v", err)
				continue
			}
			s.inbound <- f
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) options(t *testing.T) *config.Options {
	t.Helper()
	u, err := url.Parse(s.srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return &config.Options{Host: host, Port: port, ActivityTimeoutMs: 60000}
}

func (s *wsServer) session(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.sessions:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no session established")
		return nil
	}
}

func (s *wsServer) frame(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-s.inbound:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return frame{}
	}
}

// captureSink collects the envelopes the transport emits.
type captureSink struct {
	envs chan *envelope.Envelope
}

func newCaptureSink() *captureSink {
	return &captureSink{envs: make(chan *envelope.Envelope, 32)}
}

func (s *captureSink) Feed(raw []byte) bool {
	env, err := envelope.Decode(raw)
	if err != nil {
		return false
	}
	s.envs <- env
	return true
}

// waitState consumes envelopes until the wanted connection state shows up.
func (s *captureSink) waitState(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env := <-s.envs:
			if sc := env.ConnectionStateChange; sc != nil && sc.CurrentState == want {
				return
			}
		case <-deadline:
			t.Fatalf("state %s never reported", want)
		}
	}
}

func (s *captureSink) waitEvent(t *testing.T) *envelope.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env := <-s.envs:
			if env.Event != nil {
				return env.Event
			}
		case <-deadline:
			t.Fatal("no event envelope")
			return nil
		}
	}
}

func newTestTransport(t *testing.T, opts *config.Options) (*Transport, *captureSink) {
	t.Helper()
	sink := newCaptureSink()
	tr := New(slog.New(slog.DiscardHandler))
	tr.SetSink(sink)

	optionsJSON, err := opts.Encode()
	if err != nil {
		t.Fatalf("encode options: %v", err)
	}
	if err := tr.Init(0, "testkey", optionsJSON, true); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	return tr, sink
}

func TestInitValidatesOptions(t *testing.T) {
	tr := New(slog.New(slog.DiscardHandler))
	tr.SetSink(newCaptureSink())

	if err := tr.Init(0, "key", `{"port":80}`, true); err == nil {
		t.Error("Init() accepted options without a host")
	}
	if err := tr.Init(0, "key", "not json", true); err == nil {
		t.Error("Init() accepted malformed options")
	}
}

func TestRequestsBeforeInit(t *testing.T) {
	tr := New(slog.New(slog.DiscardHandler))
	if err := tr.Connect(5); err == nil {
		t.Error("Connect() accepted an uninitialized instance")
	}
	if _, err := tr.GetSocketID(5); err == nil {
		t.Error("GetSocketID() accepted an uninitialized instance")
	}
}

func TestConnectLifecycle(t *testing.T) {
	server := newWSServer(t)
	tr, sink := newTestTransport(t, server.options(t))

	if got, _ := tr.GetSocketID(0); got != "" {
		t.Errorf("GetSocketID() = %q before connect, want empty", got)
	}

	if err := tr.Connect(0); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	sink.waitState(t, envelope.StateConnecting)
	sink.waitState(t, envelope.StateConnected)

	if got, _ := tr.GetSocketID(0); got != "99.1" {
		t.Errorf("GetSocketID() = %q, want 99.1", got)
	}

	if err := tr.Disconnect(0); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	sink.waitState(t, envelope.StateDisconnecting)
	sink.waitState(t, envelope.StateDisconnected)
}

func TestSubscribeFrames(t *testing.T) {
	server := newWSServer(t)
	tr, sink := newTestTransport(t, server.options(t))

	tr.Connect(0)
	sink.waitState(t, envelope.StateConnected)

	if err := tr.Subscribe(0, "orders"); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	f := server.frame(t)
	if f.Event != "pusher:subscribe" {
		t.Fatalf("frame event = %q, want pusher:subscribe", f.Event)
	}
	var data subscribeData
	if err := json.Unmarshal(f.Data, &data); err != nil {
		t.Fatalf("decode subscribe data: %v", err)
	}
	if data.Channel != "orders" {
		t.Errorf("subscribe channel = %q, want orders", data.Channel)
	}

	if err := tr.Unsubscribe(0, "orders"); err != nil {
		t.Fatalf("Unsubscribe() error: %v", err)
	}
	if f := server.frame(t); f.Event != "pusher:unsubscribe" {
		t.Errorf("frame event = %q, want pusher:unsubscribe", f.Event)
	}
}

func TestSubscribeBeforeConnectIsDeferred(t *testing.T) {
	server := newWSServer(t)
	tr, sink := newTestTransport(t, server.options(t))

	// Requested while disconnected: sent once the connection establishes.
	if err := tr.Subscribe(0, "beta"); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	if err := tr.Subscribe(0, "alpha"); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	tr.Connect(0)
	sink.waitState(t, envelope.StateConnected)

	// Replay happens in channel name order.
	for _, want := range []string{"alpha", "beta"} {
		f := server.frame(t)
		var data subscribeData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			t.Fatalf("decode subscribe data: %v", err)
		}
		if f.Event != "pusher:subscribe" || data.Channel != want {
			t.Errorf("frame = %s %s, want pusher:subscribe %s", f.Event, data.Channel, want)
		}
	}
}

func TestBoundEventForwarding(t *testing.T) {
	server := newWSServer(t)
	tr, sink := newTestTransport(t, server.options(t))

	tr.Connect(0)
	sink.waitState(t, envelope.StateConnected)
	session := server.session(t)

	tr.Bind(0, "orders", "created")

	// An unbound event first: it must not be forwarded.
	unbound := `{"event":"ignored","channel":"orders","data":"{\"n\":1}"}`
	if err := session.WriteMessage(websocket.TextMessage, []byte(unbound)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	bound := `{"event":"created","channel":"orders","data":"{\"n\":2}"}`
	if err := session.WriteMessage(websocket.TextMessage, []byte(bound)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	ev := sink.waitEvent(t)
	if ev.Event != "created" || ev.Channel != "orders" {
		t.Fatalf("forwarded event = %s/%s, want orders/created", ev.Channel, ev.Event)
	}
	if ev.Data != `{"n":2}` {
		t.Errorf("event data = %q, want the string-encoded payload preserved", ev.Data)
	}

	t.Run("unbind stops forwarding", func(t *testing.T) {
		tr.Unbind(0, "orders", "created")
		session.WriteMessage(websocket.TextMessage, []byte(bound))

		select {
		case env := <-sink.envs:
			if env.Event != nil {
				t.Errorf("event forwarded after Unbind: %+v", env.Event)
			}
		case <-time.After(300 * time.Millisecond):
		}
	})
}

func TestServerPingAnswered(t *testing.T) {
	server := newWSServer(t)
	tr, sink := newTestTransport(t, server.options(t))

	tr.Connect(0)
	sink.waitState(t, envelope.StateConnected)
	session := server.session(t)

	if err := session.WriteMessage(websocket.TextMessage, []byte(`{"event":"pusher:ping"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if f := server.frame(t); f.Event != "pusher:pong" {
		t.Errorf("frame event = %q, want pusher:pong", f.Event)
	}
}

func TestTriggerFrame(t *testing.T) {
	server := newWSServer(t)
	tr, sink := newTestTransport(t, server.options(t))

	tr.Connect(0)
	sink.waitState(t, envelope.StateConnected)

	if err := tr.Trigger(0, "room", "client-typing", `{"user":"ann"}`); err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}
	f := server.frame(t)
	if f.Event != "client-typing" || f.Channel != "room" {
		t.Errorf("frame = %s on %s, want client-typing on room", f.Event, f.Channel)
	}
	if string(f.Data) != `{"user":"ann"}` {
		t.Errorf("frame data = %s, want payload passed through", f.Data)
	}
}

func TestProtocolErrorForwarded(t *testing.T) {
	server := newWSServer(t)
	tr, sink := newTestTransport(t, server.options(t))

	tr.Connect(0)
	sink.waitState(t, envelope.StateConnected)
	session := server.session(t)

	errFrame := `{"event":"pusher:error","data":"{\"message\":\"over capacity\",\"code\":4100}"}`
	if err := session.WriteMessage(websocket.TextMessage, []byte(errFrame)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case env := <-sink.envs:
			if ce := env.ConnectionError; ce != nil {
				if ce.Message != "over capacity" || ce.Code != "4100" {
					t.Errorf("error envelope = %+v, want over capacity / 4100", ce)
				}
				return
			}
		case <-deadline:
			t.Fatal("no error envelope")
		}
	}
}

func TestConnectionLossReportsReconnecting(t *testing.T) {
	server := newWSServer(t)
	tr, sink := newTestTransport(t, server.options(t))

	tr.Connect(0)
	sink.waitState(t, envelope.StateConnected)
	session := server.session(t)

	session.Close()
	sink.waitState(t, envelope.StateReconnecting)

	tr.Disconnect(0)
	sink.waitState(t, envelope.StateDisconnected)
}

func TestPrivateChannelAuth(t *testing.T) {
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("auth form: %v", err)
		}
		if got := r.PostForm.Get("channel_name"); got != "private-room" {
			t.Errorf("channel_name = %q, want private-room", got)
		}
		if got := r.PostForm.Get("socket_id"); got != "99.1" {
			t.Errorf("socket_id = %q, want 99.1", got)
		}
		if got := r.Header.Get("X-App-Token"); got != "tok" {
			t.Errorf("X-App-Token = %q, want tok", got)
		}
		w.Write([]byte(`{"auth":"testkey:deadbeef"}`))
	}))
	defer authSrv.Close()

	server := newWSServer(t)
	opts := server.options(t)
	opts.Auth = &config.AuthOptions{
		Endpoint: authSrv.URL,
		Headers:  map[string]string{"X-App-Token": "tok"},
	}
	tr, sink := newTestTransport(t, opts)

	tr.Connect(0)
	sink.waitState(t, envelope.StateConnected)

	if err := tr.Subscribe(0, "private-room"); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	f := server.frame(t)
	var data subscribeData
	if err := json.Unmarshal(f.Data, &data); err != nil {
		t.Fatalf("decode subscribe data: %v", err)
	}
	if data.Auth != "testkey:deadbeef" {
		t.Errorf("subscribe auth = %q, want signature from endpoint", data.Auth)
	}
}

func TestPrivateChannelWithoutAuthEndpoint(t *testing.T) {
	server := newWSServer(t)
	tr, sink := newTestTransport(t, server.options(t))

	tr.Connect(0)
	sink.waitState(t, envelope.StateConnected)

	if err := tr.Subscribe(0, "private-room"); err == nil {
		t.Error("Subscribe() signed a private channel with no auth endpoint configured")
	}
}
