package transport

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wire event names of the channel protocol.
const (
	eventConnectionEstablished = "pusher:connection_established"
	eventSubscribe             = "pusher:subscribe"
	eventUnsubscribe           = "pusher:unsubscribe"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventError                 = "pusher:error"
)

const (
	privateChannelPrefix  = "private-"
	presenceChannelPrefix = "presence-"
)

// frame is a single websocket message in either direction. Data is raw
// because the protocol is inconsistent about it: inbound channel events
// carry a JSON-encoded string, outbound subscribe frames carry an object.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// dataString unwraps the data field into the string form used on inbound
// channel events. Servers that skip the string encoding are tolerated by
// passing the raw JSON through.
func (f *frame) dataString() string {
	if len(f.Data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(f.Data, &s); err == nil {
		return s
	}
	return string(f.Data)
}

type connectionEstablishedData struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int64  `json:"activity_timeout"`
}

type protocolErrorData struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type subscribeData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

func encodeFrame(event, channel string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s data: %w", event, err)
		}
		raw = b
	}
	b, err := json.Marshal(frame{Event: event, Channel: channel, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return b, nil
}

// needsAuth reports whether subscribing to the channel requires a signature
// from the application's auth endpoint, by naming convention.
func needsAuth(channelName string) bool {
	return strings.HasPrefix(channelName, privateChannelPrefix) ||
		strings.HasPrefix(channelName, presenceChannelPrefix)
}
