// Package config holds the connection options passed in by the application
// layer and handed through to the transport.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultPort              = 443
	DefaultActivityTimeoutMs = 30000

	// protocolVersion is the channel protocol revision spoken by the
	// built-in transport.
	protocolVersion = 7
)

var ErrNoHost = errors.New("config: host is required")

// AuthOptions configures the endpoint used to authorize subscriptions to
// private- and presence- channels.
type AuthOptions struct {
	Endpoint string            `json:"endpoint"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Options mirrors the options object the application layer constructs a
// client with. The zero value is completed by ApplyDefaults.
type Options struct {
	Auth              *AuthOptions `json:"auth,omitempty"`
	Cluster           string       `json:"cluster,omitempty"`
	Host              string       `json:"host"`
	Port              int          `json:"port"`
	Encrypted         bool         `json:"encrypted"`
	ActivityTimeoutMs int64        `json:"activityTimeout"`
}

// ApplyDefaults fills unset fields: port 443, activity timeout 30000ms, and
// the conventional cluster host when only a cluster name was given.
func (o *Options) ApplyDefaults() {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.ActivityTimeoutMs == 0 {
		o.ActivityTimeoutMs = DefaultActivityTimeoutMs
	}
	if o.Host == "" && o.Cluster != "" {
		o.Host = fmt.Sprintf("ws-%s.pusher.com", o.Cluster)
	}
}

// Validate reports whether the options are usable. Call after ApplyDefaults.
func (o *Options) Validate() error {
	if o.Host == "" {
		return ErrNoHost
	}
	return nil
}

// ActivityTimeout returns the activity timeout as a duration.
func (o *Options) ActivityTimeout() time.Duration {
	return time.Duration(o.ActivityTimeoutMs) * time.Millisecond
}

// URL builds the websocket endpoint for the given application key.
func (o *Options) URL(appKey string) string {
	scheme := "ws"
	if o.Encrypted {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/app/%s?protocol=%d&client=sockbridge&version=1",
		scheme, o.Host, o.Port, appKey, protocolVersion)
}

// Encode serializes the options for the transport Init call.
func (o *Options) Encode() (string, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("encode options: %w", err)
	}
	return string(raw), nil
}

// Decode parses the serialized options received on the transport side.
func Decode(optionsJSON string) (*Options, error) {
	var o Options
	if err := json.Unmarshal([]byte(optionsJSON), &o); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	return &o, nil
}
