package bridge

// Transport is implemented by the native side (Swift/Kotlin) channel SDK.
// gomobile exposes this as an interface that native code can satisfy.
//
// Rules for gomobile compatibility:
//   - methods may only use primitive types, strings, []byte, or other
//     gomobile-bound types as parameters and return values
//   - no variadic parameters
//   - errors are returned as a second return value
//
// Every method is a request: a nil error means the transport accepted it,
// not that the logical effect (connected, subscribed, ...) has happened.
// Effects are observed later on the shared inbound envelope stream.
type Transport interface {
	// Init registers a client instance with the transport. optionsJSON is
	// the serialized connection options (host, port, auth endpoint, ...).
	Init(instanceID int64, appKey string, optionsJSON string, loggingEnabled bool) error

	// Connect asks the transport to establish the connection for the
	// instance. Completion arrives as a connection-state-change envelope.
	Connect(instanceID int64) error

	// Disconnect asks the transport to tear the connection down. The
	// transport reconciles this with any in-flight connect.
	Disconnect(instanceID int64) error

	// Subscribe and Unsubscribe manage channel membership.
	Subscribe(instanceID int64, channelName string) error
	Unsubscribe(instanceID int64, channelName string) error

	// Bind and Unbind tell the transport which channel events to forward
	// on the inbound stream.
	Bind(instanceID int64, channelName string, eventName string) error
	Unbind(instanceID int64, channelName string, eventName string) error

	// Trigger sends a client event. data is the JSON-encoded payload.
	Trigger(instanceID int64, channelName string, eventName string, data string) error

	// GetSocketID returns the current socket identifier for the instance,
	// or an empty string before the first successful connection.
	GetSocketID(instanceID int64) (string, error)
}
