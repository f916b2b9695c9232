// Package instance manages the live client instances multiplexed over the
// shared transport: id allocation, per-instance callback records, and the
// cached socket identifier.
package instance

import (
	"sync"

	"github.com/sockbridge/sockbridge/internal/subscription"
)

// StateCallback observes connection state transitions for one instance.
type StateCallback func(currentState, previousState string)

// ErrorCallback observes transport-reported connection errors for one
// instance. The strings are forwarded uninterpreted.
type ErrorCallback func(message, code, exception string)

// Instance is the record for one live client. Callback fields are written
// from the application side and read from the dispatch loop, so access goes
// through the mutex.
type Instance struct {
	mu sync.Mutex

	id       int64
	socketID string

	onStateChange StateCallback
	onError       ErrorCallback

	subs *subscription.Registry
}

// ID returns the instance identifier. Ids are 0-based and never reused.
func (i *Instance) ID() int64 {
	return i.id
}

// SocketID returns the last socket identifier fetched from the transport,
// or an empty string before the first connection established.
func (i *Instance) SocketID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.socketID
}

// SetSocketID stores a freshly fetched socket identifier.
func (i *Instance) SetSocketID(socketID string) {
	i.mu.Lock()
	i.socketID = socketID
	i.mu.Unlock()
}

// Subscriptions returns the instance's callback registry.
func (i *Instance) Subscriptions() *subscription.Registry {
	return i.subs
}

// SetCallbacks records the connection-state and error callbacks. Either may
// be nil; a nil callback simply drops the corresponding envelopes.
func (i *Instance) SetCallbacks(onState StateCallback, onErr ErrorCallback) {
	i.mu.Lock()
	i.onStateChange = onState
	i.onError = onErr
	i.mu.Unlock()
}

// StateCallback returns the registered connection-state callback, if any.
func (i *Instance) StateCallback() StateCallback {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.onStateChange
}

// ErrorCallback returns the registered error callback, if any.
func (i *Instance) ErrorCallback() ErrorCallback {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.onError
}
