// Package subscription holds the per-client routing table from
// (channel, event) pairs to application callbacks.
package subscription

import (
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
)

// ClientEventPrefix is required on client-originated event names by
// transport convention.
const ClientEventPrefix = "client-"

// Callback receives the fully decoded event payload.
type Callback func(data any)

// Registry maps channel+event keys to a single callback each. Binding the
// same key twice silently replaces the earlier callback (last write wins),
// and dispatching to an unbound key is a silent no-op.
type Registry struct {
	callbacks *xsync.Map[string, Callback]
}

func NewRegistry() *Registry {
	return &Registry{
		callbacks: xsync.NewMap[string, Callback](),
	}
}

// key is the concatenation of channel and event name. Collisions between
// e.g. ("ab","c") and ("a","bc") are accepted for wire compatibility with
// the original binding.
func key(channelName, eventName string) string {
	return channelName + eventName
}

// Bind stores the callback for the given channel and event, replacing any
// prior registration for the same key.
func (r *Registry) Bind(channelName, eventName string, cb Callback) {
	r.callbacks.Store(key(channelName, eventName), cb)
}

// Unbind removes the registration if present.
func (r *Registry) Unbind(channelName, eventName string) {
	r.callbacks.Delete(key(channelName, eventName))
}

// Dispatch invokes the callback bound to the channel and event, if any, and
// reports whether one was invoked.
func (r *Registry) Dispatch(channelName, eventName string, data any) bool {
	cb, ok := r.callbacks.Load(key(channelName, eventName))
	if !ok || cb == nil {
		return false
	}
	cb(data)
	return true
}

// Len reports the number of live registrations.
func (r *Registry) Len() int {
	return r.callbacks.Size()
}

// NormalizeClientEvent prepends the client- prefix unless the name already
// carries it. The check is an exact, case-sensitive prefix match:
// "Client-foo" becomes "client-Client-foo".
func NormalizeClientEvent(eventName string) string {
	if strings.HasPrefix(eventName, ClientEventPrefix) {
		return eventName
	}
	return ClientEventPrefix + eventName
}
