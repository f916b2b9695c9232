package instance

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/sockbridge/sockbridge/internal/bridge"
	"github.com/sockbridge/sockbridge/internal/subscription"
)

var ErrUnknownInstance = errors.New("instance: unknown instance id")

// Registry owns the id counter and the table of live instances. One Registry
// exists per manager; ids are monotonically assigned and never reclaimed for
// the lifetime of the process.
type Registry struct {
	counter   atomic.Int64
	instances *xsync.Map[int64, *Instance]
	transport bridge.Transport
	logger    *slog.Logger
}

func NewRegistry(t bridge.Transport, logger *slog.Logger) *Registry {
	return &Registry{
		instances: xsync.NewMap[int64, *Instance](),
		transport: t,
		logger:    logger,
	}
}

// Allocate creates a fresh instance. The first allocation gets id 0, the
// next 1, and so on.
func (r *Registry) Allocate() *Instance {
	id := r.counter.Add(1) - 1
	inst := &Instance{
		id:   id,
		subs: subscription.NewRegistry(),
	}
	r.instances.Store(id, inst)
	r.logger.Debug("instance allocated", "id", id)
	return inst
}

// Lookup resolves an instance by id.
func (r *Registry) Lookup(id int64) (*Instance, bool) {
	return r.instances.Load(id)
}

// Connect records the callbacks for the instance and issues the connect
// request. It does not wait for the connection to complete; completion is
// observed via the dispatcher.
func (r *Registry) Connect(id int64, onState StateCallback, onErr ErrorCallback) error {
	inst, ok := r.instances.Load(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInstance, id)
	}
	inst.SetCallbacks(onState, onErr)
	if err := r.transport.Connect(id); err != nil {
		return fmt.Errorf("connect request: %w", err)
	}
	return nil
}

// Disconnect issues the disconnect request. Callback and binding records are
// deliberately left in place: a later Connect on the same instance reuses
// them.
func (r *Registry) Disconnect(id int64) error {
	if _, ok := r.instances.Load(id); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInstance, id)
	}
	if err := r.transport.Disconnect(id); err != nil {
		return fmt.Errorf("disconnect request: %w", err)
	}
	return nil
}

// Len reports the number of live instances.
func (r *Registry) Len() int {
	return r.instances.Size()
}
