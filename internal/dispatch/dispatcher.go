// Package dispatch consumes the single shared inbound stream and routes each
// envelope to the callbacks of the instance it is addressed to.
//
// One dispatcher serves every live instance: envelopes are resolved against
// the central instance registry instead of every instance re-filtering the
// whole stream for itself.
package dispatch

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/sockbridge/sockbridge/internal/bridge"
	"github.com/sockbridge/sockbridge/internal/envelope"
	"github.com/sockbridge/sockbridge/internal/instance"
)

const queueSize = 256

// Dispatcher runs a single goroutine over the envelope queue. Each envelope
// is fully handled, including the socket-id refresh on state changes, before
// the next one is taken, which preserves per-instance callback ordering.
type Dispatcher struct {
	instances *instance.Registry
	transport bridge.Transport
	logger    *slog.Logger

	queue chan []byte
	done  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func New(instances *instance.Registry, t bridge.Transport, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		instances: instances,
		transport: t,
		logger:    logger,
		queue:     make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
}

// Start launches the dispatch loop. Safe to call once per dispatcher.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

// Stop terminates the dispatch loop. Envelopes still queued are discarded.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
}

// Feed enqueues a serialized envelope from the transport and reports whether
// it was accepted. A full queue drops the envelope; the stream has no
// delivery guarantee beyond arrival order, so dropping beats blocking the
// transport's reader.
func (d *Dispatcher) Feed(raw []byte) bool {
	if raw == nil {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.queue <- raw:
		return true
	default:
		d.logger.Warn("dispatch dropped envelope", "reason", "queue full")
		return false
	}
}

func (d *Dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case raw := <-d.queue:
			d.handle(raw)
		}
	}
}

func (d *Dispatcher) handle(raw []byte) {
	env, err := envelope.Decode(raw)
	if err != nil {
		d.logger.Warn("dispatch dropped envelope", "reason", "undecodable", "err", err)
		return
	}

	id, err := strconv.ParseInt(env.InstanceID, 10, 64)
	if err != nil {
		d.logger.Warn("dispatch dropped envelope", "reason", "bad instance id", "instanceId", env.InstanceID)
		return
	}
	inst, ok := d.instances.Lookup(id)
	if !ok {
		d.logger.Warn("dispatch dropped envelope", "reason", "unknown instance", "instanceId", id)
		return
	}

	switch env.Kind() {
	case envelope.KindEvent:
		d.handleEvent(inst, env.Event)
	case envelope.KindStateChange:
		d.handleStateChange(inst, env.ConnectionStateChange)
	case envelope.KindError:
		d.handleError(inst, env.ConnectionError)
	default:
		d.logger.Debug("dispatch ignored envelope", "reason", "no payload", "instanceId", id)
	}
}

func (d *Dispatcher) handleEvent(inst *instance.Instance, ev *envelope.Event) {
	data, err := ev.DecodeData()
	if err != nil {
		d.logger.Warn("dispatch dropped event",
			"channel", ev.Channel,
			"event", ev.Event,
			"err", err,
		)
		return
	}
	if !inst.Subscriptions().Dispatch(ev.Channel, ev.Event, data) {
		d.logger.Debug("dispatch unbound event",
			"instance", inst.ID(),
			"channel", ev.Channel,
			"event", ev.Event,
		)
	}
}

// handleStateChange refreshes the socket id before invoking the callback,
// and invokes it even when currentState equals previousState.
func (d *Dispatcher) handleStateChange(inst *instance.Instance, sc *envelope.StateChange) {
	socketID, err := d.transport.GetSocketID(inst.ID())
	if err != nil {
		// Best effort: keep the stale id and still deliver the change.
		d.logger.Warn("socket id refresh failed", "instance", inst.ID(), "err", err)
	} else {
		inst.SetSocketID(socketID)
	}

	if cb := inst.StateCallback(); cb != nil {
		cb(sc.CurrentState, sc.PreviousState)
	}
}

func (d *Dispatcher) handleError(inst *instance.Instance, ce *envelope.ConnError) {
	if cb := inst.ErrorCallback(); cb != nil {
		cb(ce.Message, ce.Code, ce.Exception)
	}
}
