// Package client is the application-facing half of the binding: clients,
// channel handles, and the manager that owns the plumbing they multiplex
// over.
package client

import (
	"fmt"
	"log/slog"

	"github.com/sockbridge/sockbridge/internal/bridge"
	"github.com/sockbridge/sockbridge/internal/config"
	"github.com/sockbridge/sockbridge/internal/dispatch"
	"github.com/sockbridge/sockbridge/internal/instance"
)

// Manager owns the shared pieces every client multiplexes over: the instance
// registry, the central dispatcher, and the transport. One manager exists
// per process under normal use.
type Manager struct {
	transport  bridge.Transport
	instances  *instance.Registry
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func NewManager(t bridge.Transport, logger *slog.Logger) *Manager {
	instances := instance.NewRegistry(t, logger)
	dispatcher := dispatch.New(instances, t, logger)
	dispatcher.Start()
	return &Manager{
		transport:  t,
		instances:  instances,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Feed ingests one serialized envelope from the shared inbound stream. The
// native side calls this for every stream entry.
func (m *Manager) Feed(raw []byte) bool {
	return m.dispatcher.Feed(raw)
}

// Close stops the dispatch loop. Clients created from this manager stop
// receiving callbacks.
func (m *Manager) Close() {
	m.dispatcher.Stop()
}

// NewClient allocates an instance, registers it with the transport, and
// returns the client. With lazyConnect false the connect request is issued
// before returning; the connection itself still completes asynchronously.
func (m *Manager) NewClient(
	appKey string,
	opts *config.Options,
	lazyConnect bool,
	enableLogging bool,
	onError instance.ErrorCallback,
	onStateChange instance.StateCallback,
) (*Client, error) {
	if opts == nil {
		opts = &config.Options{}
	}
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	optionsJSON, err := opts.Encode()
	if err != nil {
		return nil, err
	}

	inst := m.instances.Allocate()
	if err := m.transport.Init(inst.ID(), appKey, optionsJSON, enableLogging); err != nil {
		return nil, fmt.Errorf("init instance %d: %w", inst.ID(), err)
	}

	logger := m.logger
	if !enableLogging {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Client{
		appKey:        appKey,
		inst:          inst,
		instances:     m.instances,
		transport:     m.transport,
		logger:        logger.With("instance", inst.ID()),
		onStateChange: onStateChange,
		onError:       onError,
	}

	if !lazyConnect {
		if err := c.Connect(); err != nil {
			return nil, err
		}
	}
	return c, nil
}
