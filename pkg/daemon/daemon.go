package daemon

import (
	"context"
	"log/slog"

	"github.com/modoterra/pulsebar/pkg/state"
	"github.com/modoterra/pulsebar/pkg/transport/uds"
)

// Options configures a Daemon.
type Options struct {
	SocketPath string
	ReadBuffer int
	// Activation lets an inherited systemd socket take the place of binding
	// SocketPath.
	Activation bool
}

// Daemon owns the socket server and the live state it writes into.
type Daemon struct {
	server *uds.Server
	store  *state.Store
	opts   Options
	logger *slog.Logger
}

// New creates a daemon that feeds the given store.
func New(opts Options, store *state.Store, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	srv := uds.NewServer(opts.SocketPath, store, logger)
	srv.SetReadBuffer(opts.ReadBuffer)
	return &Daemon{
		server: srv,
		store:  store,
		opts:   opts,
		logger: logger,
	}
}

// Listen binds the server socket, or adopts a socket passed in by systemd
// when activation is enabled and one is present. Errors are fatal to startup.
func (d *Daemon) Listen() error {
	if d.opts.Activation {
		ln, err := activationListener()
		if err != nil {
			return err
		}
		if ln != nil {
			d.server.UseListener(ln)
			return nil
		}
	}
	return d.server.Listen()
}

// Run serves connections and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	notify(d.logger, stateReady)
	defer notify(d.logger, stateStopping)

	d.store.Logf("listening on %s", d.server.SocketPath())
	return d.server.Serve(ctx)
}

// Shutdown closes the listener and all client connections.
func (d *Daemon) Shutdown() {
	d.server.Shutdown()
}

// Store returns the live state written by connection handlers.
func (d *Daemon) Store() *state.Store {
	return d.store
}

// Server returns the underlying UDS server.
func (d *Daemon) Server() *uds.Server {
	return d.server
}
