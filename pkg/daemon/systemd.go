package daemon

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/coreos/go-systemd/v22/activation"
	sddaemon "github.com/coreos/go-systemd/v22/daemon"
)

const (
	stateReady    = sddaemon.SdNotifyReady
	stateStopping = sddaemon.SdNotifyStopping
)

// activationListener returns the first stream socket passed in by systemd,
// or nil when the process was not socket-activated.
func activationListener() (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("socket activation: %w", err)
	}
	var found net.Listener
	for _, ln := range listeners {
		switch {
		case ln == nil:
		case found == nil:
			found = ln
		default:
			ln.Close()
		}
	}
	return found, nil
}

// notify reports a state change to the service manager. Outside systemd it
// is a no-op.
func notify(logger *slog.Logger, state string) {
	sent, err := sddaemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("sd_notify failed", "state", state, "err", err)
		return
	}
	if sent {
		logger.Debug("sd_notify sent", "state", state)
	}
}
