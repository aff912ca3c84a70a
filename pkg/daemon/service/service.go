// Package service manages the pulsebard systemd user units.
package service

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"
)

const (
	serviceName = "pulsebard.service"
	socketName  = "pulsebard.socket"
)

// UnitContents returns the service unit for the given binary path.
func UnitContents(binaryPath string) string {
	return serialize([]*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "pulsebar telemetry server"),
		unit.NewUnitOption("Unit", "Requires", socketName),
		unit.NewUnitOption("Unit", "After", socketName),
		unit.NewUnitOption("Service", "Type", "notify"),
		unit.NewUnitOption("Service", "ExecStart", binaryPath),
		unit.NewUnitOption("Service", "Restart", "on-failure"),
		unit.NewUnitOption("Service", "RestartSec", "5"),
		unit.NewUnitOption("Install", "WantedBy", "default.target"),
	})
}

// SocketContents returns the socket unit that listens on socketPath and
// hands the listener to the service.
func SocketContents(socketPath string) string {
	return serialize([]*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "pulsebar telemetry socket"),
		unit.NewUnitOption("Socket", "ListenStream", socketPath),
		unit.NewUnitOption("Socket", "SocketMode", "0600"),
		unit.NewUnitOption("Socket", "RemoveOnStop", "yes"),
		unit.NewUnitOption("Install", "WantedBy", "sockets.target"),
	})
}

func serialize(opts []*unit.UnitOption) string {
	b, err := io.ReadAll(unit.Serialize(opts))
	if err != nil {
		// Serialize reads from an in-memory buffer
		panic(err)
	}
	return string(b)
}

// UnitDir returns the systemd user unit directory.
func UnitDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user"), nil
}

// UnitPath returns the path to the service unit file.
func UnitPath() (string, error) {
	dir, err := UnitDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, serviceName), nil
}

// SocketPath returns the path to the socket unit file.
func SocketPath() (string, error) {
	dir, err := UnitDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, socketName), nil
}

// WriteUnits writes both unit files for binaryPath and socketPath.
func WriteUnits(binaryPath, socketPath string) error {
	servicePath, err := UnitPath()
	if err != nil {
		return err
	}
	sockUnitPath, err := SocketPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(servicePath), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	if err := os.WriteFile(servicePath, []byte(UnitContents(binaryPath)), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}
	if err := os.WriteFile(sockUnitPath, []byte(SocketContents(socketPath)), 0o644); err != nil {
		return fmt.Errorf("cannot write socket unit file: %w", err)
	}
	return nil
}

// Install writes the unit files, reloads systemd, and enables+starts the socket.
func Install(socketPath string) error {
	binaryPath, err := exec.LookPath("pulsebard")
	if err != nil {
		return fmt.Errorf("pulsebard not found in PATH: %w", err)
	}
	binaryPath, err = filepath.Abs(binaryPath)
	if err != nil {
		return fmt.Errorf("cannot resolve pulsebard path: %w", err)
	}

	if err := WriteUnits(binaryPath, socketPath); err != nil {
		return err
	}

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", socketName)
}

// Uninstall stops+disables the units, removes the unit files, and reloads systemd.
func Uninstall() error {
	// Best-effort stop and disable; ignore errors if not running.
	_ = systemctl("stop", socketName, serviceName)
	_ = systemctl("disable", socketName, serviceName)

	for _, pathFn := range []func() (string, error){UnitPath, SocketPath} {
		p, err := pathFn()
		if err != nil {
			return err
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cannot remove unit file: %w", err)
		}
	}

	return systemctl("daemon-reload")
}

// Status returns a human-readable status string.
func Status(socketPath string) string {
	var lines []string

	if info, err := os.Stat(socketPath); err == nil && info.Mode().Type() == os.ModeSocket {
		lines = append(lines, "socket: active ("+socketPath+")")
	} else {
		lines = append(lines, "socket: inactive ("+socketPath+")")
	}

	unitPath, err := UnitPath()
	if err == nil {
		if _, statErr := os.Stat(unitPath); statErr == nil {
			out, runErr := exec.Command("systemctl", "--user", "is-active", socketName).Output()
			state := strings.TrimSpace(string(out))
			if runErr != nil && state == "" {
				state = "unknown"
			}
			lines = append(lines, "systemd user socket: "+state)
		} else {
			lines = append(lines, "systemd user service: not installed")
		}
	}

	return strings.Join(lines, "\n")
}

func systemctl(args ...string) error {
	cmd := exec.Command("systemctl", append([]string{"--user"}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl --user %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
