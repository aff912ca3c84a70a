// Package procfs samples host load from /proc for the feed command.
package procfs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/modoterra/pulsebar/pkg/core"
)

// DefaultRoot is where the kernel mounts procfs.
const DefaultRoot = "/proc"

// Provider reads a host sample from a procfs tree.
type Provider struct {
	root   string
	logger *slog.Logger
}

// New creates a provider reading from root, or DefaultRoot when empty.
func New(root string, logger *slog.Logger) *Provider {
	if root == "" {
		root = DefaultRoot
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{root: root, logger: logger}
}

func (p *Provider) Name() string { return "procfs" }

// Collect returns one sample in a fixed order:
//
//	load   1-minute load average ×100
//	run    runnable tasks
//	mem    memory in use, percent
//	procs  process count
func (p *Provider) Collect(_ context.Context) (core.Sample, error) {
	load, running, err := p.loadavg()
	if err != nil {
		return nil, err
	}
	mem, err := p.memUsed()
	if err != nil {
		return nil, err
	}
	procs, err := p.processes()
	if err != nil {
		return nil, err
	}
	return core.Sample{
		{Label: "load", Value: load},
		{Label: "run", Value: running},
		{Label: "mem", Value: mem},
		{Label: "procs", Value: procs},
	}, nil
}

// loadavg parses e.g. "0.42 0.30 0.25 2/611 12345".
func (p *Provider) loadavg() (load, running uint64, err error) {
	data, err := os.ReadFile(filepath.Join(p.root, "loadavg"))
	if err != nil {
		return 0, 0, fmt.Errorf("read loadavg: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 4 {
		return 0, 0, fmt.Errorf("loadavg: unexpected format %q", strings.TrimSpace(string(data)))
	}

	l, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || l < 0 {
		return 0, 0, fmt.Errorf("loadavg: invalid load %q", fields[0])
	}
	run, _, ok := strings.Cut(fields[3], "/")
	if !ok {
		return 0, 0, fmt.Errorf("loadavg: invalid task field %q", fields[3])
	}
	r, err := strconv.ParseUint(run, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("loadavg: invalid task field %q", fields[3])
	}
	return uint64(math.Round(l * 100)), r, nil
}

// memUsed returns (MemTotal - MemAvailable) as a percentage of MemTotal.
func (p *Provider) memUsed() (uint64, error) {
	data, err := os.ReadFile(filepath.Join(p.root, "meminfo"))
	if err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}

	var total, avail uint64
	var haveTotal, haveAvail bool
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		switch key {
		case "MemTotal":
			total, err = strconv.ParseUint(fields[0], 10, 64)
			haveTotal = err == nil
		case "MemAvailable":
			avail, err = strconv.ParseUint(fields[0], 10, 64)
			haveAvail = err == nil
		}
	}
	if !haveTotal || !haveAvail || total == 0 {
		return 0, fmt.Errorf("meminfo: MemTotal or MemAvailable missing")
	}
	if avail > total {
		return 0, nil
	}
	return (total - avail) * 100 / total, nil
}

// processes counts the numeric directories under root.
func (p *Provider) processes() (uint64, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", p.root, err)
	}
	var n uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		n++
	}
	p.logger.Debug("procfs scan", "processes", n)
	return n, nil
}
