// Package state holds the live dashboard state shared between the socket
// server and the terminal UI.
//
// Every method is a short critical section under the lock of the field it
// touches. No method performs I/O or blocks beyond lock contention.
package state

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/modoterra/pulsebar/pkg/core"
)

// Scroll is the log viewport position: the first visible log line and the
// last rendered height of the log panel, borders included.
type Scroll struct {
	Offset int
	Height int
}

// Store is the single shared-mutable object of a running server.
type Store struct {
	sampleMu sync.RWMutex
	sample   core.Sample
	updated  time.Time

	logMu sync.RWMutex
	logs  []string

	scrollMu sync.Mutex
	scroll   Scroll

	now func() time.Time
}

// New returns a store holding the default sample, an empty log and a zero
// scroll position.
func New() *Store {
	return &Store{
		sample: core.DefaultSample(),
		now:    time.Now,
	}
}

// SetSample replaces the current sample. The previous one is dropped.
func (s *Store) SetSample(sample core.Sample) {
	cp := sample.Clone()
	s.sampleMu.Lock()
	s.sample = cp
	s.updated = s.now()
	s.sampleMu.Unlock()
}

// Sample returns a copy of the current sample.
func (s *Store) Sample() core.Sample {
	s.sampleMu.RLock()
	defer s.sampleMu.RUnlock()
	return s.sample.Clone()
}

// UpdatedAt returns when the sample was last replaced, or the zero time if
// no client has sent data yet.
func (s *Store) UpdatedAt() time.Time {
	s.sampleMu.RLock()
	defer s.sampleMu.RUnlock()
	return s.updated
}

// AppendLog adds a line to the event log.
func (s *Store) AppendLog(line string) {
	s.logMu.Lock()
	s.logs = append(s.logs, line)
	s.logMu.Unlock()
}

// Logf formats and appends a line to the event log.
func (s *Store) Logf(format string, args ...any) {
	s.AppendLog(fmt.Sprintf(format, args...))
}

// Logs returns a snapshot of the event log and its length.
func (s *Store) Logs() ([]string, int) {
	s.logMu.RLock()
	defer s.logMu.RUnlock()
	return slices.Clone(s.logs), len(s.logs)
}

// LogLen returns the number of event log lines.
func (s *Store) LogLen() int {
	s.logMu.RLock()
	defer s.logMu.RUnlock()
	return len(s.logs)
}

// Scroll returns the current scroll state.
func (s *Store) Scroll() Scroll {
	s.scrollMu.Lock()
	defer s.scrollMu.Unlock()
	return s.scroll
}

// SetScroll overwrites the scroll state. Negative values are floored at 0.
func (s *Store) SetScroll(sc Scroll) {
	s.scrollMu.Lock()
	s.scroll = Scroll{Offset: max(sc.Offset, 0), Height: max(sc.Height, 0)}
	s.scrollMu.Unlock()
}

// ViewportHeight returns the last recorded log panel height.
func (s *Store) ViewportHeight() int {
	s.scrollMu.Lock()
	defer s.scrollMu.Unlock()
	return s.scroll.Height
}

// SetViewportHeight records the log panel height from the last rendered frame.
func (s *Store) SetViewportHeight(h int) {
	s.scrollMu.Lock()
	s.scroll.Height = max(h, 0)
	s.scrollMu.Unlock()
}

// ScrollUp moves the viewport one line up, stopping at the first line.
func (s *Store) ScrollUp() int {
	s.scrollMu.Lock()
	defer s.scrollMu.Unlock()
	if s.scroll.Offset > 0 {
		s.scroll.Offset--
	}
	return s.scroll.Offset
}

// ScrollDown moves the viewport one line down while the last log line is
// not yet visible. It never moves the offset backwards.
func (s *Store) ScrollDown() int {
	n := s.LogLen()
	s.scrollMu.Lock()
	defer s.scrollMu.Unlock()
	if s.scroll.Offset < scrollLimit(n, s.scroll.Height) {
		s.scroll.Offset++
	}
	return s.scroll.Offset
}

// ClampScroll pulls the offset back into [0, max(0, log_len - (height - 2))]
// and returns it.
func (s *Store) ClampScroll() int {
	n := s.LogLen()
	s.scrollMu.Lock()
	defer s.scrollMu.Unlock()
	s.scroll.Offset = min(s.scroll.Offset, max(scrollLimit(n, s.scroll.Height), 0))
	return s.scroll.Offset
}

// scrollLimit is the largest offset that still fills the panel's inner rows.
// Heights below 2 (nothing rendered yet) count as a panel with no inner rows.
func scrollLimit(logLen, height int) int {
	return logLen - (max(height, 2) - 2)
}
