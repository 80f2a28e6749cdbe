package session

import (
	"sort"
	"sync"

	"github.com/narrowin/networka-sub002/internal/logging"
)

// Pool is a thread-safe keyed store of live device sessions. It lets
// sequential callers reuse connections across calls; the parallel fan-out
// engine never consults it, because fan-out workers open and close their
// own sessions.
//
// The single mutex guards map access only. No I/O happens while holding it.
type Pool struct {
	mu       sync.Mutex
	sessions map[string]Session
	logger   *logging.Logger
}

// NewPool creates an empty session pool.
func NewPool(logger *logging.Logger) *Pool {
	return &Pool{
		sessions: make(map[string]Session),
		logger:   logger,
	}
}

// Get returns the pooled session for a device, if any.
func (p *Pool) Get(name string) (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[name]
	return s, ok
}

// Set stores a session under the device name, replacing any previous one.
// The previous session, if different, is returned so the caller can close it.
func (p *Pool) Set(name string, s Session) Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.sessions[name]
	p.sessions[name] = s
	if prev == s {
		return nil
	}
	return prev
}

// Remove deletes and returns the session for a device.
func (p *Pool) Remove(name string) (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[name]
	if ok {
		delete(p.sessions, name)
	}
	return s, ok
}

// Contains reports whether a session is pooled for the device.
func (p *Pool) Contains(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[name]
	return ok
}

// Len returns the number of pooled sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Names returns the pooled device names in sorted order.
func (p *Pool) Names() []string {
	p.mu.Lock()
	names := make([]string, 0, len(p.sessions))
	for name := range p.sessions {
		names = append(names, name)
	}
	p.mu.Unlock()

	sort.Strings(names)
	return names
}

// Clear drops all sessions without disconnecting them.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = make(map[string]Session)
}

// CloseAll disconnects every pooled session and clears the pool. It iterates
// a snapshot of the map and calls Disconnect outside the lock, so a slow or
// failing disconnect never blocks pool bookkeeping. Disconnect failures are
// collected into a single warning; the pool is cleared regardless.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	snapshot := make(map[string]Session, len(p.sessions))
	for name, s := range p.sessions {
		snapshot[name] = s
	}
	p.sessions = make(map[string]Session)
	p.mu.Unlock()

	var failed []string
	for name, s := range snapshot {
		if err := s.Disconnect(); err != nil {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		if p.logger != nil {
			p.logger.LogPoolCloseFailures(failed)
		}
	}
}
