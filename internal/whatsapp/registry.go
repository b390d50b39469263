// Package whatsapp is the gateway core: the session registry, the lifecycle
// manager that supervises connections, the pairing coordinator and the
// message relay. Everything else in the server is a thin shell around this
// package.
package whatsapp

import (
	"sync"
	"time"

	"github.com/wagate/gateway-server-go/internal/model"
	"github.com/wagate/gateway-server-go/internal/transport"
)

// Session is one live (or connecting) account attachment. All mutable fields
// are guarded by mu; lifecycle operations for one account serialize on it
// while different accounts proceed independently.
type Session struct {
	accountID      string
	userID         string
	sessionToken   string
	usePairingCode bool

	mu                sync.Mutex
	state             model.SessionStatus
	transport         transport.Transport
	pendingQR         string
	pendingCode       string
	reconnectAttempts int
	codeRequestActive bool
	authTimer         *time.Timer
	reconnectTimer    *time.Timer
}

func newSession(accountID, userID, sessionToken string, usePairingCode bool) *Session {
	return &Session{
		accountID:      accountID,
		userID:         userID,
		sessionToken:   sessionToken,
		usePairingCode: usePairingCode,
		state:          model.SessionStatusConnecting,
	}
}

func (s *Session) snapshot() (model.SessionStatus, string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.pendingQR, s.sessionToken
}

// stopTimersLocked cancels any pending auth timeout and reconnect timer.
// Callers must hold s.mu.
func (s *Session) stopTimersLocked() {
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

// Registry is the single source of truth for which accounts currently have a
// live session. It only guards map membership; per-session state lives behind
// each Session's own mutex so no blocking work ever happens under the
// registry lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Get(accountID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[accountID]
}

// PutIfAbsent claims the slot for the session's account. When another session
// already holds the slot it is returned instead, giving callers the
// at-most-one connection attempt guarantee per account.
func (r *Registry) PutIfAbsent(sess *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[sess.accountID]; ok {
		return existing, false
	}
	r.sessions[sess.accountID] = sess
	return sess, true
}

// Remove clears the slot only when it still holds the given session, so a
// stale timer firing after a destroy-and-recreate cannot evict the successor.
func (r *Registry) Remove(accountID string, sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[accountID] != sess {
		return false
	}
	delete(r.sessions, accountID)
	return true
}

func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
