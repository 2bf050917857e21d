// Menu consistency tracking.
//
// Every interactive payload the composer emits is one "menu instance" with
// its own opaque id. The tracker remembers, per instance, which option the
// user chose first and whether the one-time "topic changed" notice has
// already been sent, plus the most recent interactive payload per
// conversation so it can be resent verbatim alongside the notice.
//
// The first choice of a session is immutable; only the notice flag changes
// afterwards. Sessions are evicted after a retention horizon so the maps do
// not grow without bound across long uptimes.
package services

import (
	"sync"
	"time"

	"github.com/tbourn/go-whatsapp-connector/internal/domain"
)

// MenuSession is the recorded state of one interactive menu instance.
type MenuSession struct {
	Payload       domain.SendPayload // snapshot for verbatim resend
	FirstActionID string
	FirstLabel    string
	FirstChosenAt time.Time
	NoticeSent    bool

	createdAt time.Time
}

// MenuTracker stores menu sessions keyed by menu id and the last
// interactive payload per conversation. It is safe for concurrent use.
type MenuTracker struct {
	retention time.Duration

	// Now is the clock; tests override it.
	Now func() time.Time

	mu       sync.Mutex
	sessions map[string]*MenuSession
	lastMenu map[string]domain.SendPayload // conversation key -> payload
}

// NewMenuTracker builds a tracker evicting sessions idle longer than
// retention.
func NewMenuTracker(retention time.Duration) *MenuTracker {
	return &MenuTracker{
		retention: retention,
		Now:       time.Now,
		sessions:  make(map[string]*MenuSession),
		lastMenu:  make(map[string]domain.SendPayload),
	}
}

// CreateSession registers a freshly sent menu payload under menuID.
func (t *MenuTracker) CreateSession(menuID string, payload domain.SendPayload) {
	now := t.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked(now)
	t.sessions[menuID] = &MenuSession{Payload: payload, createdAt: now}
}

// Session returns a copy of the session for menuID, or false when the menu
// is unknown (expired, evicted, or never registered).
func (t *MenuTracker) Session(menuID string) (MenuSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[menuID]
	if !ok {
		return MenuSession{}, false
	}
	return *s, true
}

// RecordFirstChoice stores the first accepted option of a menu. It is a
// no-op when a first choice already exists: the first choice is immutable.
// It reports whether this call recorded the choice.
func (t *MenuTracker) RecordFirstChoice(menuID, actionID, label string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[menuID]
	if !ok {
		// Menu unknown to this process; start a session so repeated taps on
		// the same stale menu are still collapsed.
		s = &MenuSession{createdAt: t.Now()}
		t.sessions[menuID] = s
	}
	if s.FirstActionID != "" {
		return false
	}
	s.FirstActionID = actionID
	s.FirstLabel = label
	s.FirstChosenAt = t.Now()
	return true
}

// MarkNoticeSent flips the one-shot notice flag for menuID.
func (t *MenuTracker) MarkNoticeSent(menuID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[menuID]; ok {
		s.NoticeSent = true
	}
}

// RememberLastMenu overwrites the most recent interactive payload sent to a
// conversation.
func (t *MenuTracker) RememberLastMenu(conversationKey string, payload domain.SendPayload) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastMenu[conversationKey] = payload
}

// LastMenu returns the most recent interactive payload sent to a
// conversation, or false when none was recorded.
func (t *MenuTracker) LastMenu(conversationKey string) (domain.SendPayload, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.lastMenu[conversationKey]
	return p, ok
}

// evictLocked drops sessions older than the retention horizon. Caller holds
// t.mu. Last-menu entries are kept: one payload per active conversation is
// already bounded and is overwritten on every interactive send.
func (t *MenuTracker) evictLocked(now time.Time) {
	if t.retention <= 0 {
		return
	}
	cutoff := now.Add(-t.retention)
	for id, s := range t.sessions {
		if s.createdAt.Before(cutoff) {
			delete(t.sessions, id)
		}
	}
}
