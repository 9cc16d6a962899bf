package scheduler

import "time"

// Manual records scheduled callbacks without running them. Fire runs one on
// the caller's goroutine. Used to drive game flows deterministically.
type Manual struct {
	book
}

func NewManual() *Manual {
	return &Manual{book: book{pending: make(map[Key]*pending)}}
}

func (m *Manual) Schedule(key Key, after time.Duration, fn func(Token)) Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, _ := m.replace(key, after, fn)
	return entry.token
}

func (m *Manual) Cancel(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel(key)
}

func (m *Manual) CancelGame(gameID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelGame(gameID)
}

// Fire runs the callback pending for key. It reports false when nothing is
// pending.
func (m *Manual) Fire(key Key) bool {
	m.mu.Lock()
	entry, ok := m.pending[key]
	m.mu.Unlock()
	if !ok {
		return false
	}
	entry.fn(entry.token)
	return true
}

// After reports the delay the pending callback for key was scheduled with.
func (m *Manual) After(key Key) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.pending[key]
	if !ok {
		return 0, false
	}
	return entry.after, true
}

// Token reports the token of the callback pending for key.
func (m *Manual) Token(key Key) (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.pending[key]
	if !ok {
		return 0, false
	}
	return entry.token, true
}

// Callback returns the pending callback for key so tests can replay it
// after it has been cancelled.
func (m *Manual) Callback(key Key) (func(Token), Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.pending[key]
	if !ok {
		return nil, 0, false
	}
	return entry.fn, entry.token, true
}
