// Package scheduler runs delayed callbacks keyed by (game, kind). Scheduling
// a key replaces whatever was pending for it, so each key has at most one
// live callback.
package scheduler

import (
	"sync"
	"time"
)

type Kind string

const (
	KindVote   Kind = "vote"
	KindReveal Kind = "reveal"
	KindPause  Kind = "pause"
)

type Key struct {
	GameID string
	Kind   Kind
}

// Token identifies one scheduled callback. A callback must Claim its token
// before acting; a token replaced or cancelled in the meantime is refused.
type Token uint64

type pending struct {
	token Token
	after time.Duration
	fn    func(Token)
	timer *time.Timer
}

type book struct {
	mu      sync.Mutex
	next    Token
	pending map[Key]*pending
}

// replace installs a new entry for key and returns the one it displaced.
func (b *book) replace(key Key, after time.Duration, fn func(Token)) (*pending, *pending) {
	b.next++
	entry := &pending{token: b.next, after: after, fn: fn}
	prior := b.pending[key]
	b.pending[key] = entry
	return entry, prior
}

func (b *book) Claim(key Key, token Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.pending[key]
	if !ok || entry.token != token {
		return false
	}
	delete(b.pending, key)
	return true
}

func (b *book) Pending(key Key) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[key]
	return ok
}

func (b *book) cancel(key Key) *pending {
	entry, ok := b.pending[key]
	if !ok {
		return nil
	}
	delete(b.pending, key)
	return entry
}

func (b *book) cancelGame(gameID string) []*pending {
	cancelled := make([]*pending, 0)
	for key, entry := range b.pending {
		if key.GameID == gameID {
			delete(b.pending, key)
			cancelled = append(cancelled, entry)
		}
	}
	return cancelled
}

// Timers fires callbacks on wall-clock timers.
type Timers struct {
	book
}

func New() *Timers {
	return &Timers{book: book{pending: make(map[Key]*pending)}}
}

// Schedule cancels any callback pending for key and arranges for fn to run
// after the given delay.
func (s *Timers) Schedule(key Key, after time.Duration, fn func(Token)) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, prior := s.replace(key, after, fn)
	if prior != nil && prior.timer != nil {
		prior.timer.Stop()
	}
	token := entry.token
	entry.timer = time.AfterFunc(after, func() { fn(token) })
	return token
}

func (s *Timers) Cancel(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry := s.cancel(key); entry != nil && entry.timer != nil {
		entry.timer.Stop()
	}
}

func (s *Timers) CancelGame(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.cancelGame(gameID) {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
}

// Stop cancels every pending callback.
func (s *Timers) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.pending {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(s.pending, key)
	}
}
