// Package room holds the in-memory state of active games.
package room

import (
	"errors"
	"sync"
	"sync/atomic"
)

var ErrNotFound = errors.New("room not found")

type entry struct {
	mu      sync.Mutex
	state   *State
	removed atomic.Bool
}

// Table owns every active room. Each room has its own lock so rooms
// progress independently.
type Table struct {
	mu    sync.Mutex
	rooms map[string]*entry
}

func NewTable() *Table {
	return &Table{rooms: make(map[string]*entry)}
}

func (t *Table) lookup(gameID string) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.rooms[gameID]
	return e, ok
}

// Get returns a copy of the room's current state.
func (t *Table) Get(gameID string) (View, bool) {
	e, ok := t.lookup(gameID)
	if !ok {
		return View{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed.Load() {
		return View{}, false
	}
	return e.state.View(), true
}

// GetOrInit installs seed() when no room exists for gameID. It reports
// whether seed was used. seed runs under the table lock and must not
// block.
func (t *Table) GetOrInit(gameID string, seed func() *State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rooms[gameID]; ok {
		return false
	}
	state := seed()
	if state == nil {
		state = NewState(gameID)
	}
	state.GameID = gameID
	t.rooms[gameID] = &entry{state: state}
	return true
}

// Set replaces the room's state.
func (t *Table) Set(gameID string, state *State) {
	state.GameID = gameID
	t.mu.Lock()
	e, ok := t.rooms[gameID]
	if !ok {
		t.rooms[gameID] = &entry{state: state}
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

// Remove discards the room. It may be called from inside Update.
func (t *Table) Remove(gameID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.rooms[gameID]; ok {
		e.removed.Store(true)
		delete(t.rooms, gameID)
	}
}

// Update runs fn with exclusive access to the room's state.
func (t *Table) Update(gameID string, fn func(state *State) error) error {
	e, ok := t.lookup(gameID)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed.Load() {
		return ErrNotFound
	}
	return fn(e.state)
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}
