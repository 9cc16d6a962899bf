package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"blindtest/internal/catalog"
	"blindtest/internal/config"
	"blindtest/internal/db"
	"blindtest/internal/scheduler"
)

type fakeStore struct {
	mu          sync.Mutex
	games       map[string]*db.Game
	rounds      map[string][]db.Round
	events      []string
	transitions int
	nextID      int
	failReveal  bool
	failFinish  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		games:  make(map[string]*db.Game),
		rounds: make(map[string][]db.Round),
	}
}

func (s *fakeStore) addGame(id, hostID string, roundCount int, userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	game := &db.Game{
		ID:         id,
		Code:       "CODE" + id,
		Visibility: db.VisibilityPublic,
		HostID:     hostID,
		RoundCount: roundCount,
		MaxPlayers: 8,
		Status:     db.GameWaiting,
	}
	joined := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, userID := range append([]string{hostID}, userIDs...) {
		game.Players = append(game.Players, db.Player{
			ID:       fmt.Sprintf("%s-p%d", id, i),
			GameID:   id,
			UserID:   userID,
			Username: userID,
			JoinedAt: joined.Add(time.Duration(i) * time.Second),
		})
	}
	s.games[id] = game
}

func (s *fakeStore) setStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[id].Status = status
}

func (s *fakeStore) putRound(round db.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[round.GameID] = append(s.rounds[round.GameID], round)
}

func (s *fakeStore) score(gameID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	game, ok := s.games[gameID]
	if !ok {
		return -1
	}
	for _, player := range game.Players {
		if player.UserID == userID {
			return player.Score
		}
	}
	return -1
}

func (s *fakeStore) status(gameID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if game, ok := s.games[gameID]; ok {
		return game.Status
	}
	return ""
}

func (s *fakeStore) roundList(gameID string) []db.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.Round(nil), s.rounds[gameID]...)
}

func (s *fakeStore) GetGame(_ context.Context, id string, include db.Include) (*db.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	game, ok := s.games[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	out := *game
	out.Players = []db.Player{}
	out.Rounds = []db.Round{}
	if include.Players {
		out.Players = append(out.Players, game.Players...)
	}
	if include.Rounds {
		out.Rounds = append(out.Rounds, s.rounds[id]...)
	}
	return &out, nil
}

func (s *fakeStore) UpdateGameStatus(ctx context.Context, id, status string) (*db.Game, error) {
	s.mu.Lock()
	game, ok := s.games[id]
	if !ok {
		s.mu.Unlock()
		return nil, db.ErrNotFound
	}
	if status == db.GameFinished && s.failFinish {
		s.mu.Unlock()
		return nil, errors.New("write failed")
	}
	if game.Status == db.GameFinished && status != db.GameFinished {
		s.mu.Unlock()
		return nil, db.ErrInvalidTransition
	}
	game.Status = status
	s.mu.Unlock()
	return s.GetGame(ctx, id, db.Include{Players: true})
}

func (s *fakeStore) TransitionGameStatus(_ context.Context, id, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	game, ok := s.games[id]
	if !ok || game.Status != from {
		return false, nil
	}
	game.Status = to
	s.transitions++
	return true, nil
}

func (s *fakeStore) DeleteGame(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[id]; !ok {
		return db.ErrNotFound
	}
	delete(s.games, id)
	delete(s.rounds, id)
	return nil
}

func (s *fakeStore) RemovePlayer(_ context.Context, gameID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	game, ok := s.games[gameID]
	if !ok {
		return db.ErrNotFound
	}
	for i, player := range game.Players {
		if player.UserID == userID {
			game.Players = append(game.Players[:i], game.Players[i+1:]...)
			return nil
		}
	}
	return db.ErrNotFound
}

func (s *fakeStore) CountPlayers(_ context.Context, gameID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	game, ok := s.games[gameID]
	if !ok {
		return 0, nil
	}
	return len(game.Players), nil
}

func (s *fakeStore) IncrementScore(_ context.Context, gameID, userID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	game, ok := s.games[gameID]
	if !ok {
		return db.ErrNotFound
	}
	for i := range game.Players {
		if game.Players[i].UserID == userID {
			game.Players[i].Score += delta
			return nil
		}
	}
	return db.ErrNotFound
}

func (s *fakeStore) CreateRound(_ context.Context, gameID string, index int, meta db.RoundMetadata) (*db.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rounds[gameID] {
		if existing.Index == index {
			return nil, db.ErrDuplicate
		}
	}
	s.nextID++
	round := db.Round{
		ID:            fmt.Sprintf("round-%d", s.nextID),
		GameID:        gameID,
		Index:         index,
		ThemeID:       meta.ThemeID,
		SongTitle:     meta.SongTitle,
		Artist:        meta.Artist,
		PreviewURL:    meta.PreviewURL,
		CoverURL:      meta.CoverURL,
		ExternalURL:   meta.ExternalURL,
		Status:        db.RoundStarted,
		AnswerSeconds: meta.AnswerSeconds,
		StartsAt:      meta.StartsAt,
	}
	s.rounds[gameID] = append(s.rounds[gameID], round)
	return &round, nil
}

func (s *fakeStore) UpdateRoundStatus(_ context.Context, id, status string, endedAt *time.Time) (*db.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReveal && status == db.RoundRevealed {
		return nil, errors.New("write failed")
	}
	for gameID, rounds := range s.rounds {
		for i := range rounds {
			if rounds[i].ID != id {
				continue
			}
			if !db.CanTransition(rounds[i].Status, status) {
				return nil, db.ErrInvalidTransition
			}
			rounds[i].Status = status
			rounds[i].EndsAt = endedAt
			s.rounds[gameID] = rounds
			out := rounds[i]
			return &out, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *fakeStore) ListRounds(_ context.Context, gameID string) ([]db.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.Round{}, s.rounds[gameID]...), nil
}

func (s *fakeStore) RecordEvent(_ context.Context, gameID string, _ *string, eventType string, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, gameID+":"+eventType)
	return nil
}

type fakeCatalog struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (c *fakeCatalog) FetchRandomTrack(_ context.Context, themeID string) (catalog.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, themeID)
	if c.err != nil {
		return catalog.Track{}, c.err
	}
	return catalog.Track{
		Title:       "Blinding Lights",
		Artist:      "The Weeknd",
		PreviewURL:  "https://cdn/preview-" + themeID + ".mp3",
		CoverURL:    "https://cdn/cover.jpg",
		ExternalURL: "https://deezer/track/1",
	}, nil
}

func (c *fakeCatalog) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

type sent struct {
	gameID  string
	event   string
	payload any
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) Broadcast(gameID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{gameID: gameID, event: event, payload: payload})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.sent))
	for _, item := range r.sent {
		names = append(names, item.event)
	}
	return names
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.sent {
		if item.event == event {
			n++
		}
	}
	return n
}

func (r *recorder) last(event string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].event == event {
			return r.sent[i].payload, true
		}
	}
	return nil, false
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

type harness struct {
	ctrl    *Controller
	store   *fakeStore
	catalog *fakeCatalog
	out     *recorder
	timers  *scheduler.Manual
	now     time.Time
}

var testThemes = []config.Theme{
	{ID: "A", Name: "Theme A"},
	{ID: "B", Name: "Theme B"},
	{ID: "C", Name: "Theme C"},
}

const testSeed = 42

func newHarness(t *testing.T, redact bool) *harness {
	t.Helper()
	h := &harness{
		store:   newFakeStore(),
		catalog: &fakeCatalog{},
		out:     &recorder{},
		timers:  scheduler.NewManual(),
		now:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.ctrl = New(h.store, h.catalog, h.out, h.timers, Options{
		Themes:       testThemes,
		VoteWindow:   10 * time.Second,
		AnswerWindow: 30 * time.Second,
		RevealPause:  10 * time.Second,
		Redact:       redact,
		Rand:         rand.New(rand.NewPCG(testSeed, testSeed)),
		Now:          func() time.Time { return h.now },
	})
	return h
}

func (h *harness) fire(t *testing.T, gameID string, kind scheduler.Kind) {
	t.Helper()
	if !h.timers.Fire(scheduler.Key{GameID: gameID, Kind: kind}) {
		t.Fatalf("expected a pending %s timer for %s", kind, gameID)
	}
}

func (h *harness) pending(gameID string, kind scheduler.Kind) bool {
	return h.timers.Pending(scheduler.Key{GameID: gameID, Kind: kind})
}
