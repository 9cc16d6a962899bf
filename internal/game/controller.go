// Package game drives the round lifecycle of every active game: theme
// voting, playback, reveal and the final ranking.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"blindtest/internal/catalog"
	"blindtest/internal/config"
	"blindtest/internal/db"
	"blindtest/internal/room"
	"blindtest/internal/scheduler"

	"github.com/rs/zerolog/log"
)

// defaultRetryDelay spaces retries of a reveal or finish whose durable
// write failed.
const defaultRetryDelay = 5 * time.Second

var (
	ErrNotHost      = errors.New("only the host can do that")
	ErrGameFinished = errors.New("game is finished")
	ErrGameNotFound = fmt.Errorf("game not found: %w", db.ErrNotFound)
)

// Store is the durable store the controller reads and writes.
type Store interface {
	GetGame(ctx context.Context, id string, include db.Include) (*db.Game, error)
	UpdateGameStatus(ctx context.Context, id, status string) (*db.Game, error)
	TransitionGameStatus(ctx context.Context, id, from, to string) (bool, error)
	DeleteGame(ctx context.Context, id string) error
	RemovePlayer(ctx context.Context, gameID, userID string) error
	CountPlayers(ctx context.Context, gameID string) (int, error)
	IncrementScore(ctx context.Context, gameID, userID string, delta int) error
	CreateRound(ctx context.Context, gameID string, index int, meta db.RoundMetadata) (*db.Round, error)
	UpdateRoundStatus(ctx context.Context, id, status string, endedAt *time.Time) (*db.Round, error)
	ListRounds(ctx context.Context, gameID string) ([]db.Round, error)
	RecordEvent(ctx context.Context, gameID string, roundID *string, eventType string, payload any) error
}

type Catalog interface {
	FetchRandomTrack(ctx context.Context, themeID string) (catalog.Track, error)
}

// Broadcaster delivers an event to every connection bound to a game.
type Broadcaster interface {
	Broadcast(gameID, event string, payload any)
}

type Timers interface {
	Schedule(key scheduler.Key, after time.Duration, fn func(scheduler.Token)) scheduler.Token
	Cancel(key scheduler.Key)
	CancelGame(gameID string)
	Claim(key scheduler.Key, token scheduler.Token) bool
}

type Options struct {
	Themes       []config.Theme
	VoteWindow   time.Duration
	AnswerWindow time.Duration
	RevealPause  time.Duration
	RetryDelay   time.Duration
	Redact       bool
	Rand         *rand.Rand
	Now          func() time.Time
}

// OptionsFromConfig maps runtime configuration onto controller options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Themes:       cfg.Themes,
		VoteWindow:   cfg.VoteWindow(),
		AnswerWindow: cfg.AnswerWindow(),
		RevealPause:  cfg.RevealPause(),
		Redact:       cfg.RedactUnrevealed,
	}
}

type Controller struct {
	store   Store
	catalog Catalog
	out     Broadcaster
	timers  Timers
	rooms   *room.Table

	themes   []config.Theme
	themeIDs map[string]struct{}
	opts     Options

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(store Store, tracks Catalog, out Broadcaster, timers Timers, opts Options) *Controller {
	if len(opts.Themes) == 0 {
		opts.Themes = config.DefaultThemes()
	}
	if opts.VoteWindow <= 0 {
		opts.VoteWindow = 10 * time.Second
	}
	if opts.AnswerWindow <= 0 {
		opts.AnswerWindow = db.DefaultAnswerSeconds * time.Second
	}
	if opts.RevealPause < 0 {
		opts.RevealPause = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	themeIDs := make(map[string]struct{}, len(opts.Themes))
	for _, theme := range opts.Themes {
		themeIDs[theme.ID] = struct{}{}
	}
	return &Controller{
		store:    store,
		catalog:  tracks,
		out:      out,
		timers:   timers,
		rooms:    room.NewTable(),
		themes:   opts.Themes,
		themeIDs: themeIDs,
		opts:     opts,
		rng:      rng,
	}
}

func (c *Controller) Rooms() *room.Table {
	return c.rooms
}

func (c *Controller) Themes() []config.Theme {
	return c.themes
}

func (c *Controller) KnownTheme(themeID string) bool {
	_, ok := c.themeIDs[themeID]
	return ok
}

func (c *Controller) intn(n int) int {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.rng.IntN(n)
}

func timerKey(gameID string, kind scheduler.Kind) scheduler.Key {
	return scheduler.Key{GameID: gameID, Kind: kind}
}

// withRoom runs fn under the room lock, rebuilding the room from the store
// first when this process has no state for it.
func (c *Controller) withRoom(ctx context.Context, gameID string, fn func(state *room.State) error) error {
	if gameID == "" {
		return ErrGameNotFound
	}
	err := c.rooms.Update(gameID, fn)
	if !errors.Is(err, room.ErrNotFound) {
		return err
	}
	if err := c.restore(ctx, gameID); err != nil {
		return err
	}
	return c.rooms.Update(gameID, fn)
}

// restore rebuilds a room from durable rows and resumes the timers a lost
// process owned. In-flight votes are not recoverable.
func (c *Controller) restore(ctx context.Context, gameID string) error {
	game, err := c.store.GetGame(ctx, gameID, db.Include{Rounds: true})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrGameNotFound
		}
		return err
	}
	if game.Status == db.GameFinished {
		return ErrGameFinished
	}
	state := rebuildState(game)
	if !c.rooms.GetOrInit(gameID, func() *room.State { return state }) {
		return nil
	}
	log.Info().Str("game_id", gameID).Str("status", game.Status).Str("phase", string(state.Phase)).Msg("room restored")
	if game.Status != db.GamePlaying {
		return nil
	}
	err = c.rooms.Update(gameID, func(state *room.State) error {
		c.resume(state)
		return nil
	})
	if errors.Is(err, room.ErrNotFound) {
		return nil
	}
	return err
}

func rebuildState(game *db.Game) *room.State {
	state := room.NewState(game.ID)
	if len(game.Rounds) == 0 {
		return state
	}
	last := game.Rounds[len(game.Rounds)-1]
	state.CurrentRound = &last
	state.RoundsPlayed = last.Index
	if last.Revealed() {
		state.Phase = room.PhaseRevealed
	} else {
		state.Phase = room.PhasePlaying
	}
	return state
}

func (c *Controller) resume(state *room.State) {
	now := c.opts.Now()
	switch state.Phase {
	case room.PhasePlaying:
		round := state.CurrentRound
		deadline := round.StartsAt.Add(time.Duration(round.AnswerSeconds) * time.Second)
		c.scheduleReveal(state.GameID, round.ID, max(deadline.Sub(now), 0))
	case room.PhaseRevealed:
		remaining := c.opts.RevealPause
		if ended := state.CurrentRound.EndsAt; ended != nil {
			remaining = max(ended.Add(c.opts.RevealPause).Sub(now), 0)
		}
		c.schedulePause(state.GameID, remaining)
	default:
		c.beginThemeSelection(state)
	}
}

func (c *Controller) record(ctx context.Context, gameID string, roundID *string, eventType string, payload any) {
	if err := c.store.RecordEvent(ctx, gameID, roundID, eventType, payload); err != nil {
		log.Warn().Err(err).Str("game_id", gameID).Str("event", eventType).Msg("record event failed")
	}
}
