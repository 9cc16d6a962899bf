package game

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"blindtest/internal/catalog"
	"blindtest/internal/db"
	"blindtest/internal/room"
	"blindtest/internal/scheduler"

	"github.com/rs/zerolog/log"
)

// StartGame moves a WAITING game to PLAYING and opens the first theme vote.
// Starting a game that already left WAITING only re-broadcasts its state.
func (c *Controller) StartGame(ctx context.Context, gameID, userID string) error {
	return c.withRoom(ctx, gameID, func(state *room.State) error {
		game, err := c.store.GetGame(ctx, gameID, db.Include{Players: true, Rounds: true})
		if err != nil {
			return err
		}
		if game.HostID != userID {
			return ErrNotHost
		}
		if game.Status != db.GameWaiting {
			c.out.Broadcast(gameID, EventGameUpdated, GamePayload{Game: c.GameView(game)})
			return nil
		}
		started, err := c.store.TransitionGameStatus(ctx, gameID, db.GameWaiting, db.GamePlaying)
		if err != nil {
			return err
		}
		if !started {
			if current, err := c.store.GetGame(ctx, gameID, db.Include{Players: true, Rounds: true}); err == nil {
				c.out.Broadcast(gameID, EventGameUpdated, GamePayload{Game: c.GameView(current)})
			}
			return nil
		}
		game.Status = db.GamePlaying
		c.record(ctx, gameID, nil, logGameStarted, map[string]any{"hostId": userID, "rounds": game.RoundCount})
		log.Info().Str("game_id", gameID).Str("from", db.GameWaiting).Str("to", db.GamePlaying).Msg("game started")

		c.out.Broadcast(gameID, EventGameUpdated, GamePayload{Game: c.GameView(game)})
		c.beginThemeSelection(state)
		return nil
	})
}

// OpenThemeSelection reopens the vote of a room stalled in THEME_SELECTION,
// for example after a failed catalog lookup. It does nothing while a vote
// window is already open.
func (c *Controller) OpenThemeSelection(ctx context.Context, gameID string) error {
	return c.withRoom(ctx, gameID, func(state *room.State) error {
		if state.Phase != room.PhaseThemeSelection || state.VotingOpen {
			return nil
		}
		game, err := c.store.GetGame(ctx, gameID, db.Include{})
		if err != nil {
			return err
		}
		if game.Status != db.GamePlaying {
			return nil
		}
		c.beginThemeSelection(state)
		return nil
	})
}

func (c *Controller) beginThemeSelection(state *room.State) {
	state.OpenVoting()
	c.out.Broadcast(state.GameID, EventPhaseChanged, PhasePayload{Phase: room.PhaseThemeSelection})
	c.out.Broadcast(state.GameID, EventThemeOpened, ThemeOpenedPayload{
		Themes:  c.themes,
		Seconds: seconds(c.opts.VoteWindow),
	})
	gameID := state.GameID
	key := timerKey(gameID, scheduler.KindVote)
	c.timers.Schedule(key, c.opts.VoteWindow, func(token scheduler.Token) {
		c.onVoteTimer(gameID, token)
	})
}

// SubmitVote records the user's theme choice. Votes outside an open window,
// without a user or for an unknown theme are ignored.
func (c *Controller) SubmitVote(ctx context.Context, gameID, userID, themeID string) error {
	if userID == "" || !c.KnownTheme(themeID) {
		return nil
	}
	return c.withRoom(ctx, gameID, func(state *room.State) error {
		if !state.CastVote(userID, themeID) {
			return nil
		}
		c.out.Broadcast(gameID, EventVotesUpdated, VotesPayload{Votes: state.View().Votes})
		return nil
	})
}

func (c *Controller) onVoteTimer(gameID string, token scheduler.Token) {
	ctx := context.Background()
	_ = c.rooms.Update(gameID, func(state *room.State) error {
		if !c.timers.Claim(timerKey(gameID, scheduler.KindVote), token) {
			return nil
		}
		c.resolveVotes(ctx, state)
		return nil
	})
}

func (c *Controller) resolveVotes(ctx context.Context, state *room.State) {
	if !state.VotingOpen {
		return
	}
	leaders := state.Leaders()
	tally := state.CloseVoting()
	winner := c.pickWinner(leaders)
	log.Info().Str("game_id", state.GameID).Str("theme_id", winner).Int("candidates", len(leaders)).Msg("theme vote resolved")
	c.out.Broadcast(state.GameID, EventVoteFinalized, VoteFinalizedPayload{WinnerThemeID: winner, Votes: tally})
	c.createRound(ctx, state, winner)
}

// pickWinner chooses uniformly among the tied leaders, or among every
// configured theme when nobody voted.
func (c *Controller) pickWinner(leaders []string) string {
	switch len(leaders) {
	case 0:
		return c.themes[c.intn(len(c.themes))].ID
	case 1:
		return leaders[0]
	default:
		return leaders[c.intn(len(leaders))]
	}
}

// createRound persists the next round before touching room state. On any
// failure the room stays in THEME_SELECTION with the window closed.
func (c *Controller) createRound(ctx context.Context, state *room.State, themeID string) {
	gameID := state.GameID
	track, err := c.catalog.FetchRandomTrack(ctx, themeID)
	if err != nil {
		level := log.Error()
		if errors.Is(err, catalog.ErrEmptyPlaylist) {
			level = log.Warn()
		}
		level.Err(err).Str("game_id", gameID).Str("theme_id", themeID).Msg("catalog lookup failed, round not created")
		return
	}
	rounds, err := c.store.ListRounds(ctx, gameID)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("list rounds failed, round not created")
		return
	}
	next := 1
	if len(rounds) > 0 {
		next = rounds[len(rounds)-1].Index + 1
	}
	round, err := c.store.CreateRound(ctx, gameID, next, db.RoundMetadata{
		ThemeID:       themeID,
		SongTitle:     track.Title,
		Artist:        track.Artist,
		PreviewURL:    track.PreviewURL,
		CoverURL:      track.CoverURL,
		ExternalURL:   track.ExternalURL,
		AnswerSeconds: seconds(c.opts.AnswerWindow),
		StartsAt:      c.opts.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID).Int("round_index", next).Msg("create round failed")
		return
	}

	state.BeginRound(round)
	c.record(ctx, gameID, &round.ID, logRoundCreated, map[string]any{"index": round.Index, "themeId": themeID})
	log.Info().Str("game_id", gameID).Int("round_index", round.Index).Str("from", string(room.PhaseThemeSelection)).Str("to", string(room.PhasePlaying)).Msg("round created")

	view := c.RoundView(*round)
	c.out.Broadcast(gameID, EventRoundCreated, RoundPayload{Round: view})
	c.out.Broadcast(gameID, EventPhaseChanged, PhasePayload{Phase: room.PhasePlaying, Round: &view})
	c.scheduleReveal(gameID, round.ID, c.opts.AnswerWindow)
}

func (c *Controller) scheduleReveal(gameID, roundID string, after time.Duration) {
	key := timerKey(gameID, scheduler.KindReveal)
	c.timers.Schedule(key, after, func(token scheduler.Token) {
		c.onRevealTimer(gameID, roundID, token)
	})
}

func (c *Controller) onRevealTimer(gameID, roundID string, token scheduler.Token) {
	ctx := context.Background()
	_ = c.rooms.Update(gameID, func(state *room.State) error {
		if !c.timers.Claim(timerKey(gameID, scheduler.KindReveal), token) {
			return nil
		}
		c.reveal(ctx, state, roundID)
		return nil
	})
}

// reveal gates the phase change on the durable REVEALED write.
func (c *Controller) reveal(ctx context.Context, state *room.State, roundID string) {
	gameID := state.GameID
	if state.Phase != room.PhasePlaying || state.CurrentRound == nil || state.CurrentRound.ID != roundID {
		return
	}
	ended := c.opts.Now()
	round, err := c.store.UpdateRoundStatus(ctx, roundID, db.RoundRevealed, &ended)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID).Str("round_id", roundID).Dur("retry_in", c.opts.RetryDelay).Msg("reveal round failed")
		c.scheduleReveal(gameID, roundID, c.opts.RetryDelay)
		return
	}
	state.CurrentRound = round
	state.Phase = room.PhaseRevealed
	c.record(ctx, gameID, &round.ID, logRoundRevealed, map[string]any{"index": round.Index, "answers": len(state.Answers)})
	log.Info().Str("game_id", gameID).Int("round_index", round.Index).Str("from", string(room.PhasePlaying)).Str("to", string(room.PhaseRevealed)).Msg("round revealed")

	full := *round
	c.out.Broadcast(gameID, EventPhaseChanged, PhasePayload{Phase: room.PhaseRevealed, Round: &full})
	c.out.Broadcast(gameID, EventPauseBeforeVote, PausePayload{Seconds: seconds(c.opts.RevealPause)})
	c.schedulePause(gameID, c.opts.RevealPause)
}

func (c *Controller) schedulePause(gameID string, after time.Duration) {
	key := timerKey(gameID, scheduler.KindPause)
	c.timers.Schedule(key, after, func(token scheduler.Token) {
		c.onPauseTimer(gameID, token)
	})
}

func (c *Controller) onPauseTimer(gameID string, token scheduler.Token) {
	ctx := context.Background()
	_ = c.rooms.Update(gameID, func(state *room.State) error {
		if !c.timers.Claim(timerKey(gameID, scheduler.KindPause), token) {
			return nil
		}
		c.afterPause(ctx, state)
		return nil
	})
}

func (c *Controller) afterPause(ctx context.Context, state *room.State) {
	if state.Phase != room.PhaseRevealed {
		return
	}
	game, err := c.store.GetGame(ctx, state.GameID, db.Include{Players: true, Rounds: true})
	if err != nil {
		log.Error().Err(err).Str("game_id", state.GameID).Dur("retry_in", c.opts.RetryDelay).Msg("load game after pause failed")
		c.schedulePause(state.GameID, c.opts.RetryDelay)
		return
	}
	if game.Status != db.GamePlaying {
		return
	}
	if state.RoundsPlayed >= game.RoundCount {
		c.finish(ctx, state)
		return
	}
	c.beginThemeSelection(state)
}

// finish marks the game FINISHED, publishes the ranking and drops the room.
// A failed write leaves the room REVEALED and retries through the pause
// timer.
func (c *Controller) finish(ctx context.Context, state *room.State) {
	gameID := state.GameID
	if _, err := c.store.UpdateGameStatus(ctx, gameID, db.GameFinished); err != nil {
		log.Error().Err(err).Str("game_id", gameID).Dur("retry_in", c.opts.RetryDelay).Msg("finish game failed")
		c.schedulePause(gameID, c.opts.RetryDelay)
		return
	}
	c.timers.CancelGame(gameID)
	game, err := c.store.GetGame(ctx, gameID, db.Include{Players: true, Rounds: true})
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("load finished game failed")
		c.rooms.Remove(gameID)
		return
	}
	ranked := RankPlayers(game.Players)
	c.record(ctx, gameID, nil, logGameFinished, map[string]any{"rounds": state.RoundsPlayed, "players": len(ranked)})
	log.Info().Str("game_id", gameID).Str("from", db.GamePlaying).Str("to", db.GameFinished).Msg("game finished")

	view := c.GameView(game)
	c.out.Broadcast(gameID, EventGameUpdated, GamePayload{Game: view})
	c.out.Broadcast(gameID, EventGameFinished, FinishedPayload{Game: view, RankedPlayers: ranked})
	c.rooms.Remove(gameID)
}

// RankPlayers orders players by score, keeping join order between ties.
func RankPlayers(players []db.Player) []db.Player {
	ranked := make([]db.Player, len(players))
	copy(ranked, players)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// RoundView hides the answer of an unrevealed round when redaction is on.
func (c *Controller) RoundView(round db.Round) db.Round {
	if c.opts.Redact {
		return round.Redacted()
	}
	return round
}

// GameView is the game as clients may see it.
func (c *Controller) GameView(game *db.Game) *db.Game {
	if game == nil {
		return nil
	}
	view := *game
	view.Rounds = make([]db.Round, len(game.Rounds))
	for i, round := range game.Rounds {
		view.Rounds[i] = c.RoundView(round)
	}
	if view.Players == nil {
		view.Players = []db.Player{}
	}
	return &view
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
