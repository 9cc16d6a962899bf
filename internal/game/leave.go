package game

import (
	"context"
	"errors"

	"blindtest/internal/db"
	"blindtest/internal/room"

	"github.com/rs/zerolog/log"
)

const hostLeftMessage = "The host left the game."

// HostQuit ends the game from any phase. Pending timers are cancelled and
// clients receive game:host_left instead of a ranking.
func (c *Controller) HostQuit(ctx context.Context, gameID, userID string) error {
	return c.withRoom(ctx, gameID, func(state *room.State) error {
		game, err := c.store.GetGame(ctx, gameID, db.Include{})
		if err != nil {
			return err
		}
		if game.HostID != userID {
			return ErrNotHost
		}
		return c.hostQuit(ctx, state, userID)
	})
}

func (c *Controller) hostQuit(ctx context.Context, state *room.State, hostID string) error {
	gameID := state.GameID
	finished, err := c.store.UpdateGameStatus(ctx, gameID, db.GameFinished)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("host quit failed")
		return err
	}
	c.timers.CancelGame(gameID)
	c.record(ctx, gameID, nil, logHostLeft, map[string]any{"hostId": hostID, "phase": state.Phase})
	log.Info().Str("game_id", gameID).Str("phase", string(state.Phase)).Str("to", db.GameFinished).Msg("host left")

	if game, err := c.store.GetGame(ctx, gameID, db.Include{Players: true, Rounds: true}); err == nil {
		finished = game
	}
	c.out.Broadcast(gameID, EventGameUpdated, GamePayload{Game: c.GameView(finished)})
	c.out.Broadcast(gameID, EventHostLeft, HostLeftPayload{Message: hostLeftMessage, HostID: hostID})
	c.rooms.Remove(gameID)
	return nil
}

// Leave removes a player. The host leaving ends the game; the last player
// leaving deletes it. A FINISHED game keeps its players and rounds, so
// leaving it changes nothing.
func (c *Controller) Leave(ctx context.Context, gameID, userID string) error {
	err := c.withRoom(ctx, gameID, func(state *room.State) error {
		game, err := c.store.GetGame(ctx, gameID, db.Include{})
		if err != nil {
			return err
		}
		if game.Status == db.GameFinished {
			return ErrGameFinished
		}
		if game.HostID == userID {
			return c.hostQuit(ctx, state, userID)
		}
		return c.removePlayer(ctx, state, userID)
	})
	if errors.Is(err, ErrGameFinished) {
		log.Debug().Str("game_id", gameID).Str("user_id", userID).Msg("leave ignored, game finished")
		return nil
	}
	return err
}

func (c *Controller) removePlayer(ctx context.Context, state *room.State, userID string) error {
	gameID := state.GameID
	if err := c.store.RemovePlayer(ctx, gameID, userID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		return err
	}
	remaining, err := c.store.CountPlayers(ctx, gameID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if err := c.store.DeleteGame(ctx, gameID); err != nil {
			return err
		}
		c.timers.CancelGame(gameID)
		c.rooms.Remove(gameID)
		log.Info().Str("game_id", gameID).Msg("last player left, game deleted")
		return nil
	}
	c.record(ctx, gameID, nil, logPlayerLeft, map[string]any{"userId": userID, "remaining": remaining})
	log.Info().Str("game_id", gameID).Str("user_id", userID).Int("remaining", remaining).Msg("player left")

	if state.RetractVote(userID) {
		c.out.Broadcast(gameID, EventVotesUpdated, VotesPayload{Votes: state.View().Votes})
	}
	c.out.Broadcast(gameID, EventPlayerLeft, PlayerLeftPayload{UserID: userID})
	if game, err := c.store.GetGame(ctx, gameID, db.Include{Players: true, Rounds: true}); err == nil {
		c.out.Broadcast(gameID, EventGameUpdated, GamePayload{Game: c.GameView(game)})
	}
	return nil
}
