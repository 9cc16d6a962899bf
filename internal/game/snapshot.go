package game

import (
	"context"
	"errors"

	"blindtest/internal/db"
	"blindtest/internal/room"
)

// Snapshot returns the game with its round history and the live room state.
// A finished game has no room state.
func (c *Controller) Snapshot(ctx context.Context, gameID string) (Snapshot, error) {
	var snap Snapshot
	err := c.Sync(ctx, gameID, func(s Snapshot) {
		snap = s
	})
	return snap, err
}

// Sync hands the snapshot to deliver while the room is locked, so no event
// of this game can be broadcast between the snapshot and whatever deliver
// sends.
func (c *Controller) Sync(ctx context.Context, gameID string, deliver func(Snapshot)) error {
	err := c.withRoom(ctx, gameID, func(state *room.State) error {
		game, err := c.store.GetGame(ctx, gameID, db.Include{Players: true, Rounds: true})
		if err != nil {
			return err
		}
		view := state.View()
		snap := Snapshot{Game: c.GameView(game), RoomState: &view}
		if state.CurrentRound != nil {
			current := c.RoundView(*state.CurrentRound)
			snap.CurrentRound = &current
		}
		deliver(snap)
		return nil
	})
	if errors.Is(err, ErrGameFinished) {
		game, err := c.store.GetGame(ctx, gameID, db.Include{Players: true, Rounds: true})
		if err != nil {
			return err
		}
		deliver(Snapshot{Game: c.GameView(game)})
		return nil
	}
	return err
}
