package game

import (
	"context"
	"errors"
	"strings"
	"time"

	"blindtest/internal/db"
	"blindtest/internal/matcher"
	"blindtest/internal/room"

	"github.com/rs/zerolog/log"
)

// SubmitChat broadcasts the message and, while a round is playing, scores it
// as a guess. The durable increment happens before the award is recorded.
func (c *Controller) SubmitChat(ctx context.Context, gameID string, user ChatUser, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	message := MessagePayload{User: user, Text: text, Time: c.opts.Now().UnixMilli()}
	err := c.withRoom(ctx, gameID, func(state *room.State) error {
		c.out.Broadcast(gameID, EventNewMessage, message)
		if state.Phase != room.PhasePlaying || state.CurrentRound == nil || user.ID == "" {
			return nil
		}
		round := state.CurrentRound
		if !c.answerWindowOpen(round) {
			return nil
		}
		state.MarkAnswered(user.ID)
		result := matcher.Score(text, matcher.Target{Title: round.SongTitle, Artist: round.Artist}, state.Award(user.ID))
		if result.Points == 0 {
			return nil
		}
		if err := c.store.IncrementScore(ctx, gameID, user.ID, result.Points); err != nil {
			log.Error().Err(err).Str("game_id", gameID).Str("user_id", user.ID).Int("points", result.Points).Msg("increment score failed")
			return nil
		}
		awarded := state.GrantAward(user.ID, result.Awarded)
		log.Debug().Str("game_id", gameID).Str("user_id", user.ID).Int("points", result.Points).Msg("answer scored")
		c.out.Broadcast(gameID, EventScoreUpdated, ScorePayload{
			UserID:  user.ID,
			Points:  result.Points,
			RoundID: round.ID,
			Awarded: awarded,
		})
		return nil
	})
	if errors.Is(err, ErrGameFinished) {
		c.out.Broadcast(gameID, EventNewMessage, message)
		return nil
	}
	return err
}

// answerWindowOpen reports whether guesses for round still score. A round
// whose reveal is being retried stops scoring once its window has passed.
func (c *Controller) answerWindowOpen(round *db.Round) bool {
	if round.StartsAt.IsZero() {
		return true
	}
	window := time.Duration(round.AnswerSeconds) * time.Second
	if window <= 0 {
		window = c.opts.AnswerWindow
	}
	return !c.opts.Now().After(round.StartsAt.Add(window))
}
