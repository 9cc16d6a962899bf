package game

import (
	"blindtest/internal/config"
	"blindtest/internal/db"
	"blindtest/internal/matcher"
	"blindtest/internal/room"
)

const (
	EventGameSynced      = "game:synced"
	EventGameUpdated     = "game:updated"
	EventThemeOpened     = "theme:opened"
	EventVotesUpdated    = "votes:updated"
	EventVoteFinalized   = "vote:finalized"
	EventRoundCreated    = "round:created"
	EventPhaseChanged    = "round:phaseChanged"
	EventPauseBeforeVote = "round:pauseBeforeVote"
	EventNewMessage      = "new_message"
	EventScoreUpdated    = "score:updated"
	EventPlayerLeft      = "player:left"
	EventGameFinished    = "game:finished"
	EventHostLeft        = "game:host_left"
)

// Event log entries.
const (
	logGameStarted   = "game_started"
	logRoundCreated  = "round_created"
	logRoundRevealed = "round_revealed"
	logGameFinished  = "game_finished"
	logHostLeft      = "host_left"
	logPlayerLeft    = "player_left"
)

type GamePayload struct {
	Game *db.Game `json:"game"`
}

type ThemeOpenedPayload struct {
	Themes  []config.Theme `json:"themes"`
	Seconds int            `json:"seconds"`
}

type VotesPayload struct {
	Votes map[string]int `json:"votes"`
}

type VoteFinalizedPayload struct {
	WinnerThemeID string         `json:"winnerThemeId"`
	Votes         map[string]int `json:"votes"`
}

type RoundPayload struct {
	Round db.Round `json:"round"`
}

type PhasePayload struct {
	Phase room.Phase `json:"phase"`
	Round *db.Round  `json:"round,omitempty"`
}

type PausePayload struct {
	Seconds int `json:"seconds"`
}

// ChatUser identifies the author of a chat message.
type ChatUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type MessagePayload struct {
	User ChatUser `json:"user"`
	Text string   `json:"text"`
	Time int64    `json:"time"`
}

type ScorePayload struct {
	UserID  string        `json:"userId"`
	Points  int           `json:"points"`
	RoundID string        `json:"roundId"`
	Awarded matcher.Award `json:"awarded"`
}

type PlayerLeftPayload struct {
	UserID string `json:"userId"`
}

type FinishedPayload struct {
	Game          *db.Game    `json:"game"`
	RankedPlayers []db.Player `json:"rankedPlayers"`
}

type HostLeftPayload struct {
	Message string `json:"message"`
	HostID  string `json:"hostId"`
}

// Snapshot is the full state sent to a connection when it binds to a game.
type Snapshot struct {
	Game         *db.Game   `json:"game"`
	RoomState    *room.View `json:"roomState"`
	CurrentRound *db.Round  `json:"currentRound,omitempty"`
}
