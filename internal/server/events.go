package server

import (
	"encoding/json"

	"blindtest/internal/game"
)

// Client to server events.
const (
	msgStartGame   = "game:start"
	msgOpenThemes  = "theme:open"
	msgSubmitVote  = "vote:submitted"
	msgSendMessage = "send_message"
	msgPlayerLeft  = "player:left"
	msgHostQuit    = "host:quit"
)

const (
	eventLobbyUpdated = "lobby:updated"
	eventError        = "error"
)

// envelope is the frame shape in both directions.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outgoing struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type inboundPayload struct {
	GameID  string         `json:"gameId"`
	UserID  string         `json:"userId"`
	ThemeID string         `json:"themeId"`
	Text    string         `json:"text"`
	User    *game.ChatUser `json:"user"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type lobbyPayload struct {
	Games []lobbyGame `json:"games"`
}

type lobbyPlayer struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// lobbyGame is the public summary of a joinable game.
type lobbyGame struct {
	ID           string        `json:"id"`
	Code         string        `json:"code"`
	Host         string        `json:"host"`
	Rounds       int           `json:"rounds"`
	Visibility   string        `json:"visibility"`
	PlayersCount int           `json:"playersCount"`
	MaxPlayers   int           `json:"maxPlayers"`
	Players      []lobbyPlayer `json:"players"`
}
