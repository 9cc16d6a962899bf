package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"blindtest/internal/db"
	"blindtest/internal/game"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const opTimeout = 10 * time.Second

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

// handleWebsocket upgrades GET /ws?gameId=&token=&userId=. Without a game id
// the connection only receives lobby updates. A bad token is tolerated
// unless REQUIRE_AUTH is set.
func (s *Server) handleWebsocket(c *gin.Context) {
	gameID := strings.TrimSpace(c.Query("gameId"))
	user := identity{ID: strings.TrimSpace(c.Query("userId"))}
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c)
	}
	if token != "" {
		claims, err := s.auth.parse(token)
		if err != nil {
			log.Warn().Err(err).Str("game_id", gameID).Msg("unverified websocket token")
		} else {
			user = identity{ID: claims.ID, Username: displayName(claims.Username, claims.ID), Verified: true}
		}
	}
	if s.cfg.RequireAuth && !user.Verified {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	chat := rate.NewLimiter(rate.Limit(s.cfg.ChatRatePerSecond), s.cfg.ChatBurst)
	client := newClient(conn, user, chat)
	go s.writePump(client)
	log.Info().Str("conn_id", client.id).Str("game_id", gameID).Str("user_id", user.ID).Bool("verified", user.Verified).Msg("ws connected")

	if gameID == "" {
		s.hub.add(client, "")
	} else {
		s.hub.register(client)
		ctx, cancel := opContext()
		s.sync(ctx, client, gameID)
		cancel()
	}
	go s.readPump(client)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.originAllowed(origin)
}

// sync binds the connection to the game, sends it the full snapshot and
// tells the room that someone (re)joined. Binding happens with the room
// locked, so the snapshot is the first game event the connection sees.
func (s *Server) sync(ctx context.Context, c *client, gameID string) {
	err := s.game.Sync(ctx, gameID, func(snap game.Snapshot) {
		s.hub.bind(c, gameID)
		s.hub.Unicast(c.id, game.EventGameSynced, snap)
		s.hub.Broadcast(gameID, game.EventGameUpdated, game.GamePayload{Game: snap.Game})
	})
	if err != nil {
		s.hub.bind(c, "")
		s.replyError(c, gameID, "sync", err)
	}
}

func (s *Server) dispatch(c *client, msg envelope) {
	var p inboundPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.hub.Unicast(c.id, eventError, errorPayload{Message: "invalid payload"})
			return
		}
	}
	gameID := c.game()
	if gameID == "" {
		gameID = strings.TrimSpace(p.GameID)
	}
	ctx, cancel := opContext()
	defer cancel()

	var err error
	switch msg.Type {
	case msgStartGame:
		if err = s.game.StartGame(ctx, gameID, resolveIdentity(c.user, p.UserID)); err == nil {
			s.publishLobby(ctx)
		}
	case msgOpenThemes:
		err = s.game.OpenThemeSelection(ctx, gameID)
	case msgSubmitVote:
		err = s.game.SubmitVote(ctx, gameID, resolveIdentity(c.user, p.UserID), strings.TrimSpace(p.ThemeID))
	case msgSendMessage:
		err = s.chat(ctx, c, gameID, p)
	case msgPlayerLeft:
		if err = s.game.Leave(ctx, gameID, resolveIdentity(c.user, p.UserID)); err == nil {
			s.publishLobby(ctx)
		}
	case msgHostQuit:
		if err = s.game.HostQuit(ctx, gameID, resolveIdentity(c.user, p.UserID)); err == nil {
			s.publishLobby(ctx)
		}
	default:
		s.hub.Unicast(c.id, eventError, errorPayload{Message: "unknown event " + msg.Type})
		return
	}
	if err != nil {
		s.replyError(c, gameID, msg.Type, err)
	}
}

func (s *Server) chat(ctx context.Context, c *client, gameID string, p inboundPayload) error {
	if !c.chat.Allow() {
		s.hub.Unicast(c.id, eventError, errorPayload{Message: "slow down"})
		return nil
	}
	text := sanitizeText(p.Text, maxMessageLength)
	if text == "" {
		return nil
	}
	claimedID, claimedName := p.UserID, ""
	if p.User != nil {
		if p.User.ID != "" {
			claimedID = p.User.ID
		}
		claimedName = p.User.Username
	}
	author := game.ChatUser{ID: resolveIdentity(c.user, claimedID)}
	if c.user.Verified {
		author.Username = c.user.Username
	} else {
		author.Username = displayName(claimedName, author.ID)
	}
	return s.game.SubmitChat(ctx, gameID, author, text)
}

func (s *Server) replyError(c *client, gameID, event string, err error) {
	var message string
	switch {
	case errors.Is(err, game.ErrNotHost), errors.Is(err, game.ErrGameFinished):
		message = err.Error()
	case errors.Is(err, db.ErrNotFound):
		message = "game not found"
	default:
		log.Error().Err(err).Str("conn_id", c.id).Str("game_id", gameID).Str("event", event).Msg("ws event failed")
		s.hub.Unicast(c.id, eventError, errorPayload{Message: "something went wrong"})
		return
	}
	log.Warn().Err(err).Str("conn_id", c.id).Str("game_id", gameID).Str("event", event).Msg("ws event rejected")
	s.hub.Unicast(c.id, eventError, errorPayload{Message: message})
}

// publishLobby pushes the joinable games to lobby-scoped connections.
func (s *Server) publishLobby(ctx context.Context) {
	games, err := s.lobbyGames(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list lobby games failed")
		return
	}
	s.hub.BroadcastLobby(eventLobbyUpdated, lobbyPayload{Games: games})
}

func (s *Server) lobbyGames(ctx context.Context) ([]lobbyGame, error) {
	games, err := s.store.ListPublicWaitingGames(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]lobbyGame, 0, len(games))
	for _, g := range games {
		summary := lobbyGame{
			ID:           g.ID,
			Code:         g.Code,
			Rounds:       g.RoundCount,
			Visibility:   g.Visibility,
			PlayersCount: len(g.Players),
			MaxPlayers:   g.MaxPlayers,
			Players:      make([]lobbyPlayer, 0, len(g.Players)),
		}
		for _, player := range g.Players {
			if player.UserID == g.HostID {
				summary.Host = player.Username
			}
			summary.Players = append(summary.Players, lobbyPlayer{UserID: player.UserID, Username: player.Username})
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
