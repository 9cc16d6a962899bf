package server

import (
	"errors"
	"net/http"
	"strings"

	"blindtest/internal/db"
	"blindtest/internal/game"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	defaultRounds     = 5
	defaultMaxPlayers = 8
	createAttempts    = 5
)

type createGameRequest struct {
	Visibility string `json:"visibility" binding:"omitempty,oneof=PUBLIC PRIVATE"`
	Rounds     int    `json:"rounds" binding:"omitempty,min=1,max=20"`
	MaxPlayers int    `json:"maxPlayers" binding:"omitempty,min=2,max=12"`
}

type joinGameRequest struct {
	Code string `json:"code" binding:"required,joincode"`
}

type gameURI struct {
	ID string `uri:"id" binding:"required,uuid"`
}

var createGameMessages = bindMessages{
	"Visibility": {"oneof": "visibility must be PUBLIC or PRIVATE", typeTag: "visibility must be PUBLIC or PRIVATE"},
	"Rounds":     {"min": "rounds must be between 1 and 20", "max": "rounds must be between 1 and 20", typeTag: "rounds must be a number"},
	"MaxPlayers": {"min": "maxPlayers must be between 2 and 12", "max": "maxPlayers must be between 2 and 12", typeTag: "maxPlayers must be a number"},
}

var joinGameMessages = bindMessages{
	"Code": {"required": "code is required", "joincode": "code must be 5 letters or digits"},
}

func (s *Server) handleThemes(c *gin.Context) {
	c.JSON(http.StatusOK, s.game.Themes())
}

func (s *Server) handleCreateGame(c *gin.Context) {
	var req createGameRequest
	if !bindOptionalJSON(c, &req, createGameMessages, "invalid game settings") {
		return
	}
	if req.Visibility == "" {
		req.Visibility = db.VisibilityPublic
	}
	if req.Rounds == 0 {
		req.Rounds = defaultRounds
	}
	if req.MaxPlayers == 0 {
		req.MaxPlayers = defaultMaxPlayers
	}
	user := currentUser(c)
	ctx := c.Request.Context()

	var created *db.Game
	var err error
	for attempt := 0; attempt < createAttempts; attempt++ {
		created, err = s.store.CreateGame(ctx, db.NewGame{
			Code:         newJoinCode(),
			Visibility:   req.Visibility,
			RoundCount:   req.Rounds,
			MaxPlayers:   req.MaxPlayers,
			HostID:       user.ID,
			HostUsername: user.Username,
		})
		if !errors.Is(err, db.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("create game failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create game"})
		return
	}
	log.Info().Str("game_id", created.ID).Str("code", created.Code).Str("host_id", user.ID).Msg("game created")
	c.JSON(http.StatusCreated, s.game.GameView(created))
	s.publishLobby(ctx)
}

func (s *Server) handleListGames(c *gin.Context) {
	games, err := s.lobbyGames(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("list games failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list games"})
		return
	}
	c.JSON(http.StatusOK, games)
}

func (s *Server) handleGetGame(c *gin.Context) {
	var uri gameURI
	if !bindURI(c, &uri) {
		return
	}
	loaded, ok := s.loadGame(c, uri.ID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.game.GameView(loaded))
}

func (s *Server) handleListRounds(c *gin.Context) {
	var uri gameURI
	if !bindURI(c, &uri) {
		return
	}
	if _, ok := s.loadGame(c, uri.ID); !ok {
		return
	}
	rounds, err := s.store.ListRounds(c.Request.Context(), uri.ID)
	if err != nil {
		log.Error().Err(err).Str("game_id", uri.ID).Msg("list rounds failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rounds"})
		return
	}
	views := make([]db.Round, len(rounds))
	for i, round := range rounds {
		views[i] = s.game.RoundView(round)
	}
	c.JSON(http.StatusOK, views)
}

// handleJoinGame adds the caller to the game behind a join code. Joining a
// game the caller is already in returns it unchanged.
func (s *Server) handleJoinGame(c *gin.Context) {
	var req joinGameRequest
	if !bindJSON(c, &req, joinGameMessages, "invalid join request") {
		return
	}
	user := currentUser(c)
	ctx := c.Request.Context()
	target, err := s.store.FindGameByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
			return
		}
		log.Error().Err(err).Msg("find game by code failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join game"})
		return
	}
	_, added, err := s.store.JoinGame(ctx, target.ID, user.ID, user.Username)
	switch {
	case errors.Is(err, db.ErrGameClosed), errors.Is(err, db.ErrGameFull):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
		return
	case err != nil:
		log.Error().Err(err).Str("game_id", target.ID).Str("user_id", user.ID).Msg("add player failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join game"})
		return
	}
	if added {
		log.Info().Str("game_id", target.ID).Str("user_id", user.ID).Msg("player joined")
	}
	joined, err := s.store.GetGame(ctx, target.ID, db.Include{Players: true, Rounds: true})
	if err != nil {
		log.Error().Err(err).Str("game_id", target.ID).Msg("reload game failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join game"})
		return
	}
	view := s.game.GameView(joined)
	c.JSON(http.StatusOK, view)
	s.hub.Broadcast(joined.ID, game.EventGameUpdated, game.GamePayload{Game: view})
	s.publishLobby(ctx)
}

func (s *Server) handleLeaveGame(c *gin.Context) {
	var uri gameURI
	if !bindURI(c, &uri) {
		return
	}
	user := currentUser(c)
	ctx := c.Request.Context()
	if err := s.game.Leave(ctx, uri.ID, user.ID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
			return
		}
		log.Error().Err(err).Str("game_id", uri.ID).Str("user_id", user.ID).Msg("leave game failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to leave game"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
	s.publishLobby(ctx)
}

func (s *Server) handleAccess(c *gin.Context) {
	var uri gameURI
	if !bindURI(c, &uri) {
		return
	}
	loaded, ok := s.loadGame(c, uri.ID)
	if !ok {
		return
	}
	user := currentUser(c)
	_, member := loaded.Player(user.ID)
	if loaded.HostID != user.ID && !member {
		c.JSON(http.StatusForbidden, gin.H{"allowed": false, "error": "not a player of this game"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": true, "game": s.game.GameView(loaded)})
}

func (s *Server) handleMyGame(c *gin.Context) {
	user := currentUser(c)
	active, err := s.store.FindActiveGameForUser(c.Request.Context(), user.ID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"game": nil})
			return
		}
		log.Error().Err(err).Str("user_id", user.ID).Msg("find active game failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load game"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"game": gin.H{"id": active.ID, "code": active.Code, "status": active.Status}})
}

func (s *Server) loadGame(c *gin.Context, id string) (*db.Game, bool) {
	loaded, err := s.store.GetGame(c.Request.Context(), strings.TrimSpace(id), db.Include{Players: true, Rounds: true})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
			return nil, false
		}
		log.Error().Err(err).Str("game_id", id).Msg("load game failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load game"})
		return nil, false
	}
	return loaded, true
}
