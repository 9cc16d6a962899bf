package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicate         = errors.New("duplicate record")
	ErrGameFull          = errors.New("game is full")
	ErrGameClosed        = errors.New("game is finished")
)

// NewGame describes a game to create together with its host player.
type NewGame struct {
	Code         string
	Visibility   string
	RoundCount   int
	MaxPlayers   int
	HostID       string
	HostUsername string
}

// Include selects the associations GetGame loads.
type Include struct {
	Players bool
	Rounds  bool
}

// Store is the durable store backed by gorm.
type Store struct {
	db *gorm.DB
}

func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// CreateGame inserts the game and the host's player row in one transaction.
func (s *Store) CreateGame(ctx context.Context, input NewGame) (*Game, error) {
	game := Game{
		Code:       input.Code,
		Visibility: input.Visibility,
		HostID:     input.HostID,
		RoundCount: input.RoundCount,
		MaxPlayers: input.MaxPlayers,
		Status:     GameWaiting,
	}
	if game.Visibility == "" {
		game.Visibility = VisibilityPublic
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&game).Error; err != nil {
			return err
		}
		host := Player{
			GameID:   game.ID,
			UserID:   input.HostID,
			Username: input.HostUsername,
		}
		if err := tx.Create(&host).Error; err != nil {
			return err
		}
		game.Players = []Player{host}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create game %s: %w", input.Code, ErrDuplicate)
		}
		return nil, err
	}
	game.Rounds = []Round{}
	return &game, nil
}

func (s *Store) GetGame(ctx context.Context, id string, include Include) (*Game, error) {
	query := s.db.WithContext(ctx)
	if include.Players {
		query = query.Preload("Players", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("joined_at ASC, id ASC")
		})
	}
	if include.Rounds {
		query = query.Preload("Rounds", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("round_index ASC")
		})
	}
	var game Game
	if err := query.First(&game, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	normalizeGame(&game)
	return &game, nil
}

func (s *Store) FindGameByCode(ctx context.Context, code string) (*Game, error) {
	var game Game
	err := s.db.WithContext(ctx).
		Preload("Players", func(tx *gorm.DB) *gorm.DB { return tx.Order("joined_at ASC, id ASC") }).
		First(&game, "code = ?", strings.ToUpper(strings.TrimSpace(code))).Error
	if err != nil {
		return nil, notFound(err)
	}
	normalizeGame(&game)
	return &game, nil
}

// ListPublicWaitingGames returns joinable public games, newest first.
func (s *Store) ListPublicWaitingGames(ctx context.Context) ([]Game, error) {
	var games []Game
	err := s.db.WithContext(ctx).
		Preload("Players", func(tx *gorm.DB) *gorm.DB { return tx.Order("joined_at ASC, id ASC") }).
		Where("visibility = ? AND status = ?", VisibilityPublic, GameWaiting).
		Order("created_at DESC").
		Find(&games).Error
	if err != nil {
		return nil, err
	}
	for i := range games {
		normalizeGame(&games[i])
	}
	return games, nil
}

// FindActiveGameForUser returns the newest WAITING or PLAYING game the user
// belongs to.
func (s *Store) FindActiveGameForUser(ctx context.Context, userID string) (*Game, error) {
	var game Game
	err := s.db.WithContext(ctx).
		Select("games.*").
		Joins("JOIN players ON players.game_id = games.id").
		Where("players.user_id = ? AND games.status IN ?", userID, []string{GameWaiting, GamePlaying}).
		Order("games.created_at DESC").
		First(&game).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &game, nil
}

// UpdateGameStatus sets the game status. FINISHED is terminal.
func (s *Store) UpdateGameStatus(ctx context.Context, id, status string) (*Game, error) {
	result := s.db.WithContext(ctx).Model(&Game{}).
		Where("id = ? AND status <> ?", id, GameFinished).
		Update("status", status)
	if result.Error != nil {
		return nil, result.Error
	}
	game, err := s.GetGame(ctx, id, Include{Players: true})
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 && game.Status != status {
		return nil, fmt.Errorf("game %s %s -> %s: %w", id, game.Status, status, ErrInvalidTransition)
	}
	return game, nil
}

// TransitionGameStatus moves the game from one status to another only if it
// is still in the expected one. It reports whether this call made the change.
func (s *Store) TransitionGameStatus(ctx context.Context, id, from, to string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&Game{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// DeleteGame removes the game with its players, rounds and events.
func (s *Store) DeleteGame(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("game_id = ?", id).Delete(&Event{}).Error; err != nil {
			return err
		}
		if err := tx.Where("game_id = ?", id).Delete(&Round{}).Error; err != nil {
			return err
		}
		if err := tx.Where("game_id = ?", id).Delete(&Player{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&Game{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// JoinGame adds a player to the game. The game row is locked for the
// duration, so the capacity check and the insert cannot interleave with
// another join. Joining a game the user is already in returns the existing
// player with joined false, whatever the game's status.
func (s *Store) JoinGame(ctx context.Context, gameID, userID, username string) (*Player, bool, error) {
	var player Player
	joined := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var game Game
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&game, "id = ?", gameID).Error; err != nil {
			return notFound(err)
		}
		err := tx.First(&player, "game_id = ? AND user_id = ?", gameID, userID).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if game.Status == GameFinished {
			return ErrGameClosed
		}
		var count int64
		if err := tx.Model(&Player{}).Where("game_id = ?", gameID).Count(&count).Error; err != nil {
			return err
		}
		if int(count) >= game.MaxPlayers {
			return ErrGameFull
		}
		player = Player{GameID: gameID, UserID: userID, Username: username}
		if err := tx.Create(&player).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		joined = true
		return nil
	})
	if errors.Is(err, ErrDuplicate) {
		existing, findErr := s.findPlayer(ctx, gameID, userID)
		return existing, false, findErr
	}
	if err != nil {
		return nil, false, err
	}
	return &player, joined, nil
}

func (s *Store) findPlayer(ctx context.Context, gameID, userID string) (*Player, error) {
	var player Player
	if err := s.db.WithContext(ctx).First(&player, "game_id = ? AND user_id = ?", gameID, userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &player, nil
}

func (s *Store) RemovePlayer(ctx context.Context, gameID, userID string) error {
	result := s.db.WithContext(ctx).Where("game_id = ? AND user_id = ?", gameID, userID).Delete(&Player{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CountPlayers(ctx context.Context, gameID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Player{}).Where("game_id = ?", gameID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// IncrementScore adds delta with a single UPDATE ... SET score = score + ?.
func (s *Store) IncrementScore(ctx context.Context, gameID, userID string, delta int) error {
	if delta <= 0 {
		return fmt.Errorf("score delta must be positive, got %d", delta)
	}
	result := s.db.WithContext(ctx).Model(&Player{}).
		Where("game_id = ? AND user_id = ?", gameID, userID).
		Update("score", gorm.Expr("score + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateRound(ctx context.Context, gameID string, index int, meta RoundMetadata) (*Round, error) {
	answer := meta.AnswerSeconds
	if answer <= 0 {
		answer = DefaultAnswerSeconds
	}
	startsAt := meta.StartsAt
	if startsAt.IsZero() {
		startsAt = time.Now().UTC()
	}
	round := Round{
		GameID:        gameID,
		Index:         index,
		ThemeID:       meta.ThemeID,
		SongTitle:     meta.SongTitle,
		Artist:        meta.Artist,
		PreviewURL:    meta.PreviewURL,
		CoverURL:      meta.CoverURL,
		ExternalURL:   meta.ExternalURL,
		Status:        RoundStarted,
		AnswerSeconds: answer,
		StartsAt:      startsAt,
	}
	if err := s.db.WithContext(ctx).Create(&round).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("round %d for game %s: %w", index, gameID, ErrDuplicate)
		}
		return nil, err
	}
	return &round, nil
}

// UpdateRoundStatus moves a round forward. Repeating the current status is
// accepted; moving backwards returns ErrInvalidTransition.
func (s *Store) UpdateRoundStatus(ctx context.Context, id, status string, endedAt *time.Time) (*Round, error) {
	if _, ok := roundRank[status]; !ok {
		return nil, fmt.Errorf("unknown round status %q: %w", status, ErrInvalidTransition)
	}
	var round Round
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&round, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		if !CanTransition(round.Status, status) {
			return fmt.Errorf("round %s %s -> %s: %w", id, round.Status, status, ErrInvalidTransition)
		}
		updates := map[string]any{"status": status}
		if endedAt != nil {
			updates["ends_at"] = endedAt.UTC()
		}
		result := tx.Model(&Round{}).Where("id = ? AND status = ?", id, round.Status).Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("round %s changed concurrently: %w", id, ErrInvalidTransition)
		}
		return tx.First(&round, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &round, nil
}

func (s *Store) ListRounds(ctx context.Context, gameID string) ([]Round, error) {
	rounds := make([]Round, 0)
	if err := s.db.WithContext(ctx).Where("game_id = ?", gameID).Order("round_index ASC").Find(&rounds).Error; err != nil {
		return nil, err
	}
	return rounds, nil
}

// RecordEvent appends an entry to the game's event log.
func (s *Store) RecordEvent(ctx context.Context, gameID string, roundID *string, eventType string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	record := Event{
		GameID:  gameID,
		RoundID: roundID,
		Type:    eventType,
		Payload: datatypes.JSON(encoded),
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

func (s *Store) ListEvents(ctx context.Context, gameID string) ([]Event, error) {
	events := make([]Event, 0)
	if err := s.db.WithContext(ctx).Where("game_id = ?", gameID).Order("id ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func normalizeGame(game *Game) {
	if game.Players == nil {
		game.Players = []Player{}
	}
	if game.Rounds == nil {
		game.Rounds = []Round{}
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
