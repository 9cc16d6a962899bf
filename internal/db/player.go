package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Player struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	GameID    string    `gorm:"size:36;not null;uniqueIndex:idx_players_game_user" json:"gameId"`
	UserID    string    `gorm:"size:64;not null;index;uniqueIndex:idx_players_game_user" json:"userId"`
	Username  string    `gorm:"size:64;not null" json:"username"`
	Score     int       `gorm:"not null;default:0" json:"score"`
	JoinedAt  time.Time `gorm:"not null" json:"joinedAt"`
	CreatedAt time.Time `gorm:"not null" json:"-"`
	UpdatedAt time.Time `gorm:"not null" json:"-"`
}

func (p *Player) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	return nil
}
