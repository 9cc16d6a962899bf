package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	GameWaiting  = "WAITING"
	GamePlaying  = "PLAYING"
	GameFinished = "FINISHED"

	VisibilityPublic  = "PUBLIC"
	VisibilityPrivate = "PRIVATE"
)

type Game struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Code       string    `gorm:"size:12;uniqueIndex;not null" json:"code"`
	Visibility string    `gorm:"size:16;not null" json:"visibility"`
	HostID     string    `gorm:"size:64;index;not null" json:"hostId"`
	RoundCount int       `gorm:"not null;default:5" json:"rounds"`
	MaxPlayers int       `gorm:"not null;default:8" json:"maxPlayers"`
	Status     string    `gorm:"size:16;index;not null" json:"status"`
	CreatedAt  time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"not null" json:"updatedAt"`
	Players    []Player  `json:"players"`
	Rounds     []Round   `json:"roundsData"`
}

func (g *Game) BeforeCreate(*gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

func (g *Game) Player(userID string) (*Player, bool) {
	for i := range g.Players {
		if g.Players[i].UserID == userID {
			return &g.Players[i], true
		}
	}
	return nil, false
}

func (g *Game) Active() bool {
	return g.Status == GameWaiting || g.Status == GamePlaying
}
