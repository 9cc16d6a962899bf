package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoundStarted  = "STARTED"
	RoundFinished = "FINISHED"
	RoundRevealed = "REVEALED"

	DefaultAnswerSeconds = 30
)

// roundRank orders round statuses; a round only moves forward.
var roundRank = map[string]int{
	RoundStarted:  1,
	RoundFinished: 2,
	RoundRevealed: 3,
}

type Round struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	GameID        string     `gorm:"size:36;not null;uniqueIndex:idx_rounds_game_index" json:"gameId"`
	Index         int        `gorm:"column:round_index;not null;uniqueIndex:idx_rounds_game_index" json:"roundIndex"`
	ThemeID       string     `gorm:"size:64" json:"themeId"`
	SongTitle     string     `gorm:"size:255;not null" json:"songTitle"`
	Artist        string     `gorm:"size:255;not null" json:"artist"`
	PreviewURL    string     `gorm:"size:512" json:"previewUrl"`
	CoverURL      string     `gorm:"size:512" json:"coverUrl"`
	ExternalURL   string     `gorm:"size:512" json:"externalUrl"`
	Status        string     `gorm:"size:16;not null" json:"status"`
	AnswerSeconds int        `gorm:"not null;default:30" json:"answerTime"`
	StartsAt      time.Time  `gorm:"not null" json:"startsAt"`
	EndsAt        *time.Time `json:"endsAt"`
	CreatedAt     time.Time  `gorm:"not null" json:"-"`
	UpdatedAt     time.Time  `gorm:"not null" json:"-"`
}

// RoundMetadata is the track data a new round is created with.
type RoundMetadata struct {
	ThemeID       string
	SongTitle     string
	Artist        string
	PreviewURL    string
	CoverURL      string
	ExternalURL   string
	AnswerSeconds int
	StartsAt      time.Time
}

func (r *Round) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (r Round) Revealed() bool {
	return r.Status == RoundRevealed
}

// Redacted hides the answer of a round that has not been revealed yet.
func (r Round) Redacted() Round {
	if r.Revealed() {
		return r
	}
	r.SongTitle = ""
	r.Artist = ""
	r.CoverURL = ""
	r.ExternalURL = ""
	return r
}

// CanTransition reports whether a round may move from one status to another.
func CanTransition(from, to string) bool {
	fromRank, ok := roundRank[from]
	if !ok {
		return false
	}
	toRank, ok := roundRank[to]
	if !ok {
		return false
	}
	return toRank >= fromRank
}
