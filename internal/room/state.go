package room

import (
	"maps"
	"sort"

	"blindtest/internal/db"
	"blindtest/internal/matcher"
)

type Phase string

const (
	PhaseThemeSelection Phase = "THEME_SELECTION"
	PhasePlaying        Phase = "PLAYING"
	PhaseRevealed       Phase = "REVEALED"
)

// State is the ephemeral state of one active game. It is only mutated
// through Table.Update, which holds the room lock.
type State struct {
	GameID       string
	Phase        Phase
	VotingOpen   bool
	Votes        map[string]int
	UserVotes    map[string]string
	CurrentRound *db.Round
	RoundAwards  map[string]matcher.Award
	Answers      map[string]struct{}
	RoundsPlayed int
}

func NewState(gameID string) *State {
	return &State{
		GameID:      gameID,
		Phase:       PhaseThemeSelection,
		Votes:       make(map[string]int),
		UserVotes:   make(map[string]string),
		RoundAwards: make(map[string]matcher.Award),
		Answers:     make(map[string]struct{}),
	}
}

// OpenVoting clears the tally and opens a new theme-selection window.
func (s *State) OpenVoting() {
	s.Phase = PhaseThemeSelection
	s.VotingOpen = true
	s.Votes = make(map[string]int)
	s.UserVotes = make(map[string]string)
}

// CastVote moves the user's vote to themeID. A user holds at most one
// vote per window. It reports false when the window is closed.
func (s *State) CastVote(userID, themeID string) bool {
	if !s.VotingOpen || userID == "" || themeID == "" {
		return false
	}
	if previous, ok := s.UserVotes[userID]; ok {
		if previous == themeID {
			return true
		}
		s.decrement(previous)
	}
	s.Votes[themeID]++
	s.UserVotes[userID] = themeID
	return true
}

// RetractVote drops the user's vote from the open window.
func (s *State) RetractVote(userID string) bool {
	if !s.VotingOpen {
		return false
	}
	previous, ok := s.UserVotes[userID]
	if !ok {
		return false
	}
	delete(s.UserVotes, userID)
	s.decrement(previous)
	return true
}

func (s *State) decrement(themeID string) {
	s.Votes[themeID]--
	if s.Votes[themeID] <= 0 {
		delete(s.Votes, themeID)
	}
}

// CloseVoting ends the window and returns the final tally.
func (s *State) CloseVoting() map[string]int {
	s.VotingOpen = false
	return maps.Clone(s.Votes)
}

// Leaders returns the themes holding the highest count, sorted by id.
func (s *State) Leaders() []string {
	best := 0
	leaders := make([]string, 0)
	for themeID, count := range s.Votes {
		switch {
		case count > best:
			best = count
			leaders = append(leaders[:0], themeID)
		case count == best && count > 0:
			leaders = append(leaders, themeID)
		}
	}
	sort.Strings(leaders)
	return leaders
}

// BeginRound makes round current and resets per-round scoring.
func (s *State) BeginRound(round *db.Round) {
	s.CurrentRound = round
	s.Phase = PhasePlaying
	s.VotingOpen = false
	s.RoundAwards = make(map[string]matcher.Award)
	s.Answers = make(map[string]struct{})
	s.RoundsPlayed = round.Index
}

func (s *State) Award(userID string) matcher.Award {
	return s.RoundAwards[userID]
}

func (s *State) GrantAward(userID string, granted matcher.Award) matcher.Award {
	current := s.RoundAwards[userID]
	current.Title = current.Title || granted.Title
	current.Artist = current.Artist || granted.Artist
	s.RoundAwards[userID] = current
	return current
}

func (s *State) MarkAnswered(userID string) {
	if userID == "" {
		return
	}
	s.Answers[userID] = struct{}{}
}

// View is a read-only copy of State safe to hand to other goroutines.
type View struct {
	Phase          Phase                    `json:"phase"`
	VotingOpen     bool                     `json:"votingOpen"`
	Votes          map[string]int           `json:"votes"`
	CurrentRoundID string                   `json:"currentRoundId,omitempty"`
	RoundAwards    map[string]matcher.Award `json:"roundAwards"`
	AnswerCount    int                      `json:"answerCount"`
	RoundsPlayed   int                      `json:"roundsPlayed"`
}

func (s *State) View() View {
	view := View{
		Phase:        s.Phase,
		VotingOpen:   s.VotingOpen,
		Votes:        maps.Clone(s.Votes),
		RoundAwards:  maps.Clone(s.RoundAwards),
		AnswerCount:  len(s.Answers),
		RoundsPlayed: s.RoundsPlayed,
	}
	if view.Votes == nil {
		view.Votes = map[string]int{}
	}
	if view.RoundAwards == nil {
		view.RoundAwards = map[string]matcher.Award{}
	}
	if s.CurrentRound != nil {
		view.CurrentRoundID = s.CurrentRound.ID
	}
	return view
}
