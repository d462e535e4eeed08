package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewSession validates settings and returns a session in the lobby.
func NewSession(settings Settings, creator Attribution, now time.Time) (Session, error) {
	settings.Name = strings.TrimSpace(settings.Name)
	settings.Team1Name = strings.TrimSpace(settings.Team1Name)
	settings.Team2Name = strings.TrimSpace(settings.Team2Name)

	if settings.Name == "" {
		return Session{}, fmt.Errorf("%w: name is required", ErrInvalidSettings)
	}
	if settings.Mode == "" {
		settings.Mode = ModeNormal
	}
	if !settings.Mode.Valid() {
		return Session{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidSettings, settings.Mode)
	}
	if settings.PlannedGames < 1 || settings.PlannedGames > 5 {
		return Session{}, fmt.Errorf("%w: planned games must be between 1 and 5", ErrInvalidSettings)
	}
	if !slices.Contains(AllowedSeconds, settings.PickSeconds) || !slices.Contains(AllowedSeconds, settings.BanSeconds) {
		return Session{}, fmt.Errorf("%w: turn seconds must be one of %v", ErrInvalidSettings, AllowedSeconds)
	}
	if settings.Team1Name == "" {
		settings.Team1Name = "Team 1"
	}
	if settings.Team2Name == "" {
		settings.Team2Name = "Team 2"
	}

	return Session{
		ID:          uuid.NewString(),
		Settings:    settings,
		CreatedBy:   creator,
		Status:      StatusLobby,
		CurrentGame: 1,
		Games:       []Game{},
		CreatedAt:   now,
	}, nil
}

func newGame(number int, blue Team, at time.Time) Game {
	g := Game{
		Number:    number,
		BlueTeam:  blue,
		Turns:     make([]Turn, len(GameOrder)),
		StartedAt: at,
	}
	for i, step := range GameOrder {
		g.Turns[i] = Turn{Index: i, Kind: step.Kind, Side: step.Side}
	}
	g.Turns[0].StartedAt = &at
	return g
}

// Clone returns a copy that shares no mutable state with s.
func (s Session) Clone() Session {
	c := s
	if s.Team1Captain != nil {
		ref := *s.Team1Captain
		c.Team1Captain = &ref
	}
	if s.Team2Captain != nil {
		ref := *s.Team2Captain
		c.Team2Captain = &ref
	}
	c.Games = make([]Game, len(s.Games))
	for i, g := range s.Games {
		g.Turns = slices.Clone(g.Turns)
		c.Games[i] = g
	}
	return c
}

func (s *Session) current() *Game {
	return &s.Games[s.CurrentGame-1]
}

// CurrentGameState returns the game being drafted, if the draft has started.
func (s Session) CurrentGameState() (Game, bool) {
	if len(s.Games) == 0 || s.CurrentGame < 1 || s.CurrentGame > len(s.Games) {
		return Game{}, false
	}
	return s.Games[s.CurrentGame-1], true
}

func (g *Game) active() (*Turn, bool) {
	if g.Done() {
		return nil, false
	}
	t := &g.Turns[g.Cursor]
	if !t.Active() {
		return nil, false
	}
	return t, true
}

func (s Session) Captain(team Team) *CaptainRef {
	if team == Team1 {
		return s.Team1Captain
	}
	return s.Team2Captain
}

func (s *Session) SetCaptain(team Team, ref *CaptainRef) {
	if team == Team1 {
		s.Team1Captain = ref
		return
	}
	s.Team2Captain = ref
}

func (s Session) IsCaptain(team Team, a Actor) bool {
	return s.Captain(team).Matches(a)
}

func (s Session) IsAnyCaptain(a Actor) bool {
	return s.IsCaptain(Team1, a) || s.IsCaptain(Team2, a)
}

// CaptainTeam returns the team a captains, if any.
func (s Session) CaptainTeam(a Actor) (Team, bool) {
	switch {
	case s.IsCaptain(Team1, a):
		return Team1, true
	case s.IsCaptain(Team2, a):
		return Team2, true
	}
	return 0, false
}

func (s Session) IsCreator(a Actor) bool {
	if a.System() {
		return false
	}
	if s.CreatedBy.ParticipantID != "" && a.ParticipantID == s.CreatedBy.ParticipantID {
		return true
	}
	return s.CreatedBy.UserID != "" && a.UserID == s.CreatedBy.UserID
}

func (s Session) TeamName(team Team) string {
	if team == Team1 {
		return s.Team1Name
	}
	return s.Team2Name
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// Code maps an engine error to the identifier sent to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrNotYourTurn):
		return "NotYourTurn"
	case errors.Is(err, ErrChampionUnavailable):
		return "ChampionUnavailable"
	case errors.Is(err, ErrTurnAlreadyResolved):
		return "TurnAlreadyResolved"
	case errors.Is(err, ErrParticipantConflict):
		return "ParticipantConflict"
	case errors.Is(err, ErrSessionFull):
		return "SessionFull"
	case errors.Is(err, ErrInvalidSettings):
		return "InvalidSettings"
	case errors.Is(err, ErrUnsupportedCommand):
		return "UnsupportedCommand"
	default:
		return "Internal"
	}
}
