package engine

import (
	"errors"
	"time"
)

var ErrInvalidTransition = errors.New("invalid transition")
var ErrNotYourTurn = errors.New("not your turn")
var ErrChampionUnavailable = errors.New("champion unavailable")
var ErrTurnAlreadyResolved = errors.New("turn already resolved")
var ErrParticipantConflict = errors.New("participant conflict")
var ErrSessionFull = errors.New("session full")
var ErrInvalidSettings = errors.New("invalid session settings")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Side string

const (
	SideBlue Side = "blue"
	SideRed  Side = "red"
)

func (s Side) Other() Side {
	if s == SideBlue {
		return SideRed
	}
	return SideBlue
}

type Kind string

const (
	KindBan  Kind = "ban"
	KindPick Kind = "pick"
)

type Mode string

const (
	ModeNormal   Mode = "normal"
	ModeFearless Mode = "fearless"
	ModeIronman  Mode = "ironman"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeNormal, ModeFearless, ModeIronman:
		return true
	}
	return false
}

type Status string

const (
	StatusLobby      Status = "lobby"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Team identifies one of the two drafting teams independently of the side it
// plays in a given game.
type Team int

const (
	Team1 Team = 1
	Team2 Team = 2
)

func (t Team) Other() Team {
	if t == Team1 {
		return Team2
	}
	return Team1
}

// NoSelection is the champion id stored on a turn that expired unfilled.
const NoSelection = "_none"

type Turn struct {
	Index      int        `json:"index"`
	Kind       Kind       `json:"kind"`
	Side       Side       `json:"side"`
	ChampionID string     `json:"champion_id,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FilledAt   *time.Time `json:"filled_at,omitempty"`
	TimedOut   bool       `json:"timed_out"`
	LateFill   bool       `json:"late_fill,omitempty"`
}

// Active reports whether the turn is the one currently awaiting a selection.
func (t Turn) Active() bool { return t.StartedAt != nil && t.FilledAt == nil }

// Fillable reports whether the turn expired and still holds the sentinel.
func (t Turn) Fillable() bool { return t.TimedOut && t.ChampionID == NoSelection }

type Game struct {
	Number      int        `json:"number"`
	BlueTeam    Team       `json:"blue_team"`
	Cursor      int        `json:"cursor"`
	Turns       []Turn     `json:"turns"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (g Game) Done() bool { return g.Cursor >= len(g.Turns) }

func (g Game) TeamOn(side Side) Team {
	if side == SideBlue {
		return g.BlueTeam
	}
	return g.BlueTeam.Other()
}

func (g Game) SideOf(team Team) Side {
	if team == g.BlueTeam {
		return SideBlue
	}
	return SideRed
}

type CaptainRef struct {
	ParticipantID string `json:"participant_id"`
	UserID        string `json:"user_id,omitempty"`
	DisplayName   string `json:"display_name"`
}

func (r *CaptainRef) Matches(a Actor) bool {
	if r == nil {
		return false
	}
	if a.ParticipantID != "" && a.ParticipantID == r.ParticipantID {
		return true
	}
	return r.UserID != "" && a.UserID == r.UserID
}

type Attribution struct {
	ParticipantID string `json:"participant_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
}

type Settings struct {
	Name         string `json:"name"`
	Mode         Mode   `json:"mode"`
	PlannedGames int    `json:"planned_games"`
	PickSeconds  int    `json:"pick_seconds"`
	BanSeconds   int    `json:"ban_seconds"`
	Team1Name    string `json:"team1_name"`
	Team2Name    string `json:"team2_name"`
}

type Session struct {
	ID string `json:"id"`
	Settings
	Team1Captain *CaptainRef `json:"team1_captain,omitempty"`
	Team2Captain *CaptainRef `json:"team2_captain,omitempty"`
	CreatedBy    Attribution `json:"created_by"`
	Status       Status      `json:"status"`
	CurrentGame  int         `json:"current_game"`
	Games        []Game      `json:"games"`
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	PausedAt     *time.Time  `json:"paused_at,omitempty"`
	Version      int         `json:"version"`
}

// Actor is whoever submitted a command. The zero Actor is the server itself.
type Actor struct {
	ParticipantID string
	UserID        string
}

func (a Actor) System() bool { return a.ParticipantID == "" && a.UserID == "" }

type CommandType string

const (
	CmdStart          CommandType = "Start"
	CmdLockIn         CommandType = "LockIn"
	CmdFill           CommandType = "Fill"
	CmdTimeoutAdvance CommandType = "TimeoutAdvance"
	CmdPause          CommandType = "Pause"
	CmdResume         CommandType = "Resume"
	CmdCancel         CommandType = "Cancel"
	CmdSwapSides      CommandType = "SwapSides"
	// CmdAbandon is issued by the server for lobbies that never started.
	CmdAbandon CommandType = "Abandon"
)

/*
	CmdStart          -> EvtSessionStarted -> EvtGameStarted -> EvtTimerStarted
	CmdLockIn         -> EvtChampionPicked|EvtChampionBanned -> EvtTimerStarted, or EvtGameCompleted
	                     followed by EvtGameStarted (next game) or EvtSessionCompleted
	CmdFill           -> EvtTurnFilled (cursor does not move)
	CmdTimeoutAdvance -> EvtTimerExpired -> same tail as CmdLockIn, repeated while deadlines are overdue
*/

type Command struct {
	Type       CommandType
	Actor      Actor
	TurnIndex  int
	ChampionID string
	At         time.Time
}

type EventType string

const (
	EvtSessionStarted   EventType = "SessionStarted"
	EvtChampionPicked   EventType = "ChampionPicked"
	EvtChampionBanned   EventType = "ChampionBanned"
	EvtTurnFilled       EventType = "TurnFilled"
	EvtTimerStarted     EventType = "TimerStarted"
	EvtTimerExpired     EventType = "TimerExpired"
	EvtGameStarted      EventType = "GameStarted"
	EvtGameCompleted    EventType = "GameCompleted"
	EvtSessionCompleted EventType = "SessionCompleted"
	EvtSessionPaused    EventType = "SessionPaused"
	EvtSessionResumed   EventType = "SessionResumed"
	EvtSessionCancelled EventType = "SessionCancelled"
	EvtSidesSwapped     EventType = "SidesSwapped"
)

type Event struct {
	Type       EventType `json:"type"`
	Game       int       `json:"game,omitempty"`
	TurnIndex  int       `json:"turn_index,omitempty"`
	Side       Side      `json:"side,omitempty"`
	ChampionID string    `json:"champion_id,omitempty"`
	At         time.Time `json:"at"`
}

// Apply validates cmd against s and returns the resulting events and state.
// On error the returned state is s unchanged.
func Apply(s Session, cmd Command) ([]Event, Session, error) {
	if s.Status.Terminal() {
		return nil, s, ErrInvalidTransition
	}

	next := s.Clone()
	events := settle(&next, cmd.At)

	switch cmd.Type {
	case CmdTimeoutAdvance:
		if len(events) == 0 {
			return nil, s, nil
		}
		return events, next, nil

	case CmdStart:
		if next.Status != StatusLobby {
			return nil, s, ErrInvalidTransition
		}
		if !next.IsCreator(cmd.Actor) && !next.IsAnyCaptain(cmd.Actor) {
			return nil, s, ErrNotYourTurn
		}
		if next.Team1Captain == nil || next.Team2Captain == nil {
			return nil, s, ErrInvalidTransition
		}
		next.Status = StatusInProgress
		next.CurrentGame = 1
		next.Games = []Game{newGame(1, Team1, cmd.At)}
		events = append(events,
			Event{Type: EvtSessionStarted, At: cmd.At},
			Event{Type: EvtGameStarted, Game: 1, At: cmd.At},
			Event{Type: EvtTimerStarted, Game: 1, TurnIndex: 0, Side: GameOrder[0].Side, At: cmd.At},
		)
		return events, next, nil

	case CmdLockIn:
		if next.Status != StatusInProgress {
			return nil, s, ErrInvalidTransition
		}
		g := next.current()
		if cmd.TurnIndex < 0 || cmd.TurnIndex >= len(g.Turns) {
			return nil, s, ErrNotYourTurn
		}
		if cmd.TurnIndex < g.Cursor {
			return nil, s, ErrTurnAlreadyResolved
		}
		if cmd.TurnIndex > g.Cursor {
			return nil, s, ErrNotYourTurn
		}

		turn := &g.Turns[cmd.TurnIndex]
		team := g.TeamOn(turn.Side)
		if !next.IsCaptain(team, cmd.Actor) {
			return nil, s, ErrNotYourTurn
		}
		if err := checkChampion(next, team, turn.Kind, cmd.ChampionID); err != nil {
			return nil, s, err
		}

		at := cmd.At
		turn.ChampionID = cmd.ChampionID
		turn.FilledAt = &at

		typ := EvtChampionPicked
		if turn.Kind == KindBan {
			typ = EvtChampionBanned
		}
		events = append(events, Event{Type: typ, Game: g.Number, TurnIndex: turn.Index, Side: turn.Side, ChampionID: cmd.ChampionID, At: at})
		events = append(events, advance(&next, at)...)
		return events, next, nil

	case CmdFill:
		if next.Status != StatusInProgress {
			return nil, s, ErrInvalidTransition
		}
		g := next.current()
		if cmd.TurnIndex < 0 || cmd.TurnIndex >= len(g.Turns) {
			return nil, s, ErrNotYourTurn
		}
		turn := &g.Turns[cmd.TurnIndex]
		if !turn.Fillable() {
			if turn.FilledAt != nil {
				return nil, s, ErrTurnAlreadyResolved
			}
			return nil, s, ErrNotYourTurn
		}

		team := g.TeamOn(turn.Side)
		if !next.IsCaptain(team, cmd.Actor) {
			return nil, s, ErrNotYourTurn
		}
		if err := checkChampion(next, team, turn.Kind, cmd.ChampionID); err != nil {
			return nil, s, err
		}

		at := cmd.At
		turn.ChampionID = cmd.ChampionID
		turn.FilledAt = &at
		turn.TimedOut = false
		turn.LateFill = true
		events = append(events, Event{Type: EvtTurnFilled, Game: g.Number, TurnIndex: turn.Index, Side: turn.Side, ChampionID: cmd.ChampionID, At: at})
		return events, next, nil

	case CmdPause:
		if next.Status != StatusInProgress {
			return nil, s, ErrInvalidTransition
		}
		if !next.IsCreator(cmd.Actor) && !next.IsAnyCaptain(cmd.Actor) {
			return nil, s, ErrNotYourTurn
		}
		at := cmd.At
		next.Status = StatusPaused
		next.PausedAt = &at
		events = append(events, Event{Type: EvtSessionPaused, Game: next.CurrentGame, At: at})
		return events, next, nil

	case CmdResume:
		if next.Status != StatusPaused {
			return nil, s, ErrInvalidTransition
		}
		if !next.IsCreator(cmd.Actor) && !next.IsAnyCaptain(cmd.Actor) {
			return nil, s, ErrNotYourTurn
		}
		// The active turn keeps whatever time it had left when paused.
		if next.PausedAt != nil {
			frozen := cmd.At.Sub(*next.PausedAt)
			if turn, ok := next.current().active(); ok && frozen > 0 {
				shifted := turn.StartedAt.Add(frozen)
				turn.StartedAt = &shifted
			}
		}
		next.Status = StatusInProgress
		next.PausedAt = nil
		events = append(events, Event{Type: EvtSessionResumed, Game: next.CurrentGame, At: cmd.At})
		return events, next, nil

	case CmdCancel:
		if next.Status.Terminal() {
			return nil, s, ErrInvalidTransition
		}
		if !next.IsCreator(cmd.Actor) && !next.IsAnyCaptain(cmd.Actor) {
			return nil, s, ErrNotYourTurn
		}
		next.Status = StatusCancelled
		next.PausedAt = nil
		events = append(events, Event{Type: EvtSessionCancelled, At: cmd.At})
		return events, next, nil

	case CmdAbandon:
		if !cmd.Actor.System() {
			return nil, s, ErrNotYourTurn
		}
		if next.Status != StatusLobby {
			return nil, s, ErrInvalidTransition
		}
		next.Status = StatusCancelled
		events = append(events, Event{Type: EvtSessionCancelled, At: cmd.At})
		return events, next, nil

	case CmdSwapSides:
		if next.Status != StatusInProgress {
			return nil, s, ErrInvalidTransition
		}
		if !next.IsAnyCaptain(cmd.Actor) {
			return nil, s, ErrNotYourTurn
		}
		g := next.current()
		if g.Cursor != 0 {
			return nil, s, ErrInvalidTransition
		}
		at := cmd.At
		g.BlueTeam = g.BlueTeam.Other()
		g.Turns[0].StartedAt = &at
		events = append(events,
			Event{Type: EvtSidesSwapped, Game: g.Number, At: at},
			Event{Type: EvtTimerStarted, Game: g.Number, TurnIndex: 0, Side: g.Turns[0].Side, At: at},
		)
		return events, next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// settle expires every overdue turn. Each successor starts at its
// predecessor's deadline, so evaluating late yields the same state as
// evaluating on time.
func settle(s *Session, now time.Time) []Event {
	var events []Event
	for s.Status == StatusInProgress {
		g := s.current()
		turn, ok := g.active()
		if !ok {
			break
		}
		d := s.Duration(turn.Kind)
		if Evaluate(*turn, d, now) != ClockExpired {
			break
		}
		deadline := turn.StartedAt.Add(d)
		turn.ChampionID = NoSelection
		turn.TimedOut = true
		turn.FilledAt = &deadline
		events = append(events, Event{Type: EvtTimerExpired, Game: g.Number, TurnIndex: turn.Index, Side: turn.Side, At: deadline})
		events = append(events, advance(s, deadline)...)
	}
	return events
}

// advance moves the cursor past the turn that was just resolved, rolling over
// to the next game or completing the session when the schedule runs out.
func advance(s *Session, at time.Time) []Event {
	g := s.current()
	g.Cursor++
	if g.Cursor < len(g.Turns) {
		g.Turns[g.Cursor].StartedAt = &at
		return []Event{{Type: EvtTimerStarted, Game: g.Number, TurnIndex: g.Cursor, Side: g.Turns[g.Cursor].Side, At: at}}
	}

	g.CompletedAt = &at
	events := []Event{{Type: EvtGameCompleted, Game: g.Number, At: at}}
	if g.Number >= s.PlannedGames {
		s.Status = StatusCompleted
		s.CompletedAt = &at
		return append(events, Event{Type: EvtSessionCompleted, At: at})
	}

	number, blue := g.Number+1, g.BlueTeam
	s.Games = append(s.Games, newGame(number, blue, at))
	s.CurrentGame = number
	return append(events,
		Event{Type: EvtGameStarted, Game: number, At: at},
		Event{Type: EvtTimerStarted, Game: number, TurnIndex: 0, Side: GameOrder[0].Side, At: at},
	)
}

func checkChampion(s Session, team Team, kind Kind, championID string) error {
	if championID == "" || championID == NoSelection {
		return ErrChampionUnavailable
	}
	if _, used := UsedInGame(*s.current())[championID]; used {
		return ErrChampionUnavailable
	}
	if _, forbidden := ForbiddenFor(s, team, kind)[championID]; forbidden {
		return ErrChampionUnavailable
	}
	return nil
}
