package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

var (
	blueCaptain = Actor{ParticipantID: "p-blue"}
	redCaptain  = Actor{ParticipantID: "p-red"}
	spectator   = Actor{ParticipantID: "p-watch"}
)

func newLobbySession(t *testing.T, mode Mode, games int) Session {
	t.Helper()
	s, err := NewSession(Settings{
		Name:         "Scrim",
		Mode:         mode,
		PlannedGames: games,
		PickSeconds:  30,
		BanSeconds:   30,
	}, Attribution{ParticipantID: "p-blue"}, t0)
	require.NoError(t, err)
	s.Team1Captain = &CaptainRef{ParticipantID: "p-blue", DisplayName: "Faker"}
	s.Team2Captain = &CaptainRef{ParticipantID: "p-red", DisplayName: "Chovy"}
	return s
}

func newStartedSession(t *testing.T, mode Mode, games int) Session {
	t.Helper()
	s := newLobbySession(t, mode, games)
	_, s, err := Apply(s, Command{Type: CmdStart, Actor: blueCaptain, At: t0})
	require.NoError(t, err)
	return s
}

// captainOf returns the actor owning the active turn of the current game.
func captainOf(s Session) Actor {
	g, _ := s.CurrentGameState()
	if g.TeamOn(g.Turns[g.Cursor].Side) == Team1 {
		return blueCaptain
	}
	return redCaptain
}

func lockIn(t *testing.T, s Session, champ string, at time.Time) Session {
	t.Helper()
	g, ok := s.CurrentGameState()
	require.True(t, ok)
	_, next, err := Apply(s, Command{Type: CmdLockIn, Actor: captainOf(s), TurnIndex: g.Cursor, ChampionID: champ, At: at})
	require.NoError(t, err, "lock in %s at turn %d", champ, g.Cursor)
	return next
}

// finishGame fills every remaining turn of the current game with unique names.
func finishGame(t *testing.T, s Session, at time.Time) Session {
	t.Helper()
	g, _ := s.CurrentGameState()
	number := g.Number
	for {
		g, ok := s.CurrentGameState()
		if !ok || g.Number != number || s.Status != StatusInProgress {
			return s
		}
		s = lockIn(t, s, fmt.Sprintf("g%d-c%d", number, g.Cursor), at)
	}
}

func activeTurns(g Game) int {
	n := 0
	for _, t := range g.Turns {
		if t.Active() {
			n++
		}
	}
	return n
}

func TestOrderLookup(t *testing.T) {
	cases := []struct {
		name        string
		cursor      int
		expectedVal TurnStep
	}{
		{name: "Red Team Pick 1", cursor: 7, expectedVal: TurnStep{Side: SideRed, Kind: KindPick}},
		{name: "Red Team Ban 1", cursor: 1, expectedVal: TurnStep{Side: SideRed, Kind: KindBan}},
		{name: "Red Team Ban 4", cursor: 14, expectedVal: TurnStep{Side: SideRed, Kind: KindBan}},
		{name: "Blue Team Pick 2", cursor: 9, expectedVal: TurnStep{Side: SideBlue, Kind: KindPick}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step, ok := StepAt(tc.cursor)
			require.True(t, ok)
			assert.Equal(t, tc.expectedVal, step)
		})
	}

	_, ok := StepAt(len(GameOrder))
	assert.False(t, ok)
}

func TestGameOrder_Shape(t *testing.T) {
	counts := map[TurnStep]int{}
	for _, step := range GameOrder {
		counts[step]++
	}
	assert.Equal(t, 5, counts[TurnStep{Side: SideBlue, Kind: KindPick}])
	assert.Equal(t, 5, counts[TurnStep{Side: SideRed, Kind: KindPick}])
	assert.Equal(t, 5, counts[TurnStep{Side: SideBlue, Kind: KindBan}])
	assert.Equal(t, 5, counts[TurnStep{Side: SideRed, Kind: KindBan}])
	assert.Equal(t, PhasePick1, DerivePhase(6))
	assert.Equal(t, PhaseBan2, DerivePhase(12))
	assert.Equal(t, PhaseDone, DerivePhase(len(GameOrder)))
}

func TestNewSession_Validation(t *testing.T) {
	valid := Settings{Name: "Finals", Mode: ModeFearless, PlannedGames: 5, PickSeconds: 30, BanSeconds: 15}

	cases := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Settings) {}},
		{name: "empty mode defaults to normal", mutate: func(s *Settings) { s.Mode = "" }},
		{name: "missing name", mutate: func(s *Settings) { s.Name = "  " }, wantErr: true},
		{name: "unknown mode", mutate: func(s *Settings) { s.Mode = "draftmancer" }, wantErr: true},
		{name: "zero games", mutate: func(s *Settings) { s.PlannedGames = 0 }, wantErr: true},
		{name: "six games", mutate: func(s *Settings) { s.PlannedGames = 6 }, wantErr: true},
		{name: "odd pick timer", mutate: func(s *Settings) { s.PickSeconds = 20 }, wantErr: true},
		{name: "odd ban timer", mutate: func(s *Settings) { s.BanSeconds = 0 }, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			settings := valid
			tc.mutate(&settings)
			s, err := NewSession(settings, Attribution{}, t0)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidSettings)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusLobby, s.Status)
			assert.Equal(t, 1, s.CurrentGame)
			assert.Equal(t, "Team 1", s.Team1Name)
			assert.NotEmpty(t, s.ID)
		})
	}
}

func TestStart_RequiresBothCaptains(t *testing.T) {
	s := newLobbySession(t, ModeNormal, 1)
	s.Team2Captain = nil

	_, _, err := Apply(s, Command{Type: CmdStart, Actor: blueCaptain, At: t0})
	require.ErrorIs(t, err, ErrInvalidTransition)

	s = newLobbySession(t, ModeNormal, 1)
	_, _, err = Apply(s, Command{Type: CmdStart, Actor: spectator, At: t0})
	require.ErrorIs(t, err, ErrNotYourTurn)

	events, s, err := Apply(s, Command{Type: CmdStart, Actor: redCaptain, At: t0})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtSessionStarted))
	assert.Equal(t, StatusInProgress, s.Status)
	require.Len(t, s.Games, 1)
	assert.True(t, s.Games[0].Turns[0].Active())
	assert.Equal(t, 1, activeTurns(s.Games[0]))
}

func TestTurnOrder_RejectsOutOfOrderAction(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 1)

	_, _, err := Apply(s, Command{Type: CmdLockIn, Actor: blueCaptain, TurnIndex: 1, ChampionID: "Ahri", At: t0})
	require.True(t, errors.Is(err, ErrNotYourTurn), "want ErrNotYourTurn, got %v", err)

	_, _, err = Apply(s, Command{Type: CmdLockIn, Actor: redCaptain, TurnIndex: 0, ChampionID: "Ahri", At: t0})
	require.ErrorIs(t, err, ErrNotYourTurn)

	_, _, err = Apply(s, Command{Type: CmdLockIn, Actor: spectator, TurnIndex: 0, ChampionID: "Ahri", At: t0})
	require.ErrorIs(t, err, ErrNotYourTurn)
}

func TestLockIn_LinkedUserActsForCaptain(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 1)
	s.Team1Captain.UserID = "user-faker"

	_, next, err := Apply(s, Command{Type: CmdLockIn, Actor: Actor{ParticipantID: "other-device", UserID: "user-faker"}, TurnIndex: 0, ChampionID: "Ahri", At: t0})
	require.NoError(t, err)
	assert.Equal(t, "Ahri", next.Games[0].Turns[0].ChampionID)
}

func TestLockIn_DuplicateSubmissionResolvedOnce(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 1)
	cmd := Command{Type: CmdLockIn, Actor: blueCaptain, TurnIndex: 0, ChampionID: "Zed", At: t0.Add(time.Second)}

	events, next, err := Apply(s, cmd)
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtChampionBanned))

	_, again, err := Apply(next, cmd)
	require.ErrorIs(t, err, ErrTurnAlreadyResolved)
	assert.Equal(t, next, again)
	assert.Equal(t, 1, next.Games[0].Cursor)
}

func TestLockIn_RejectsChampionUsedInGame(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 1)
	s = lockIn(t, s, "Zed", t0)

	_, _, err := Apply(s, Command{Type: CmdLockIn, Actor: redCaptain, TurnIndex: 1, ChampionID: "Zed", At: t0})
	require.ErrorIs(t, err, ErrChampionUnavailable)

	_, _, err = Apply(s, Command{Type: CmdLockIn, Actor: redCaptain, TurnIndex: 1, ChampionID: NoSelection, At: t0})
	require.ErrorIs(t, err, ErrChampionUnavailable)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 1)
	before := s.Clone()

	_, _, err := Apply(s, Command{Type: CmdLockIn, Actor: blueCaptain, TurnIndex: 0, ChampionID: "Zed", At: t0})
	require.NoError(t, err)
	assert.Equal(t, before, s)
}

func TestFearless_SameTeamCannotRepick(t *testing.T) {
	s := newStartedSession(t, ModeFearless, 3)

	// Game 1: play the ban phase, then Blue (Team1) takes Ahri with the first pick.
	for i := 0; i < 6; i++ {
		s = lockIn(t, s, fmt.Sprintf("g1-ban-%d", i), t0)
	}
	s = lockIn(t, s, "Ahri", t0)
	s = finishGame(t, s, t0)
	require.Equal(t, 2, s.CurrentGame)

	for i := 0; i < 6; i++ {
		s = lockIn(t, s, fmt.Sprintf("g2-ban-%d", i), t0)
	}

	g, _ := s.CurrentGameState()
	require.Equal(t, KindPick, g.Turns[g.Cursor].Kind)
	_, _, err := Apply(s, Command{Type: CmdLockIn, Actor: blueCaptain, TurnIndex: g.Cursor, ChampionID: "Ahri", At: t0})
	require.ErrorIs(t, err, ErrChampionUnavailable)

	s = lockIn(t, s, "Orianna", t0)
	s = lockIn(t, s, "Ahri", t0) // red picks it freely
	g, _ = s.CurrentGameState()
	assert.Equal(t, "Ahri", g.Turns[7].ChampionID)
}

func TestFearless_BansStayOpen(t *testing.T) {
	s := newStartedSession(t, ModeFearless, 2)
	for i := 0; i < 6; i++ {
		s = lockIn(t, s, fmt.Sprintf("ban-%d", i), t0)
	}
	s = lockIn(t, s, "Ahri", t0)
	s = finishGame(t, s, t0)

	// Blue may ban its own previous pick.
	s = lockIn(t, s, "Ahri", t0)
	g, _ := s.CurrentGameState()
	assert.Equal(t, "Ahri", g.Turns[0].ChampionID)
}

func TestIronman_TouchedChampionsAreDead(t *testing.T) {
	s := newStartedSession(t, ModeIronman, 3)
	s = lockIn(t, s, "Yasuo", t0) // banned by blue in game 1
	s = finishGame(t, s, t0)
	require.Equal(t, 2, s.CurrentGame)

	// Ban by blue, ban by red, both rejected.
	_, _, err := Apply(s, Command{Type: CmdLockIn, Actor: blueCaptain, TurnIndex: 0, ChampionID: "Yasuo", At: t0})
	require.ErrorIs(t, err, ErrChampionUnavailable)
	s = lockIn(t, s, "Ezreal", t0)
	_, _, err = Apply(s, Command{Type: CmdLockIn, Actor: redCaptain, TurnIndex: 1, ChampionID: "Yasuo", At: t0})
	require.ErrorIs(t, err, ErrChampionUnavailable)
	// A champion picked in game 1 cannot be banned either.
	_, _, err = Apply(s, Command{Type: CmdLockIn, Actor: redCaptain, TurnIndex: 1, ChampionID: "g1-c6", At: t0})
	require.ErrorIs(t, err, ErrChampionUnavailable)

	s = finishGame(t, s, t0)
	require.Equal(t, 3, s.CurrentGame)
	_, _, err = Apply(s, Command{Type: CmdLockIn, Actor: blueCaptain, TurnIndex: 0, ChampionID: "Ezreal", At: t0})
	require.ErrorIs(t, err, ErrChampionUnavailable)
}

func TestTimeout_ExpiresAndAdvances(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 1)
	for i := 0; i < 6; i++ {
		s = lockIn(t, s, fmt.Sprintf("ban-%d", i), t0)
	}
	g, _ := s.CurrentGameState()
	require.Equal(t, KindPick, g.Turns[6].Kind)

	now := t0.Add(31 * time.Second)
	events, expired, err := Apply(s, Command{Type: CmdTimeoutAdvance, At: now})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtTimerExpired))

	g, _ = expired.CurrentGameState()
	turn := g.Turns[6]
	assert.True(t, turn.TimedOut)
	assert.Equal(t, NoSelection, turn.ChampionID)
	assert.Equal(t, t0.Add(30*time.Second), *turn.FilledAt)
	assert.Equal(t, 7, g.Cursor)
	assert.True(t, g.Turns[7].Active())
	assert.Equal(t, t0.Add(30*time.Second), *g.Turns[7].StartedAt)

	// Idempotent: a second evaluation changes nothing.
	events, again, err := Apply(expired, Command{Type: CmdTimeoutAdvance, At: now})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, expired, again)
}

func TestTimeout_OpenBeforeDeadline(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 1)
	events, next, err := Apply(s, Command{Type: CmdTimeoutAdvance, At: t0.Add(29 * time.Second)})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, s, next)

	g, _ := s.CurrentGameState()
	assert.Equal(t, ClockOpen, Evaluate(g.Turns[0], 30*time.Second, t0.Add(29*time.Second)))
	assert.Equal(t, ClockExpired, Evaluate(g.Turns[0], 30*time.Second, t0.Add(30*time.Second)))
	assert.Equal(t, ClockPending, Evaluate(g.Turns[1], 30*time.Second, t0))
}

func TestTimeout_LateEvaluationMatchesEager(t *testing.T) {
	eager := newStartedSession(t, ModeNormal, 2)
	lazy := eager.Clone()

	for i := 1; i <= 25; i++ {
		var err error
		_, eager, err = Apply(eager, Command{Type: CmdTimeoutAdvance, At: t0.Add(time.Duration(i*30) * time.Second)})
		require.NoError(t, err)
	}
	_, lazy, err := Apply(lazy, Command{Type: CmdTimeoutAdvance, At: t0.Add(25 * 30 * time.Second)})
	require.NoError(t, err)

	assert.Equal(t, eager, lazy)
	assert.Equal(t, 2, lazy.CurrentGame)
	assert.Equal(t, 5, lazy.Games[1].Cursor)
}

func TestTimeout_LastTurnCompletesSession(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 1)
	for i := 0; i < len(GameOrder)-1; i++ {
		s = lockIn(t, s, fmt.Sprintf("c%d", i), t0)
	}

	events, s, err := Apply(s, Command{Type: CmdTimeoutAdvance, At: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtSessionCompleted))
	assert.Equal(t, StatusCompleted, s.Status)
	require.NotNil(t, s.CompletedAt)
}

func TestFill_TimedOutTurn(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 2)
	_, s, err := Apply(s, Command{Type: CmdTimeoutAdvance, At: t0.Add(30 * time.Second)})
	require.NoError(t, err)
	s = lockIn(t, s, "Zed", t0.Add(35*time.Second))

	fill := Command{Type: CmdFill, Actor: redCaptain, TurnIndex: 0, ChampionID: "Yone", At: t0.Add(40 * time.Second)}
	_, _, err = Apply(s, fill)
	require.ErrorIs(t, err, ErrNotYourTurn, "opponent cannot fill")

	fill.Actor = blueCaptain
	fill.ChampionID = "Zed"
	_, _, err = Apply(s, fill)
	require.ErrorIs(t, err, ErrChampionUnavailable)

	fill.ChampionID = "Yone"
	events, filled, err := Apply(s, fill)
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtTurnFilled))
	turn := filled.Games[0].Turns[0]
	assert.Equal(t, "Yone", turn.ChampionID)
	assert.False(t, turn.TimedOut)
	assert.True(t, turn.LateFill)
	assert.Equal(t, s.Games[0].Cursor, filled.Games[0].Cursor, "fill does not move the cursor")

	_, _, err = Apply(filled, fill)
	require.ErrorIs(t, err, ErrTurnAlreadyResolved)

	// A turn that has not been reached yet is not fillable.
	_, _, err = Apply(filled, Command{Type: CmdFill, Actor: blueCaptain, TurnIndex: 9, ChampionID: "Ahri", At: t0.Add(40 * time.Second)})
	require.ErrorIs(t, err, ErrNotYourTurn)
}

func TestFill_OnlyWhileGameUnfinished(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 2)
	_, s, err := Apply(s, Command{Type: CmdTimeoutAdvance, At: t0.Add(30 * time.Second)})
	require.NoError(t, err)
	s = finishGame(t, s, t0.Add(45*time.Second))
	require.Equal(t, 2, s.CurrentGame)

	// Turn 0 now refers to game 2, which is open rather than timed out.
	_, _, err = Apply(s, Command{Type: CmdFill, Actor: blueCaptain, TurnIndex: 0, ChampionID: "Yone", At: t0.Add(50 * time.Second)})
	require.ErrorIs(t, err, ErrNotYourTurn)
	assert.True(t, s.Games[0].Turns[0].Fillable())
}

func TestSingleGameSeriesCompletes(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 1)
	done := t0.Add(10 * time.Second)
	s = finishGame(t, s, done)

	assert.Equal(t, StatusCompleted, s.Status)
	require.NotNil(t, s.CompletedAt)
	assert.Equal(t, done, *s.CompletedAt)
	assert.Len(t, s.Games, 1)

	_, _, err := Apply(s, Command{Type: CmdLockIn, Actor: blueCaptain, TurnIndex: 0, ChampionID: "Ahri", At: done})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApply_EmitsGameCompletedOnLastStep(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 2)
	for i := 0; i < len(GameOrder)-1; i++ {
		s = lockIn(t, s, fmt.Sprintf("c%d", i), t0)
	}
	events, s, err := Apply(s, Command{Type: CmdLockIn, Actor: captainOf(s), TurnIndex: len(GameOrder) - 1, ChampionID: "last", At: t0})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtGameCompleted))
	assert.True(t, ContainsEvent(events, EvtGameStarted))
	assert.Equal(t, 2, s.CurrentGame)
	assert.Equal(t, StatusInProgress, s.Status)
	assert.Equal(t, 1, activeTurns(s.Games[1]))
}

func TestPauseResume_PreservesRemainingTime(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 1)

	_, s, err := Apply(s, Command{Type: CmdPause, Actor: redCaptain, At: t0.Add(10 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, s.Status)
	assert.Equal(t, 20*time.Second, s.Remaining(t0.Add(time.Hour)))

	_, _, err = Apply(s, Command{Type: CmdLockIn, Actor: blueCaptain, TurnIndex: 0, ChampionID: "Zed", At: t0.Add(11 * time.Second)})
	require.ErrorIs(t, err, ErrInvalidTransition)

	events, still, err := Apply(s, Command{Type: CmdTimeoutAdvance, At: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, s, still)

	resumeAt := t0.Add(2 * time.Minute)
	_, s, err = Apply(s, Command{Type: CmdResume, Actor: blueCaptain, At: resumeAt})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, s.Status)
	assert.Equal(t, 20*time.Second, s.Remaining(resumeAt))

	deadline, ok := s.Deadline()
	require.True(t, ok)
	assert.Equal(t, resumeAt.Add(20*time.Second), deadline)
}

func TestPause_SpectatorRejected(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 1)
	_, _, err := Apply(s, Command{Type: CmdPause, Actor: spectator, At: t0})
	require.ErrorIs(t, err, ErrNotYourTurn)

	_, _, err = Apply(s, Command{Type: CmdResume, Actor: blueCaptain, At: t0})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancel(t *testing.T) {
	cases := []struct {
		name    string
		actor   Actor
		wantErr error
	}{
		{name: "creator", actor: Actor{UserID: "creator"}},
		{name: "red captain", actor: redCaptain},
		{name: "spectator", actor: spectator, wantErr: ErrNotYourTurn},
		{name: "server", actor: Actor{}, wantErr: ErrNotYourTurn},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStartedSession(t, ModeNormal, 3)
			s.CreatedBy = Attribution{UserID: "creator"}
			events, next, err := Apply(s, Command{Type: CmdCancel, Actor: tc.actor, At: t0})
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, ContainsEvent(events, EvtSessionCancelled))
			assert.Equal(t, StatusCancelled, next.Status)

			_, _, err = Apply(next, Command{Type: CmdCancel, Actor: tc.actor, At: t0})
			require.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestCancel_FromLobbyAndPaused(t *testing.T) {
	s := newLobbySession(t, ModeNormal, 1)
	_, next, err := Apply(s, Command{Type: CmdCancel, Actor: blueCaptain, At: t0})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, next.Status)

	s = newStartedSession(t, ModeNormal, 1)
	_, s, err = Apply(s, Command{Type: CmdPause, Actor: blueCaptain, At: t0})
	require.NoError(t, err)
	_, next, err = Apply(s, Command{Type: CmdCancel, Actor: redCaptain, At: t0})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, next.Status)
	assert.Nil(t, next.PausedAt)
}

func TestAbandon_OnlyServerOnlyLobby(t *testing.T) {
	s := newLobbySession(t, ModeNormal, 1)
	_, _, err := Apply(s, Command{Type: CmdAbandon, Actor: blueCaptain, At: t0})
	require.ErrorIs(t, err, ErrNotYourTurn)

	events, next, err := Apply(s, Command{Type: CmdAbandon, At: t0})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtSessionCancelled))
	assert.Equal(t, StatusCancelled, next.Status)

	running := newStartedSession(t, ModeNormal, 1)
	_, _, err = Apply(running, Command{Type: CmdAbandon, At: t0})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSwapSides_BeforeFirstAction(t *testing.T) {
	s := newStartedSession(t, ModeFearless, 2)
	at := t0.Add(5 * time.Second)

	_, swapped, err := Apply(s, Command{Type: CmdSwapSides, Actor: redCaptain, At: at})
	require.NoError(t, err)
	g, _ := swapped.CurrentGameState()
	assert.Equal(t, Team2, g.BlueTeam)
	assert.Equal(t, at, *g.Turns[0].StartedAt)

	// Red captain now owns the blue side.
	_, _, err = Apply(swapped, Command{Type: CmdLockIn, Actor: redCaptain, TurnIndex: 0, ChampionID: "Zed", At: at})
	require.NoError(t, err)

	s = lockIn(t, s, "Zed", at)
	_, _, err = Apply(s, Command{Type: CmdSwapSides, Actor: redCaptain, At: at})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFearless_FollowsTeamAcrossSideSwap(t *testing.T) {
	s := newStartedSession(t, ModeFearless, 2)
	for i := 0; i < 6; i++ {
		s = lockIn(t, s, fmt.Sprintf("ban-%d", i), t0)
	}
	s = lockIn(t, s, "Ahri", t0) // Team1 on blue
	s = finishGame(t, s, t0)

	_, s, err := Apply(s, Command{Type: CmdSwapSides, Actor: blueCaptain, At: t0})
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		s = lockIn(t, s, fmt.Sprintf("g2-ban-%d", i), t0)
	}

	// Team2 now plays blue and may take Ahri; Team1 on red may not.
	forbiddenTeam1 := ForbiddenFor(s, Team1, KindPick)
	assert.Contains(t, forbiddenTeam1, "Ahri")
	assert.NotContains(t, ForbiddenFor(s, Team2, KindPick), "Ahri")
	s = lockIn(t, s, "Ahri", t0)
	g, _ := s.CurrentGameState()
	assert.Equal(t, Team2, g.TeamOn(g.Turns[6].Side))
}

func TestUnsupportedCommand(t *testing.T) {
	s := newStartedSession(t, ModeNormal, 1)
	_, _, err := Apply(s, Command{Type: "HoverChampion", Actor: blueCaptain, At: t0})
	require.ErrorIs(t, err, ErrUnsupportedCommand)
}

func TestSingleActiveTurnInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	actors := []Actor{blueCaptain, redCaptain, spectator}
	modes := []Mode{ModeNormal, ModeFearless, ModeIronman}
	types := []CommandType{CmdLockIn, CmdLockIn, CmdLockIn, CmdFill, CmdTimeoutAdvance, CmdPause, CmdResume, CmdSwapSides}

	for run := 0; run < 20; run++ {
		s := newStartedSession(t, modes[run%len(modes)], 1+run%5)
		now := t0
		for step := 0; step < 400 && !s.Status.Terminal(); step++ {
			now = now.Add(time.Duration(rng.Intn(20)) * time.Second)
			cmd := Command{
				Type:       types[rng.Intn(len(types))],
				Actor:      actors[rng.Intn(len(actors))],
				TurnIndex:  rng.Intn(len(GameOrder)),
				ChampionID: fmt.Sprintf("c%d", rng.Intn(60)),
				At:         now,
			}
			if g, ok := s.CurrentGameState(); ok && rng.Intn(2) == 0 {
				cmd.TurnIndex = g.Cursor
			}
			_, next, err := Apply(s, cmd)
			if err != nil {
				require.Equal(t, s, next)
				continue
			}
			s = next
			for _, g := range s.Games {
				want := 1
				if g.Done() {
					want = 0
				}
				require.Equal(t, want, activeTurns(g), "game %d after %s", g.Number, cmd.Type)
			}
		}
	}
}
