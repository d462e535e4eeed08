package engine

import "time"

// TurnClock is the timeout policy's verdict on a single turn.
type TurnClock string

const (
	ClockPending TurnClock = "pending"
	ClockOpen    TurnClock = "open"
	ClockExpired TurnClock = "expired"
	ClockClosed  TurnClock = "closed"
)

// AllowedSeconds are the per-turn durations a session may be configured with.
var AllowedSeconds = []int{15, 30, 45, 60, 90}

// Evaluate decides whether t is still open at now given its duration d.
// A turn is expired at its deadline, not after it.
func Evaluate(t Turn, d time.Duration, now time.Time) TurnClock {
	if t.FilledAt != nil {
		return ClockClosed
	}
	if t.StartedAt == nil {
		return ClockPending
	}
	if now.Before(t.StartedAt.Add(d)) {
		return ClockOpen
	}
	return ClockExpired
}

func (s Session) Duration(kind Kind) time.Duration {
	if kind == KindBan {
		return time.Duration(s.BanSeconds) * time.Second
	}
	return time.Duration(s.PickSeconds) * time.Second
}

// Deadline returns the deadline of the active turn, if the draft is running.
func (s Session) Deadline() (time.Time, bool) {
	if s.Status != StatusInProgress || len(s.Games) == 0 {
		return time.Time{}, false
	}
	g := s.Games[len(s.Games)-1]
	if g.Done() || !g.Turns[g.Cursor].Active() {
		return time.Time{}, false
	}
	t := g.Turns[g.Cursor]
	return t.StartedAt.Add(s.Duration(t.Kind)), true
}

// Remaining is the time left on the active turn, frozen while paused.
func (s Session) Remaining(now time.Time) time.Duration {
	if len(s.Games) == 0 {
		return 0
	}
	g := s.Games[len(s.Games)-1]
	if g.Done() || !g.Turns[g.Cursor].Active() {
		return 0
	}
	t := g.Turns[g.Cursor]
	if s.Status == StatusPaused && s.PausedAt != nil {
		now = *s.PausedAt
	} else if s.Status != StatusInProgress {
		return 0
	}
	left := t.StartedAt.Add(s.Duration(t.Kind)).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
