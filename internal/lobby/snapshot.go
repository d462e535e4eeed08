package lobby

import (
	"time"

	"github.com/DoyleJ11/series-draft/internal/engine"
	"github.com/DoyleJ11/series-draft/internal/registry"
)

// Snapshot is the full authoritative state of one session at Version.
// Observers replace whatever they hold with it; nothing is sent as a diff.
type Snapshot struct {
	Version      int                    `json:"version"`
	ServerTime   time.Time              `json:"server_time"`
	Phase        engine.Phase           `json:"phase,omitempty"`
	Deadline     *time.Time             `json:"deadline,omitempty"`
	RemainingMs  int64                  `json:"remaining_ms"`
	State        engine.Session         `json:"state"`
	Participants []registry.Participant `json:"participants"`
	Availability Availability           `json:"availability"`
}

// Availability lists what the current game rules out, so clients can grey
// out champions without re-deriving series history.
type Availability struct {
	Used       []string `json:"used"`
	Team1Picks []string `json:"team1_picks"` // forbidden picks for team 1
	Team2Picks []string `json:"team2_picks"`
	Bans       []string `json:"bans"` // forbidden bans, same for both teams
}

func (l *Lobby) snapshot() Snapshot {
	now := l.clock()
	s := l.state.Clone()

	snap := Snapshot{
		Version:      s.Version,
		ServerTime:   now,
		RemainingMs:  s.Remaining(now).Milliseconds(),
		State:        s,
		Participants: append([]registry.Participant(nil), l.roster...),
		Availability: availabilityOf(s),
	}
	if g, ok := s.CurrentGameState(); ok {
		snap.Phase = engine.DerivePhase(g.Cursor)
	}
	if d, ok := s.Deadline(); ok {
		snap.Deadline = &d
	}
	return snap
}

func availabilityOf(s engine.Session) Availability {
	a := Availability{
		Used:       []string{},
		Team1Picks: sortedKeys(engine.ForbiddenFor(s, engine.Team1, engine.KindPick)),
		Team2Picks: sortedKeys(engine.ForbiddenFor(s, engine.Team2, engine.KindPick)),
		Bans:       sortedKeys(engine.ForbiddenFor(s, engine.Team1, engine.KindBan)),
	}
	if g, ok := s.CurrentGameState(); ok {
		a.Used = sortedKeys(engine.UsedInGame(g))
	}
	return a
}
