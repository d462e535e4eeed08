package store

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/series-draft/internal/engine"
	"github.com/DoyleJ11/series-draft/internal/registry"
)

var ErrNotFound = errors.New("not found")

// ErrConflict means the stored state moved on since Prev was read: another
// writer won the compare-and-set on the session version or on a turn fill.
var ErrConflict = errors.New("concurrent update")

// ErrDuplicate is a (session, user) uniqueness violation on participants.
var ErrDuplicate = errors.New("duplicate participant")

// Change is one atomic mutation of a session aggregate.
type Change struct {
	Prev engine.Session
	Next engine.Session
	// Participant, when set, is inserted or updated in the same transaction.
	Participant *registry.Participant
	// IndexUsers are added to the "my sessions" index; existing entries are kept.
	IndexUsers []string
}

type Store interface {
	CreateSession(ctx context.Context, s engine.Session, creator *registry.Participant, indexUsers []string) error
	Load(ctx context.Context, sessionID string) (engine.Session, []registry.Participant, error)
	Commit(ctx context.Context, c Change) error
	// UserSessions lists the sessions in userID's index, newest first. Games
	// are returned without their turns.
	UserSessions(ctx context.Context, userID string) ([]engine.Session, error)
	// StaleLobbies returns ids of sessions still in the lobby created before cutoff.
	StaleLobbies(ctx context.Context, cutoff time.Time) ([]string, error)
	Close() error
}

// CheckTurns enforces that no resolved turn is overwritten, except a timed-out
// sentinel being filled.
func CheckTurns(prev, next engine.Session) error {
	for i, g := range prev.Games {
		if i >= len(next.Games) {
			return ErrConflict
		}
		ng := next.Games[i]
		for j, t := range g.Turns {
			if t.FilledAt == nil || t.Fillable() {
				continue
			}
			if j >= len(ng.Turns) {
				return ErrConflict
			}
			nt := ng.Turns[j]
			if nt.ChampionID != t.ChampionID || nt.FilledAt == nil || !nt.FilledAt.Equal(*t.FilledAt) {
				return ErrConflict
			}
		}
	}
	return nil
}
