package registry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/DoyleJ11/series-draft/internal/engine"
	"github.com/google/uuid"
)

const maxDisplayName = 32

// Identity is either Anonymous or Linked. A participant only ever moves from
// Anonymous to Linked, through Link.
type Identity interface {
	DisplayName() string
	isIdentity()
}

type Anonymous struct {
	Name string
}

func (a Anonymous) DisplayName() string { return a.Name }
func (Anonymous) isIdentity()           {}

type Linked struct {
	UserID string
	Name   string
}

func (l Linked) DisplayName() string { return l.Name }
func (Linked) isIdentity()           {}

type Role string

const (
	RoleCaptain1  Role = "captain1"
	RoleCaptain2  Role = "captain2"
	RoleSpectator Role = "spectator"
	// RoleCaptain asks for whichever captain slot is still open.
	RoleCaptain Role = "captain"
)

func (r Role) Team() (engine.Team, bool) {
	switch r {
	case RoleCaptain1:
		return engine.Team1, true
	case RoleCaptain2:
		return engine.Team2, true
	}
	return 0, false
}

func roleFor(team engine.Team) Role {
	if team == engine.Team1 {
		return RoleCaptain1
	}
	return RoleCaptain2
}

type Participant struct {
	ID        string
	SessionID string
	Identity  Identity
	Role      Role
	JoinedAt  time.Time
	// Secret proves ownership of an anonymous participant. Never broadcast.
	Secret string
}

func (p Participant) UserID() (string, bool) {
	if l, ok := p.Identity.(Linked); ok {
		return l.UserID, true
	}
	return "", false
}

func (p Participant) IsAnonymous() bool {
	_, ok := p.Identity.(Anonymous)
	return ok
}

func (p Participant) DisplayName() string {
	if p.Identity == nil {
		return ""
	}
	return p.Identity.DisplayName()
}

// Actor is the engine identity used when p submits a command.
func (p Participant) Actor() engine.Actor {
	userID, _ := p.UserID()
	return engine.Actor{ParticipantID: p.ID, UserID: userID}
}

type participantJSON struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	DisplayName string    `json:"display_name"`
	UserID      string    `json:"user_id,omitempty"`
	Anonymous   bool      `json:"anonymous"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

func (p Participant) MarshalJSON() ([]byte, error) {
	userID, _ := p.UserID()
	return json.Marshal(participantJSON{
		ID:          p.ID,
		SessionID:   p.SessionID,
		DisplayName: p.DisplayName(),
		UserID:      userID,
		Anonymous:   p.IsAnonymous(),
		Role:        p.Role,
		JoinedAt:    p.JoinedAt,
	})
}

func (p *Participant) UnmarshalJSON(data []byte) error {
	var raw participantJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Participant{ID: raw.ID, SessionID: raw.SessionID, Role: raw.Role, JoinedAt: raw.JoinedAt}
	if raw.UserID != "" {
		p.Identity = Linked{UserID: raw.UserID, Name: raw.DisplayName}
	} else {
		p.Identity = Anonymous{Name: raw.DisplayName}
	}
	return nil
}

type JoinRequest struct {
	DisplayName string
	// UserID is set when the caller is authenticated.
	UserID string
	Role   Role
}

// Join adds a participant to s. A signed-in user who already has a participant
// in the session gets that participant back with existing set.
func Join(s engine.Session, roster []Participant, req JoinRequest, now time.Time) (p Participant, next engine.Session, existing bool, err error) {
	if s.Status.Terminal() {
		return Participant{}, s, false, engine.ErrInvalidTransition
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" || len([]rune(name)) > maxDisplayName {
		return Participant{}, s, false, fmt.Errorf("%w: display name must be 1-%d characters", engine.ErrInvalidSettings, maxDisplayName)
	}

	if req.UserID != "" {
		for _, other := range roster {
			if id, ok := other.UserID(); ok && id == req.UserID {
				return other, s, true, nil
			}
		}
	}

	role := req.Role
	if role == "" {
		role = RoleSpectator
	}

	next = s.Clone()
	var team engine.Team
	switch role {
	case RoleSpectator:
	case RoleCaptain:
		switch {
		case next.Team1Captain == nil:
			team = engine.Team1
		case next.Team2Captain == nil:
			team = engine.Team2
		default:
			return Participant{}, s, false, engine.ErrSessionFull
		}
		role = roleFor(team)
	case RoleCaptain1, RoleCaptain2:
		team, _ = role.Team()
		if next.Captain(team) != nil {
			return Participant{}, s, false, engine.ErrSessionFull
		}
	default:
		return Participant{}, s, false, fmt.Errorf("%w: unknown role %q", engine.ErrInvalidSettings, role)
	}

	// A captain's display name is what Link matches on, so it must stay unambiguous.
	for _, ref := range []*engine.CaptainRef{next.Team1Captain, next.Team2Captain} {
		if ref != nil && strings.EqualFold(ref.DisplayName, name) {
			return Participant{}, s, false, fmt.Errorf("%w: display name %q is taken by a captain", engine.ErrParticipantConflict, name)
		}
	}
	if team != 0 {
		for _, other := range roster {
			if strings.EqualFold(other.DisplayName(), name) {
				return Participant{}, s, false, fmt.Errorf("%w: display name %q is already in use", engine.ErrParticipantConflict, name)
			}
		}
	}

	p = Participant{
		ID:        uuid.NewString(),
		SessionID: s.ID,
		Identity:  Anonymous{Name: name},
		Role:      role,
		JoinedAt:  now,
		Secret:    uuid.NewString(),
	}
	if req.UserID != "" {
		p.Identity = Linked{UserID: req.UserID, Name: name}
	}

	if team != 0 {
		next.SetCaptain(team, &engine.CaptainRef{ParticipantID: p.ID, UserID: req.UserID, DisplayName: name})
	}
	return p, next, false, nil
}

// Link promotes an anonymous participant to a linked one. Linking a
// participant already linked to the same user is a no-op and reports
// changed=false; the store's (session, user) uniqueness backs this up
// against concurrent double submits.
func Link(s engine.Session, roster []Participant, participantID, callerUserID, userID string) (p Participant, next engine.Session, changed bool, err error) {
	if userID == "" || callerUserID != userID {
		return Participant{}, s, false, fmt.Errorf("%w: caller is not the user being linked", engine.ErrParticipantConflict)
	}

	found := false
	for _, candidate := range roster {
		if candidate.ID == participantID {
			p, found = candidate, true
			break
		}
	}
	if !found || p.SessionID != s.ID {
		return Participant{}, s, false, fmt.Errorf("%w: participant does not belong to session", engine.ErrParticipantConflict)
	}

	if linked, ok := p.UserID(); ok {
		if linked == userID {
			return p, s, false, nil
		}
		return Participant{}, s, false, fmt.Errorf("%w: participant is already linked", engine.ErrParticipantConflict)
	}
	for _, other := range roster {
		if id, ok := other.UserID(); ok && id == userID && other.ID != p.ID {
			return Participant{}, s, false, fmt.Errorf("%w: user already joined this session", engine.ErrParticipantConflict)
		}
	}

	name := p.DisplayName()
	p.Identity = Linked{UserID: userID, Name: name}
	next = s.Clone()

	if ref := captainSlotFor(next, roster, p); ref != nil {
		ref.UserID = userID
	}
	if next.CreatedBy.UserID == "" && (next.CreatedBy.ParticipantID == "" || next.CreatedBy.ParticipantID == p.ID) {
		next.CreatedBy.UserID = userID
	}
	return p, next, true, nil
}

// captainSlotFor picks the captain slot p should own after linking: the slot
// holding p itself, otherwise an account-less slot with the same display name
// whose participant is not on the roster.
func captainSlotFor(s engine.Session, roster []Participant, p Participant) *engine.CaptainRef {
	refs := []*engine.CaptainRef{s.Team1Captain, s.Team2Captain}
	for _, ref := range refs {
		if ref != nil && ref.ParticipantID == p.ID {
			if ref.UserID != "" {
				return nil
			}
			return ref
		}
	}
	for _, ref := range refs {
		if ref == nil || ref.UserID != "" || !strings.EqualFold(ref.DisplayName, p.DisplayName()) {
			continue
		}
		if _, held := Find(roster, ref.ParticipantID); held {
			continue
		}
		return ref
	}
	return nil
}

// Find returns the participant with id.
func Find(roster []Participant, id string) (Participant, bool) {
	for _, p := range roster {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// FindByUser returns the participant linked to userID.
func FindByUser(roster []Participant, userID string) (Participant, bool) {
	if userID == "" {
		return Participant{}, false
	}
	for _, p := range roster {
		if id, ok := p.UserID(); ok && id == userID {
			return p, true
		}
	}
	return Participant{}, false
}
