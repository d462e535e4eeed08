package postgres

import (
	"time"

	"github.com/DoyleJ11/series-draft/internal/engine"
	"github.com/DoyleJ11/series-draft/internal/registry"
)

type sessionRow struct {
	ID                 string `gorm:"primaryKey"`
	Name               string `gorm:"not null"`
	Mode               string `gorm:"not null"`
	PlannedGames       int    `gorm:"not null"`
	PickSeconds        int    `gorm:"not null"`
	BanSeconds         int    `gorm:"not null"`
	Team1Name          string `gorm:"not null"`
	Team2Name          string `gorm:"not null"`
	Team1CaptainID     *string
	Team1CaptainUserID *string
	Team1CaptainName   string
	Team2CaptainID     *string
	Team2CaptainUserID *string
	Team2CaptainName   string
	CreatedByID        *string
	CreatedByUserID    *string
	Status             string `gorm:"not null;index"`
	CurrentGame        int    `gorm:"not null"`
	CreatedAt          time.Time
	CompletedAt        *time.Time
	PausedAt           *time.Time
	Version            int `gorm:"not null"`
}

func (sessionRow) TableName() string { return "draft_sessions" }

type gameRow struct {
	SessionID   string `gorm:"primaryKey"`
	Number      int    `gorm:"primaryKey"`
	BlueTeam    int    `gorm:"not null"`
	Cursor      int    `gorm:"not null"`
	StartedAt   time.Time
	CompletedAt *time.Time
}

func (gameRow) TableName() string { return "draft_games" }

type turnRow struct {
	SessionID  string `gorm:"primaryKey"`
	GameNumber int    `gorm:"primaryKey"`
	Idx        int    `gorm:"primaryKey"`
	Kind       string `gorm:"not null"`
	Side       string `gorm:"not null"`
	ChampionID *string
	StartedAt  *time.Time
	FilledAt   *time.Time
	TimedOut   bool `gorm:"not null;default:false"`
	LateFill   bool `gorm:"not null;default:false"`
}

func (turnRow) TableName() string { return "draft_turns" }

// NULL user ids do not collide, so any number of anonymous participants fit.
type participantRow struct {
	ID          string  `gorm:"primaryKey"`
	SessionID   string  `gorm:"not null;uniqueIndex:idx_participant_session_user"`
	UserID      *string `gorm:"uniqueIndex:idx_participant_session_user"`
	DisplayName string  `gorm:"not null"`
	Role        string  `gorm:"not null"`
	Secret      string  `gorm:"not null"`
	JoinedAt    time.Time
}

func (participantRow) TableName() string { return "draft_participants" }

type userSessionRow struct {
	UserID    string `gorm:"primaryKey"`
	SessionID string `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (userSessionRow) TableName() string { return "draft_user_sessions" }

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toSessionRow(s engine.Session) sessionRow {
	row := sessionRow{
		ID:              s.ID,
		Name:            s.Name,
		Mode:            string(s.Mode),
		PlannedGames:    s.PlannedGames,
		PickSeconds:     s.PickSeconds,
		BanSeconds:      s.BanSeconds,
		Team1Name:       s.Team1Name,
		Team2Name:       s.Team2Name,
		CreatedByID:     strPtr(s.CreatedBy.ParticipantID),
		CreatedByUserID: strPtr(s.CreatedBy.UserID),
		Status:          string(s.Status),
		CurrentGame:     s.CurrentGame,
		CreatedAt:       s.CreatedAt,
		CompletedAt:     s.CompletedAt,
		PausedAt:        s.PausedAt,
		Version:         s.Version,
	}
	if ref := s.Team1Captain; ref != nil {
		row.Team1CaptainID, row.Team1CaptainUserID, row.Team1CaptainName = strPtr(ref.ParticipantID), strPtr(ref.UserID), ref.DisplayName
	}
	if ref := s.Team2Captain; ref != nil {
		row.Team2CaptainID, row.Team2CaptainUserID, row.Team2CaptainName = strPtr(ref.ParticipantID), strPtr(ref.UserID), ref.DisplayName
	}
	return row
}

func captainRef(id, userID *string, name string) *engine.CaptainRef {
	if id == nil {
		return nil
	}
	return &engine.CaptainRef{ParticipantID: *id, UserID: deref(userID), DisplayName: name}
}

func fromSessionRow(row sessionRow) engine.Session {
	return engine.Session{
		ID: row.ID,
		Settings: engine.Settings{
			Name:         row.Name,
			Mode:         engine.Mode(row.Mode),
			PlannedGames: row.PlannedGames,
			PickSeconds:  row.PickSeconds,
			BanSeconds:   row.BanSeconds,
			Team1Name:    row.Team1Name,
			Team2Name:    row.Team2Name,
		},
		Team1Captain: captainRef(row.Team1CaptainID, row.Team1CaptainUserID, row.Team1CaptainName),
		Team2Captain: captainRef(row.Team2CaptainID, row.Team2CaptainUserID, row.Team2CaptainName),
		CreatedBy:    engine.Attribution{ParticipantID: deref(row.CreatedByID), UserID: deref(row.CreatedByUserID)},
		Status:       engine.Status(row.Status),
		CurrentGame:  row.CurrentGame,
		Games:        []engine.Game{},
		CreatedAt:    row.CreatedAt,
		CompletedAt:  row.CompletedAt,
		PausedAt:     row.PausedAt,
		Version:      row.Version,
	}
}

func toGameRow(sessionID string, g engine.Game) gameRow {
	return gameRow{
		SessionID:   sessionID,
		Number:      g.Number,
		BlueTeam:    int(g.BlueTeam),
		Cursor:      g.Cursor,
		StartedAt:   g.StartedAt,
		CompletedAt: g.CompletedAt,
	}
}

func toTurnRow(sessionID string, game int, t engine.Turn) turnRow {
	return turnRow{
		SessionID:  sessionID,
		GameNumber: game,
		Idx:        t.Index,
		Kind:       string(t.Kind),
		Side:       string(t.Side),
		ChampionID: strPtr(t.ChampionID),
		StartedAt:  t.StartedAt,
		FilledAt:   t.FilledAt,
		TimedOut:   t.TimedOut,
		LateFill:   t.LateFill,
	}
}

func fromTurnRow(row turnRow) engine.Turn {
	return engine.Turn{
		Index:      row.Idx,
		Kind:       engine.Kind(row.Kind),
		Side:       engine.Side(row.Side),
		ChampionID: deref(row.ChampionID),
		StartedAt:  row.StartedAt,
		FilledAt:   row.FilledAt,
		TimedOut:   row.TimedOut,
		LateFill:   row.LateFill,
	}
}

func toParticipantRow(p registry.Participant) participantRow {
	userID, _ := p.UserID()
	return participantRow{
		ID:          p.ID,
		SessionID:   p.SessionID,
		UserID:      strPtr(userID),
		DisplayName: p.DisplayName(),
		Role:        string(p.Role),
		Secret:      p.Secret,
		JoinedAt:    p.JoinedAt,
	}
}

func fromParticipantRow(row participantRow) registry.Participant {
	p := registry.Participant{
		ID:        row.ID,
		SessionID: row.SessionID,
		Identity:  registry.Anonymous{Name: row.DisplayName},
		Role:      registry.Role(row.Role),
		JoinedAt:  row.JoinedAt,
		Secret:    row.Secret,
	}
	if row.UserID != nil {
		p.Identity = registry.Linked{UserID: *row.UserID, Name: row.DisplayName}
	}
	return p
}
