// Package types holds the JSON bodies of the HTTP API.
package types

import (
	"time"

	"github.com/DoyleJ11/series-draft/internal/engine"
)

// CreateSessionRequest:
//
//	POST /sessions
//	{"name": "Scrims", "mode": "fearless", "planned_games": 3,
//	 "pick_seconds": 30, "ban_seconds": 30, "display_name": "Faker", "role": "captain"}
type CreateSessionRequest struct {
	Name         string `json:"name"`
	Mode         string `json:"mode"`
	PlannedGames int    `json:"planned_games"`
	PickSeconds  int    `json:"pick_seconds"`
	BanSeconds   int    `json:"ban_seconds"`
	Team1Name    string `json:"team1_name,omitempty"`
	Team2Name    string `json:"team2_name,omitempty"`
	DisplayName  string `json:"display_name"`
	Role         string `json:"role,omitempty"`
}

func (r CreateSessionRequest) Settings() engine.Settings {
	return engine.Settings{
		Name:         r.Name,
		Mode:         engine.Mode(r.Mode),
		PlannedGames: r.PlannedGames,
		PickSeconds:  r.PickSeconds,
		BanSeconds:   r.BanSeconds,
		Team1Name:    r.Team1Name,
		Team2Name:    r.Team2Name,
	}
}

type JoinRequest struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role,omitempty"` // captain1 | captain2 | captain | spectator
}

// Credentials identify a participant on the WebSocket. The secret is only
// ever returned once, to the participant that joined.
type Credentials struct {
	ParticipantID string `json:"participant_id"`
	Secret        string `json:"secret"`
	Role          string `json:"role"`
	Existing      bool   `json:"existing,omitempty"`
}

type CreateSessionResponse struct {
	Session     SessionSummary `json:"session"`
	Participant Credentials    `json:"participant"`
}

// SessionSummary is the session without its pick/ban history, as shown in
// lists.
type SessionSummary struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Mode           string     `json:"mode"`
	Status         string     `json:"status"`
	PlannedGames   int        `json:"planned_games"`
	CurrentGame    int        `json:"current_game"`
	GamesCompleted int        `json:"games_completed"`
	PickSeconds    int        `json:"pick_seconds"`
	BanSeconds     int        `json:"ban_seconds"`
	Team1Name      string     `json:"team1_name"`
	Team2Name      string     `json:"team2_name"`
	Team1Captain   string     `json:"team1_captain,omitempty"`
	Team2Captain   string     `json:"team2_captain,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Version        int        `json:"version"`
}

func SummaryOf(s engine.Session) SessionSummary {
	sum := SessionSummary{
		ID:           s.ID,
		Name:         s.Name,
		Mode:         string(s.Mode),
		Status:       string(s.Status),
		PlannedGames: s.PlannedGames,
		CurrentGame:  s.CurrentGame,
		PickSeconds:  s.PickSeconds,
		BanSeconds:   s.BanSeconds,
		Team1Name:    s.Team1Name,
		Team2Name:    s.Team2Name,
		CreatedAt:    s.CreatedAt,
		CompletedAt:  s.CompletedAt,
		Version:      s.Version,
	}
	for _, g := range s.Games {
		if g.CompletedAt != nil {
			sum.GamesCompleted++
		}
	}
	if c := s.Team1Captain; c != nil {
		sum.Team1Captain = c.DisplayName
	}
	if c := s.Team2Captain; c != nil {
		sum.Team2Captain = c.DisplayName
	}
	return sum
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
