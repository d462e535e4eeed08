package types

import (
	"github.com/DoyleJ11/series-draft/internal/lobby"
)

// Client message types.
const (
	MsgHello     = "Hello"
	MsgLockIn    = "LockIn"
	MsgFill      = "Fill"
	MsgStart     = "Start"
	MsgPause     = "Pause"
	MsgResume    = "Resume"
	MsgCancel    = "Cancel"
	MsgSwapSides = "SwapSides"
	MsgResync    = "Resync"
)

// Server message types.
const (
	MsgWelcome       = "Welcome"
	MsgStateSnapshot = "StateSnapshot"
	MsgAck           = "Ack"
	MsgError         = "Error"
)

type ClientMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`

	// Hello
	ParticipantID   string `json:"participant_id,omitempty"`
	Secret          string `json:"secret,omitempty"`
	Token           string `json:"token,omitempty"`
	LastSeenVersion int    `json:"last_seen_version,omitempty"`

	// LockIn, Fill
	TurnIndex  int    `json:"turn_index"`
	ChampionID string `json:"champion_id,omitempty"`
}

type ServerMessage struct {
	Type          string          `json:"type"`
	RequestID     string          `json:"request_id,omitempty"`
	Version       int             `json:"version,omitempty"`
	Snapshot      *lobby.Snapshot `json:"snapshot,omitempty"`
	ParticipantID string          `json:"participant_id,omitempty"`
	Role          string          `json:"role,omitempty"`
	Code          string          `json:"code,omitempty"`
	Error         string          `json:"error,omitempty"`
}
