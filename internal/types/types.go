package types

import (
	"github.com/DoyleJ11/bubble-merge-backend/internal/engine"
	"github.com/DoyleJ11/bubble-merge-backend/internal/puzzle"
)

// ClientMessage is an action sent over the socket. Only the fields the
// action needs are set.
type ClientMessage struct {
	Type        string              `json:"type"`
	BubbleID    string              `json:"bubbleId,omitempty"`
	Name        string              `json:"name,omitempty"`
	Theme       string              `json:"theme,omitempty"`
	TotalRounds int                 `json:"totalRounds,omitempty"`
	Puzzle      *puzzle.ManualInput `json:"puzzle,omitempty"`
}

type ServerMessage struct {
	Type         string          `json:"type"` // "Welcome" | "StateSnapshot" | "Error"
	Version      int             `json:"version,omitempty"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Role         engine.Role     `json:"role,omitempty"`
	ServerTime   int64           `json:"serverTime,omitempty"`
	State        *engine.State   `json:"state,omitempty"`
	Members      []engine.Member `json:"members,omitempty"`
	Request      string          `json:"request,omitempty"`
	Error        string          `json:"error,omitempty"`
}
