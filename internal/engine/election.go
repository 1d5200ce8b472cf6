package engine

import (
	"slices"
)

type ElectionPolicy string

const (
	// PolicyLowestID elects the lexicographically smallest live connection.
	PolicyLowestID ElectionPolicy = "lowest-id"
	// PolicyHostPriority lets a host claim control; other roles only fill
	// the seat by lowest id while no host is connected.
	PolicyHostPriority ElectionPolicy = "host-priority"
)

func (p ElectionPolicy) Valid() bool {
	return p == PolicyLowestID || p == PolicyHostPriority
}

// Member is one live connection in the session.
type Member struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func containsMember(live []Member, id string) bool {
	return slices.ContainsFunc(live, func(m Member) bool { return m.ID == id })
}

func lowestID(live []Member) string {
	if len(live) == 0 {
		return ""
	}
	ids := make([]string, len(live))
	for i, m := range live {
		ids[i] = m.ID
	}
	slices.Sort(ids)
	return ids[0]
}

// Elect decides who should hold the controller seat as seen from self. It
// returns the chosen id and whether that differs from current. A current
// controller that is still live is never replaced.
func Elect(policy ElectionPolicy, live []Member, current string, self Member) (string, bool) {
	if current != "" && containsMember(live, current) {
		return current, false
	}

	var next string
	switch policy {
	case PolicyHostPriority:
		if self.Role == RoleHost {
			next = self.ID
			break
		}
		hostLive := slices.ContainsFunc(live, func(m Member) bool { return m.Role == RoleHost })
		if hostLive {
			// The host will claim on its own tick.
			return current, false
		}
		next = lowestID(live)
	default:
		next = lowestID(live)
	}
	return next, next != current
}

// ClaimController is the transaction body of an election. It re-checks the
// stored controller against the live set the caller observed, so a second
// writer that lost the race leaves the winner in place.
func ClaimController(s *State, live []Member, candidate string) ([]Event, error) {
	current := s.ControllerConnectionID
	if current == candidate {
		return nil, nil
	}
	if current != "" && containsMember(live, current) {
		return nil, ErrStaleTransition
	}
	s.ControllerConnectionID = candidate
	return []Event{{Type: EvtControllerChanged, ClientID: candidate}}, nil
}

// RequireController refuses autonomous writes from a connection that no
// longer holds the seat.
func RequireController(s *State, self string) error {
	if s.ControllerConnectionID != self {
		return ErrNotController
	}
	return nil
}
