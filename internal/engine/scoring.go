package engine

import (
	"cmp"
	"slices"
	"strings"
)

const unknownPlayer = "Unknown"

func ensureProgress(s *State, clientID string) *PlayerProgress {
	if s.PlayerProgress == nil {
		s.PlayerProgress = map[string]*PlayerProgress{}
	}
	p := s.PlayerProgress[clientID]
	if p == nil {
		p = &PlayerProgress{}
		s.PlayerProgress[clientID] = p
	}
	return p
}

// AbsorbBubble credits clientID with a correct bubble. Unknown or incorrect
// bubbles are ignored, as is anything outside a round or after the player
// completed it. Clients remove an absorbed bubble from their own board.
func AbsorbBubble(s *State, rules Rules, clientID, bubbleID string, now int64) []Event {
	if s.GamePhase != PhasePlaying {
		return nil
	}
	bubble, ok := findBubble(s, bubbleID)
	if !ok || !bubble.IsCorrect {
		return nil
	}

	p := ensureProgress(s, clientID)
	if p.Completed() {
		return nil
	}

	// Earlier absorptions are worth more.
	timePoints := int(ceilDiv(RemainingMs(s, now), 1000)) * rules.PointsPerSecond
	p.AbsorbedCount++
	p.Score += timePoints

	events := []Event{{Type: EvtBubbleAbsorbed, ClientID: clientID, Round: s.CurrentRound, BubbleID: bubbleID}}

	target := s.RoundConfig.CorrectCount
	if target <= 0 || p.AbsorbedCount < target {
		return events
	}

	elapsed := now - s.RoundStartTime
	p.CompletionTime = &elapsed
	p.Accuracy = float64(target) / float64(target+p.IncorrectAttempts)

	name := s.Players[clientID].Name
	if name == "" {
		name = unknownPlayer
	}
	winner := RoundWinner{
		ClientID:       clientID,
		PlayerName:     name,
		Round:          s.CurrentRound,
		Score:          p.Score,
		CompletionTime: elapsed,
	}
	s.RoundWinners = append(s.RoundWinners, winner)
	slices.SortStableFunc(s.RoundWinners, func(a, b RoundWinner) int {
		return cmp.Compare(b.Score, a.Score)
	})

	return append(events, Event{
		Type:       EvtPlayerCompleted,
		ClientID:   clientID,
		Round:      s.CurrentRound,
		RoundStart: s.RoundStartTime,
		Winner:     &winner,
	})
}

// RecordIncorrectAttempt applies the wrong-bubble penalty, flooring the
// score at zero.
func RecordIncorrectAttempt(s *State, rules Rules, clientID string) []Event {
	if s.GamePhase != PhasePlaying {
		return nil
	}
	p := ensureProgress(s, clientID)
	if p.Completed() {
		return nil
	}
	p.IncorrectAttempts++
	p.Score = max(0, p.Score-rules.IncorrectPenalty)
	return []Event{{Type: EvtIncorrectAttempt, ClientID: clientID, Round: s.CurrentRound}}
}

// InitializeProgress gives a mid-round joiner a zeroed entry.
func InitializeProgress(s *State, clientID string) []Event {
	if s.GamePhase != PhasePlaying {
		return nil
	}
	if _, ok := s.PlayerProgress[clientID]; ok {
		return nil
	}
	ensureProgress(s, clientID)
	return []Event{{Type: EvtPlayerJoined, ClientID: clientID, Round: s.CurrentRound}}
}

func SetPlayerName(s *State, clientID, name string) ([]Event, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if s.Players == nil {
		s.Players = map[string]Player{}
	}
	if s.Players[clientID].Name == name {
		return nil, nil
	}
	s.Players[clientID] = Player{Name: name}
	return []Event{{Type: EvtPlayerNamed, ClientID: clientID}}, nil
}

type Standing struct {
	ClientID        string `json:"clientId"`
	Name            string `json:"name"`
	TotalScore      int    `json:"totalScore"`
	RoundsCompleted int    `json:"roundsCompleted"`
}

// Leaderboard sums the winners ledger per player, best total first.
func Leaderboard(s *State) []Standing {
	index := map[string]int{}
	var out []Standing
	for _, w := range s.RoundWinners {
		i, ok := index[w.ClientID]
		if !ok {
			index[w.ClientID] = len(out)
			out = append(out, Standing{ClientID: w.ClientID, Name: w.PlayerName})
			i = len(out) - 1
		}
		out[i].TotalScore += w.Score
		out[i].RoundsCompleted++
	}
	slices.SortStableFunc(out, func(a, b Standing) int {
		return cmp.Compare(b.TotalScore, a.TotalScore)
	})
	return out
}
