package engine

import "slices"

func DefaultRules() Rules {
	return Rules{
		InitialCorrectCount:   4,
		InitialIncorrectCount: 2,
		CorrectIncrement:      1,
		IncorrectIncrement:    1,
		MaxBubblesTotal:       10,
		PointsPerSecond:       10,
		IncorrectPenalty:      50,
		TimePerRoundSeconds:   30,
		CountdownMs:           3000,
		DefaultTotalRounds:    3,
		MinRounds:             1,
		MaxRounds:             10,
	}
}

func NewInitialState(rules Rules) State {
	return State{
		GamePhase:   PhaseIdle,
		TotalRounds: rules.DefaultTotalRounds,
		RoundConfig: RoundConfig{
			CorrectCount:   rules.InitialCorrectCount,
			IncorrectCount: rules.InitialIncorrectCount,
		},
		Bubbles:          []Bubble{},
		AllRoundsPuzzles: []RoundPuzzle{},
		Players:          map[string]Player{},
		PlayerProgress:   map[string]*PlayerProgress{},
		RoundWinners:     []RoundWinner{},
	}
}

// Clone returns a deep copy so a snapshot never aliases the live document.
func (s State) Clone() State {
	c := s
	c.Bubbles = slices.Clone(s.Bubbles)
	c.RoundWinners = slices.Clone(s.RoundWinners)

	c.AllRoundsPuzzles = make([]RoundPuzzle, len(s.AllRoundsPuzzles))
	for i, p := range s.AllRoundsPuzzles {
		c.AllRoundsPuzzles[i] = RoundPuzzle{
			TargetCategory:   p.TargetCategory,
			CorrectBubbles:   slices.Clone(p.CorrectBubbles),
			IncorrectBubbles: slices.Clone(p.IncorrectBubbles),
		}
	}

	c.Players = make(map[string]Player, len(s.Players))
	for id, p := range s.Players {
		c.Players[id] = p
	}

	c.PlayerProgress = make(map[string]*PlayerProgress, len(s.PlayerProgress))
	for id, p := range s.PlayerProgress {
		if p == nil {
			continue
		}
		cp := *p
		if p.CompletionTime != nil {
			t := *p.CompletionTime
			cp.CompletionTime = &t
		}
		c.PlayerProgress[id] = &cp
	}
	return c
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func findBubble(s *State, id string) (Bubble, bool) {
	idx := slices.IndexFunc(s.Bubbles, func(b Bubble) bool { return b.ID == id })
	if idx < 0 {
		return Bubble{}, false
	}
	return s.Bubbles[idx], true
}

func countBubbles(bubbles []Bubble) (correct, incorrect int) {
	for _, b := range bubbles {
		if b.IsCorrect {
			correct++
		} else {
			incorrect++
		}
	}
	return correct, incorrect
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
