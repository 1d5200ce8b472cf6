package engine

import (
	"fmt"
	"slices"
	"strings"
)

// Rand is the subset of *math/rand.Rand the shuffles need.
type Rand interface {
	Intn(n int) int
}

/*
	idle/setup      -> StartRound  -> playing
	playing         -> CloseRound  -> countdown (rounds left) | results (last round)
	countdown       -> StartRound  -> playing    (controller, after CountdownMs)
	playing|countdown -> ShowResults -> results  (host)
	*               -> ResetGame   -> idle       (host)
	idle|setup|results -> ApplyPuzzles -> setup
*/

// ComputeRoundConfig returns the difficulty for a 1-based round number.
func ComputeRoundConfig(rules Rules, round int) RoundConfig {
	if round < 1 {
		round = 1
	}
	correct := min(
		rules.InitialCorrectCount+(round-1)*rules.CorrectIncrement,
		rules.MaxBubblesTotal-rules.InitialIncorrectCount,
	)
	incorrect := min(
		rules.InitialIncorrectCount+(round-1)*rules.IncorrectIncrement,
		rules.MaxBubblesTotal-correct,
	)
	return RoundConfig{CorrectCount: max(correct, 0), IncorrectCount: max(incorrect, 0)}
}

// PuzzleBubbles turns a puzzle into bubbles with stable, kind-prefixed ids.
func PuzzleBubbles(p RoundPuzzle) []Bubble {
	bubbles := make([]Bubble, 0, len(p.CorrectBubbles)+len(p.IncorrectBubbles))
	for i, label := range p.CorrectBubbles {
		bubbles = append(bubbles, Bubble{ID: fmt.Sprintf("correct-%d", i), Label: strings.TrimSpace(label), IsCorrect: true})
	}
	for i, label := range p.IncorrectBubbles {
		bubbles = append(bubbles, Bubble{ID: fmt.Sprintf("incorrect-%d", i), Label: strings.TrimSpace(label), IsCorrect: false})
	}
	return bubbles
}

// ShuffleBubbles is an in-place Fisher–Yates shuffle.
func ShuffleBubbles(rng Rand, bubbles []Bubble) {
	for i := len(bubbles) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		bubbles[i], bubbles[j] = bubbles[j], bubbles[i]
	}
}

// dealBubbles keeps the first cfg.CorrectCount correct and
// cfg.IncorrectCount incorrect bubbles of a shuffled set, in order.
func dealBubbles(shuffled []Bubble, cfg RoundConfig) []Bubble {
	dealt := make([]Bubble, 0, cfg.CorrectCount+cfg.IncorrectCount)
	correct, incorrect := 0, 0
	for _, b := range shuffled {
		switch {
		case b.IsCorrect && correct < cfg.CorrectCount:
			correct++
		case !b.IsCorrect && incorrect < cfg.IncorrectCount:
			incorrect++
		default:
			continue
		}
		dealt = append(dealt, b)
	}
	return dealt
}

func targetFor(p RoundPuzzle) Target {
	category := strings.TrimSpace(p.TargetCategory)
	return Target{Label: category, Category: category}
}

// RemainingMs is the time left on the round clock, never negative.
func RemainingMs(s *State, now int64) int64 {
	return max(0, s.RoundTimeRemaining-(now-s.RoundStartTime))
}

func RoundExpired(s *State, now int64) bool {
	return s.GamePhase == PhasePlaying && now-s.RoundStartTime >= s.RoundTimeRemaining
}

func CountdownElapsed(s *State, now int64, rules Rules) bool {
	return s.GamePhase == PhaseCountdown && now-s.CountdownStartTime >= rules.CountdownMs
}

func StartRound(s *State, rules Rules, now int64, rng Rand) ([]Event, error) {
	if s.GamePhase == PhasePlaying {
		return nil, ErrRoundInProgress
	}
	if s.CurrentRound >= s.TotalRounds {
		return nil, ErrAllRoundsPlayed
	}
	round := s.CurrentRound + 1

	if len(s.AllRoundsPuzzles) == 0 {
		return nil, ErrNoPuzzle
	}
	// A manual puzzle is a single entry reused by every round.
	p := s.AllRoundsPuzzles[min(round, len(s.AllRoundsPuzzles))-1]
	bubbles := PuzzleBubbles(p)
	ShuffleBubbles(rng, bubbles)

	cfg := ComputeRoundConfig(rules, round)
	correct, incorrect := countBubbles(bubbles)
	cfg.CorrectCount = min(cfg.CorrectCount, correct)
	cfg.IncorrectCount = min(cfg.IncorrectCount, incorrect)

	s.TargetBubble = targetFor(p)
	s.Bubbles = dealBubbles(bubbles, cfg)

	s.CurrentRound = round
	s.RoundStartTime = now
	s.RoundTimeRemaining = int64(rules.TimePerRoundSeconds) * 1000
	s.CountdownStartTime = 0
	s.GamePhase = PhasePlaying
	s.RoundConfig = cfg

	progress := make(map[string]*PlayerProgress, len(s.Players))
	for id := range s.Players {
		progress[id] = &PlayerProgress{}
	}
	for id := range s.PlayerProgress {
		progress[id] = &PlayerProgress{}
	}
	s.PlayerProgress = progress

	return []Event{{Type: EvtRoundStarted, Round: round}}, nil
}

// CloseRound ends an expired round. The round argument is the round the
// caller observed; a document that has moved on is refused.
func CloseRound(s *State, now int64, round int) ([]Event, error) {
	if s.GamePhase != PhasePlaying || s.CurrentRound != round || !RoundExpired(s, now) {
		return nil, ErrStaleTransition
	}

	events := []Event{{Type: EvtRoundClosed, Round: round}}
	if s.CurrentRound >= s.TotalRounds {
		s.GamePhase = PhaseResults
		return append(events, Event{Type: EvtResultsShown, Round: round}), nil
	}

	s.GamePhase = PhaseCountdown
	s.CountdownStartTime = now
	return append(events, Event{Type: EvtCountdownStarted, Round: round}), nil
}

func ShowResults(s *State) ([]Event, error) {
	switch s.GamePhase {
	case PhaseResults:
		return nil, nil
	case PhasePlaying, PhaseCountdown:
	default:
		if s.CurrentRound == 0 {
			return nil, ErrNoRoundPlayed
		}
	}
	s.GamePhase = PhaseResults
	return []Event{{Type: EvtResultsShown, Round: s.CurrentRound}}, nil
}

// ResetGame reinitialises the round fields in place. Players, their names
// and the controller survive a reset.
func ResetGame(s *State, rules Rules) []Event {
	s.GamePhase = PhaseIdle
	s.CurrentRound = 0
	s.TotalRounds = rules.DefaultTotalRounds
	s.RoundStartTime = 0
	s.RoundTimeRemaining = 0
	s.CountdownStartTime = 0
	s.Bubbles = []Bubble{}
	s.AllRoundsPuzzles = []RoundPuzzle{}
	s.TargetBubble = Target{}
	s.PlayerProgress = map[string]*PlayerProgress{}
	s.RoundWinners = []RoundWinner{}
	s.RoundConfig = RoundConfig{
		CorrectCount:   rules.InitialCorrectCount,
		IncorrectCount: rules.InitialIncorrectCount,
	}
	return []Event{{Type: EvtGameReset}}
}

// ApplyPuzzles loads validated puzzle content without starting the clock.
// With perRound set every round gets its own puzzle; otherwise rounds[0] is
// the manual puzzle reused by every round. The setup phase shows the whole
// first puzzle; each round deals its own subset at StartRound.
func ApplyPuzzles(s *State, rounds []RoundPuzzle, perRound bool, totalRounds int, rng Rand) ([]Event, error) {
	if s.GamePhase == PhasePlaying || s.GamePhase == PhaseCountdown {
		return nil, ErrPuzzleLocked
	}
	if len(rounds) == 0 {
		return nil, ErrNoPuzzle
	}

	first := rounds[0]
	bubbles := PuzzleBubbles(first)
	ShuffleBubbles(rng, bubbles)

	s.TargetBubble = targetFor(first)
	s.Bubbles = bubbles
	s.GamePhase = PhaseSetup
	s.CurrentRound = 0
	s.TotalRounds = totalRounds
	s.AllRoundsPuzzles = []RoundPuzzle{first}
	if perRound {
		s.AllRoundsPuzzles = slices.Clone(rounds)
	}
	return []Event{{Type: EvtPuzzleCreated}}, nil
}
