package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() Rand { return rand.New(rand.NewSource(1)) }

func fruit() RoundPuzzle {
	return RoundPuzzle{
		TargetCategory:   "Fruit",
		CorrectBubbles:   []string{"Apple", "Banana"},
		IncorrectBubbles: []string{"Carrot"},
	}
}

// playing returns a state in round 1 of total, started at t=1000.
func playing(t *testing.T, total int, players ...string) State {
	t.Helper()
	rules := DefaultRules()
	s := NewInitialState(rules)
	for _, p := range players {
		s.Players[p] = Player{Name: "name-" + p}
	}
	_, err := ApplyPuzzles(&s, []RoundPuzzle{fruit()}, false, total, seeded())
	require.NoError(t, err)
	_, err = StartRound(&s, rules, 1000, seeded())
	require.NoError(t, err)
	return s
}

func TestComputeRoundConfig(t *testing.T) {
	rules := DefaultRules()
	cases := []struct {
		round int
		want  RoundConfig
	}{
		{1, RoundConfig{CorrectCount: 4, IncorrectCount: 2}},
		{2, RoundConfig{CorrectCount: 5, IncorrectCount: 3}},
		{3, RoundConfig{CorrectCount: 6, IncorrectCount: 4}},
		{5, RoundConfig{CorrectCount: 8, IncorrectCount: 2}},
		{9, RoundConfig{CorrectCount: 8, IncorrectCount: 2}},
		{0, RoundConfig{CorrectCount: 4, IncorrectCount: 2}},
	}
	for _, tc := range cases {
		got := ComputeRoundConfig(rules, tc.round)
		assert.Equal(t, tc.want, got, "round %d", tc.round)
		assert.LessOrEqual(t, got.CorrectCount+got.IncorrectCount, rules.MaxBubblesTotal)
	}
}

func TestPuzzleBubblesIDsAndShuffle(t *testing.T) {
	bubbles := PuzzleBubbles(RoundPuzzle{
		TargetCategory:   "Fruit",
		CorrectBubbles:   []string{" Apple ", "Banana"},
		IncorrectBubbles: []string{"Carrot"},
	})
	require.Len(t, bubbles, 3)
	assert.Equal(t, Bubble{ID: "correct-0", Label: "Apple", IsCorrect: true}, bubbles[0])
	assert.Equal(t, Bubble{ID: "incorrect-0", Label: "Carrot"}, bubbles[2])

	shuffled := append([]Bubble(nil), bubbles...)
	ShuffleBubbles(seeded(), shuffled)
	assert.ElementsMatch(t, bubbles, shuffled)
}

func TestStartRound(t *testing.T) {
	rules := DefaultRules()

	t.Run("manual puzzle bounds config by its size", func(t *testing.T) {
		s := playing(t, 2, "p1")
		assert.Equal(t, PhasePlaying, s.GamePhase)
		assert.Equal(t, 1, s.CurrentRound)
		assert.Equal(t, RoundConfig{CorrectCount: 2, IncorrectCount: 1}, s.RoundConfig)
		assert.Equal(t, int64(1000), s.RoundStartTime)
		assert.Equal(t, int64(30000), s.RoundTimeRemaining)
		assert.Len(t, s.Bubbles, 3)
		require.Contains(t, s.PlayerProgress, "p1")
		assert.Equal(t, PlayerProgress{}, *s.PlayerProgress["p1"])
	})

	t.Run("oversized manual puzzle deals the round config", func(t *testing.T) {
		s := NewInitialState(rules)
		big := RoundPuzzle{
			TargetCategory:   "Digits",
			CorrectBubbles:   []string{"1", "2", "3", "4", "5", "6", "7"},
			IncorrectBubbles: []string{"a", "b", "c"},
		}
		_, err := ApplyPuzzles(&s, []RoundPuzzle{big}, false, 3, seeded())
		require.NoError(t, err)
		assert.Len(t, s.Bubbles, 10)

		for round, want := range []RoundConfig{{4, 2}, {5, 3}, {6, 3}} {
			_, err = StartRound(&s, rules, int64(1000*(round+1)), seeded())
			require.NoError(t, err)
			assert.Equal(t, want, s.RoundConfig, "round %d", round+1)

			correct, incorrect := countBubbles(s.Bubbles)
			assert.Equal(t, want.CorrectCount, correct, "round %d", round+1)
			assert.Equal(t, want.IncorrectCount, incorrect, "round %d", round+1)
			for _, b := range s.Bubbles {
				assert.Regexp(t, `^(correct|incorrect)-\d$`, b.ID)
				assert.Contains(t, PuzzleBubbles(big), b)
			}
			s.GamePhase = PhaseCountdown
		}
	})

	t.Run("per-round puzzles are loaded by round number", func(t *testing.T) {
		s := NewInitialState(rules)
		second := RoundPuzzle{TargetCategory: "Planets", CorrectBubbles: []string{"Mars"}, IncorrectBubbles: []string{"Moon"}}
		_, err := ApplyPuzzles(&s, []RoundPuzzle{fruit(), second}, true, 2, seeded())
		require.NoError(t, err)
		s.CurrentRound = 1
		s.GamePhase = PhaseCountdown

		_, err = StartRound(&s, rules, 5000, seeded())
		require.NoError(t, err)
		assert.Equal(t, 2, s.CurrentRound)
		assert.Equal(t, Target{Label: "Planets", Category: "Planets"}, s.TargetBubble)
		assert.Len(t, s.Bubbles, 2)
	})

	t.Run("refused while playing", func(t *testing.T) {
		s := playing(t, 2)
		_, err := StartRound(&s, rules, 2000, seeded())
		assert.ErrorIs(t, err, ErrRoundInProgress)
	})

	t.Run("refused without a puzzle", func(t *testing.T) {
		s := NewInitialState(rules)
		_, err := StartRound(&s, rules, 2000, seeded())
		assert.ErrorIs(t, err, ErrNoPuzzle)
	})

	t.Run("refused after the last round", func(t *testing.T) {
		s := playing(t, 1)
		s.GamePhase = PhaseResults
		_, err := StartRound(&s, rules, 2000, seeded())
		assert.ErrorIs(t, err, ErrAllRoundsPlayed)
	})

	t.Run("progress is reset for every known player", func(t *testing.T) {
		s := playing(t, 2, "p1")
		AbsorbBubble(&s, rules, "p1", "correct-0", 2000)
		AbsorbBubble(&s, rules, "p2", "correct-0", 2000)
		s.GamePhase = PhaseCountdown

		_, err := StartRound(&s, rules, 40000, seeded())
		require.NoError(t, err)
		require.Len(t, s.PlayerProgress, 2)
		for id, p := range s.PlayerProgress {
			assert.Zero(t, p.AbsorbedCount, id)
			assert.Nil(t, p.CompletionTime, id)
		}
	})
}

func TestCloseRound(t *testing.T) {
	cases := []struct {
		name      string
		total     int
		now       int64
		round     int
		wantErr   error
		wantPhase Phase
	}{
		{name: "not expired", total: 2, now: 30999, round: 1, wantErr: ErrStaleTransition, wantPhase: PhasePlaying},
		{name: "rounds left go to countdown", total: 2, now: 31000, round: 1, wantPhase: PhaseCountdown},
		{name: "last round goes to results", total: 1, now: 31000, round: 1, wantPhase: PhaseResults},
		{name: "observed round is stale", total: 2, now: 31000, round: 0, wantErr: ErrStaleTransition, wantPhase: PhasePlaying},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := playing(t, tc.total)
			_, err := CloseRound(&s, tc.now, tc.round)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.wantPhase, s.GamePhase)
			if tc.wantPhase == PhaseCountdown {
				assert.Equal(t, tc.now, s.CountdownStartTime)
			}
		})
	}

	t.Run("second close is refused", func(t *testing.T) {
		s := playing(t, 2)
		_, err := CloseRound(&s, 31000, 1)
		require.NoError(t, err)
		_, err = CloseRound(&s, 31500, 1)
		assert.ErrorIs(t, err, ErrStaleTransition)
	})
}

func TestAbsorbBubbleScoring(t *testing.T) {
	rules := DefaultRules()

	t.Run("time bonus rounds remaining seconds up", func(t *testing.T) {
		s := playing(t, 2, "p1")
		// 30000 - 1500 = 28500 ms left -> 29 s.
		events := AbsorbBubble(&s, rules, "p1", "correct-0", 2500)
		require.True(t, ContainsEvent(events, EvtBubbleAbsorbed))
		assert.Equal(t, 29*10, s.PlayerProgress["p1"].Score)
		assert.Equal(t, 1, s.PlayerProgress["p1"].AbsorbedCount)
	})

	t.Run("unknown and incorrect bubbles are ignored", func(t *testing.T) {
		s := playing(t, 2, "p1")
		assert.Empty(t, AbsorbBubble(&s, rules, "p1", "nope", 2000))
		assert.Empty(t, AbsorbBubble(&s, rules, "p1", "incorrect-0", 2000))
		assert.Zero(t, s.PlayerProgress["p1"].AbsorbedCount)
	})

	t.Run("ignored outside playing", func(t *testing.T) {
		s := playing(t, 2, "p1")
		s.GamePhase = PhaseCountdown
		assert.Empty(t, AbsorbBubble(&s, rules, "p1", "correct-0", 2000))
	})

	t.Run("completion appends one winner", func(t *testing.T) {
		s := playing(t, 2, "p1")
		RecordIncorrectAttempt(&s, rules, "p1")
		AbsorbBubble(&s, rules, "p1", "correct-0", 2000)
		events := AbsorbBubble(&s, rules, "p1", "correct-1", 4000)
		require.True(t, ContainsEvent(events, EvtPlayerCompleted))

		p := s.PlayerProgress["p1"]
		require.NotNil(t, p.CompletionTime)
		assert.Equal(t, int64(3000), *p.CompletionTime)
		assert.InDelta(t, 2.0/3.0, p.Accuracy, 1e-9)
		require.Len(t, s.RoundWinners, 1)
		assert.Equal(t, RoundWinner{
			ClientID: "p1", PlayerName: "name-p1", Round: 1, Score: p.Score, CompletionTime: 3000,
		}, s.RoundWinners[0])

		// Completed players are frozen for the rest of the round.
		assert.Empty(t, AbsorbBubble(&s, rules, "p1", "correct-0", 5000))
		assert.Empty(t, RecordIncorrectAttempt(&s, rules, "p1"))
		assert.Len(t, s.RoundWinners, 1)
	})

	t.Run("winners sorted by score descending", func(t *testing.T) {
		s := playing(t, 2, "slow", "fast")
		AbsorbBubble(&s, rules, "slow", "correct-0", 20000)
		AbsorbBubble(&s, rules, "slow", "correct-1", 20000)
		AbsorbBubble(&s, rules, "fast", "correct-0", 21000)
		RecordIncorrectAttempt(&s, rules, "fast")
		AbsorbBubble(&s, rules, "fast", "correct-1", 21000)
		AbsorbBubble(&s, rules, "anon", "correct-0", 2000)
		AbsorbBubble(&s, rules, "anon", "correct-1", 2000)

		require.Len(t, s.RoundWinners, 3)
		assert.Equal(t, "anon", s.RoundWinners[0].ClientID)
		assert.Equal(t, unknownPlayer, s.RoundWinners[0].PlayerName)
		assert.Equal(t, "slow", s.RoundWinners[1].ClientID)
		assert.Equal(t, "fast", s.RoundWinners[2].ClientID)
	})
}

func TestIncorrectAttemptFloorsAtZero(t *testing.T) {
	rules := DefaultRules()
	s := playing(t, 2, "p1")

	RecordIncorrectAttempt(&s, rules, "p1")
	assert.Equal(t, 0, s.PlayerProgress["p1"].Score)
	assert.Equal(t, 1, s.PlayerProgress["p1"].IncorrectAttempts)

	AbsorbBubble(&s, rules, "p1", "correct-0", 21000) // 10 s left: 100 points
	RecordIncorrectAttempt(&s, rules, "p1")
	assert.Equal(t, 50, s.PlayerProgress["p1"].Score)
	RecordIncorrectAttempt(&s, rules, "p1")
	RecordIncorrectAttempt(&s, rules, "p1")
	assert.Equal(t, 0, s.PlayerProgress["p1"].Score)
}

func TestInitializeProgressAndNames(t *testing.T) {
	s := playing(t, 2)
	require.True(t, ContainsEvent(InitializeProgress(&s, "late"), EvtPlayerJoined))
	assert.Empty(t, InitializeProgress(&s, "late"))

	_, err := SetPlayerName(&s, "late", "   ")
	assert.ErrorIs(t, err, ErrEmptyName)
	events, err := SetPlayerName(&s, "late", " Ada ")
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtPlayerNamed))
	assert.Equal(t, "Ada", s.Players["late"].Name)
}

func TestResetGameKeepsPlayersAndController(t *testing.T) {
	rules := DefaultRules()
	s := playing(t, 2, "p1")
	s.ControllerConnectionID = "p1"
	AbsorbBubble(&s, rules, "p1", "correct-0", 2000)

	ResetGame(&s, rules)
	assert.Equal(t, PhaseIdle, s.GamePhase)
	assert.Zero(t, s.CurrentRound)
	assert.Equal(t, rules.DefaultTotalRounds, s.TotalRounds)
	assert.Empty(t, s.Bubbles)
	assert.Empty(t, s.AllRoundsPuzzles)
	assert.Empty(t, s.PlayerProgress)
	assert.Empty(t, s.RoundWinners)
	assert.Equal(t, "p1", s.ControllerConnectionID)
	assert.Contains(t, s.Players, "p1")
}

func TestShowResults(t *testing.T) {
	s := NewInitialState(DefaultRules())
	_, err := ShowResults(&s)
	assert.ErrorIs(t, err, ErrNoRoundPlayed)

	s = playing(t, 3)
	events, err := ShowResults(&s)
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtResultsShown))
	assert.Equal(t, PhaseResults, s.GamePhase)
}

func TestApplyPuzzlesLockedDuringRound(t *testing.T) {
	s := playing(t, 2)
	_, err := ApplyPuzzles(&s, []RoundPuzzle{fruit()}, false, 2, seeded())
	assert.ErrorIs(t, err, ErrPuzzleLocked)
}

func TestElect(t *testing.T) {
	host := Member{ID: "zz-host", Role: RoleHost}
	p1 := Member{ID: "aa", Role: RolePlayer}
	p2 := Member{ID: "bb", Role: RolePlayer}
	pres := Member{ID: "cc", Role: RolePresenter}

	cases := []struct {
		name        string
		policy      ElectionPolicy
		live        []Member
		current     string
		self        Member
		want        string
		wantChanged bool
	}{
		{"live controller is kept", PolicyHostPriority, []Member{host, p1}, "aa", host, "aa", false},
		{"host claims a vacant seat", PolicyHostPriority, []Member{host, p1}, "", host, "zz-host", true},
		{"host claims a departed seat", PolicyHostPriority, []Member{host, p1}, "gone", host, "zz-host", true},
		{"non-host defers to a live host", PolicyHostPriority, []Member{host, p1}, "gone", p1, "gone", false},
		{"lowest id fills in without a host", PolicyHostPriority, []Member{p2, p1, pres}, "gone", pres, "aa", true},
		{"lowest id policy ignores roles", PolicyLowestID, []Member{host, p2}, "", host, "bb", true},
		{"empty live set clears nothing", PolicyLowestID, nil, "", p1, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := Elect(tc.policy, tc.live, tc.current, tc.self)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantChanged, changed)
		})
	}
}

func TestElectionChurnConverges(t *testing.T) {
	// Connections leave one by one; after every change each survivor
	// evaluates the election and at most one claim lands.
	s := NewInitialState(DefaultRules())
	live := []Member{{ID: "a", Role: RolePlayer}, {ID: "b", Role: RolePlayer}, {ID: "c", Role: RolePresenter}}

	for len(live) > 0 {
		commits := 0
		for _, self := range live {
			next, changed := Elect(PolicyHostPriority, live, s.ControllerConnectionID, self)
			if !changed {
				continue
			}
			if _, err := ClaimController(&s, live, next); err == nil && next != "" {
				commits++
			}
		}
		assert.LessOrEqual(t, commits, 1)
		assert.Equal(t, live[0].ID, s.ControllerConnectionID)
		live = live[1:]
	}
}

func TestClaimControllerRefusesLiveIncumbent(t *testing.T) {
	s := NewInitialState(DefaultRules())
	s.ControllerConnectionID = "a"
	live := []Member{{ID: "a"}, {ID: "b"}}

	_, err := ClaimController(&s, live, "b")
	assert.ErrorIs(t, err, ErrStaleTransition)
	assert.Equal(t, "a", s.ControllerConnectionID)
}

func TestApplyControllerGuards(t *testing.T) {
	rules := DefaultRules()
	env := Env{Rules: rules, Now: 31000, Rand: seeded()}

	s := playing(t, 2)
	s.ControllerConnectionID = "ctrl"

	_, err := Apply(&s, Command{Type: CmdCloseRound, Round: 1, Controller: "ex"}, env)
	assert.ErrorIs(t, err, ErrNotController)
	assert.Equal(t, PhasePlaying, s.GamePhase)

	_, err = Apply(&s, Command{Type: CmdCloseRound, Round: 1, Controller: "ctrl"}, env)
	require.NoError(t, err)
	require.Equal(t, PhaseCountdown, s.GamePhase)

	finish := Command{Type: CmdFinishCountdown, CountdownStart: s.CountdownStartTime, Controller: "ctrl"}

	env.Now = 31000 + rules.CountdownMs - 1
	_, err = Apply(&s, finish, env)
	assert.ErrorIs(t, err, ErrStaleTransition)

	env.Now = 31000 + rules.CountdownMs
	events, err := Apply(&s, finish, env)
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtRoundStarted))
	assert.Equal(t, 2, s.CurrentRound)

	// The same countdown cannot start a second round.
	_, err = Apply(&s, finish, env)
	assert.ErrorIs(t, err, ErrStaleTransition)

	_, err = Apply(&s, Command{Type: "Bogus"}, env)
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
}

func TestCloneDoesNotAlias(t *testing.T) {
	rules := DefaultRules()
	s := playing(t, 2, "p1")
	c := s.Clone()

	AbsorbBubble(&c, rules, "p1", "correct-0", 2000)
	c.Players["p2"] = Player{Name: "x"}
	c.Bubbles[0].Label = "changed"

	assert.Zero(t, s.PlayerProgress["p1"].AbsorbedCount)
	assert.NotContains(t, s.Players, "p2")
	assert.NotEqual(t, "changed", s.Bubbles[0].Label)
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNoPuzzle, ErrRoundInProgress, ErrAllRoundsPlayed, ErrStaleTransition,
		ErrNotController, ErrPuzzleLocked, ErrNoRoundPlayed, ErrEmptyName,
		ErrUnsupportedCommand,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j {
				assert.NotErrorIs(t, a, b)
			}
		}
	}

	s := NewInitialState(DefaultRules())
	_, err := Apply(&s, Command{Type: "Dance"}, Env{Rules: DefaultRules()})
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
}
