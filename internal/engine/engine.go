package engine

import (
	"errors"
)

var ErrNoPuzzle = errors.New("no puzzle created yet")
var ErrRoundInProgress = errors.New("round already in progress")
var ErrAllRoundsPlayed = errors.New("all rounds already played")
var ErrStaleTransition = errors.New("stale phase transition")
var ErrNotController = errors.New("connection is not the controller")
var ErrPuzzleLocked = errors.New("cannot replace puzzle while a round is running")
var ErrNoRoundPlayed = errors.New("no round has been played yet")
var ErrEmptyName = errors.New("player name is required")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSetup     Phase = "setup"
	PhasePlaying   Phase = "playing"
	PhaseCountdown Phase = "countdown"
	PhaseResults   Phase = "results"
)

type Role string

const (
	RoleHost      Role = "host"
	RolePresenter Role = "presenter"
	RolePlayer    Role = "player"
)

func (r Role) Valid() bool {
	switch r {
	case RoleHost, RolePresenter, RolePlayer:
		return true
	}
	return false
}

type Bubble struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	IsCorrect bool   `json:"isCorrect"`
}

type Target struct {
	Label    string `json:"label"`
	Category string `json:"category"`
}

type RoundConfig struct {
	CorrectCount   int `json:"correctCount"`
	IncorrectCount int `json:"incorrectCount"`
}

type RoundPuzzle struct {
	TargetCategory   string   `json:"targetCategory"`
	CorrectBubbles   []string `json:"correctBubbles"`
	IncorrectBubbles []string `json:"incorrectBubbles"`
}

type Player struct {
	Name string `json:"name"`
}

type PlayerProgress struct {
	AbsorbedCount     int     `json:"absorbedCount"`
	IncorrectAttempts int     `json:"incorrectAttempts"`
	CompletionTime    *int64  `json:"completionTime"`
	Accuracy          float64 `json:"accuracy"`
	Score             int     `json:"score"`
}

// Completed reports whether the player already finished the current round.
func (p *PlayerProgress) Completed() bool {
	return p.CompletionTime != nil
}

type RoundWinner struct {
	ClientID       string `json:"clientId"`
	PlayerName     string `json:"playerName"`
	Round          int    `json:"round"`
	Score          int    `json:"score"`
	CompletionTime int64  `json:"completionTime"`
}

// State is the shared game document. Timestamps are server-clock
// milliseconds; durations are milliseconds.
type State struct {
	ControllerConnectionID string                     `json:"controllerConnectionId"`
	GamePhase              Phase                      `json:"gamePhase"`
	CurrentRound           int                        `json:"currentRound"`
	TotalRounds            int                        `json:"totalRounds"`
	RoundStartTime         int64                      `json:"roundStartTime"`
	RoundTimeRemaining     int64                      `json:"roundTimeRemaining"`
	CountdownStartTime     int64                      `json:"countdownStartTime"`
	RoundConfig            RoundConfig                `json:"roundConfig"`
	TargetBubble           Target                     `json:"targetBubble"`
	Bubbles                []Bubble                   `json:"bubbles"`
	AllRoundsPuzzles       []RoundPuzzle              `json:"allRoundsPuzzles"`
	Players                map[string]Player          `json:"players"`
	PlayerProgress         map[string]*PlayerProgress `json:"playerProgress"`
	RoundWinners           []RoundWinner              `json:"roundWinners"`
}

// Rules holds the static game tunables.
type Rules struct {
	InitialCorrectCount   int `yaml:"initial_correct_count" json:"initialCorrectCount"`
	InitialIncorrectCount int `yaml:"initial_incorrect_count" json:"initialIncorrectCount"`
	CorrectIncrement      int `yaml:"correct_increment" json:"correctIncrement"`
	IncorrectIncrement    int `yaml:"incorrect_increment" json:"incorrectIncrement"`
	MaxBubblesTotal       int `yaml:"max_bubbles_total" json:"maxBubblesTotal"`

	PointsPerSecond  int `yaml:"points_per_second" json:"pointsPerSecond"`
	IncorrectPenalty int `yaml:"incorrect_penalty" json:"incorrectPenalty"`

	TimePerRoundSeconds int   `yaml:"time_per_round_seconds" json:"timePerRoundSeconds"`
	CountdownMs         int64 `yaml:"countdown_ms" json:"countdownMs"`

	DefaultTotalRounds int `yaml:"default_total_rounds" json:"defaultTotalRounds"`
	MinRounds          int `yaml:"min_rounds" json:"minRounds"`
	MaxRounds          int `yaml:"max_rounds" json:"maxRounds"`
}

type EventType string

const (
	EvtControllerChanged EventType = "ControllerChanged"
	EvtPuzzleCreated     EventType = "PuzzleCreated"
	EvtRoundStarted      EventType = "RoundStarted"
	EvtRoundClosed       EventType = "RoundClosed"
	EvtCountdownStarted  EventType = "CountdownStarted"
	EvtResultsShown      EventType = "ResultsShown"
	EvtGameReset         EventType = "GameReset"
	EvtBubbleAbsorbed    EventType = "BubbleAbsorbed"
	EvtIncorrectAttempt  EventType = "IncorrectAttempt"
	EvtPlayerCompleted   EventType = "PlayerCompleted"
	EvtPlayerJoined      EventType = "PlayerJoined"
	EvtPlayerNamed       EventType = "PlayerNamed"
)

type Event struct {
	Type       EventType
	ClientID   string
	Round      int
	RoundStart int64
	BubbleID   string
	Winner     *RoundWinner
}

type CommandType string

const (
	CmdStartRound       CommandType = "StartRound"
	CmdResetGame        CommandType = "ResetGame"
	CmdShowResults      CommandType = "ShowResults"
	CmdLoadPuzzles      CommandType = "LoadPuzzles"
	CmdAbsorbBubble     CommandType = "AbsorbBubble"
	CmdIncorrectAttempt CommandType = "IncorrectAttempt"
	CmdInitProgress     CommandType = "InitializeProgress"
	CmdSetName          CommandType = "SetName"
	CmdClaimController  CommandType = "ClaimController"
	CmdCloseRound       CommandType = "CloseRound"
	CmdFinishCountdown  CommandType = "FinishCountdown"
)

/*
	Host actions      -> CmdStartRound, CmdResetGame, CmdShowResults, CmdLoadPuzzles
	Player actions    -> CmdAbsorbBubble, CmdIncorrectAttempt, CmdInitProgress, CmdSetName
	Controller ticks  -> CmdClaimController, CmdCloseRound, CmdFinishCountdown

	Controller ticks carry the state they observed (Round, CountdownStart) and
	the issuing connection (Controller); Apply refuses them when the document
	has moved on, so a repeated or stale tick commits nothing.
*/

type Command struct {
	Type     CommandType
	ClientID string

	BubbleID string
	Name     string

	Puzzles     []RoundPuzzle
	PerRound    bool
	TotalRounds int

	Live           []Member
	Controller     string
	Round          int
	CountdownStart int64
}

// Env is the transaction-local context a command is evaluated in.
type Env struct {
	Rules Rules
	Now   int64
	Rand  Rand
}

// Apply mutates s in place. Callers run it against a private copy of the
// document and discard the copy on error.
func Apply(s *State, cmd Command, env Env) ([]Event, error) {
	if cmd.Controller != "" {
		if err := RequireController(s, cmd.Controller); err != nil {
			return nil, err
		}
	}

	switch cmd.Type {
	case CmdStartRound:
		return StartRound(s, env.Rules, env.Now, env.Rand)

	case CmdResetGame:
		return ResetGame(s, env.Rules), nil

	case CmdShowResults:
		return ShowResults(s)

	case CmdLoadPuzzles:
		return ApplyPuzzles(s, cmd.Puzzles, cmd.PerRound, cmd.TotalRounds, env.Rand)

	case CmdAbsorbBubble:
		return AbsorbBubble(s, env.Rules, cmd.ClientID, cmd.BubbleID, env.Now), nil

	case CmdIncorrectAttempt:
		return RecordIncorrectAttempt(s, env.Rules, cmd.ClientID), nil

	case CmdInitProgress:
		return InitializeProgress(s, cmd.ClientID), nil

	case CmdSetName:
		return SetPlayerName(s, cmd.ClientID, cmd.Name)

	case CmdClaimController:
		return ClaimController(s, cmd.Live, cmd.ClientID)

	case CmdCloseRound:
		return CloseRound(s, env.Now, cmd.Round)

	case CmdFinishCountdown:
		if s.GamePhase != PhaseCountdown || s.CountdownStartTime != cmd.CountdownStart {
			return nil, ErrStaleTransition
		}
		if !CountdownElapsed(s, env.Now, env.Rules) {
			return nil, ErrStaleTransition
		}
		return StartRound(s, env.Rules, env.Now, env.Rand)

	default:
		return nil, ErrUnsupportedCommand
	}
}
