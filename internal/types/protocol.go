package types

// Wire protocol for GET /ws?code=&role=host|presenter|player&name=&key=
// Hosts must present the key returned by POST /sessions.

// Client -> Server (ClientMessage)
// CreatePuzzle (host):
//   totalRounds: number
//   puzzle: { targetCategory: string, correctBubbles: string[], incorrectBubbles: string[] }
//
// GeneratePuzzle (host):
//   theme: string
//   totalRounds: number
//
// StartRound (host): {}
// ShowResults (host): {}
// ResetGame (host): {}
//
// SetName:
//   name: string
//
// InitializeProgress: {}
//
// AbsorbBubble:
//   bubbleId: string // "correct-N" | "incorrect-N"
//
// IncorrectAttempt: {}

// Server -> Client (ServerMessage)
// Welcome:
//   connectionId: string
//   role: "host" | "presenter" | "player"
//   serverTime: number // ms, for clock offset
//
// StateSnapshot:
//   version: number
//   serverTime: number
//   members: { id, role }[]
//   state:
//     gamePhase: "idle" | "setup" | "countdown" | "playing" | "results"
//     currentRound, totalRounds: number
//     roundStartTime, roundTimeRemaining, countdownStartTime: number
//     roundConfig: { correctCount, incorrectCount }
//     targetBubble: { label, category }
//     bubbles: { id, label, isCorrect }[]
//     allRoundsPuzzles: { targetCategory, correctBubbles, incorrectBubbles }[]
//     players: { [connectionId]: { name } }
//     playerProgress: { [connectionId]: { absorbedCount, incorrectAttempts, completionTime, accuracy, score } }
//     roundWinners: { clientId, playerName, round, score, completionTime }[]
//     controllerConnectionId: string
//
// Error:
//   request: string // the ClientMessage type that failed
//   error: string
