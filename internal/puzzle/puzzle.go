package puzzle

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/DoyleJ11/bubble-merge-backend/internal/engine"
)

var ErrValidation = errors.New("invalid puzzle")

// ManualInput is a host-entered puzzle reused by every round.
type ManualInput struct {
	TargetCategory   string   `json:"targetCategory"`
	CorrectBubbles   []string `json:"correctBubbles"`
	IncorrectBubbles []string `json:"incorrectBubbles"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func ValidateRounds(totalRounds int, rules engine.Rules) error {
	if totalRounds < rules.MinRounds || totalRounds > rules.MaxRounds {
		return invalid("total rounds must be between %d and %d", rules.MinRounds, rules.MaxRounds)
	}
	return nil
}

// Validate checks one puzzle: a category, at least one correct label, no
// blank labels and no two labels equal under case folding.
func Validate(p engine.RoundPuzzle) error {
	if strings.TrimSpace(p.TargetCategory) == "" {
		return invalid("target category is required")
	}
	if len(p.CorrectBubbles) == 0 {
		return invalid("at least one correct bubble is required")
	}

	fold := cases.Fold()
	seen := make(map[string]struct{}, len(p.CorrectBubbles)+len(p.IncorrectBubbles))
	labels := append(append([]string{}, p.CorrectBubbles...), p.IncorrectBubbles...)
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			return invalid("all bubble labels are required")
		}
		key := fold.String(label)
		if _, dup := seen[key]; dup {
			return invalid("bubble labels must be unique (%q repeats)", label)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func trimAll(labels []string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = strings.TrimSpace(l)
	}
	return out
}

// Normalize trims every field of p.
func Normalize(p engine.RoundPuzzle) engine.RoundPuzzle {
	return engine.RoundPuzzle{
		TargetCategory:   strings.TrimSpace(p.TargetCategory),
		CorrectBubbles:   trimAll(p.CorrectBubbles),
		IncorrectBubbles: trimAll(p.IncorrectBubbles),
	}
}

// Manual validates a manual puzzle and returns it ready to load.
func Manual(in ManualInput, totalRounds int, rules engine.Rules) (engine.RoundPuzzle, error) {
	p := engine.RoundPuzzle{
		TargetCategory:   in.TargetCategory,
		CorrectBubbles:   in.CorrectBubbles,
		IncorrectBubbles: in.IncorrectBubbles,
	}
	if err := Validate(p); err != nil {
		return engine.RoundPuzzle{}, err
	}
	if err := ValidateRounds(totalRounds, rules); err != nil {
		return engine.RoundPuzzle{}, err
	}
	if n := len(p.CorrectBubbles) + len(p.IncorrectBubbles); n > rules.MaxBubblesTotal {
		return engine.RoundPuzzle{}, invalid("at most %d bubbles per puzzle, got %d", rules.MaxBubblesTotal, n)
	}
	return Normalize(p), nil
}
