package puzzle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/bubble-merge-backend/internal/engine"
)

var ErrGeneratorResponse = errors.New("invalid generator response")
var ErrNoGenerator = errors.New("puzzle generation is not configured")

// Generator turns a prompt into a JSON document decoded into out.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string, out any) error
}

// maxConcurrentRounds bounds parallel generator requests for one game.
const maxConcurrentRounds = 4

func Prompt(theme string, round, totalRounds int, cfg engine.RoundConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a puzzle for round %d of %d in a bubble merge game.\n\n", round, totalRounds)
	fmt.Fprintf(&b, "Theme: %s\n\n", theme)
	b.WriteString("Provide:\n")
	b.WriteString("1. A target category name related to the theme (2-4 words max)\n")
	fmt.Fprintf(&b, "2. %d items that belong to this category\n", cfg.CorrectCount)
	fmt.Fprintf(&b, "3. %d items that do NOT belong (distractors/decoys)\n\n", cfg.IncorrectCount)
	b.WriteString("Make distractors plausible but clearly incorrect. Keep all labels short (1-4 words).\n")
	if round > 1 {
		fmt.Fprintf(&b, "Make round %d more challenging than previous rounds by using more specific or nuanced categories.\n", round)
	}
	b.WriteString(`
Respond with JSON in this exact format:
{
  "targetCategory": "Category Name",
  "correctBubbles": ["Item 1", "Item 2"],
  "incorrectBubbles": ["Distractor 1", "Distractor 2"]
}`)
	return b.String()
}

func checkResponse(resp engine.RoundPuzzle, round int, cfg engine.RoundConfig) error {
	if strings.TrimSpace(resp.TargetCategory) == "" {
		return fmt.Errorf("%w: round %d has no target category", ErrGeneratorResponse, round)
	}
	if len(resp.CorrectBubbles) != cfg.CorrectCount || len(resp.IncorrectBubbles) != cfg.IncorrectCount {
		return fmt.Errorf("%w: round %d returned %d/%d bubbles, want %d/%d", ErrGeneratorResponse, round,
			len(resp.CorrectBubbles), len(resp.IncorrectBubbles), cfg.CorrectCount, cfg.IncorrectCount)
	}
	if err := Validate(resp); err != nil {
		return fmt.Errorf("round %d: %w", round, err)
	}
	return nil
}

// GenerateRounds asks gen for one puzzle per round, each sized by the
// round's difficulty. Either every round comes back valid or an error is
// returned and nothing is kept.
func GenerateRounds(ctx context.Context, gen Generator, rules engine.Rules, theme string, totalRounds int) ([]engine.RoundPuzzle, error) {
	if gen == nil {
		return nil, ErrNoGenerator
	}
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return nil, invalid("theme is required")
	}
	if err := ValidateRounds(totalRounds, rules); err != nil {
		return nil, err
	}

	rounds := make([]engine.RoundPuzzle, totalRounds)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRounds)
	for round := 1; round <= totalRounds; round++ {
		round := round
		g.Go(func() error {
			cfg := engine.ComputeRoundConfig(rules, round)
			var resp engine.RoundPuzzle
			if err := gen.GenerateJSON(gctx, Prompt(theme, round, totalRounds, cfg), &resp); err != nil {
				return fmt.Errorf("generate round %d: %w", round, err)
			}
			if err := checkResponse(resp, round, cfg); err != nil {
				return err
			}
			rounds[round-1] = Normalize(resp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rounds, nil
}
