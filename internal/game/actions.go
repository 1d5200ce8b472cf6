// Package game exposes the actions a connection can take on its session.
// Host actions are explicit user intents and bypass the controller seat;
// player actions may be issued by any role.
package game

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-merge-backend/internal/engine"
	"github.com/DoyleJ11/bubble-merge-backend/internal/puzzle"
)

var ErrHostOnly = errors.New("only the host can do that")

// Document is the part of the lobby actions write to.
type Document interface {
	Do(ctx context.Context, cmd engine.Command) error
	Rules() engine.Rules
}

type Client struct {
	member    engine.Member
	doc       Document
	generator puzzle.Generator
	log       *zap.Logger
}

type Option func(*Client)

func WithGenerator(g puzzle.Generator) Option {
	return func(c *Client) { c.generator = g }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(member engine.Member, doc Document, opts ...Option) *Client {
	c := &Client{member: member, doc: doc, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("connection_id", member.ID), zap.String("role", string(member.Role)))
	return c
}

func (c *Client) Member() engine.Member { return c.member }

func (c *Client) host() error {
	if c.member.Role != engine.RoleHost {
		return ErrHostOnly
	}
	return nil
}

func (c *Client) hostDo(ctx context.Context, cmd engine.Command) error {
	if err := c.host(); err != nil {
		return err
	}
	if err := c.doc.Do(ctx, cmd); err != nil {
		c.log.Info("host action rejected", zap.String("action", string(cmd.Type)), zap.Error(err))
		return err
	}
	c.log.Info("host action", zap.String("action", string(cmd.Type)))
	return nil
}

func (c *Client) StartRound(ctx context.Context) error {
	return c.hostDo(ctx, engine.Command{Type: engine.CmdStartRound})
}

func (c *Client) ResetGame(ctx context.Context) error {
	return c.hostDo(ctx, engine.Command{Type: engine.CmdResetGame})
}

func (c *Client) ShowResults(ctx context.Context) error {
	return c.hostDo(ctx, engine.Command{Type: engine.CmdShowResults})
}

// CreatePuzzleManual stores one puzzle that every round reshuffles.
func (c *Client) CreatePuzzleManual(ctx context.Context, in puzzle.ManualInput, totalRounds int) error {
	if err := c.host(); err != nil {
		return err
	}
	p, err := puzzle.Manual(in, totalRounds, c.doc.Rules())
	if err != nil {
		return err
	}
	return c.hostDo(ctx, engine.Command{
		Type:        engine.CmdLoadPuzzles,
		Puzzles:     []engine.RoundPuzzle{p},
		TotalRounds: totalRounds,
	})
}

// GeneratePuzzlesWithAI requests one puzzle per round and stores them only
// if every round came back valid.
func (c *Client) GeneratePuzzlesWithAI(ctx context.Context, theme string, totalRounds int) error {
	if err := c.host(); err != nil {
		return err
	}
	rounds, err := puzzle.GenerateRounds(ctx, c.generator, c.doc.Rules(), theme, totalRounds)
	if err != nil {
		c.log.Warn("puzzle generation failed", zap.String("theme", theme), zap.Error(err))
		return fmt.Errorf("generate puzzles: %w", err)
	}
	return c.hostDo(ctx, engine.Command{
		Type:        engine.CmdLoadPuzzles,
		Puzzles:     rounds,
		PerRound:    true,
		TotalRounds: totalRounds,
	})
}

func (c *Client) AbsorbBubble(ctx context.Context, bubbleID string) error {
	return c.doc.Do(ctx, engine.Command{Type: engine.CmdAbsorbBubble, ClientID: c.member.ID, BubbleID: bubbleID})
}

func (c *Client) RecordIncorrectAttempt(ctx context.Context) error {
	return c.doc.Do(ctx, engine.Command{Type: engine.CmdIncorrectAttempt, ClientID: c.member.ID})
}

func (c *Client) InitializeProgress(ctx context.Context) error {
	return c.doc.Do(ctx, engine.Command{Type: engine.CmdInitProgress, ClientID: c.member.ID})
}

func (c *Client) SetName(ctx context.Context, name string) error {
	return c.doc.Do(ctx, engine.Command{Type: engine.CmdSetName, ClientID: c.member.ID, Name: name})
}
