// Package controller runs the per-connection control loop: it keeps exactly
// one live connection in the controller seat and, while this connection holds
// it, drives the timed phase transitions of the shared game document.
//
// Every connection runs its own Controller. Only the one whose id matches
// controllerConnectionId issues phase transitions; the others only take part
// in the election. Timers are never scheduled: each tick compares the server
// clock with the timing anchors stored in the document, so a phase change
// mid-flight simply leaves the next tick with nothing to do.
package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-merge-backend/internal/engine"
	"github.com/DoyleJ11/bubble-merge-backend/internal/lobby"
)

// Document is the part of the lobby a controller needs.
type Document interface {
	Do(ctx context.Context, cmd engine.Command) error
	ServerTimestamp() int64
	Rules() engine.Rules
}

type closedRound struct {
	round int
	start int64
}

type election struct {
	version int
	members string
}

// Controller holds the dedupe markers of one connection's control loop.
// The markers live only in this instance; a newly elected controller starts
// with none and works from what it observes in the document.
type Controller struct {
	self     engine.Member
	policy   engine.ElectionPolicy
	doc      Document
	log      *zap.Logger
	interval time.Duration

	mu     sync.Mutex // guards latest
	latest *lobby.Snapshot

	tickMu sync.Mutex // serializes Tick and guards the markers below

	// lastClosed is keyed by round and its start stamp so the first round
	// of a reset game is not mistaken for an already closed one.
	lastClosed   closedRound
	countdownFor *int64
	lastElection *election

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Controller)

func WithPolicy(p engine.ElectionPolicy) Option {
	return func(c *Controller) {
		if p.Valid() {
			c.policy = p
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) { c.log = log }
}

func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

func New(self engine.Member, doc Document, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		self:       self,
		policy:     engine.PolicyHostPriority,
		doc:        doc,
		log:        zap.NewNop(),
		interval:   time.Second,
		lastClosed: closedRound{round: -1},
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("connection_id", self.ID))
	return c
}

// Observe records the newest snapshot and schedules an evaluation.
func (c *Controller) Observe(snap lobby.Snapshot) {
	c.mu.Lock()
	c.latest = &snap
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// IsController reports whether the last observed document names this
// connection as controller.
func (c *Controller) IsController() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest != nil && c.latest.State.ControllerConnectionID == c.self.ID
}

// Start runs the loop on its own goroutine.
func (c *Controller) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Run(ctx)
	}()
}

// Run evaluates once immediately, then on every tick and every observed
// snapshot, until ctx is canceled or Stop is called.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Tick(ctx)
	for {
		select {
		case <-ticker.C:
			c.Tick(ctx)
		case <-c.wake:
			c.Tick(ctx)
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// Stop ends the loop and waits for a started loop to return.
func (c *Controller) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Tick is one evaluation of the election and, when this connection is the
// controller, of the phase timers.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	latest := c.latest
	c.mu.Unlock()
	if latest == nil {
		return
	}
	snap := *latest

	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	c.elect(ctx, snap)

	if snap.State.ControllerConnectionID != c.self.ID {
		c.countdownFor = nil
		return
	}
	c.drive(ctx, snap.State)
}

func memberKey(members []engine.Member) string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return strings.Join(ids, ",")
}

func (c *Controller) elect(ctx context.Context, snap lobby.Snapshot) {
	current := snap.State.ControllerConnectionID
	next, changed := engine.Elect(c.policy, snap.Members, current, c.self)
	if !changed {
		return
	}

	attempt := election{version: snap.Version, members: memberKey(snap.Members)}
	if c.lastElection != nil && *c.lastElection == attempt {
		// Already tried against this exact view; wait for the next one.
		return
	}
	c.lastElection = &attempt

	err := c.doc.Do(ctx, engine.Command{
		Type:     engine.CmdClaimController,
		ClientID: next,
		Live:     snap.Members,
	})
	switch {
	case err == nil:
		c.log.Info("controller elected",
			zap.String("previous", current),
			zap.String("controller", next))
	case errors.Is(err, engine.ErrStaleTransition):
		c.log.Debug("election lost to a concurrent writer", zap.String("candidate", next))
	default:
		c.lastElection = nil
		c.log.Warn("controller election failed", zap.String("candidate", next), zap.Error(err))
	}
}

func (c *Controller) drive(ctx context.Context, s engine.State) {
	rules := c.doc.Rules()
	now := c.doc.ServerTimestamp()

	switch s.GamePhase {
	case engine.PhasePlaying:
		c.countdownFor = nil

		marker := closedRound{round: s.CurrentRound, start: s.RoundStartTime}
		if !engine.RoundExpired(&s, now) || c.lastClosed == marker {
			return
		}
		c.lastClosed = marker
		err := c.doc.Do(ctx, engine.Command{
			Type:       engine.CmdCloseRound,
			Round:      s.CurrentRound,
			Controller: c.self.ID,
		})
		if err != nil {
			c.transitionFailed("close round", s.CurrentRound, err)
			if !settled(err) {
				c.lastClosed = closedRound{round: -1}
			}
			return
		}
		c.log.Info("round closed",
			zap.Int("round", s.CurrentRound),
			zap.Int("total_rounds", s.TotalRounds))

	case engine.PhaseCountdown:
		if c.countdownFor != nil && *c.countdownFor != s.CountdownStartTime {
			c.countdownFor = nil
		}
		if !engine.CountdownElapsed(&s, now, rules) || c.countdownFor != nil {
			return
		}
		start := s.CountdownStartTime
		c.countdownFor = &start
		err := c.doc.Do(ctx, engine.Command{
			Type:           engine.CmdFinishCountdown,
			CountdownStart: start,
			Controller:     c.self.ID,
		})
		if err != nil {
			c.transitionFailed("start next round", s.CurrentRound+1, err)
			if !settled(err) {
				c.countdownFor = nil
			}
			return
		}
		c.log.Info("next round started", zap.Int("round", s.CurrentRound+1))

	default:
		c.countdownFor = nil
	}
}

// settled errors mean the document has already moved past the transition,
// so retrying could only repeat it.
func settled(err error) bool {
	return errors.Is(err, engine.ErrStaleTransition) || errors.Is(err, engine.ErrNotController)
}

func (c *Controller) transitionFailed(what string, round int, err error) {
	if settled(err) {
		c.log.Debug(what+" skipped", zap.Int("round", round), zap.Error(err))
		return
	}
	c.log.Warn(what+" failed", zap.Int("round", round), zap.Error(err))
}
