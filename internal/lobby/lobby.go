package lobby

import (
	"context"
	"errors"
	"math/rand"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-merge-backend/internal/engine"
)

var ErrClosed = errors.New("lobby closed")

type Msg interface{ isLobbyMsg() }

// Mutator is applied to a private copy of the document. Returning an error
// discards the copy. A mutator may be evaluated more than once and must not
// have side effects outside tx.
type Mutator func(tx *Tx) error

type Transact struct {
	Mutator Mutator
	Reply   chan error // buffered, receives exactly one value
}

func (Transact) isLobbyMsg() {}

// FromClient applies an engine command as a transaction.
type FromClient struct {
	Cmd   engine.Command
	Reply chan error // buffered, receives exactly one value
}

func (FromClient) isLobbyMsg() {}

type Join struct {
	Member engine.Member
	Outbox chan Snapshot // where this member wants to receive snapshots
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type Subscribe struct {
	Fn func(version int, events []engine.Event)
}

func (Subscribe) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// Tx is the transaction handle a Mutator works with.
type Tx struct {
	State  *engine.State
	Now    int64
	Rules  engine.Rules
	Rand   engine.Rand
	events []engine.Event
}

func (tx *Tx) Emit(events ...engine.Event) {
	tx.events = append(tx.events, events...)
}

// Command wraps an engine command as a Mutator.
func Command(cmd engine.Command) Mutator {
	return func(tx *Tx) error {
		events, err := engine.Apply(tx.State, cmd, engine.Env{Rules: tx.Rules, Now: tx.Now, Rand: tx.Rand})
		if err != nil {
			return err
		}
		tx.Emit(events...)
		return nil
	}
}

// Export fields
type Snapshot struct {
	Version int
	State   engine.State
	Members []engine.Member
}

type View struct {
	Version    int
	NumClients int
	State      engine.State
	Members    []engine.Member
}

// Clock is the shared server clock, in milliseconds.
type Clock interface {
	Now() int64
}

type systemClock struct{}

func (systemClock) Now() int64 { return time.Now().UnixMilli() }

type client struct {
	member engine.Member
	outbox chan Snapshot
}

type Lobby struct {
	inbox       chan Msg
	state       engine.State
	version     int
	clients     map[string]client
	subscribers []func(int, []engine.Event)
	clock       Clock
	rules       engine.Rules
	rng         *rand.Rand // only touched on the loop goroutine
	log         *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

type Option func(*Lobby)

func WithClock(c Clock) Option {
	return func(l *Lobby) { l.clock = c }
}

func WithRules(r engine.Rules) Option {
	return func(l *Lobby) { l.rules = r }
}

func WithRandSeed(seed int64) Option {
	return func(l *Lobby) { l.rng = rand.New(rand.NewSource(seed)) }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Lobby) { l.log = log }
}

func NewLobby(parent context.Context, initial engine.State, opts ...Option) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		inbox:   make(chan Msg, 64), // Small buffer
		state:   initial,
		version: 0,
		clients: make(map[string]client),
		clock:   systemClock{},
		rules:   engine.DefaultRules(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				if old, ok := l.clients[msg.Member.ID]; ok && old.outbox != msg.Outbox {
					// The id reconnected; release whoever reads the old outbox.
					close(old.outbox)
				}
				l.clients[msg.Member.ID] = client{member: msg.Member, outbox: msg.Outbox}
				l.log.Debug("member joined",
					zap.String("connection_id", msg.Member.ID),
					zap.String("role", string(msg.Member.Role)))
				// Everyone re-evaluates on a membership change, the joiner
				// included.
				l.broadcast()

			case Leave:
				c, ok := l.clients[msg.ClientID]
				if !ok {
					break
				}
				close(c.outbox)
				delete(l.clients, msg.ClientID)
				l.log.Debug("member left", zap.String("connection_id", msg.ClientID))
				l.broadcast()

			case Transact:
				msg.Reply <- l.commit(msg.Mutator)

			case FromClient:
				err := l.commit(Command(msg.Cmd))
				if msg.Reply != nil {
					msg.Reply <- err
				}

			case Subscribe:
				l.subscribers = append(l.subscribers, msg.Fn)

			case GetState:
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					State:      l.state.Clone(),
					Members:    l.members(),
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) commit(m Mutator) error {
	draft := l.state.Clone()
	tx := &Tx{State: &draft, Now: l.clock.Now(), Rules: l.rules, Rand: l.rng}
	if err := m(tx); err != nil {
		return err
	}

	l.state = draft
	l.version++
	for _, fn := range l.subscribers {
		fn(l.version, tx.events)
	}
	l.broadcast()
	return nil
}

func (l *Lobby) shutdown() {
	for id, c := range l.clients {
		close(c.outbox) // Tell member no more snapshots
		delete(l.clients, id)
	}
	l.cancel()
}

func (l *Lobby) members() []engine.Member {
	out := make([]engine.Member, 0, len(l.clients))
	for _, c := range l.clients {
		out = append(out, c.member)
	}
	slices.SortFunc(out, func(a, b engine.Member) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (l *Lobby) broadcast() {
	snap := Snapshot{Version: l.version, State: l.state.Clone(), Members: l.members()}
	dropped := false
	for id, c := range l.clients {
		select {
		case c.outbox <- snap:
			//ok
		default:
			// Member is slow/full - drop them.
			close(c.outbox)
			delete(l.clients, id)
			dropped = true
			l.log.Warn("dropped slow member", zap.String("connection_id", id))
		}
	}
	if dropped {
		l.broadcast()
	}
}

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the lobby has shut down.
func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }

// Rules returns the tunables this lobby was created with.
func (l *Lobby) Rules() engine.Rules { return l.rules }

// ServerTimestamp reads the clock every member shares.
func (l *Lobby) ServerTimestamp() int64 { return l.clock.Now() }

func (l *Lobby) send(ctx context.Context, m Msg) error {
	select {
	case l.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrClosed
	}
}

// Close asks the lobby to shut down. Member outboxes are closed by the loop.
func (l *Lobby) Close() {
	select {
	case l.inbox <- Shutdown{}:
	case <-l.ctx.Done():
	}
}

// Transact applies m atomically and returns once it has been committed or
// rejected. Concurrent calls are serialized by the lobby loop.
func (l *Lobby) Transact(ctx context.Context, m Mutator) error {
	reply := make(chan error, 1)
	if err := l.send(ctx, Transact{Mutator: m, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrClosed
	}
}

// Do applies an engine command as one transaction.
func (l *Lobby) Do(ctx context.Context, cmd engine.Command) error {
	reply := make(chan error, 1)
	if err := l.send(ctx, FromClient{Cmd: cmd, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrClosed
	}
}

// View returns a consistent copy of the document and the member set.
func (l *Lobby) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := l.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-l.ctx.Done():
		return View{}, ErrClosed
	}
}

func (l *Lobby) Join(ctx context.Context, member engine.Member, outbox chan Snapshot) error {
	return l.send(ctx, Join{Member: member, Outbox: outbox})
}

func (l *Lobby) Leave(ctx context.Context, clientID string) error {
	return l.send(ctx, Leave{ClientID: clientID})
}

// OnCommit registers fn to run on the lobby goroutine after every commit.
// fn must not block or call back into the lobby.
func (l *Lobby) OnCommit(ctx context.Context, fn func(version int, events []engine.Event)) error {
	return l.send(ctx, Subscribe{Fn: fn})
}
