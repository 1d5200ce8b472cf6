package hub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/DoyleJ11/bubble-merge-backend/internal/engine"
	"github.com/DoyleJ11/bubble-merge-backend/internal/lobby"
)

// Session is one running game: its join code, its document and the hash of
// the key that unlocks the host role.
type Session struct {
	Code        string
	Lobby       *lobby.Lobby
	HostKeyHash []byte
}

// CheckHostKey reports whether key unlocks the host role.
func (s *Session) CheckHostKey(key string) bool {
	if len(s.HostKeyHash) == 0 || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.HostKeyHash, []byte(key)) == nil
}

// NewHostKey returns a random host key and its bcrypt hash.
func NewHostKey() (string, []byte, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	key := hex.EncodeToString(raw)
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, err
	}
	return key, hash, nil
}

var ErrCodeTaken = errors.New("session code already in use")

type HubMsg interface{ isHubMsg() }

// CreateLobby replies nil when the code is already taken.
type CreateLobby struct {
	Code        string
	State       engine.State
	HostKeyHash []byte
	Reply       chan *Session
}

type GetLobby struct {
	Code  string
	Reply chan *Session
}

type EnsureLobby struct {
	Code        string
	State       engine.State // only used if creation happens
	HostKeyHash []byte
	Reply       chan *Session
}

type RemoveLobby struct {
	Code string
}

type ListLobbies struct {
	Reply chan []string
}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*Session
	opts     []lobby.Option
	onCreate []func(*Session)
	ctx      context.Context
	cancel   context.CancelFunc
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ListLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Option func(*Hub)

// WithLobbyOptions applies opts to every lobby the hub creates.
func WithLobbyOptions(opts ...lobby.Option) Option {
	return func(h *Hub) { h.opts = append(h.opts, opts...) }
}

// OnCreate registers fn to run for every newly created session.
func OnCreate(fn func(*Session)) Option {
	return func(h *Hub) { h.onCreate = append(h.onCreate, fn) }
}

func NewHub(parent context.Context, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) create(code string, state engine.State, hash []byte) *Session {
	s := &Session{
		Code:        code,
		Lobby:       lobby.NewLobby(h.ctx, state, h.opts...),
		HostKeyHash: hash,
	}
	h.sessions[code] = s
	for _, fn := range h.onCreate {
		fn(s)
	}
	return s
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				if h.sessions[msg.Code] != nil {
					msg.Reply <- nil
					break
				}
				msg.Reply <- h.create(msg.Code, msg.State, msg.HostKeyHash)

			case GetLobby:
				msg.Reply <- h.sessions[msg.Code] // May be nil

			case EnsureLobby:
				if s := h.sessions[msg.Code]; s != nil {
					msg.Reply <- s
					break
				}
				msg.Reply <- h.create(msg.Code, msg.State, msg.HostKeyHash)

			case RemoveLobby:
				if s := h.sessions[msg.Code]; s != nil {
					s.Lobby.Close()
					delete(h.sessions, msg.Code)
				}

			case ListLobbies:
				codes := make([]string, 0, len(h.sessions))
				for code := range h.sessions {
					codes = append(codes, code)
				}
				msg.Reply <- codes

			case ShutdownHub:
				for _, s := range h.sessions {
					s.Lobby.Close()
				}
				clear(h.sessions)
				h.cancel()
			}
		}
	}
}

// Get looks a session up by code; nil when unknown.
func (h *Hub) Get(ctx context.Context, code string) (*Session, error) {
	reply := make(chan *Session, 1)
	return h.ask(ctx, GetLobby{Code: code, Reply: reply}, reply)
}

func (h *Hub) ask(ctx context.Context, m HubMsg, reply chan *Session) (*Session, error) {
	select {
	case h.inbox <- m:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, lobby.ErrClosed
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, lobby.ErrClosed
	}
}

// Create starts a new session under code.
func (h *Hub) Create(ctx context.Context, code string, state engine.State, hostKeyHash []byte) (*Session, error) {
	reply := make(chan *Session, 1)
	s, err := h.ask(ctx, CreateLobby{Code: code, State: state, HostKeyHash: hostKeyHash, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrCodeTaken
	}
	return s, nil
}

// Shutdown stops every session and then the hub itself.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
	<-h.ctx.Done()
}
