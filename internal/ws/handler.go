package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-merge-backend/internal/controller"
	"github.com/DoyleJ11/bubble-merge-backend/internal/engine"
	"github.com/DoyleJ11/bubble-merge-backend/internal/game"
	"github.com/DoyleJ11/bubble-merge-backend/internal/hub"
	"github.com/DoyleJ11/bubble-merge-backend/internal/lobby"
	"github.com/DoyleJ11/bubble-merge-backend/internal/puzzle"
	"github.com/DoyleJ11/bubble-merge-backend/internal/types"
)

var errUnknownMessage = errors.New("unknown message type")

const (
	writeTimeout = 3 * time.Second
	outboxSize   = 16
)

type Deps struct {
	Hub            *hub.Hub
	Generator      puzzle.Generator
	Policy         engine.ElectionPolicy
	Tick           time.Duration
	OriginPatterns []string
	Log            *zap.Logger
}

// Handler upgrades GET /ws?code=&role=&name=&key= into a session member.
func Handler(d Deps) http.HandlerFunc {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		role := engine.Role(q.Get("role"))
		if role == "" {
			role = engine.RolePlayer
		}
		if !role.Valid() {
			http.Error(w, "invalid role", http.StatusBadRequest)
			return
		}

		sess, err := d.Hub.Get(r.Context(), code)
		if err != nil {
			http.Error(w, "session lookup failed", http.StatusServiceUnavailable)
			return
		}
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if role == engine.RoleHost && !sess.CheckHostKey(q.Get("key")) {
			http.Error(w, "invalid host key", http.StatusForbidden)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: d.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		member := engine.Member{ID: uuid.New().String(), Role: role}
		log := d.Log.With(
			zap.String("session", code),
			zap.String("connection_id", member.ID),
			zap.String("role", string(role)))

		c := &connection{
			conn:   conn,
			member: member,
			lobby:  sess.Lobby,
			ctrl: controller.New(member, sess.Lobby,
				controller.WithPolicy(d.Policy),
				controller.WithInterval(d.Tick),
				controller.WithLogger(d.Log.With(zap.String("session", code)))),
			client: game.NewClient(member, sess.Lobby,
				game.WithGenerator(d.Generator),
				game.WithLogger(d.Log.With(zap.String("session", code)))),
			log: log,
		}
		c.serve(r.Context(), q.Get("name"))
	}
}

type connection struct {
	conn   *websocket.Conn
	member engine.Member
	lobby  *lobby.Lobby
	ctrl   *controller.Controller
	client *game.Client
	log    *zap.Logger
}

func (c *connection) serve(parent context.Context, name string) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	out := make(chan lobby.Snapshot, outboxSize)
	if err := c.lobby.Join(ctx, c.member, out); err != nil {
		c.log.Warn("join failed", zap.Error(err))
		return
	}
	c.log.Info("connected")
	defer func() {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), time.Second)
		defer leaveCancel()
		_ = c.lobby.Leave(leaveCtx, c.member.ID)
		c.log.Info("disconnected")
	}()

	c.write(ctx, types.ServerMessage{
		Type:         "Welcome",
		ConnectionID: c.member.ID,
		Role:         c.member.Role,
		ServerTime:   c.lobby.ServerTimestamp(),
	})

	// Snapshot fan-out: the controller sees every snapshot before the socket
	// does. A closed outbox means the lobby dropped or forgot us.
	go func() {
		defer cancel()
		for snap := range out {
			c.ctrl.Observe(snap)
			state := snap.State
			c.write(ctx, types.ServerMessage{
				Type:       "StateSnapshot",
				Version:    snap.Version,
				ServerTime: c.lobby.ServerTimestamp(),
				State:      &state,
				Members:    snap.Members,
			})
		}
		c.conn.Close(websocket.StatusTryAgainLater, "session membership lost")
	}()

	c.ctrl.Start(ctx)
	defer c.ctrl.Stop()

	if name != "" {
		c.reportErr(ctx, "SetName", c.client.SetName(ctx, name))
	}
	if c.member.Role == engine.RolePlayer {
		c.reportErr(ctx, "InitializeProgress", c.client.InitializeProgress(ctx))
	}

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					c.log.Debug("read failed", zap.Error(err))
				}
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.write(ctx, types.ServerMessage{Type: "Error", Error: "bad json"})
			continue
		}

		if cm.Type == "GeneratePuzzle" {
			// Generation can take a while; keep reading meanwhile.
			go func() { c.reportErr(ctx, cm.Type, c.dispatch(ctx, cm)) }()
			continue
		}
		c.reportErr(ctx, cm.Type, c.dispatch(ctx, cm))
	}
}

func (c *connection) dispatch(ctx context.Context, m types.ClientMessage) error {
	switch m.Type {
	case "StartRound":
		return c.client.StartRound(ctx)
	case "ResetGame":
		return c.client.ResetGame(ctx)
	case "ShowResults":
		return c.client.ShowResults(ctx)
	case "CreatePuzzle":
		var in puzzle.ManualInput
		if m.Puzzle != nil {
			in = *m.Puzzle
		}
		return c.client.CreatePuzzleManual(ctx, in, m.TotalRounds)
	case "GeneratePuzzle":
		return c.client.GeneratePuzzlesWithAI(ctx, m.Theme, m.TotalRounds)
	case "AbsorbBubble":
		return c.client.AbsorbBubble(ctx, m.BubbleID)
	case "IncorrectAttempt":
		return c.client.RecordIncorrectAttempt(ctx)
	case "InitializeProgress":
		return c.client.InitializeProgress(ctx)
	case "SetName":
		return c.client.SetName(ctx, m.Name)
	default:
		return errUnknownMessage
	}
}

func (c *connection) reportErr(ctx context.Context, request string, err error) {
	if err == nil || ctx.Err() != nil {
		return
	}
	c.write(ctx, types.ServerMessage{Type: "Error", Request: request, Error: err.Error()})
}

func (c *connection) write(ctx context.Context, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("encode message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = c.conn.Write(wctx, websocket.MessageText, payload)
}
