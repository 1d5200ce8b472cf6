package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-merge-backend/internal/engine"
	"github.com/DoyleJ11/bubble-merge-backend/internal/hub"
	"github.com/DoyleJ11/bubble-merge-backend/internal/ledger"
	"github.com/DoyleJ11/bubble-merge-backend/internal/ws"
)

type Deps struct {
	Hub       *hub.Hub
	Store     ledger.Store
	Rules     engine.Rules
	PublicURL string
	WS        ws.Deps
	Log       *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Store == nil {
		d.Store = ledger.NewMemoryStore()
	}
	if d.WS.Hub == nil {
		d.WS.Hub = d.Hub
	}
	api := &API{hub: d.Hub, store: d.Store, rules: d.Rules, publicURL: d.PublicURL, log: d.Log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/sessions", api.CreateSession)
	r.Route("/sessions/{code}", func(r chi.Router) {
		r.Get("/", api.GetSession)
		r.Delete("/", api.DeleteSession)
		r.Get("/leaderboard", api.Leaderboard)
		r.Get("/qr.png", api.QR)
	})
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.WS))
	return r
}
