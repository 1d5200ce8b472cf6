package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-merge-backend/internal/engine"
	"github.com/DoyleJ11/bubble-merge-backend/internal/hub"
	"github.com/DoyleJ11/bubble-merge-backend/internal/ledger"
	"github.com/DoyleJ11/bubble-merge-backend/internal/lobby"
)

const (
	codeLength   = 6
	codeAttempts = 8
	qrSize       = 320
	lookupWait   = 2 * time.Second
)

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, codeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type API struct {
	hub       *hub.Hub
	store     ledger.Store
	rules     engine.Rules
	publicURL string
	log       *zap.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type createSessionResponse struct {
	Code    string `json:"code"`
	HostKey string `json:"hostKey"`
}

func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	key, hash, err := hub.NewHostKey()
	if err != nil {
		http.Error(w, "failed to generate host key", http.StatusInternalServerError)
		return
	}

	for i := 0; i < codeAttempts; i++ {
		code, err := GenerateCode()
		if err != nil {
			http.Error(w, "failed to generate code", http.StatusInternalServerError)
			return
		}
		_, err = a.hub.Create(r.Context(), code, engine.NewInitialState(a.rules), hash)
		if errors.Is(err, hub.ErrCodeTaken) {
			a.log.Debug("collision on code, regenerating", zap.String("session", code))
			continue
		}
		if err != nil {
			http.Error(w, "failed to create session", http.StatusServiceUnavailable)
			return
		}
		a.log.Info("session created", zap.String("session", code))
		writeJSON(w, http.StatusCreated, createSessionResponse{Code: code, HostKey: key})
		return
	}
	http.Error(w, "failed to allocate a session code", http.StatusServiceUnavailable)
}

// session resolves {code}, writing a 404 itself when it is unknown.
func (a *API) session(w http.ResponseWriter, r *http.Request) (*hub.Session, bool) {
	s, err := a.hub.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		http.Error(w, "session lookup failed", http.StatusServiceUnavailable)
		return nil, false
	}
	if s == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return s, true
}

func (a *API) view(w http.ResponseWriter, r *http.Request, s *hub.Session) (lobby.View, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), lookupWait)
	defer cancel()
	v, err := s.Lobby.View(ctx)
	if err != nil {
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return lobby.View{}, false
	}
	return v, true
}

type sessionResponse struct {
	Code       string          `json:"code"`
	Version    int             `json:"version"`
	NumClients int             `json:"numClients"`
	ServerTime int64           `json:"serverTime"`
	Members    []engine.Member `json:"members"`
	State      engine.State    `json:"state"`
}

func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	v, ok := a.view(w, r, s)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Code:       s.Code,
		Version:    v.Version,
		NumClients: v.NumClients,
		ServerTime: s.Lobby.ServerTimestamp(),
		Members:    v.Members,
		State:      v.State,
	})
}

type leaderboardResponse struct {
	Code      string            `json:"code"`
	Phase     engine.Phase      `json:"gamePhase"`
	Standings []engine.Standing `json:"standings"`
	Results   []ledger.Result   `json:"results"`
}

func (a *API) Leaderboard(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	v, ok := a.view(w, r, s)
	if !ok {
		return
	}
	results, err := a.store.ResultsForSession(r.Context(), s.Code)
	if err != nil {
		a.log.Error("load archived results", zap.String("session", s.Code), zap.Error(err))
		http.Error(w, "failed to load results", http.StatusInternalServerError)
		return
	}

	standings := engine.Leaderboard(&v.State)
	if standings == nil {
		standings = []engine.Standing{}
	}
	if results == nil {
		results = []ledger.Result{}
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{
		Code:      s.Code,
		Phase:     v.State.GamePhase,
		Standings: standings,
		Results:   results,
	})
}

// joinURL is the player entry point encoded in the QR code.
func (a *API) joinURL(r *http.Request, code string) string {
	base := a.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/join?code=" + url.QueryEscape(code)
}

func (a *API) QR(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	png, err := qrcode.Encode(a.joinURL(r, s.Code), qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// DeleteSession ends a session; the host key travels in X-Host-Key.
func (a *API) DeleteSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	if !s.CheckHostKey(r.Header.Get("X-Host-Key")) {
		http.Error(w, "invalid host key", http.StatusForbidden)
		return
	}
	select {
	case a.hub.Inbox() <- hub.RemoveLobby{Code: s.Code}:
	case <-r.Context().Done():
		return
	}
	a.log.Info("session removed", zap.String("session", s.Code))
	w.WriteHeader(http.StatusNoContent)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
