// Package ledger archives round completions so a session's results outlive
// the in-memory document.
package ledger

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// Result is one player's completion of one round. A round instance is
// identified by its start stamp, so replays after a reset are kept apart.
type Result struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	SessionCode      string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_result_key;index:idx_result_session" json:"sessionCode"`
	ClientID         string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_result_key" json:"clientId"`
	Round            int       `gorm:"not null;uniqueIndex:idx_result_key" json:"round"`
	RoundStart       int64     `gorm:"not null;uniqueIndex:idx_result_key" json:"roundStart"`
	PlayerName       string    `gorm:"type:varchar(128);not null" json:"playerName"`
	Score            int       `gorm:"not null" json:"score"`
	CompletionTimeMs int64     `gorm:"not null" json:"completionTimeMs"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (Result) TableName() string { return "round_results" }

type resultKey struct {
	session, client string
	round           int
	start           int64
}

func (r Result) key() resultKey {
	return resultKey{r.SessionCode, r.ClientID, r.Round, r.RoundStart}
}

// Store persists results. Saving the same round result twice is not an
// error and keeps the first copy.
type Store interface {
	SaveResult(ctx context.Context, r Result) error
	ResultsForSession(ctx context.Context, code string) ([]Result, error)
	Close() error
}

// sortResults orders by round start, then best score first.
func sortResults(rs []Result) {
	slices.SortStableFunc(rs, func(a, b Result) int {
		if c := cmp.Compare(a.RoundStart, b.RoundStart); c != 0 {
			return c
		}
		return cmp.Compare(b.Score, a.Score)
	})
}

type MemoryStore struct {
	mu      sync.Mutex
	results []Result
	seen    map[resultKey]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: map[resultKey]struct{}{}}
}

func (m *MemoryStore) SaveResult(_ context.Context, r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[r.key()]; dup {
		return nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.ID = uint(len(m.results) + 1)
	m.seen[r.key()] = struct{}{}
	m.results = append(m.results, r)
	return nil
}

func (m *MemoryStore) ResultsForSession(_ context.Context, code string) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Result
	for _, r := range m.results {
		if r.SessionCode == code {
			out = append(out, r)
		}
	}
	sortResults(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
