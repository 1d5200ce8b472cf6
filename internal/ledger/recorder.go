package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-merge-backend/internal/engine"
)

// Source is a document that reports committed events.
type Source interface {
	OnCommit(ctx context.Context, fn func(version int, events []engine.Event)) error
}

const (
	backlog     = 256
	saveTimeout = 5 * time.Second
)

// Recorder archives PlayerCompleted events from any number of sessions on
// one background worker. Commit hooks never block on the store.
type Recorder struct {
	store Store
	log   *zap.Logger

	mu     sync.RWMutex // guards closed against sends on jobs
	closed bool
	jobs   chan Result
	done   chan struct{}
}

func NewRecorder(store Store, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{
		store: store,
		log:   log,
		jobs:  make(chan Result, backlog),
		done:  make(chan struct{}),
	}
	go r.worker()
	return r
}

// Attach subscribes the recorder to the session with the given code.
func (r *Recorder) Attach(ctx context.Context, code string, src Source) error {
	return src.OnCommit(ctx, func(_ int, events []engine.Event) {
		for _, ev := range events {
			if ev.Type != engine.EvtPlayerCompleted || ev.Winner == nil {
				continue
			}
			r.enqueue(Result{
				SessionCode:      code,
				ClientID:         ev.ClientID,
				Round:            ev.Round,
				RoundStart:       ev.RoundStart,
				PlayerName:       ev.Winner.PlayerName,
				Score:            ev.Winner.Score,
				CompletionTimeMs: ev.Winner.CompletionTime,
			})
		}
	})
}

func (r *Recorder) enqueue(res Result) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.jobs <- res:
	default:
		r.log.Warn("ledger backlog full, result dropped",
			zap.String("session", res.SessionCode),
			zap.String("connection_id", res.ClientID),
			zap.Int("round", res.Round))
	}
}

func (r *Recorder) worker() {
	defer close(r.done)
	for res := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := r.store.SaveResult(ctx, res); err != nil {
			r.log.Error("archive result",
				zap.String("session", res.SessionCode),
				zap.Int("round", res.Round),
				zap.Error(err))
		}
		cancel()
	}
}

// Close flushes queued results. It does not close the store.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}
