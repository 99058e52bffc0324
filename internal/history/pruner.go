package history

import (
	"context"
	"sync"
	"time"
)

// Logger is the logging interface used by the pruner.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Pruner periodically removes history older than the retention window.
//
// Thread Safety:
//   - Start and Stop may be called from any goroutine; Stop is idempotent.
type Pruner struct {
	store     Store
	retention time.Duration
	interval  time.Duration

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewPruner creates a pruner. A non-positive retention disables pruning.
func NewPruner(store Store, retention, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  interval,
	}
}

// SetLogger sets the logger for prune results.
func (p *Pruner) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

// Start prunes once immediately and then on every interval until ctx is
// cancelled or Stop is called.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop halts the prune loop and waits for it to exit.
func (p *Pruner) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
	})
}

func (p *Pruner) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PruneNow(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneNow(ctx)
		}
	}
}

// PruneNow runs a single prune pass and returns the number of rows removed.
func (p *Pruner) PruneNow(ctx context.Context) int64 {
	if p.retention <= 0 {
		return 0
	}

	n, err := p.store.PruneHistory(ctx, p.retention)

	p.loggerMu.RLock()
	logger := p.logger
	p.loggerMu.RUnlock()

	if err != nil {
		if logger != nil {
			logger.Warn("pruning state history failed", "error", err)
		}
		return 0
	}
	if n > 0 && logger != nil {
		logger.Info("pruned state history", "rows", n, "retention", p.retention)
	}
	return n
}
