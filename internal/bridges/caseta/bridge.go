package caseta

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Reconnection constants.
const (
	// defaultReconnectInterval is the initial delay before re-opening a lost session.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval caps the exponential backoff.
	maxReconnectInterval = 2 * time.Minute

	// backoffMultiplier grows the delay after each failed attempt.
	backoffMultiplier = 1.5
)

// BridgeState is the lifecycle state of a Bridge.
type BridgeState int32

// Bridge states.
const (
	BridgeIdle BridgeState = iota
	BridgeConnecting
	BridgeReady
	BridgeListening
	BridgeReconnecting
	BridgeStopped
)

// String returns the state name.
func (s BridgeState) String() string {
	switch s {
	case BridgeIdle:
		return "idle"
	case BridgeConnecting:
		return "connecting"
	case BridgeReady:
		return "ready"
	case BridgeListening:
		return "listening"
	case BridgeReconnecting:
		return "reconnecting"
	case BridgeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SessionFactory creates a fresh, unopened session for a hub.
type SessionFactory func(cfg SessionConfig) Connector

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Session holds the hub address and credentials.
	Session SessionConfig

	// NewSession creates sessions. Defaults to a TCP Session.
	NewSession SessionFactory

	// ReconnectInterval is the initial delay before re-opening a lost session.
	// Default: 5 seconds.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the reconnect backoff. Default: 2 minutes.
	MaxReconnectInterval time.Duration

	// Logger is optional structured logger.
	Logger Logger
}

type connectHook struct {
	id uint64
	fn func()
}

// BridgeStats holds operational statistics for a bridge.
type BridgeStats struct {
	Host           string
	State          string
	Subscriptions  int
	Reconnects     uint64
	ReadErrors     uint64
	DispatchErrors uint64
	Session        SessionStats
}

// Bridge multiplexes one hub session among many subscribers.
//
// A Bridge owns at most one session at a time, a subscription registry and
// a single read loop. Frames are dispatched from the loop goroutine in wire
// order; subscribers are called in registration order.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	host string
	opts BridgeOptions

	registry *Registry

	sess   Connector
	sessMu sync.RWMutex
	opens  singleflight.Group

	state   atomic.Int32
	started atomic.Bool

	// Shutdown coordination
	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once

	// Hooks run after every successful open
	hooks   []connectHook
	hookSeq uint64
	hooksMu sync.Mutex

	reconnects     atomic.Uint64
	readErrors     atomic.Uint64
	dispatchErrors atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge for the hub described by opts.Session.
// No connection is made until Open or Start is called.
func NewBridge(opts BridgeOptions) *Bridge {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultReconnectInterval
	}
	if opts.MaxReconnectInterval <= 0 {
		opts.MaxReconnectInterval = maxReconnectInterval
	}
	opts.Session = opts.Session.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		host:      opts.Session.Host,
		opts:      opts,
		registry:  NewRegistry(),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
	}

	if b.opts.NewSession == nil {
		b.opts.NewSession = func(cfg SessionConfig) Connector {
			s := NewSession(cfg)
			if logger := b.getLogger(); logger != nil {
				s.SetLogger(logger)
			}
			return s
		}
	}
	return b
}

// Host returns the hub host this bridge serves.
func (b *Bridge) Host() string {
	return b.host
}

// Open connects to the hub and completes the login handshake.
//
// Open is idempotent: it returns nil immediately if a ready session exists,
// and concurrent callers share one connection attempt (and its result).
// The shared attempt runs under the context of the caller that started it.
func (b *Bridge) Open(ctx context.Context) error {
	if b.isStopped() {
		return ErrBridgeStopped
	}
	if sess := b.session(); sess != nil && sess.IsConnected() {
		return nil
	}

	_, err, _ := b.opens.Do("open", func() (any, error) {
		return nil, b.connect(ctx)
	})
	return err
}

// connect replaces any dead session with a freshly opened one.
func (b *Bridge) connect(ctx context.Context) error {
	if sess := b.session(); sess != nil && sess.IsConnected() {
		return nil
	}

	b.setState(BridgeConnecting)
	b.dropSession()

	sess := b.opts.NewSession(b.opts.Session)
	if err := sess.Open(ctx); err != nil {
		sess.Close()
		b.setState(BridgeIdle)
		return err
	}

	b.sessMu.Lock()
	if b.isStopped() {
		b.sessMu.Unlock()
		sess.Close()
		return ErrBridgeStopped
	}
	b.sess = sess
	b.sessMu.Unlock()

	b.setState(BridgeReady)
	b.logInfo("connected to hub", "host", b.host)
	b.runConnectHooks()
	return nil
}

// OnConnect registers fn to run after every successful open of the hub
// session, including re-opens by the read loop. fn runs on the goroutine
// that opened the session and must not call Open. The returned function
// removes the hook.
func (b *Bridge) OnConnect(fn func()) (remove func()) {
	b.hooksMu.Lock()
	b.hookSeq++
	id := b.hookSeq
	b.hooks = append(b.hooks, connectHook{id: id, fn: fn})
	b.hooksMu.Unlock()

	return func() {
		b.hooksMu.Lock()
		defer b.hooksMu.Unlock()
		b.hooks = slices.DeleteFunc(b.hooks, func(h connectHook) bool { return h.id == id })
	}
}

// runConnectHooks calls every registered hook in registration order.
// A panicking hook is logged and does not stop the others.
func (b *Bridge) runConnectHooks() {
	b.hooksMu.Lock()
	hooks := slices.Clone(b.hooks)
	b.hooksMu.Unlock()

	for _, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logError("connect hook panicked", "host", b.host, "panic", r)
				}
			}()
			h.fn()
		}()
	}
}

// Write sends a command frame on the shared session.
// Returns ErrNotConnected if no session is ready.
func (b *Bridge) Write(mode string, integration, action int, value float64) error {
	sess := b.session()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Write(mode, integration, action, value)
}

// Query sends a query frame on the shared session.
// Returns ErrNotConnected if no session is ready.
func (b *Bridge) Query(mode string, integration, action int) error {
	sess := b.session()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Query(mode, integration, action)
}

// Subscribe registers h to receive every frame read from the hub.
func (b *Bridge) Subscribe(h Handler) Subscription {
	return b.registry.Subscribe(h)
}

// SubscribeFunc registers fn to receive every frame read from the hub.
func (b *Bridge) SubscribeFunc(fn func(ctx context.Context, f Frame) error) Subscription {
	return b.registry.SubscribeFunc(fn)
}

// Unsubscribe stops delivery to the handler registered under sub.
func (b *Bridge) Unsubscribe(sub Subscription) bool {
	return b.registry.Unsubscribe(sub)
}

// Start launches the read loop. Only the first call has any effect.
//
// The loop runs until Stop is called or ctx is cancelled. If no session is
// ready it opens one first. Per-frame failures (decode errors, subscriber
// errors, unexpected read errors) are logged and the loop keeps reading.
// A lost connection closes the session and re-opens it with exponential
// backoff.
func (b *Bridge) Start(ctx context.Context) error {
	if b.isStopped() {
		return ErrBridgeStopped
	}
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.ctx, cancel)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer stop()
		defer cancel()
		b.run(runCtx)
	}()

	b.logInfo("read loop started", "host", b.host)
	return nil
}

// run is the read-and-dispatch loop.
func (b *Bridge) run(ctx context.Context) {
	delay := b.opts.ReconnectInterval
	lost := false

	for ctx.Err() == nil {
		sess := b.session()
		if sess == nil || !sess.IsConnected() {
			if lost {
				b.setState(BridgeReconnecting)
				if !sleepContext(ctx, delay) {
					return
				}
			}
			if err := b.Open(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logWarn("hub connection failed", "host", b.host, "error", err, "retry_in", delay.String())
				if lost {
					delay = b.nextBackoff(delay)
				}
				lost = true
				continue
			}
			if lost {
				b.reconnects.Add(1)
				b.logInfo("reconnected to hub", "host", b.host, "total_reconnects", b.reconnects.Load())
			}
			continue
		}

		b.setState(BridgeListening)
		frame, err := sess.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.readErrors.Add(1)

			switch {
			case errors.Is(err, ErrDecodeFailed):
				b.logWarn("dropping malformed frame", "host", b.host, "error", err)
			case isConnectionError(err):
				b.logError("hub connection lost", "host", b.host, "error", err)
				b.dropSession()
				lost = true
			default:
				b.logError("read failed", "host", b.host, "error", err)
			}
			continue
		}

		lost = false
		delay = b.opts.ReconnectInterval

		if err := b.registry.Dispatch(ctx, frame); err != nil {
			b.dispatchErrors.Add(1)
			b.logError("subscriber failed", "host", b.host, "frame", frame.String(), "error", err)
		}
	}
}

// nextBackoff grows d by the backoff multiplier, capped at MaxReconnectInterval.
func (b *Bridge) nextBackoff(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * backoffMultiplier)
	if next > b.opts.MaxReconnectInterval {
		next = b.opts.MaxReconnectInterval
	}
	return next
}

// sleepContext waits for d or until ctx is done. Returns false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Stop ends the read loop and closes the session.
// A stopped bridge cannot be restarted. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.state.Store(int32(BridgeStopped))
		b.ctxCancel()
		b.dropSession()
		b.wg.Wait()
		b.logInfo("bridge stopped", "host", b.host)
	})
}

// State returns the current lifecycle state.
func (b *Bridge) State() BridgeState {
	return BridgeState(b.state.Load())
}

// IsConnected returns true if the bridge holds a ready session.
func (b *Bridge) IsConnected() bool {
	sess := b.session()
	return sess != nil && sess.IsConnected()
}

// HealthCheck reports whether the bridge can reach its hub.
func (b *Bridge) HealthCheck(_ context.Context) error {
	if b.isStopped() {
		return ErrBridgeStopped
	}
	if !b.IsConnected() {
		return fmt.Errorf("%w: %s", ErrNotConnected, b.host)
	}
	return nil
}

// Stats returns current operational statistics.
func (b *Bridge) Stats() BridgeStats {
	stats := BridgeStats{
		Host:           b.host,
		State:          b.State().String(),
		Subscriptions:  b.registry.Len(),
		Reconnects:     b.reconnects.Load(),
		ReadErrors:     b.readErrors.Load(),
		DispatchErrors: b.dispatchErrors.Load(),
	}
	if sess := b.session(); sess != nil {
		stats.Session = sess.Stats()
	}
	return stats
}

// SetLogger sets the logger for this bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) session() Connector {
	b.sessMu.RLock()
	defer b.sessMu.RUnlock()
	return b.sess
}

// dropSession closes and forgets the current session.
func (b *Bridge) dropSession() {
	b.sessMu.Lock()
	sess := b.sess
	b.sess = nil
	b.sessMu.Unlock()

	if sess != nil {
		sess.Close()
	}
}

// setState records s unless the bridge has been stopped.
func (b *Bridge) setState(s BridgeState) {
	for {
		cur := b.state.Load()
		if BridgeState(cur) == BridgeStopped {
			return
		}
		if b.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (b *Bridge) isStopped() bool {
	return b.State() == BridgeStopped
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
