package caseta

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Default connection settings for the integration protocol.
const (
	// DefaultPort is the hub's telnet integration port.
	DefaultPort = 23

	// DefaultUsername is the factory integration login.
	DefaultUsername = "lutron"

	// DefaultPassword is the factory integration password.
	DefaultPassword = "integration"

	// defaultConnectTimeout bounds dial plus login handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout bounds a single command or query write.
	defaultWriteTimeout = 5 * time.Second

	// readChunkSize is how many bytes are requested from the socket per read.
	readChunkSize = 1024

	// maxBufferSize caps unframed bytes held while waiting for a frame.
	maxBufferSize = 64 * 1024
)

// SessionState is the lifecycle state of a Session.
type SessionState int32

// Session states.
const (
	StateDisconnected SessionState = iota
	StateHandshaking
	StateReady
	StateClosed
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig holds the connection settings for one hub.
type SessionConfig struct {
	// Host is the hub's hostname or IP address.
	Host string

	// Port is the integration port. Default: 23.
	Port int

	// Username is the integration login. Default: "lutron".
	Username string

	// Password is the integration password. Default: "integration".
	Password string

	// ConnectTimeout bounds dial and handshake together.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout bounds each command or query write.
	// Default: 5 seconds.
	WriteTimeout time.Duration
}

// Address returns the host:port dial address.
func (c SessionConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// withDefaults fills zero values with the protocol defaults.
func (c SessionConfig) withDefaults() SessionConfig {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Username == "" {
		c.Username = DefaultUsername
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// SessionStats holds operational statistics for a session.
type SessionStats struct {
	FramesRx     uint64
	CommandsTx   uint64
	QueriesTx    uint64
	DecodeErrors uint64
	ErrorsTotal  uint64
	LastActivity time.Time
	Connected    bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connector is the protocol session as seen by a Bridge.
// This allows replacing the TCP session in tests.
type Connector interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (Frame, error)
	Write(mode string, integration, action int, value float64) error
	Query(mode string, integration, action int) error
	IsConnected() bool
	Stats() SessionStats
	Close() error
}

// Ensure Session implements Connector.
var _ Connector = (*Session)(nil)

// Session owns one TCP connection to one hub.
//
// Thread Safety:
//   - Read is serialised; only one reader makes progress at a time.
//   - Write and Query may be called concurrently with each other and with Read.
type Session struct {
	cfg SessionConfig

	conn   net.Conn
	connMu sync.RWMutex
	state  atomic.Int32

	// Read path: the buffer is only touched while readMu is held.
	readMu sync.Mutex
	buf    []byte

	writeMu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex

	framesRx     atomic.Uint64
	commandsTx   atomic.Uint64
	queriesTx    atomic.Uint64
	decodeErrors atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64
}

// NewSession creates a disconnected session. Call Open to connect.
func NewSession(cfg SessionConfig) *Session {
	return &Session{cfg: cfg.withDefaults()}
}

// Open connects to the hub and performs the login handshake.
//
// The handshake waits for the login prompt, sends the username, waits for
// the password prompt, sends the password and finally waits for the ready
// prompt. Any failure closes the connection and is returned wrapped in
// ErrConnectionFailed; Open does not retry.
//
// Calling Open on a ready session is a no-op.
func (s *Session) Open(ctx context.Context) error {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	switch s.State() {
	case StateReady:
		return nil
	case StateClosed:
		return fmt.Errorf("%w: session closed", ErrConnectionFailed)
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, "tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, s.cfg.Address(), err)
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close() // left over from a failed read
	}
	s.conn = conn
	s.connMu.Unlock()
	s.buf = s.buf[:0]
	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateHandshaking)) {
		conn.Close()
		return fmt.Errorf("%w: session closed", ErrConnectionFailed)
	}

	if err := s.handshake(connectCtx, conn); err != nil {
		conn.Close()
		s.state.CompareAndSwap(int32(StateHandshaking), int32(StateDisconnected))
		return fmt.Errorf("%w: handshake failed: %w", ErrConnectionFailed, err)
	}

	if !s.state.CompareAndSwap(int32(StateHandshaking), int32(StateReady)) {
		return fmt.Errorf("%w: session closed", ErrConnectionFailed)
	}
	s.lastActivity.Store(time.Now().Unix())
	s.logInfo("session ready", "address", s.cfg.Address())
	return nil
}

// handshake walks the login sequence. Caller holds readMu.
func (s *Session) handshake(ctx context.Context, conn net.Conn) error {
	if err := s.readUntil(ctx, conn, promptLogin); err != nil {
		return fmt.Errorf("waiting for login prompt: %w", err)
	}
	if err := s.writeLine(conn, s.cfg.Username); err != nil {
		return fmt.Errorf("sending username: %w", err)
	}
	if err := s.readUntil(ctx, conn, promptPassword); err != nil {
		return fmt.Errorf("waiting for password prompt: %w", err)
	}
	if err := s.writeLine(conn, s.cfg.Password); err != nil {
		return fmt.Errorf("sending password: %w", err)
	}
	if err := s.readUntil(ctx, conn, promptReady); err != nil {
		return fmt.Errorf("waiting for ready prompt: %w", err)
	}
	return nil
}

// readUntil consumes the buffer up to and including marker, reading more
// bytes from conn as needed.
func (s *Session) readUntil(ctx context.Context, conn net.Conn, marker []byte) error {
	for {
		if i := bytes.Index(s.buf, marker); i >= 0 {
			s.buf = s.buf[i+len(marker):]
			return nil
		}
		if err := s.fill(ctx, conn); err != nil {
			return err
		}
	}
}

// writeLine sends a handshake credential terminated by CRLF.
func (s *Session) writeLine(conn net.Conn, line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	_, err := conn.Write([]byte(line + lineEnd))
	return err
}

// Read blocks until one complete status frame is available and returns it.
//
// Each call consumes exactly one frame. A delimited frame with invalid
// fields is consumed and reported as ErrDecodeFailed so that the next call
// continues with the following bytes. Transport failures are reported as
// ErrConnectionLost and leave the session disconnected. Cancelling ctx
// unblocks a pending read.
func (s *Session) Read(ctx context.Context) (Frame, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	conn := s.getConn()
	if conn == nil || s.State() != StateReady {
		return Frame{}, ErrNotConnected
	}

	for {
		frame, n, err := MatchFrame(s.buf)
		if n > 0 {
			s.buf = s.buf[n:]
			if err != nil {
				s.decodeErrors.Add(1)
				s.errorsTotal.Add(1)
				return Frame{}, err
			}
			s.framesRx.Add(1)
			s.lastActivity.Store(time.Now().Unix())
			return frame, nil
		}

		s.trimBuffer()

		if err := s.fill(ctx, conn); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Frame{}, ctxErr
			}
			s.errorsTotal.Add(1)
			s.state.CompareAndSwap(int32(StateReady), int32(StateDisconnected))
			return Frame{}, fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
	}
}

// trimBuffer drops unframed noise once the buffer grows past maxBufferSize,
// keeping a possible partial frame at the tail. Caller holds readMu.
func (s *Session) trimBuffer() {
	if len(s.buf) <= maxBufferSize {
		return
	}
	keep := bytes.LastIndexByte(s.buf, statusMarker)
	if keep < 0 || len(s.buf)-keep > maxBufferSize {
		keep = len(s.buf)
	}
	s.logWarn("discarding unframed bytes", "bytes", keep)
	s.buf = append(s.buf[:0], s.buf[keep:]...)
}

// fill appends the next chunk from conn to the buffer. Caller holds readMu.
func (s *Session) fill(ctx context.Context, conn net.Conn) error {
	release := watchContext(ctx, conn)
	defer release()

	chunk := make([]byte, readChunkSize)
	n, err := conn.Read(chunk)
	if n > 0 {
		s.buf = append(s.buf, chunk[:n]...)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		return err
	}
	return nil
}

// watchContext applies the context deadline to conn and arranges for a
// cancellation to unblock a pending Read. The returned func must be called
// once the read has finished.
func watchContext(ctx context.Context, conn net.Conn) func() {
	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline) //nolint:errcheck // surfaces on the following Read

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = conn.SetReadDeadline(time.Now()) //nolint:errcheck // best-effort unblock
	})
	return func() {
		if !stop() {
			<-fired
		}
	}
}

// Write sends a command frame to the hub.
//
// Returns ErrNotConnected if the handshake has not completed.
func (s *Session) Write(mode string, integration, action int, value float64) error {
	if err := s.send(FormatCommand(mode, integration, action, value)); err != nil {
		return err
	}
	s.commandsTx.Add(1)
	return nil
}

// Query sends a query frame to the hub. The answer arrives as a status frame.
//
// Returns ErrNotConnected if the handshake has not completed.
func (s *Session) Query(mode string, integration, action int) error {
	if err := s.send(FormatQuery(mode, integration, action)); err != nil {
		return err
	}
	s.queriesTx.Add(1)
	return nil
}

// send writes an encoded frame under the write lock.
func (s *Session) send(msg []byte) error {
	conn := s.getConn()
	if conn == nil || s.State() != StateReady {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		s.errorsTotal.Add(1)
		return fmt.Errorf("%w: set deadline: %w", ErrConnectionLost, err)
	}
	if _, err := conn.Write(msg); err != nil {
		s.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrConnectionLost, err)
	}

	s.lastActivity.Store(time.Now().Unix())
	return nil
}

// Close closes the connection. A closed session cannot be reopened.
// Safe to call multiple times.
func (s *Session) Close() error {
	prev := SessionState(s.state.Swap(int32(StateClosed)))

	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if prev != StateClosed {
		s.logInfo("session closed", "address", s.cfg.Address())
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// IsConnected returns true once the handshake has completed and the
// connection has not failed or been closed.
func (s *Session) IsConnected() bool {
	return s.State() == StateReady
}

// Stats returns current operational statistics.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		FramesRx:     s.framesRx.Load(),
		CommandsTx:   s.commandsTx.Load(),
		QueriesTx:    s.queriesTx.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		ErrorsTotal:  s.errorsTotal.Load(),
		LastActivity: time.Unix(s.lastActivity.Load(), 0),
		Connected:    s.IsConnected(),
	}
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Session) getConn() net.Conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// logInfo logs an info message if logger is set.
func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// isConnectionError reports whether err means the session is unusable and
// must be reopened, as opposed to a per-frame problem.
func isConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrNotConnected)
}
