// Package terminal binds an interactive shell channel to an external
// terminal-emulation widget. A session owns one channel and one widget;
// a single client may host many sessions side by side.
package terminal

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tmckenzie51/sshkit/internal/errors"
	"github.com/tmckenzie51/sshkit/internal/logger"
	"github.com/tmckenzie51/sshkit/pkg/sshutil"
)

// resizeDebounce coalesces bursts of container-size changes into one
// window-change signal.
const resizeDebounce = 100 * time.Millisecond

// Widget is the external terminal surface a session renders into. The
// session only shovels bytes; emulation and rendering are the widget's
// concern.
type Widget interface {
	// Open readies the surface for output.
	Open() error

	// Write renders remote output on the surface.
	Write(data []byte) (int, error)

	// OnData registers a callback for user input (keystrokes, paste).
	OnData(func(data []byte))

	// OnResize registers a callback for container-size changes.
	OnResize(func(cols, rows int))

	// Dimensions returns the current size in character cells.
	Dimensions() (cols, rows int)

	// Close releases the surface.
	Close() error
}

// Config configures the shell channel a session opens.
type Config struct {
	Term string // terminal type, defaults to the channel default
	Env  map[string]string
}

// Session is one widget-backed interactive session on a client.
type Session struct {
	id     string
	client *sshutil.Client
	log    logger.Logger

	mu      sync.Mutex
	widget  Widget
	channel *sshutil.ShellChannel

	pendingCols int
	pendingRows int
	resizeTimer *time.Timer

	terminateFns []func(error)
}

// Option configures a Session at construction.
type Option func(*Session)

// WithLogger sets the session's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Session) { s.log = l }
}

// NewSession creates a session bound to a client. The client must be
// ready by the time Connect is called.
func NewSession(client *sshutil.Client, opts ...Option) *Session {
	s := &Session{
		id:     uuid.NewString(),
		client: client,
		log:    logger.NewEnvLogger("[terminal]"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Attach binds a widget to the session and opens it. A session holds at
// most one widget; attaching twice fails.
func (s *Session) Attach(w Widget) error {
	s.mu.Lock()
	if s.widget != nil {
		s.mu.Unlock()
		return errors.New(errors.ErrConfig,
			"Terminal session already has a widget attached",
			"Detach the current widget before attaching another")
	}
	s.widget = w
	s.mu.Unlock()

	if err := w.Open(); err != nil {
		s.mu.Lock()
		s.widget = nil
		s.mu.Unlock()
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to open the terminal widget", "")
	}

	w.OnResize(func(cols, rows int) { s.scheduleResize(cols, rows) })

	cols, rows := w.Dimensions()
	s.log.Debug("session %s attached widget (%dx%d)", s.id, cols, rows)
	return nil
}

// Connect opens a shell channel sized to the widget and wires the two
// together: remote output renders on the widget, widget input feeds the
// channel, and unexpected termination surfaces as a status line.
func (s *Session) Connect(cfg Config) error {
	s.mu.Lock()
	w := s.widget
	if w == nil {
		s.mu.Unlock()
		return errors.New(errors.ErrConfig,
			"Terminal session has no widget attached",
			"Attach a widget before connecting")
	}
	if s.channel != nil {
		s.mu.Unlock()
		return errors.New(errors.ErrConfig,
			"Terminal session is already connected",
			"Disconnect before connecting again")
	}
	s.mu.Unlock()

	cols, rows := w.Dimensions()
	channel, err := s.client.CreateShell(sshutil.TermConfig{
		Term: cfg.Term,
		Rows: rows,
		Cols: cols,
		Env:  cfg.Env,
	})
	if err != nil {
		return err
	}

	channel.OnData(func(data []byte) {
		if _, werr := w.Write(data); werr != nil {
			s.log.Debug("session %s widget write failed: %v", s.id, werr)
		}
	})
	channel.OnClose(func(cerr error) { s.handleChannelClose(channel, cerr) })
	w.OnData(func(data []byte) {
		if _, werr := channel.Write(data); werr != nil {
			s.log.Debug("session %s channel write failed: %v", s.id, werr)
		}
	})

	s.mu.Lock()
	s.channel = channel
	s.mu.Unlock()

	s.log.Debug("session %s connected (%dx%d)", s.id, cols, rows)
	return nil
}

// Resize requests a window change, debounced so a burst of container
// resizes produces one signal with the final dimensions.
func (s *Session) Resize(cols, rows int) {
	s.scheduleResize(cols, rows)
}

func (s *Session) scheduleResize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pendingCols = cols
	s.pendingRows = rows
	if s.resizeTimer != nil {
		s.resizeTimer.Stop()
	}
	s.resizeTimer = time.AfterFunc(resizeDebounce, s.flushResize)
}

func (s *Session) flushResize() {
	s.mu.Lock()
	channel := s.channel
	cols, rows := s.pendingCols, s.pendingRows
	s.resizeTimer = nil
	s.mu.Unlock()

	if channel == nil {
		return
	}
	if err := channel.Resize(cols, rows); err != nil {
		s.log.Debug("session %s resize failed: %v", s.id, err)
	}
}

// OnTerminate registers a callback fired when the shell channel ends
// without a deliberate Disconnect: the remote shell exiting, or the
// transport dying. Deliberate Disconnect/Detach do not fire it.
func (s *Session) OnTerminate(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminateFns = append(s.terminateFns, fn)
}

// handleChannelClose surfaces unexpected termination on the widget and
// clears the channel so the session can be reconnected. A deliberate
// Disconnect detaches the channel first and is not reported.
func (s *Session) handleChannelClose(channel *sshutil.ShellChannel, err error) {
	s.mu.Lock()
	if s.channel != channel {
		s.mu.Unlock()
		return
	}
	w := s.widget
	s.channel = nil
	fns := slices.Clone(s.terminateFns)
	s.mu.Unlock()

	defer func() {
		for _, fn := range fns {
			fn(err)
		}
	}()

	if w == nil {
		return
	}
	status := "\r\n[session terminated]\r\n"
	if err != nil {
		status = fmt.Sprintf("\r\n[session terminated: %v]\r\n", err)
	}
	if _, werr := w.Write([]byte(status)); werr != nil {
		s.log.Debug("session %s status write failed: %v", s.id, werr)
	}
}

// Disconnect closes the shell channel, leaving the widget attached.
// Safe to call repeatedly.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	channel := s.channel
	s.channel = nil
	if s.resizeTimer != nil {
		s.resizeTimer.Stop()
		s.resizeTimer = nil
	}
	s.mu.Unlock()

	if channel == nil {
		return nil
	}
	return channel.Close()
}

// Detach disconnects and releases the widget. Safe to call repeatedly.
func (s *Session) Detach() error {
	_ = s.Disconnect()

	s.mu.Lock()
	w := s.widget
	s.widget = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Close()
}
