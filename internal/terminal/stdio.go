package terminal

import (
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/tmckenzie51/sshkit/internal/errors"
)

// sizePollInterval is how often the stdio widget checks for a resized
// terminal. Polling keeps the widget portable; there is no SIGWINCH
// handling to go platform-specific over.
const sizePollInterval = 250 * time.Millisecond

// StdioWidget is a Widget over the process's own terminal: raw-mode
// stdin feeds the session, session output renders to stdout. Used by
// `sshkit shell`.
type StdioWidget struct {
	in  *os.File
	out *os.File

	mu        sync.Mutex
	oldState  *term.State
	dataFns   []func([]byte)
	resizeFns []func(cols, rows int)
	lastCols  int
	lastRows  int
	stop      chan struct{}
	closed    bool
}

// NewStdioWidget creates a widget over stdin/stdout.
func NewStdioWidget() *StdioWidget {
	return &StdioWidget{
		in:   os.Stdin,
		out:  os.Stdout,
		stop: make(chan struct{}),
	}
}

// Open puts the terminal into raw mode and starts the input and
// size-watch loops.
func (w *StdioWidget) Open() error {
	fd := int(w.in.Fd())
	if !term.IsTerminal(fd) {
		return errors.New(errors.ErrConfig,
			"Standard input is not a terminal",
			"Run this from an interactive terminal")
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't put the terminal into raw mode", "")
	}

	w.mu.Lock()
	w.oldState = state
	w.lastCols, w.lastRows = w.size()
	w.mu.Unlock()

	go w.readLoop()
	go w.watchSize()
	return nil
}

func (w *StdioWidget) Write(data []byte) (int, error) {
	return w.out.Write(data)
}

func (w *StdioWidget) OnData(fn func([]byte)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dataFns = append(w.dataFns, fn)
}

func (w *StdioWidget) OnResize(fn func(cols, rows int)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resizeFns = append(w.resizeFns, fn)
}

// Dimensions returns the terminal size, defaulting to 80x24 when the
// size can't be determined.
func (w *StdioWidget) Dimensions() (cols, rows int) {
	return w.size()
}

func (w *StdioWidget) size() (cols, rows int) {
	cols, rows, err := term.GetSize(int(w.out.Fd()))
	if err != nil || cols <= 0 || rows <= 0 {
		return 80, 24
	}
	return cols, rows
}

// Close restores the terminal state. Safe to call repeatedly.
func (w *StdioWidget) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stop)
	state := w.oldState
	w.oldState = nil
	w.mu.Unlock()

	if state != nil {
		return term.Restore(int(w.in.Fd()), state)
	}
	return nil
}

// readLoop pumps raw keystrokes to the data callbacks.
func (w *StdioWidget) readLoop() {
	buf := make([]byte, 1024)
	for {
		n, err := w.in.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			w.mu.Lock()
			closed := w.closed
			fns := slices.Clone(w.dataFns)
			w.mu.Unlock()
			if closed {
				return
			}
			for _, fn := range fns {
				fn(data)
			}
		}
		if err != nil {
			return
		}
	}
}

// watchSize polls the terminal size and fires resize callbacks on change.
func (w *StdioWidget) watchSize() {
	ticker := time.NewTicker(sizePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			cols, rows := w.size()
			w.mu.Lock()
			changed := cols != w.lastCols || rows != w.lastRows
			w.lastCols, w.lastRows = cols, rows
			fns := slices.Clone(w.resizeFns)
			w.mu.Unlock()
			if !changed {
				continue
			}
			for _, fn := range fns {
				fn(cols, rows)
			}
		}
	}
}
