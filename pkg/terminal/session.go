package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"rsh/pkg/escape"
	"rsh/pkg/logging"
	"rsh/pkg/multiplex"
)

const readBufferSize = 4096

// SessionConfig configures a Session.
type SessionConfig struct {
	// Stdin and Stdout default to the process streams.
	Stdin  io.Reader
	Stdout io.Writer
	// Pending is input already taken from Stdin, for example typed ahead
	// of a prompt answer. It is forwarded before anything else.
	Pending []byte
	// TTY puts Stdin into raw mode for the duration of the session. Stdin
	// must then be a terminal.
	TTY bool
	// Escape finds escape sequences in local input. Nil disables them.
	Escape    escape.Scanner
	Handle    *logging.Handle
	Logger    zerolog.Logger
	Lifecycle *Lifecycle
	// Suspend stops the process; it runs with the terminal restored.
	Suspend func() error
}

// Session bridges the local terminal and a remote exec transport.
//
// The terminal operates in raw mode when a TTY was negotiated so that
// interactive programs such as editors and shells see every keystroke.
// Raw mode is entered when the session starts and restored on every exit
// path, and around a suspend.
type Session struct {
	transport *Transport
	id        string

	stdin    io.Reader
	pending  []byte
	stdout   io.Writer
	tty      bool
	oldState *term.State

	splitter  *escape.Splitter
	handle    *logging.Handle
	log       zerolog.Logger
	lifecycle *Lifecycle
	suspend   func() error

	done chan struct{}
}

// NewSession creates a session over an established transport.
func NewSession(t *Transport, cfg SessionConfig) *Session {
	s := &Session{
		transport: t,
		id:        uuid.NewString(),
		stdin:     cfg.Stdin,
		pending:   cfg.Pending,
		stdout:    cfg.Stdout,
		tty:       cfg.TTY,
		handle:    cfg.Handle,
		lifecycle: cfg.Lifecycle,
		suspend:   cfg.Suspend,
		done:      make(chan struct{}),
	}
	if s.stdin == nil {
		s.stdin = os.Stdin
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	scanner := cfg.Escape
	if scanner == nil {
		scanner = escape.New(0, false)
	}
	s.splitter = escape.NewSplitter(scanner)
	if s.handle == nil {
		s.handle = logging.NewHandle(zerolog.Disabled)
	}
	if s.suspend == nil {
		s.suspend = suspendSelf
	}
	s.log = cfg.Logger.With().Str("session", s.id).Logger()
	return s
}

// ID is the correlation id used in this session's log lines.
func (s *Session) ID() string {
	return s.id
}

// Run streams until the remote side closes, the user terminates, local
// input ends, or the transport fails. A clean end returns nil; a session
// cut short by ctx or a signal returns an error.
func (s *Session) Run(ctx context.Context) error {
	if s.lifecycle != nil {
		if err := s.lifecycle.Transition(Connected); err != nil {
			return err
		}
		defer s.lifecycle.Transition(Closed)
	}

	defer s.transport.Close()
	if s.tty {
		if err := s.setRawMode(); err != nil {
			return fmt.Errorf("failed to set raw mode: %w", err)
		}
		defer s.restore()
	}
	defer close(s.done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case sig := <-sigCh:
			s.log.Debug().Str("signal", sig.String()).Msg("closing session")
			cancel(fmt.Errorf("received %s", sig))
		case <-ctx.Done():
		}
	}()

	input := make(chan multiplex.Result[Frame])
	go s.stdinToFrames(input)

	s.log.Debug().Bool("tty", s.tty).Msg("session started")
	return s.drive(ctx, multiplex.New[Frame](input, s.transport.Frames()))
}

// drive is the only writer to stdout and to the transport.
func (s *Session) drive(ctx context.Context, m *multiplex.Merge[Frame]) error {
	for {
		frame, src, err := m.Next(ctx)
		switch {
		case errors.Is(err, multiplex.ErrDone):
			if src == multiplex.Source1 {
				s.log.Debug().Msg("local input ended")
			} else {
				s.log.Debug().Msg("connection closed by remote")
			}
			return nil
		case errors.Is(err, context.Canceled):
			return fmt.Errorf("session interrupted: %w", context.Cause(ctx))
		case err != nil:
			return err
		}

		if src == multiplex.Source2 {
			if _, err := s.stdout.Write(frame.Data); err != nil {
				return fmt.Errorf("failed to write to stdout: %w", err)
			}
			continue
		}

		if frame.Control() {
			if s.handleEscape(frame.Event) {
				return nil
			}
			continue
		}
		if err := s.transport.Send(frame.Data); err != nil {
			return err
		}
	}
}

// stdinToFrames reads local input, splits it at escape sequences and feeds
// the driver. It stops after Terminate or at the end of input.
func (s *Session) stdinToFrames(out chan<- multiplex.Result[Frame]) {
	defer close(out)

	send := func(f Frame) bool {
		select {
		case out <- multiplex.Result[Frame]{Value: f}:
			return true
		case <-s.done:
			return false
		}
	}

	// forward reports whether reading should go on.
	forward := func(buf []byte, n int) bool {
		for _, seg := range s.splitter.Split(buf, n) {
			if len(seg.Data) > 0 && !send(Frame{Data: seg.Data}) {
				return false
			}
			if seg.Event.Control() {
				if !send(Frame{Event: seg.Event}) || seg.Event == escape.Terminate {
					return false
				}
			}
		}
		return true
	}

	if len(s.pending) > 0 && !forward(s.pending, len(s.pending)) {
		return
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.stdin.Read(buf)
		if n > 0 && !forward(buf, n) {
			return
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case out <- multiplex.Result[Frame]{Err: fmt.Errorf("stdin read error: %w", err)}:
				case <-s.done:
				}
			}
			return
		}
	}
}

// handleEscape runs a local escape command and reports whether the
// session should end.
func (s *Session) handleEscape(ev escape.Event) bool {
	c := s.splitter.Scanner().Char()
	switch ev {
	case escape.Help:
		s.print(EscapeHelp(c))
	case escape.IncreaseVerbosity:
		level, _ := s.handle.Increase()
		s.print(fmt.Sprintf("%cv [LogLevel %s]\n", c, logging.LevelName(level)))
	case escape.DecreaseVerbosity:
		level, _ := s.handle.Decrease()
		s.print(fmt.Sprintf("%cV [LogLevel %s]\n", c, logging.LevelName(level)))
	case escape.Suspend:
		s.doSuspend()
	case escape.Terminate:
		s.log.Debug().Msg("terminated by escape sequence")
		return true
	}
	return false
}

func (s *Session) print(msg string) {
	if s.handle.Raw() {
		msg = string(logging.ToCRLF([]byte(msg)))
	}
	_, _ = io.WriteString(s.stdout, msg)
}

func (s *Session) doSuspend() {
	wasRaw := s.oldState != nil
	if wasRaw {
		s.restore()
	}
	if err := s.suspend(); err != nil {
		s.log.Error().Err(err).Msg("failed to suspend")
	}
	if wasRaw {
		if err := s.setRawMode(); err != nil {
			s.log.Error().Err(err).Msg("failed to re-enter raw mode")
		}
	}
}

func (s *Session) stdinFd() (int, bool) {
	f, ok := s.stdin.(*os.File)
	if !ok {
		return -1, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// setRawMode sets the terminal to raw mode for character-by-character
// input and remembers the previous state.
func (s *Session) setRawMode() error {
	fd, ok := s.stdinFd()
	if !ok {
		return fmt.Errorf("stdin is not a terminal")
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	s.oldState = state
	s.handle.SetRaw(true)
	return nil
}

// restore restores the terminal to its original state. It is safe to call
// multiple times.
func (s *Session) restore() {
	if s.oldState == nil {
		return
	}
	fd, _ := s.stdinFd()
	_ = term.Restore(fd, s.oldState)
	s.oldState = nil
	s.handle.SetRaw(false)
}
