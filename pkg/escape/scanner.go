package escape

// Event classifies the segment of input that ends at the scanner cursor.
type Event int

const (
	// None means the scanner reached the end of the valid input without
	// finding a segment boundary.
	None Event = iota
	// Itself means the escape character was seen right after a newline. The
	// byte is withheld until the following byte decides what it means.
	Itself
	DecreaseVerbosity
	Help
	IncreaseVerbosity
	// Invalid means the byte after the escape character is not a known
	// command. Both bytes are forwarded, escape character first.
	Invalid
	// Literal forwards a single escape character.
	Literal
	Suspend
	Terminate
)

var eventNames = map[Event]string{
	None:              "none",
	Itself:            "itself",
	DecreaseVerbosity: "decrease-verbosity",
	Help:              "help",
	IncreaseVerbosity: "increase-verbosity",
	Invalid:           "invalid",
	Literal:           "literal",
	Suspend:           "suspend",
	Terminate:         "terminate",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "unknown"
}

// Control reports whether the event is handled locally and never reaches
// the remote side.
func (e Event) Control() bool {
	switch e {
	case DecreaseVerbosity, Help, IncreaseVerbosity, Suspend, Terminate:
		return true
	}
	return false
}

const (
	asciiEscape = 0x1b
	asciiSub    = 0x1a // Ctrl+Z
	newline     = '\r'
)

type state int

const (
	awaitingNewline state = iota
	awaitingEscape
	awaitingChar
)

type ansiState int

const (
	ansiAwaitingEscape ansiState = iota
	ansiAwaitingOpen
	ansiAwaitingChar
)

// Scanner finds session escape sequences in raw terminal input.
//
// The cursor persists across NextEscape calls on the same buffer and is
// rewound by Reset before every new read. The escape state itself carries
// over between reads, so an escape character at the end of one read pairs
// with the first byte of the next.
type Scanner interface {
	// NextEscape advances the cursor over buf[:n] until it can classify a
	// segment boundary, or returns None at the end of the valid input.
	NextEscape(buf []byte, n int) Event
	// Reset rewinds the cursor to the start of the buffer.
	Reset()
	// Pos is the cursor position after the last NextEscape call.
	Pos() int
	// Char is the configured escape character.
	Char() byte
}

// New returns a CharScanner for c, or a NullScanner when no escape
// character is configured.
func New(c byte, enabled bool) Scanner {
	if !enabled {
		return &NullScanner{}
	}
	return NewCharScanner(c)
}

// NullScanner never finds an escape sequence.
type NullScanner struct {
	pos int
}

func (s *NullScanner) NextEscape(_ []byte, n int) Event {
	s.pos = n
	return None
}

func (s *NullScanner) Reset()     { s.pos = 0 }
func (s *NullScanner) Pos() int   { return s.pos }
func (s *NullScanner) Char() byte { return 0 }

// CharScanner recognizes <newline><escape><command> sequences while
// skipping over ANSI control sequences (ESC [ params final).
type CharScanner struct {
	c     byte
	pos   int
	state state
	ansi  ansiState
}

// NewCharScanner creates a scanner for escape character c. The start of
// the session counts as the beginning of a line.
func NewCharScanner(c byte) *CharScanner {
	return &CharScanner{
		c:     c,
		state: awaitingEscape,
		ansi:  ansiAwaitingEscape,
	}
}

func (s *CharScanner) NextEscape(buf []byte, n int) Event {
	if n > len(buf) {
		n = len(buf)
	}
	for s.pos < n {
		b := buf[s.pos]

		if s.skipANSI(b) {
			// A control sequence still occupies the start of the line.
			if s.state == awaitingEscape {
				s.state = awaitingNewline
			}
			s.pos++
			continue
		}

		switch s.state {
		case awaitingNewline:
			if b == newline {
				s.state = awaitingEscape
			}
			s.pos++
		case awaitingEscape:
			s.pos++
			if b == s.c {
				s.state = awaitingChar
				return Itself
			}
			if b != newline {
				s.state = awaitingNewline
			}
		case awaitingChar:
			s.state = awaitingEscape
			s.pos++
			return s.command(b)
		}
	}
	return None
}

// skipANSI advances the ANSI sub-state and reports whether b belongs to a
// control sequence and must be treated as ordinary data.
func (s *CharScanner) skipANSI(b byte) bool {
	switch s.ansi {
	case ansiAwaitingEscape:
		if b == asciiEscape {
			s.ansi = ansiAwaitingOpen
			return true
		}
	case ansiAwaitingOpen:
		if b == '[' {
			s.ansi = ansiAwaitingChar
			return true
		}
		s.ansi = ansiAwaitingEscape
	case ansiAwaitingChar:
		if (b >= '0' && b <= '9') || b == ';' {
			return true
		}
		s.ansi = ansiAwaitingEscape
		if b >= '@' && b <= '~' {
			return true
		}
	}
	return false
}

func (s *CharScanner) command(b byte) Event {
	switch b {
	case 'V':
		return DecreaseVerbosity
	case '?':
		return Help
	case 'v':
		return IncreaseVerbosity
	case '.':
		return Terminate
	case asciiSub:
		return Suspend
	case '~', s.c:
		s.state = awaitingNewline
		return Literal
	}
	return Invalid
}

func (s *CharScanner) Reset()     { s.pos = 0 }
func (s *CharScanner) Pos() int   { return s.pos }
func (s *CharScanner) Char() byte { return s.c }
