package escape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scanAll drives the scanner over one read and returns every event with
// the cursor position it ended at.
func scanAll(s Scanner, input []byte) ([]Event, []int) {
	var events []Event
	var positions []int
	s.Reset()
	for s.Pos() < len(input) {
		ev := s.NextEscape(input, len(input))
		events = append(events, ev)
		positions = append(positions, s.Pos())
	}
	return events, positions
}

func TestCharScanner_NoEscapeByteIsSingleNone(t *testing.T) {
	inputs := []string{
		"hello world",
		"ls -la\r",
		"\r\r\rabc\r",
		"\x1b[1;31mred\x1b[0m",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			s := NewCharScanner('~')
			events, positions := scanAll(s, []byte(in))
			require.Len(t, events, 1)
			assert.Equal(t, None, events[0])
			assert.Equal(t, len(in), positions[0])
		})
	}
}

func TestCharScanner_Terminate(t *testing.T) {
	s := NewCharScanner('~')
	input := []byte("\r~.")

	events, positions := scanAll(s, input)

	assert.Equal(t, []Event{Itself, Terminate}, events)
	assert.Equal(t, []int{2, 3}, positions)
}

func TestCharScanner_BareDotIsNotTerminate(t *testing.T) {
	s := NewCharScanner('~')
	events, _ := scanAll(s, []byte("echo a.b\r.\r"))

	assert.NotContains(t, events, Terminate)
	assert.Equal(t, []Event{None}, events)
}

func TestCharScanner_EscapeNotAfterNewlineIsData(t *testing.T) {
	s := NewCharScanner('~')
	events, _ := scanAll(s, []byte("cd ~/src\r"))

	assert.Equal(t, []Event{None}, events)
}

func TestCharScanner_SessionStartCountsAsNewline(t *testing.T) {
	s := NewCharScanner('~')
	events, _ := scanAll(s, []byte("~?"))

	assert.Equal(t, []Event{Itself, Help}, events)
}

func TestCharScanner_CommandCharacters(t *testing.T) {
	tests := []struct {
		name string
		cmd  byte
		want Event
	}{
		{"decrease verbosity", 'V', DecreaseVerbosity},
		{"help", '?', Help},
		{"increase verbosity", 'v', IncreaseVerbosity},
		{"literal tilde", '~', Literal},
		{"suspend", 0x1a, Suspend},
		{"terminate", '.', Terminate},
		{"invalid", 'x', Invalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewCharScanner('~')
			events, _ := scanAll(s, []byte{'\r', '~', tt.cmd})
			assert.Equal(t, []Event{Itself, tt.want}, events)
		})
	}
}

func TestCharScanner_CustomEscapeTypedTwiceIsLiteral(t *testing.T) {
	s := NewCharScanner('%')
	events, _ := scanAll(s, []byte("%%"))

	assert.Equal(t, []Event{Itself, Literal}, events)
}

func TestCharScanner_ANSISequenceNeverEscapes(t *testing.T) {
	// '~' is a valid final byte, so cursor keys like ESC [ 3 ~ must not be
	// taken for an escape, even right after a newline.
	inputs := []string{
		"\r\x1b[3~",
		"\r\x1b[15;2~.",
		"\x1b[~\r",
		"\r\x1b[A~.",
		"\r\x1b~.",
		"ls\r\x1b[A~.",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			s := NewCharScanner('~')
			events, _ := scanAll(s, []byte(in))
			for _, ev := range events {
				assert.NotEqual(t, Itself, ev)
				assert.False(t, ev.Control(), "unexpected control event %s", ev)
			}
		})
	}
}

func TestCharScanner_EscapeSplitAcrossReads(t *testing.T) {
	s := NewCharScanner('~')

	first := []byte("ls\r~")
	s.Reset()
	assert.Equal(t, Itself, s.NextEscape(first, len(first)))
	assert.Equal(t, 4, s.Pos())

	second := []byte(".")
	s.Reset()
	assert.Equal(t, Terminate, s.NextEscape(second, len(second)))
	assert.Equal(t, 1, s.Pos())
}

func TestCharScanner_LiteralWaitsForNextNewline(t *testing.T) {
	s := NewCharScanner('~')
	events, _ := scanAll(s, []byte("~~~."))

	assert.Equal(t, []Event{Itself, Literal, None}, events)
}

func TestCharScanner_RespectsValidLength(t *testing.T) {
	s := NewCharScanner('~')
	buf := make([]byte, 16)
	copy(buf, "ab\r~.")

	s.Reset()
	assert.Equal(t, None, s.NextEscape(buf, 3))
	assert.Equal(t, 3, s.Pos())
}

func TestNullScanner(t *testing.T) {
	s := New(0, false)
	input := []byte("\r~.")

	events, positions := scanAll(s, input)

	assert.Equal(t, []Event{None}, events)
	assert.Equal(t, []int{3}, positions)
	assert.IsType(t, &NullScanner{}, s)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "terminate", Terminate.String())
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "unknown", Event(99).String())
}
