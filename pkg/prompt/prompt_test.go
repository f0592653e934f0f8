package prompt

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDefault(t *testing.T) {
	tests := []struct {
		name  string
		input string
		def   string
		want  string
	}{
		{"empty uses default", "\n", "alice", "alice"},
		{"answer wins", "bob\n", "alice", "bob"},
		{"crlf trimmed", "bob\r\n", "", "bob"},
		{"no trailing newline", "carol", "alice", "carol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := New(strings.NewReader(tt.input), &out)

			got, err := p.WithDefault("User", tt.def)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWithDefault_ShowsDefault(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("\n"), &out)

	_, err := p.WithDefault("User", "alice")

	require.NoError(t, err)
	assert.Equal(t, "User (alice): ", out.String())
}

func TestWithDefault_EOF(t *testing.T) {
	p := New(strings.NewReader(""), io.Discard)

	_, err := p.WithDefault("User", "alice")

	assert.ErrorIs(t, err, io.EOF)
}

func TestPassword_NonTerminal(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("hunter2\n"), &out)

	got, err := p.Password("Password")

	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
	assert.False(t, p.Interactive())
}

func TestChoice(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("x\n0\n4\n2\n"), &out)

	idx, err := p.Choice("Container", []string{"web-1", "web-2", "web-3"})

	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Contains(t, out.String(), "  1) web-1\n")
	assert.Contains(t, out.String(), "  3) web-3\n")
	assert.Equal(t, 4, strings.Count(out.String(), "Container [1-3]: "))
}

func TestChoice_Empty(t *testing.T) {
	p := New(strings.NewReader("1\n"), io.Discard)

	_, err := p.Choice("Container", nil)

	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestChoice_EOF(t *testing.T) {
	p := New(strings.NewReader("nope\n"), io.Discard)

	_, err := p.Choice("Container", []string{"a"})

	assert.ErrorIs(t, err, io.EOF)
}

func TestPending_ReturnsTypeAhead(t *testing.T) {
	p := New(strings.NewReader("alice\nls -l\r"), io.Discard)

	user, err := p.WithDefault("User", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	assert.Equal(t, []byte("ls -l\r"), p.Pending())
	assert.Nil(t, p.Pending())
}
