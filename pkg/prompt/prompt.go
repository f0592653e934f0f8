// Package prompt implements the few interactive questions rsh asks: a
// line with a default, a password without echo, and a numbered menu.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// ErrNoChoices is returned by Choice when there is nothing to choose from.
var ErrNoChoices = errors.New("nothing to choose from")

// Prompter reads answers from in and writes questions to out.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

// New creates a prompter. When in is a terminal, passwords are read
// without echo.
func New(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.tty = true
	}
	return p
}

// Stdio prompts on the process terminal.
func Stdio() *Prompter {
	return New(os.Stdin, os.Stdout)
}

// Interactive reports whether answers come from a terminal.
func (p *Prompter) Interactive() bool {
	return p.tty
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Pending returns input read ahead of the last answer and forgets it.
func (p *Prompter) Pending() []byte {
	n := p.in.Buffered()
	if n == 0 {
		return nil
	}
	buf, _ := p.in.Peek(n)
	out := append([]byte(nil), buf...)
	_, _ = p.in.Discard(n)
	return out
}

// WithDefault asks for a line of input. An empty answer yields def.
func (p *Prompter) WithDefault(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s (%s): ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	answer, err := p.readLine()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// Password asks for a secret without echoing it.
func (p *Prompter) Password(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if !p.tty {
		return p.readLine()
	}
	secret, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

// Choice lists options numbered from 1 and returns the zero-based index of
// the one picked. Malformed or out-of-range answers ask again.
func (p *Prompter) Choice(label string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, ErrNoChoices
	}
	for i, o := range options {
		fmt.Fprintf(p.out, "%3d) %s\n", i+1, o)
	}
	for {
		fmt.Fprintf(p.out, "%s [1-%d]: ", label, len(options))
		answer, err := p.readLine()
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(answer))
		if err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		fmt.Fprintf(p.out, "Invalid choice %q\n", answer)
	}
}
