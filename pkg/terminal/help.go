package terminal

import (
	"strings"
)

// EscapeHelp lists the escape sequences for escape character c.
func EscapeHelp(c byte) string {
	e := string(c)
	lines := []string{
		e + "?",
		"Supported escape sequences:",
		e + ".   - terminate connection",
		e + "V/v - decrease/increase verbosity (LogLevel)",
		e + "^Z  - suspend rsh",
		e + "?   - this message",
		e + e + "   - send the escape character by typing it twice",
		"(Note that escapes are only recognized immediately after newline.)",
	}
	return strings.Join(lines, "\n") + "\n"
}
