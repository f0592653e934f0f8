//go:build unix

package terminal

import (
	"golang.org/x/sys/unix"
)

// suspendSelf stops the process as if ^Z had been typed at a cooked
// terminal. It returns once the process is continued.
func suspendSelf() error {
	return unix.Kill(unix.Getpid(), unix.SIGTSTP)
}
