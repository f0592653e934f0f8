//go:build !unix

package terminal

import (
	"errors"
)

func suspendSelf() error {
	return errors.New("suspend is not supported on this platform")
}
