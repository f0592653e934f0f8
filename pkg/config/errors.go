package config

import "fmt"

// InputError reports a malformed command line or configuration value.
type InputError struct {
	Field string
	Msg   string
	Err   error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *InputError) Unwrap() error {
	return e.Err
}
