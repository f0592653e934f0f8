package terminal

import (
	"fmt"
	"strings"

	"rsh/pkg/platform"
)

// TTYMode is the -t/-T request.
type TTYMode int

const (
	TTYAuto TTYMode = iota
	TTYYes
	TTYForce
	TTYNo
)

var ttyModeNames = map[TTYMode]string{
	TTYAuto:  "auto",
	TTYYes:   "yes",
	TTYForce: "force",
	TTYNo:    "no",
}

func (m TTYMode) String() string {
	return ttyModeNames[m]
}

// ParseTTYMode accepts auto, yes, force and no.
func ParseTTYMode(s string) (TTYMode, error) {
	for mode, name := range ttyModeNames {
		if strings.EqualFold(s, name) {
			return mode, nil
		}
	}
	return TTYAuto, fmt.Errorf("invalid request tty %q (must be auto, yes, force or no)", s)
}

// ResolveTTY decides whether the remote command gets a TTY.
func ResolveTTY(mode TTYMode, hasCommand, stdoutIsTerminal bool) bool {
	switch mode {
	case TTYForce:
		return true
	case TTYNo:
		return false
	case TTYYes:
		return stdoutIsTerminal
	default:
		return !hasCommand && stdoutIsTerminal
	}
}

// ContainerPolicy chooses among several matching containers.
type ContainerPolicy int

const (
	ContainerAuto ContainerPolicy = iota
	ContainerFirst
	ContainerMenu
)

var containerPolicyNames = map[ContainerPolicy]string{
	ContainerAuto:  "auto",
	ContainerFirst: "first",
	ContainerMenu:  "menu",
}

func (p ContainerPolicy) String() string {
	return containerPolicyNames[p]
}

// ParseContainerPolicy accepts auto, first and menu.
func ParseContainerPolicy(s string) (ContainerPolicy, error) {
	for p, name := range containerPolicyNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return ContainerAuto, fmt.Errorf("invalid container policy %q (must be auto, first or menu)", s)
}

// Chooser presents a numbered menu.
type Chooser interface {
	Choice(label string, options []string) (int, error)
}

// Select applies policy to a non-empty candidate list. Auto picks the
// only candidate, shows the menu when interactive, and otherwise falls
// back to the first one.
func Select(policy ContainerPolicy, containers []platform.Container, interactive bool, chooser Chooser) (platform.Container, error) {
	if len(containers) == 0 {
		return platform.Container{}, &platform.NotFoundError{Kind: "container", Err: platform.ErrEmpty}
	}

	switch policy {
	case ContainerFirst:
		return containers[0], nil
	case ContainerAuto:
		if len(containers) == 1 || !interactive || chooser == nil {
			return containers[0], nil
		}
	case ContainerMenu:
		if chooser == nil {
			return platform.Container{}, fmt.Errorf("container menu needs an interactive terminal")
		}
	}

	names := make([]string, len(containers))
	for i, c := range containers {
		names[i] = c.DisplayName()
	}
	idx, err := chooser.Choice("Container", names)
	if err != nil {
		return platform.Container{}, fmt.Errorf("failed to get container choice: %w", err)
	}
	return containers[idx], nil
}
