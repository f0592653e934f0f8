package terminal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultRemoteCommand starts a login shell for user.
func DefaultRemoteCommand(user string) string {
	return "login -p -f " + user
}

// CommandSpec describes the remote command to run.
type CommandSpec struct {
	// Command is the user's command line, run by the remote shell.
	Command string
	TTY     bool
	// Cols and Rows are the local terminal size; zero means unknown.
	Cols, Rows int
	// Env is the local environment in os.Environ form.
	Env []string
	// SendEnv lists glob patterns of variable names to forward. TERM is
	// always forwarded.
	SendEnv []string
}

// BuildCommand returns the argv for the execute action:
// /bin/sh -c "<exports>; [stty ...; ]<command>". With a TTY the command is
// wrapped in script(1) when available so that it gets a controlling
// terminal.
func BuildCommand(spec CommandSpec) []string {
	var parts []string
	for _, kv := range forwardedEnv(spec.Env, spec.SendEnv) {
		parts = append(parts, kv[0]+"="+ShellQuote(kv[1]), "export "+kv[0])
	}

	if spec.TTY {
		if spec.Cols > 0 && spec.Rows > 0 {
			parts = append(parts, fmt.Sprintf("stty cols %d rows %d", spec.Cols, spec.Rows))
		}
		parts = append(parts, fmt.Sprintf(
			"([ -x /usr/bin/script ] && /usr/bin/script -q -c %s /dev/null || exec %s)",
			ShellQuote(spec.Command), spec.Command))
	} else {
		parts = append(parts, spec.Command)
	}

	return []string{"/bin/sh", "-c", strings.Join(parts, "; ")}
}

// forwardedEnv returns the name/value pairs whose names match a pattern,
// sorted by name.
func forwardedEnv(env, patterns []string) [][2]string {
	patterns = append([]string{"TERM"}, patterns...)

	var out [][2]string
	seen := make(map[string]bool)
	for _, kv := range env {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" || seen[name] || !validEnvName(name) {
			continue
		}
		if MatchEnv(patterns, name) {
			seen[name] = true
			out = append(out, [2]string{name, value})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// MatchEnv reports whether name matches any of the glob patterns.
// Malformed patterns never match.
func MatchEnv(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func validEnvName(name string) bool {
	for i, r := range name {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// ShellQuote single-quotes s for a POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
