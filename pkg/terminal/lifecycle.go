package terminal

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// State is a phase of a remote session.
type State int

const (
	Resolving State = iota
	Authenticating
	Executing
	Connected
	Closed
)

var stateNames = map[State]string{
	Resolving:      "resolving",
	Authenticating: "authenticating",
	Executing:      "executing",
	Connected:      "connected",
	Closed:         "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the allowed successor states. Authenticating may
// interrupt resolving or executing and returns to either.
var transitions = map[State][]State{
	Resolving:      {Authenticating, Executing, Closed},
	Authenticating: {Resolving, Executing, Closed},
	Executing:      {Authenticating, Connected, Closed},
	Connected:      {Closed},
}

// Lifecycle tracks the state of one session and logs every change.
type Lifecycle struct {
	mu    sync.Mutex
	state State
	log   zerolog.Logger
}

// NewLifecycle starts in Resolving.
func NewLifecycle(log zerolog.Logger) *Lifecycle {
	return &Lifecycle{state: Resolving, log: log}
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Transition moves to the given state. Moving to the current state is a
// no-op; any transition not in the table is rejected.
func (l *Lifecycle) Transition(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	from := l.state
	if from == to {
		return nil
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			l.state = to
			l.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("session state")
			return nil
		}
	}
	return fmt.Errorf("invalid session transition from %s to %s", from, to)
}

// Finish moves to Closed from any state, recording err as the reason the
// session ended. It is a no-op once Closed.
func (l *Lifecycle) Finish(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	from := l.state
	if from == Closed {
		return
	}
	l.state = Closed
	ev := l.log.Debug().Str("from", from.String()).Str("to", Closed.String())
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("session state")
}
