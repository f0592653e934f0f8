// Package auth recovers from an unauthorized API response by logging in
// interactively, storing the resulting API key and retrying once.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rsh/pkg/platform"
)

// DefaultActivationDelay gives the server time to activate a new key.
const DefaultActivationDelay = 250 * time.Millisecond

// Prompter asks the user for credentials.
type Prompter interface {
	WithDefault(label, def string) (string, error)
	Password(label string) (string, error)
}

// KeyStore persists API keys.
type KeyStore interface {
	Save(hostPort string, key *platform.APIKey) error
}

// AuthError is fatal: either the login exchange failed or the request was
// still unauthorized after it.
type AuthError struct {
	Host string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Host, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Authenticator runs at most one interactive login per host.
type Authenticator struct {
	client   *platform.Client
	prompter Prompter
	store    KeyStore
	hostPort string

	provider    string
	defaultUser string
	delay       time.Duration
	log         zerolog.Logger
	onLogin     func()

	mu        sync.Mutex
	attempted bool
}

// Option configures an Authenticator.
type Option func(*Authenticator)

func WithAuthProvider(p string) Option {
	return func(a *Authenticator) { a.provider = p }
}

// WithDefaultUser sets the name offered at the user prompt.
func WithDefaultUser(u string) Option {
	return func(a *Authenticator) { a.defaultUser = u }
}

func WithActivationDelay(d time.Duration) Option {
	return func(a *Authenticator) { a.delay = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Authenticator) { a.log = l }
}

// WithLoginHook registers fn to run when an interactive login starts.
func WithLoginHook(fn func()) Option {
	return func(a *Authenticator) { a.onLogin = fn }
}

// New creates an Authenticator for the host the client talks to.
func New(client *platform.Client, prompter Prompter, store KeyStore, hostPort string, opts ...Option) *Authenticator {
	a := &Authenticator{
		client:      client,
		prompter:    prompter,
		store:       store,
		hostPort:    hostPort,
		provider:    platform.DefaultAuthProvider,
		defaultUser: CurrentUser(),
		delay:       DefaultActivationDelay,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CurrentUser returns the login name of the local user, or "".
func CurrentUser() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}

// Do runs fn. If fn reports platform.ErrUnauthorized and no login has been
// attempted for this host yet, Do logs in, waits for the key to activate
// and runs fn once more.
func Do[T any](ctx context.Context, a *Authenticator, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if !errors.Is(err, platform.ErrUnauthorized) {
		return v, err
	}

	var zero T
	if !a.begin() {
		return zero, &AuthError{Host: a.hostPort, Err: err}
	}

	a.log.Debug().Str("host", a.hostPort).Msg("received unauthorized, attempting authentication")
	if err := a.Login(ctx); err != nil {
		return zero, err
	}

	timer := time.NewTimer(a.delay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return zero, ctx.Err()
	}

	v, err = fn(ctx)
	if errors.Is(err, platform.ErrUnauthorized) {
		return zero, &AuthError{Host: a.hostPort, Err: err}
	}
	return v, err
}

func (a *Authenticator) begin() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.attempted {
		return false
	}
	a.attempted = true
	return true
}

// Login prompts for credentials, exchanges them for an API key, installs
// the key on the client and stores it.
func (a *Authenticator) Login(ctx context.Context) error {
	if a.onLogin != nil {
		a.onLogin()
	}

	name, err := a.prompter.WithDefault("Rancher User", a.defaultUser)
	if err != nil {
		return &AuthError{Host: a.hostPort, Err: fmt.Errorf("failed to read user: %w", err)}
	}
	password, err := a.prompter.Password("Rancher Password")
	if err != nil {
		return &AuthError{Host: a.hostPort, Err: fmt.Errorf("failed to read password: %w", err)}
	}

	key, err := a.client.Login(ctx, name, password, a.provider)
	if err != nil {
		return &AuthError{Host: a.hostPort, Err: err}
	}
	a.client.SetAPIKey(key)
	a.log.Debug().Str("key", key.PublicValue).Msg("created api key")

	if a.store != nil {
		if err := a.store.Save(a.hostPort, key); err != nil {
			// The key still works for this session.
			a.log.Warn().Err(err).Msg("failed to store api key")
		}
	}
	return nil
}
