package platform

import (
	"fmt"
	"net/url"
)

// Links maps relation names to absolute URLs.
type Links map[string]string

// Collection is one page of a list endpoint.
type Collection[T any] struct {
	Data       []T         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Next returns the URL of the following page, or "" on the last page.
func (c *Collection[T]) Next() string {
	if c.Pagination == nil || c.Pagination.Next == nil {
		return ""
	}
	return *c.Pagination.Next
}

type Pagination struct {
	Next *string `json:"next"`
}

// Index is the API root document.
type Index struct {
	Links Links `json:"links"`
}

// Project is what the UI calls an environment.
type Project struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Links Links  `json:"links"`
}

type Stack struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Links Links  `json:"links"`
}

type Service struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Links Links  `json:"links"`
}

// Container is a service instance. Actions holds the URLs of the
// operations the caller is currently allowed to perform.
type Container struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Actions Links  `json:"actions"`
	Links   Links  `json:"links"`
}

// HasAction reports whether the container exposes the named action.
func (c Container) HasAction(name string) bool {
	_, ok := c.Actions[name]
	return ok
}

// DisplayName is the name shown in menus and log headers.
func (c Container) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// TokenRequest exchanges user credentials for a session token.
type TokenRequest struct {
	Code         string `json:"code"`
	AuthProvider string `json:"authProvider"`
}

type Token struct {
	AccountID string `json:"accountId"`
	JWT       string `json:"jwt"`
}

type APIKeyRequest struct {
	AccountID   string `json:"accountId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// APIKey is a long-lived credential pair used for Basic auth.
type APIKey struct {
	PublicValue string `json:"publicValue"`
	SecretValue string `json:"secretValue"`
}

// ContainerExec is the body of the execute action.
type ContainerExec struct {
	AttachStdin  bool     `json:"attachStdin"`
	AttachStdout bool     `json:"attachStdout"`
	Command      []string `json:"command"`
	TTY          bool     `json:"tty"`
}

// NewContainerExec attaches both stdin and stdout.
func NewContainerExec(command []string, tty bool) ContainerExec {
	return ContainerExec{
		AttachStdin:  true,
		AttachStdout: true,
		Command:      command,
		TTY:          tty,
	}
}

// ContainerLogs is the body of the logs action.
type ContainerLogs struct {
	Follow bool `json:"follow"`
	Lines  int  `json:"lines"`
}

// HostAccess is the answer to execute and logs: a websocket endpoint and a
// one-time token.
type HostAccess struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// AuthedURL returns URL with the token appended as a query parameter.
func (h *HostAccess) AuthedURL() (string, error) {
	u, err := url.Parse(h.URL)
	if err != nil {
		return "", fmt.Errorf("invalid host access url: %w", err)
	}
	q := u.Query()
	q.Set("token", h.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
