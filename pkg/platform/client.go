package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const (
	// KeyName and KeyDescription label API keys created by the login flow.
	KeyName        = "rsh"
	KeyDescription = "Rancher SHell"

	// DefaultAuthProvider is the provider named in token requests.
	DefaultAuthProvider = "ldapconfig"

	userAgent = "rsh"
)

type noRetryKey struct{}

// Client talks to the platform REST API. Requests carry Basic auth from the
// installed API key, if any. GET requests are retried on transient
// failures; POST requests never are.
type Client struct {
	http    *resty.Client
	retry   *retryablehttp.Client
	baseURL string
	apiPath string
	log     zerolog.Logger

	mu     sync.RWMutex
	apiKey *APIKey
}

// Option configures a Client.
type Option func(*Client)

// WithAPIPath overrides DefaultAPIPath.
func WithAPIPath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.apiPath = p
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithAPIKey installs a previously stored key.
func WithAPIKey(k *APIKey) Option {
	return func(c *Client) { c.apiKey = k }
}

// WithRetry configures GET retries. A max of zero disables them.
func WithRetry(max int, minWait, maxWait time.Duration) Option {
	return func(c *Client) {
		c.retry.RetryMax = max
		c.retry.RetryWaitMin = minWait
		c.retry.RetryWaitMax = maxWait
	}
}

// NewClient creates a client for the server at baseURL
// (protocol://host:port).
func NewClient(baseURL string, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 250 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.CheckRetry = checkRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		retry:   retryClient,
		baseURL: baseURL,
		apiPath: DefaultAPIPath,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	retryClient.Logger = retryLogger{log: c.log}

	c.http = resty.NewWithClient(retryClient.StandardClient()).
		SetLogger(restyLogger{log: c.log}).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)
	return c
}

// checkRetry applies the default policy to requests that did not opt out.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if noRetry, _ := ctx.Value(noRetryKey{}).(bool); noRetry {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, err
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (c *Client) BaseURL() string { return c.baseURL }
func (c *Client) APIPath() string { return c.apiPath }

// SetAPIKey installs the key used for Basic auth on subsequent requests.
func (c *Client) SetAPIKey(k *APIKey) {
	c.mu.Lock()
	c.apiKey = k
	c.mu.Unlock()
}

func (c *Client) APIKey() *APIKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if k := c.APIKey(); k != nil {
		req.SetBasicAuth(k.PublicValue, k.SecretValue)
	}
	return req
}

// Get fetches url and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, url, operation string, out any) error {
	c.log.Trace().Str("url", url).Msg("GET")
	resp, err := c.request(ctx).Get(url)
	return c.decode(resp, err, operation, out)
}

// Post sends body as JSON to url and decodes the answer into out.
func (c *Client) Post(ctx context.Context, url, operation string, body, out any) error {
	c.log.Trace().Str("url", url).Msg("POST")
	ctx = context.WithValue(ctx, noRetryKey{}, true)
	resp, err := c.request(ctx).SetBody(body).Post(url)
	return c.decode(resp, err, operation, out)
}

func (c *Client) decode(resp *resty.Response, err error, operation string, out any) error {
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	c.log.Trace().Str("operation", operation).Int("status", resp.StatusCode()).Msg("response")

	if resp.StatusCode() == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if !resp.IsSuccess() {
		return NewHTTPError(resp.StatusCode(), resp.Status(), operation)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	return nil
}

// Login exchanges a username and password for a new API key. The key is
// returned, not installed.
func (c *Client) Login(ctx context.Context, user, password, provider string) (*APIKey, error) {
	if provider == "" {
		provider = DefaultAuthProvider
	}

	var token Token
	err := c.Post(ctx, BuildTokenURL(c.baseURL, c.apiPath), "create token", &TokenRequest{
		Code:         user + ":" + password,
		AuthProvider: provider,
	}, &token)
	if err != nil {
		return nil, err
	}
	c.logTokenClaims(token.JWT)

	c.log.Debug().Str("account", token.AccountID).Msg("creating api key")
	resp, err := c.http.R().
		SetContext(context.WithValue(ctx, noRetryKey{}, true)).
		SetCookie(&http.Cookie{Name: "token", Value: token.JWT}).
		SetBody(&APIKeyRequest{
			AccountID:   token.AccountID,
			Name:        KeyName,
			Description: KeyDescription,
		}).
		Post(BuildAPIKeyURL(c.baseURL, c.apiPath))

	var key APIKey
	if err := c.decode(resp, err, "create api key", &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// logTokenClaims logs the subject and expiry of the session token. The
// signature cannot be checked client side and is not needed for that.
func (c *Client) logTokenClaims(raw string) {
	if !c.log.Debug().Enabled() {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		c.log.Debug().Err(err).Msg("session token is not a JWT")
		return
	}
	ev := c.log.Debug()
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		ev = ev.Str("subject", sub)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		ev = ev.Time("expires", exp.Time)
	}
	ev.Msg("received session token")
}

// Exec runs the execute action of a container.
func (c *Client) Exec(ctx context.Context, container Container, req ContainerExec) (*HostAccess, error) {
	return c.action(ctx, container, "execute", req)
}

// Logs runs the logs action of a container.
func (c *Client) Logs(ctx context.Context, container Container, req ContainerLogs) (*HostAccess, error) {
	return c.action(ctx, container, "logs", req)
}

func (c *Client) action(ctx context.Context, container Container, name string, body any) (*HostAccess, error) {
	url, ok := container.Actions[name]
	if !ok {
		return nil, &StructuralError{Resource: "container " + container.DisplayName(), Link: name}
	}
	var access HostAccess
	if err := c.Post(ctx, url, name+" "+container.DisplayName(), body, &access); err != nil {
		return nil, err
	}
	return &access, nil
}
