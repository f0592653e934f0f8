package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	DefaultProtocol     = "https"
	DefaultUser         = "root"
	DefaultEscapeChar   = "~"
	DefaultAPIPath      = "/v2-beta"
	DefaultAuthProvider = "ldapconfig"
	// NoEscape disables escape sequences.
	NoEscape = "none"
)

// Options is the fully resolved configuration for one host argument.
type Options struct {
	Protocol      string   `json:"protocol" yaml:"protocol"`
	User          string   `json:"user" yaml:"user"`
	Hostname      string   `json:"hostname" yaml:"hostname"`
	Port          int      `json:"port" yaml:"port"`
	Environment   string   `json:"environment,omitempty" yaml:"environment,omitempty"`
	Stack         string   `json:"stack" yaml:"stack"`
	Service       string   `json:"service" yaml:"service"`
	Container     string   `json:"container" yaml:"container"`
	EscapeChar    string   `json:"escape_char" yaml:"escape_char"`
	RequestTTY    string   `json:"request_tty" yaml:"request_tty"`
	RemoteCommand string   `json:"remote_command,omitempty" yaml:"remote_command,omitempty"`
	SendEnv       []string `json:"send_env,omitempty" yaml:"send_env,omitempty"`
	LogLevel      string   `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	APIPath       string   `json:"api_path" yaml:"api_path"`
	AuthProvider  string   `json:"auth_provider" yaml:"auth_provider"`
}

// Flags are the command line settings that take part in resolution. Zero
// values mean the flag was not given.
type Flags struct {
	User       string
	Port       string
	EscapeChar string
	RequestTTY string
	// Command is the remote command given after the host argument.
	Command []string
}

// Resolve combines a host argument, the command line and the
// configuration file into Options. The URL and the command line win over
// the file, except that hostname, environment, stack and service from a
// matching hosts section win over the URL so an alias can pin them.
func Resolve(spec string, flags Flags, cfg *Config) (*Options, error) {
	t, err := ParseTarget(spec)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &Config{}
	}
	hc := cfg.ForHost(t.Host)

	o := &Options{
		Protocol:     first(t.Protocol, hc.Protocol, DefaultProtocol),
		User:         first(t.User, flags.User, hc.User, DefaultUser),
		Environment:  first(hc.Environment, t.Environment),
		Container:    first(hc.Container, "auto"),
		RequestTTY:   first(flags.RequestTTY, hc.RequestTTY, "auto"),
		SendEnv:      hc.SendEnv,
		LogLevel:     hc.LogLevel,
		APIPath:      first(hc.APIPath, DefaultAPIPath),
		AuthProvider: first(hc.AuthProvider, DefaultAuthProvider),
	}
	if err := checkProtocol(o.Protocol); err != nil {
		return nil, err
	}

	o.Service = first(hc.Service, t.Service)
	if o.Service == "" {
		return nil, &InputError{Field: "service", Msg: "Missing service"}
	}
	o.Stack = first(hc.Stack, t.Stack, o.Service)

	tokens := map[byte]string{
		'h': t.Host,
		'e': o.Environment,
		'S': o.Stack,
		's': o.Service,
	}
	o.Hostname, err = Expand(first(hc.Hostname, t.Host), tokens)
	if err != nil {
		return nil, err
	}

	switch {
	case t.Port != 0:
		o.Port = t.Port
	case flags.Port != "":
		if o.Port, err = parsePort(flags.Port); err != nil {
			return nil, err
		}
	case hc.Port != 0:
		if o.Port, err = parsePort(strconv.Itoa(hc.Port)); err != nil {
			return nil, err
		}
	default:
		o.Port = DefaultPort(o.Protocol)
	}

	o.EscapeChar = first(flags.EscapeChar, hc.EscapeChar, DefaultEscapeChar)
	if _, _, err := ParseEscapeChar(o.EscapeChar); err != nil {
		return nil, err
	}

	if !oneOf(o.RequestTTY, "auto", "yes", "force", "no") {
		return nil, badOption("request_tty", o.RequestTTY)
	}
	if !oneOf(o.Container, "auto", "first", "menu") {
		return nil, badOption("container", o.Container)
	}

	if len(flags.Command) > 0 {
		o.RemoteCommand = JoinCommand(flags.Command)
	} else {
		o.RemoteCommand = hc.RemoteCommand
	}
	return o, nil
}

// ParseEscapeChar parses an escape character setting: a single ASCII
// character, or "none".
func ParseEscapeChar(s string) (c byte, enabled bool, err error) {
	if s == NoEscape {
		return 0, false, nil
	}
	if len(s) != 1 || s[0] > 0x7f {
		return 0, false, &InputError{Field: "escape_char", Msg: fmt.Sprintf("Bad escape character '%s'.", s)}
	}
	return s[0], true, nil
}

// Escape returns the escape character and whether escapes are enabled.
func (o *Options) Escape() (byte, bool) {
	c, enabled, _ := ParseEscapeChar(o.EscapeChar)
	return c, enabled
}

// HostPort is the host:port pair that keys stored credentials.
func (o *Options) HostPort() string {
	return net.JoinHostPort(o.Hostname, strconv.Itoa(o.Port))
}

// URL is the platform base URL. The port is omitted when it is the
// protocol default.
func (o *Options) URL() string {
	if o.Port == DefaultPort(o.Protocol) {
		return o.Protocol + "://" + o.Hostname
	}
	return o.Protocol + "://" + o.HostPort()
}

// Expand replaces %<c> with tokens[c]. %% is a literal percent sign.
func Expand(s string, tokens map[byte]string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i == len(s) {
			return "", &InputError{Field: "hostname", Msg: "Unterminated token in " + strconv.Quote(s)}
		}
		if s[i] == '%' {
			b.WriteByte('%')
			continue
		}
		v, ok := tokens[s[i]]
		if !ok {
			return "", &InputError{Field: "hostname", Msg: fmt.Sprintf("Unknown token %%%c.", s[i])}
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

// JoinCommand joins command line words into a remote command, quoting
// words that the remote shell would otherwise split or expand.
func JoinCommand(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = quoteArg(arg)
	}
	return strings.Join(quoted, " ")
}

func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_=/,.+:@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func badOption(key, value string) error {
	return &InputError{Field: key, Msg: fmt.Sprintf("Bad configuration option: \"%s\" for %s.", value, key)}
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}

// String renders the options one setting per line, as printed by -G.
func (o *Options) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "protocol %s\n", o.Protocol)
	fmt.Fprintf(&b, "user %s\n", o.User)
	fmt.Fprintf(&b, "hostname %s\n", o.Hostname)
	fmt.Fprintf(&b, "port %d\n", o.Port)
	fmt.Fprintf(&b, "environment %s\n", first(o.Environment, "none"))
	fmt.Fprintf(&b, "stack %s\n", o.Stack)
	fmt.Fprintf(&b, "service %s\n", o.Service)
	fmt.Fprintf(&b, "container %s\n", o.Container)
	fmt.Fprintf(&b, "escapechar %s\n", o.EscapeChar)
	fmt.Fprintf(&b, "remotecommand %s\n", first(o.RemoteCommand, "none"))
	fmt.Fprintf(&b, "requesttty %s\n", o.RequestTTY)
	if len(o.SendEnv) > 0 {
		fmt.Fprintf(&b, "sendenv %s\n", strings.Join(o.SendEnv, " "))
	}
	fmt.Fprintf(&b, "apipath %s\n", o.APIPath)
	fmt.Fprintf(&b, "authprovider %s\n", o.AuthProvider)
	return b.String()
}
