package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Target is a parsed [protocol://][user@]host[:port][[/environment]/stack]/service
// argument. Empty fields were not given.
type Target struct {
	Protocol    string
	User        string
	Host        string
	Port        int
	Environment string
	Stack       string
	Service     string
}

// ParseTarget parses a host specification.
func ParseTarget(spec string) (Target, error) {
	var t Target
	raw := spec
	explicit := strings.Contains(spec, "://")
	if !explicit {
		raw = "https://" + spec
	}

	u, err := url.Parse(raw)
	if err != nil {
		return t, &InputError{Field: "host", Msg: "Error parsing host", Err: err}
	}
	if u.Opaque != "" || u.RawQuery != "" || u.Fragment != "" {
		return t, &InputError{Field: "host", Msg: fmt.Sprintf("Error parsing host %q", spec)}
	}

	if explicit {
		t.Protocol = u.Scheme
		if err := checkProtocol(t.Protocol); err != nil {
			return t, err
		}
	}
	if u.User != nil {
		t.User = u.User.Username()
	}
	t.Host = u.Hostname()
	if t.Host == "" {
		return t, &InputError{Field: "host", Msg: "Missing host name"}
	}
	if p := u.Port(); p != "" {
		port, err := parsePort(p)
		if err != nil {
			return t, err
		}
		t.Port = port
	}

	path := strings.TrimPrefix(u.Path, "/")
	if path == "" {
		return t, nil
	}
	segments := strings.Split(path, "/")
	switch len(segments) {
	case 1:
		t.Service = segments[0]
	case 2:
		t.Stack, t.Service = segments[0], segments[1]
	case 3:
		t.Environment, t.Stack, t.Service = segments[0], segments[1], segments[2]
	default:
		return t, &InputError{Field: "host", Msg: "Error parsing host, too many path segments"}
	}
	return t, nil
}

func checkProtocol(p string) error {
	switch p {
	case "http", "https":
		return nil
	}
	return &InputError{Field: "protocol", Msg: fmt.Sprintf("Unsupported protocol %q", p)}
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, &InputError{Field: "port", Msg: fmt.Sprintf("Bad port '%s'.", s)}
	}
	return port, nil
}

// DefaultPort is the well-known port of protocol.
func DefaultPort(protocol string) int {
	if protocol == "http" {
		return 80
	}
	return 443
}
