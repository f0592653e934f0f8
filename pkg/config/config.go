package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// HostConfig holds the settings that can appear at the top level of the
// configuration file, in a hosts section, or as a -o override.
type HostConfig struct {
	Hostname      string   `mapstructure:"hostname"`
	Port          int      `mapstructure:"port"`
	Protocol      string   `mapstructure:"protocol"`
	User          string   `mapstructure:"user"`
	Environment   string   `mapstructure:"environment"`
	Stack         string   `mapstructure:"stack"`
	Service       string   `mapstructure:"service"`
	Container     string   `mapstructure:"container"`
	EscapeChar    string   `mapstructure:"escape_char"`
	RequestTTY    string   `mapstructure:"request_tty"`
	RemoteCommand string   `mapstructure:"remote_command"`
	SendEnv       []string `mapstructure:"send_env"`
	LogLevel      string   `mapstructure:"log_level"`
	APIPath       string   `mapstructure:"api_path"`
	AuthProvider  string   `mapstructure:"auth_provider"`
}

// Keys lists every setting name accepted in a HostConfig.
var Keys = []string{
	"hostname", "port", "protocol", "user", "environment", "stack", "service",
	"container", "escape_char", "request_tty", "remote_command", "send_env",
	"log_level", "api_path", "auth_provider",
}

func knownKey(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

// merge returns h with every non-zero field of o applied on top.
func (h HostConfig) merge(o HostConfig) HostConfig {
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	set(&h.Hostname, o.Hostname)
	if o.Port != 0 {
		h.Port = o.Port
	}
	set(&h.Protocol, o.Protocol)
	set(&h.User, o.User)
	set(&h.Environment, o.Environment)
	set(&h.Stack, o.Stack)
	set(&h.Service, o.Service)
	set(&h.Container, o.Container)
	set(&h.EscapeChar, o.EscapeChar)
	set(&h.RequestTTY, o.RequestTTY)
	set(&h.RemoteCommand, o.RemoteCommand)
	if len(o.SendEnv) > 0 {
		h.SendEnv = o.SendEnv
	}
	set(&h.LogLevel, o.LogLevel)
	set(&h.APIPath, o.APIPath)
	set(&h.AuthProvider, o.AuthProvider)
	return h
}

// Config is the parsed configuration file. Top-level settings apply to
// every host; a hosts entry whose alias equals the host typed on the
// command line overrides them.
type Config struct {
	Defaults HostConfig
	Hosts    map[string]HostConfig
	// Overrides come from -o and win over the file.
	Overrides HostConfig
	// File is the configuration file that was read, if any.
	File string
}

type fileLayout struct {
	HostConfig `mapstructure:",squash"`
	Hosts      map[string]HostConfig `mapstructure:"hosts"`
}

// ForHost returns the effective settings for alias. Aliases are matched
// case-insensitively since viper folds keys to lower case.
func (c *Config) ForHost(alias string) HostConfig {
	hc := c.Defaults
	if section, ok := c.Hosts[strings.ToLower(alias)]; ok {
		hc = hc.merge(section)
	}
	return hc.merge(c.Overrides)
}

// UserDir is the per-user configuration directory, $HOME/.rsh.
func UserDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rsh"
	}
	return filepath.Join(home, ".rsh")
}

// Load reads path, or config.yaml from $HOME/.rsh and then /etc/rsh when
// path is empty. A missing default file is not an error; a missing
// explicit one is. Top-level settings can also be given as RSH_<KEY>
// environment variables, e.g. RSH_ESCAPE_CHAR.
func Load(path string, overrides []string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("$HOME/.rsh")
		v.AddConfigPath("/etc/rsh/")
	}

	v.SetEnvPrefix("RSH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees environment variables for keys viper knows about.
	for _, key := range Keys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var layout fileLayout
	if err := v.Unmarshal(&layout); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	o, err := ParseOverrides(overrides)
	if err != nil {
		return nil, err
	}
	return &Config{
		Defaults:  layout.HostConfig,
		Hosts:     layout.Hosts,
		Overrides: o,
		File:      v.ConfigFileUsed(),
	}, nil
}

// ParseOverrides turns a list of key=value pairs into settings. Keys are
// the configuration file names; send_env takes a comma separated list.
func ParseOverrides(pairs []string) (HostConfig, error) {
	var hc HostConfig
	if len(pairs) == 0 {
		return hc, nil
	}

	v := viper.New()
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok {
			return hc, &InputError{Field: key, Msg: fmt.Sprintf("Bad configuration option: %s.", pair)}
		}
		if !knownKey(key) {
			return hc, &InputError{Field: key, Msg: fmt.Sprintf("Bad configuration option: %s.", key)}
		}
		v.Set(key, strings.TrimSpace(value))
	}
	if err := v.Unmarshal(&hc); err != nil {
		return hc, &InputError{Field: "o", Msg: "Bad configuration option", Err: err}
	}
	return hc, nil
}
