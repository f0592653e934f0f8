package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
user: deploy
escape_char: "#"
send_env:
  - LANG
  - LC_*
hosts:
  prod:
    hostname: rancher.%h.example.com
    port: 8443
    environment: production
    request_tty: force
  Web:
    stack: shop
    service: web
    container: menu
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ExplicitFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)

	cfg, err := Load(path, nil)

	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "deploy", cfg.Defaults.User)
	assert.Equal(t, []string{"LANG", "LC_*"}, cfg.Defaults.SendEnv)
	require.Contains(t, cfg.Hosts, "prod")
	assert.Equal(t, 8443, cfg.Hosts["prod"].Port)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)

	assert.Error(t, err)
}

func TestLoad_DefaultSearchPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	writeConfig(t, filepath.Join(home, ".rsh"), "user: from-home\n")

	cfg, err := Load("", nil)

	require.NoError(t, err)
	assert.Equal(t, "from-home", cfg.Defaults.User)
}

func TestLoad_NoFileIsFine(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("", nil)

	require.NoError(t, err)
	assert.Empty(t, cfg.Defaults.User)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)
	t.Setenv("RSH_USER", "ops")
	t.Setenv("RSH_API_PATH", "/v3")

	cfg, err := Load(path, nil)

	require.NoError(t, err)
	assert.Equal(t, "ops", cfg.Defaults.User)
	assert.Equal(t, "/v3", cfg.Defaults.APIPath)
}

func TestForHost(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)
	cfg, err := Load(path, []string{"container=first"})
	require.NoError(t, err)

	prod := cfg.ForHost("prod")
	assert.Equal(t, "deploy", prod.User, "top-level settings apply to every host")
	assert.Equal(t, "production", prod.Environment)
	assert.Equal(t, "force", prod.RequestTTY)
	assert.Equal(t, "first", prod.Container, "-o wins over the file")

	web := cfg.ForHost("web")
	assert.Equal(t, "shop", web.Stack, "aliases match regardless of case")

	other := cfg.ForHost("elsewhere")
	assert.Empty(t, other.Environment)
	assert.Equal(t, "#", other.EscapeChar)
}

func TestParseOverrides(t *testing.T) {
	hc, err := ParseOverrides([]string{"port=8080", "send_env=LANG,TZ", "Request_TTY = no"})

	require.NoError(t, err)
	assert.Equal(t, 8080, hc.Port)
	assert.Equal(t, []string{"LANG", "TZ"}, hc.SendEnv)
	assert.Equal(t, "no", hc.RequestTTY)
}

func TestParseOverrides_Errors(t *testing.T) {
	tests := []struct {
		name  string
		pairs []string
		msg   string
	}{
		{"missing value", []string{"port"}, "Bad configuration option: port."},
		{"unknown key", []string{"ciphers=aes"}, "Bad configuration option: ciphers."},
		{"bad type", []string{"port=https"}, "Bad configuration option"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOverrides(tt.pairs)

			var inputErr *InputError
			require.ErrorAs(t, err, &inputErr)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
