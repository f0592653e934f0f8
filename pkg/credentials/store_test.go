package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rsh/pkg/platform"
)

func TestStore_LoadMissing(t *testing.T) {
	s := NewStore(t.TempDir())

	key, err := s.Load("rancher.example.com:8080")

	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	s := NewStore(dir)
	want := &platform.APIKey{PublicValue: "PUB", SecretValue: "SEC"}

	require.NoError(t, s.Save("rancher.example.com:8080", want))
	got, err := s.Load("rancher.example.com:8080")

	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(filepath.Join(dir, "rancher.example.com_8080.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStore_KeysArePerHostAndPort(t *testing.T) {
	s := NewStore(t.TempDir())

	require.NoError(t, s.Save("rancher:8080", &platform.APIKey{PublicValue: "A"}))
	require.NoError(t, s.Save("rancher:443", &platform.APIKey{PublicValue: "B"}))

	a, err := s.Load("rancher:8080")
	require.NoError(t, err)
	b, err := s.Load("rancher:443")
	require.NoError(t, err)
	assert.Equal(t, "A", a.PublicValue)
	assert.Equal(t, "B", b.PublicValue)
}

func TestStore_OverwriteKeepsOneFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	require.NoError(t, s.Save("h:1", &platform.APIKey{PublicValue: "old"}))
	require.NoError(t, s.Save("h:1", &platform.APIKey{PublicValue: "new"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	key, err := s.Load("h:1")
	require.NoError(t, err)
	assert.Equal(t, "new", key.PublicValue)
}

func TestStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.WriteFile(s.Path("h:1"), []byte("{not json"), 0o600))

	_, err := s.Load("h:1")

	assert.Error(t, err)
}
