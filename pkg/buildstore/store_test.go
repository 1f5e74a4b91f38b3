package buildstore

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siegeup/hostagent/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

// buildZip produces an in-memory zip archive with the given entries.
func buildZip(t *testing.T, files map[string]string) *bytes.Reader {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "builds"))
	require.NoError(t, err)
	return store
}

func TestIngestAndFindExecutable(t *testing.T) {
	store := newTestStore(t)

	archive := buildZip(t, map[string]string{
		"readme.txt":                           "notes",
		"nested/dir/SiegeUpLinuxServer.x86_64": "#!/bin/sh\necho server\n",
		"nested/dir/UnityPlayer.so":            "lib",
	})

	require.NoError(t, store.Ingest(archive, "v1"))

	exe, ok := store.FindExecutable("v1")
	require.True(t, ok, "executable should be discovered after ingest")
	assert.True(t, strings.HasSuffix(exe, "SiegeUpLinuxServer.x86_64"))

	info, err := os.Stat(exe)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0100, "executable bit should be set")

	// The spooled archive temp file must be gone.
	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "upload-"), "temp file %s left behind", e.Name())
	}
}

func TestIngestWithoutExecutable(t *testing.T) {
	store := newTestStore(t)

	archive := buildZip(t, map[string]string{"data/config.json": "{}"})
	require.NoError(t, store.Ingest(archive, "dataonly"))

	_, ok := store.FindExecutable("dataonly")
	assert.False(t, ok)
}

func TestIngestRejectsEscapingEntries(t *testing.T) {
	store := newTestStore(t)

	archive := buildZip(t, map[string]string{"../evil.txt": "nope"})
	err := store.Ingest(archive, "v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}

func TestFindExecutableSkipsCrashHandler(t *testing.T) {
	store := newTestStore(t)

	// The crash handler sorts before the server binary in the walk.
	archive := buildZip(t, map[string]string{
		"UnityCrashHandler64.exe": "crash",
		"server.x86_64":           "server",
	})
	require.NoError(t, store.Ingest(archive, "v2"))

	exe, ok := store.FindExecutable("v2")
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(exe, "server.x86_64"))
}

func TestFindExecutableMissingVersion(t *testing.T) {
	store := newTestStore(t)

	_, ok := store.FindExecutable("never-uploaded")
	assert.False(t, ok)
}

func TestFindExecutableWindowsBinary(t *testing.T) {
	store := newTestStore(t)

	archive := buildZip(t, map[string]string{"win/Server.exe": "mz"})
	require.NoError(t, store.Ingest(archive, "win"))

	exe, ok := store.FindExecutable("win")
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(exe, "Server.exe"))
}

func TestReingestSameVersion(t *testing.T) {
	store := newTestStore(t)

	first := buildZip(t, map[string]string{"server.x86_64": "one"})
	require.NoError(t, store.Ingest(first, "v1"))

	second := buildZip(t, map[string]string{"server.x86_64": "two"})
	require.NoError(t, store.Ingest(second, "v1"))

	exe, ok := store.FindExecutable("v1")
	require.True(t, ok)
	data, err := os.ReadFile(exe)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestList(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, os.MkdirAll(store.VersionDir("a"), 0755))
	require.NoError(t, os.MkdirAll(store.VersionDir("b"), 0755))
	// Stray files are not versions.
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "stray.zip"), []byte("x"), 0644))

	versions, err := store.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, versions)
}

func TestPurgeKeepsVersionsInUse(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, os.MkdirAll(store.VersionDir("v1"), 0755))
	require.NoError(t, os.MkdirAll(store.VersionDir("v2"), 0755))
	require.NoError(t, os.MkdirAll(store.VersionDir("v3"), 0755))

	removed, err := store.Purge(map[string]bool{"v1": true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v2", "v3"}, removed)

	_, err = os.Stat(store.VersionDir("v1"))
	assert.NoError(t, err, "in-use version must survive purge")
}

func TestPurgeEmptyStore(t *testing.T) {
	store := newTestStore(t)

	removed, err := store.Purge(map[string]bool{})
	require.NoError(t, err)
	assert.Empty(t, removed)
}
