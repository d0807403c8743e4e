package staging

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alorg/internal/assets"
)

// buildProject lays out a small project tree and returns its root.
func buildProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"package.json":                   `{"name":"app"}`,
		"src/index.js":                   "console.log('hi')",
		".git/HEAD":                      "ref: refs/heads/main",
		"node_modules/dep/index.js":      "module.exports = 1",
		"src/node_modules/x/index.js":    "nested cache",
		"internals/docker/Dockerfile-js": "FROM custom",
	}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return root
}

func testOverlay() fstest.MapFS {
	return fstest.MapFS{
		"internals/docker/Dockerfile-js":    {Data: []byte("FROM embedded-js")},
		"internals/docker/Dockerfile-nginx": {Data: []byte("FROM embedded-nginx")},
		"internals/docker/image-upgrade.sh": {Data: []byte("#!/bin/sh\n")},
	}
}

func readString(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestCreate_MirrorsProjectWithoutIgnored(t *testing.T) {
	src := buildProject(t)

	ws, err := Create(context.Background(), src, "abc", Options{
		Ignore:  []string{".git", "node_modules"},
		TempDir: t.TempDir(),
	})
	require.NoError(t, err)
	defer ws.Cleanup()

	assert.Equal(t, `{"name":"app"}`, readString(t, filepath.Join(ws.Dir, "package.json")))
	assert.Equal(t, "console.log('hi')", readString(t, filepath.Join(ws.Dir, "src", "index.js")))
	assert.NoDirExists(t, filepath.Join(ws.Dir, ".git"))
	assert.NoDirExists(t, filepath.Join(ws.Dir, "node_modules"))
	assert.NoDirExists(t, filepath.Join(ws.Dir, "src", "node_modules"))
	assert.Contains(t, filepath.Base(ws.Dir), "alorg-stage-abc-")
}

func TestCreate_OverlayKeepsProjectFiles(t *testing.T) {
	src := buildProject(t)

	ws, err := Create(context.Background(), src, "", Options{
		TempDir: t.TempDir(),
		Overlay: testOverlay(),
	})
	require.NoError(t, err)
	defer ws.Cleanup()

	assert.Equal(t, "FROM custom", readString(t, filepath.Join(ws.Dir, "internals", "docker", "Dockerfile-js")))
	assert.Equal(t, "FROM embedded-nginx", readString(t, filepath.Join(ws.Dir, "internals", "docker", "Dockerfile-nginx")))

	info, err := os.Stat(filepath.Join(ws.Dir, "internals", "docker", "image-upgrade.sh"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0755), info.Mode().Perm())
}

func TestCreate_OverlayModesMatchBootstrap(t *testing.T) {
	ws, err := Create(context.Background(), t.TempDir(), "", Options{
		TempDir: t.TempDir(),
		Overlay: assets.FS(),
	})
	require.NoError(t, err)
	defer ws.Cleanup()

	files, err := assets.Files()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, p := range files {
		info, err := os.Stat(filepath.Join(ws.Dir, filepath.FromSlash(p)))
		require.NoError(t, err, p)
		assert.Equal(t, assets.Mode(p), info.Mode().Perm(), p)
	}
}

func TestCreate_FilesOverwrite(t *testing.T) {
	src := buildProject(t)
	descriptor := filepath.Join(t.TempDir(), "alorg-staging.json")
	require.NoError(t, os.WriteFile(descriptor, []byte(`{"name":"app"}`), 0644))

	ws, err := Create(context.Background(), src, "", Options{
		TempDir: t.TempDir(),
		Files:   map[string]string{"alorg.json": descriptor},
	})
	require.NoError(t, err)
	defer ws.Cleanup()

	assert.Equal(t, `{"name":"app"}`, readString(t, filepath.Join(ws.Dir, "alorg.json")))
}

func TestCreate_SymlinksPreserved(t *testing.T) {
	src := buildProject(t)
	require.NoError(t, os.Symlink("src/index.js", filepath.Join(src, "entry.js")))

	ws, err := Create(context.Background(), src, "", Options{TempDir: t.TempDir()})
	require.NoError(t, err)
	defer ws.Cleanup()

	link, err := os.Readlink(filepath.Join(ws.Dir, "entry.js"))
	require.NoError(t, err)
	assert.Equal(t, "src/index.js", link)
}

func TestCreate_TempDirInsideSource(t *testing.T) {
	src := buildProject(t)

	ws, err := Create(context.Background(), src, "", Options{TempDir: src})
	require.NoError(t, err)
	defer ws.Cleanup()

	assert.NoDirExists(t, filepath.Join(ws.Dir, filepath.Base(ws.Dir)))
}

func TestCreate_FailureCleansUp(t *testing.T) {
	src := buildProject(t)
	parent := t.TempDir()

	_, err := Create(context.Background(), src, "", Options{
		TempDir: parent,
		Files:   map[string]string{"alorg.json": filepath.Join(parent, "missing.json")},
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMirror))

	entries, readErr := os.ReadDir(parent)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "partial workspace must be removed")
}

func TestCreate_SourceMissing(t *testing.T) {
	_, err := Create(context.Background(), filepath.Join(t.TempDir(), "nope"), "", Options{})

	assert.True(t, errors.Is(err, ErrMirror))
}

func TestCreate_CancelledContext(t *testing.T) {
	src := buildProject(t)
	parent := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Create(ctx, src, "", Options{TempDir: parent})

	require.Error(t, err)
	entries, _ := os.ReadDir(parent)
	assert.Empty(t, entries)
}

func TestWorkspace_Cleanup(t *testing.T) {
	src := buildProject(t)
	ws, err := NewStager(Options{TempDir: t.TempDir()}).Stage(context.Background(), src, "run")
	require.NoError(t, err)

	require.NoError(t, ws.Cleanup())
	assert.NoDirExists(t, ws.Dir)
	assert.NoError(t, ws.Cleanup(), "second cleanup is a no-op")

	var nilWS *Workspace
	assert.NoError(t, nilWS.Cleanup())
}
