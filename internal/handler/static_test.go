package handler_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanbato/nauyaca/internal/geministatus"
	"github.com/alanbato/nauyaca/internal/handler"
)

func newTestRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "page.gmi"), []byte("# hi\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden"), []byte("secret"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes", "index.gmi"), []byte("# notes index\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "blank"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "blank", "a.txt"), []byte("a"), 0o644))
	return root
}

func TestStaticFileHandlerServesFile(t *testing.T) {
	root := newTestRoot(t)
	h := &handler.StaticFileHandler{DocumentRoot: root, DefaultIndices: []string{"index.gmi"}}

	resp := h.Serve("/page.gmi")
	require.Equal(t, geministatus.Success, resp.Status)
	assert.Equal(t, "text/gemini; charset=utf-8", resp.Meta)
	assert.Equal(t, "# hi\n", string(resp.Body))
}

func TestStaticFileHandlerResolvesIndex(t *testing.T) {
	root := newTestRoot(t)
	h := &handler.StaticFileHandler{DocumentRoot: root, DefaultIndices: []string{"index.gmi", "index.gemini"}}

	resp := h.Serve("/notes/")
	require.Equal(t, geministatus.Success, resp.Status)
	assert.Equal(t, "# notes index\n", string(resp.Body))
}

func TestStaticFileHandlerDirectoryListingWhenNoIndex(t *testing.T) {
	root := newTestRoot(t)
	h := &handler.StaticFileHandler{DocumentRoot: root, EnableDirectoryListing: true}

	resp := h.Serve("/blank/")
	require.Equal(t, geministatus.Success, resp.Status)
	assert.Contains(t, string(resp.Body), "=> ./a.txt a.txt")
	assert.Contains(t, string(resp.Body), "=> ../")
}

func TestStaticFileHandlerListingOmittedWhenDisabled(t *testing.T) {
	root := newTestRoot(t)
	h := &handler.StaticFileHandler{DocumentRoot: root, EnableDirectoryListing: false}

	resp := h.Serve("/blank/")
	assert.Equal(t, geministatus.NotFound, resp.Status)
	assert.Empty(t, resp.Body)
}

func TestStaticFileHandlerHidesDotfilesFromListing(t *testing.T) {
	root := newTestRoot(t)
	h := &handler.StaticFileHandler{DocumentRoot: root, EnableDirectoryListing: true}

	resp := h.Serve("/")
	assert.NotContains(t, string(resp.Body), ".hidden")
}

func TestStaticFileHandlerMissingFileIsNotFound(t *testing.T) {
	root := newTestRoot(t)
	h := &handler.StaticFileHandler{DocumentRoot: root}

	resp := h.Serve("/nope.gmi")
	assert.Equal(t, geministatus.NotFound, resp.Status)
	assert.Empty(t, resp.Body)
}

func TestStaticFileHandlerRejectsPathEscape(t *testing.T) {
	root := newTestRoot(t)
	h := &handler.StaticFileHandler{DocumentRoot: root}

	// geminiurl.Canonicalize would already have clamped this, but the
	// handler must independently refuse to disclose anything outside root.
	resp := h.Serve("/../../../etc/passwd")
	assert.Equal(t, geministatus.NotFound, resp.Status)
	assert.NotContains(t, resp.Meta, "etc")
}

func TestStaticFileHandlerRejectsSymlinkEscape(t *testing.T) {
	root := newTestRoot(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "passwd"), []byte("root:x:0:0"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "passwd"), filepath.Join(root, "escape.gmi")))
	h := &handler.StaticFileHandler{DocumentRoot: root}

	resp := h.Serve("/escape.gmi")
	assert.Equal(t, geministatus.NotFound, resp.Status)
	assert.Empty(t, resp.Body)
}

func TestStaticFileHandlerRejectsSymlinkEscapeAsIndex(t *testing.T) {
	root := newTestRoot(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.gmi"), []byte("secret"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "linked"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.gmi"), filepath.Join(root, "linked", "index.gmi")))
	h := &handler.StaticFileHandler{DocumentRoot: root, DefaultIndices: []string{"index.gmi"}}

	resp := h.Serve("/linked/")
	assert.Equal(t, geministatus.NotFound, resp.Status)
	assert.Empty(t, resp.Body)
}

func TestStaticFileHandlerEnforcesMaxFileSize(t *testing.T) {
	root := newTestRoot(t)
	h := &handler.StaticFileHandler{DocumentRoot: root, MaxFileSize: 1}

	resp := h.Serve("/page.gmi")
	assert.Equal(t, geministatus.PermanentFailure, resp.Status)
	assert.Empty(t, resp.Body)
}

func TestStaticFileHandlerSetsMimeByExtension(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "img.png"), []byte{0x89, 'P', 'N', 'G'}, 0o644))
	h := &handler.StaticFileHandler{DocumentRoot: root}

	resp := h.Serve("/img.png")
	require.Equal(t, geministatus.Success, resp.Status)
	assert.Equal(t, "image/png", resp.Meta)
}

func TestStaticFileHandlerUnknownExtensionDefaultsOctetStream(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"), []byte("x"), 0o644))
	h := &handler.StaticFileHandler{DocumentRoot: root}

	resp := h.Serve("/blob.bin")
	require.Equal(t, geministatus.Success, resp.Status)
	assert.Equal(t, "application/octet-stream", resp.Meta)
}
