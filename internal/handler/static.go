// Package handler implements the two request handlers spec.md names:
// the read-only static file handler and the write-capable Titan
// upload handler. Both take a canonicalized request path and never see
// the raw wire bytes.
package handler

import (
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/alanbato/nauyaca/internal/geministatus"
	"github.com/alanbato/nauyaca/internal/gemtext"
)

func init() {
	// The stdlib mime package's built-in table does not include gemtext,
	// and on minimal container images it may not have the OS mime.types
	// file loaded at all, so the extensions spec.md §6.4 requires are
	// registered explicitly rather than relying on system defaults.
	extras := map[string]string{
		".gmi":    "text/gemini; charset=utf-8",
		".gemini": "text/gemini; charset=utf-8",
		".txt":    "text/plain; charset=utf-8",
		".md":     "text/markdown; charset=utf-8",
		".png":    "image/png",
		".jpg":    "image/jpeg",
		".jpeg":   "image/jpeg",
		".gif":    "image/gif",
		".pdf":    "application/pdf",
	}
	for ext, typ := range extras {
		_ = mime.AddExtensionType(ext, typ)
	}
}

var (
	respNotFound       = &geministatus.Response{Status: geministatus.NotFound, Meta: "Not found"}
	respFileTooLarge   = &geministatus.Response{Status: geministatus.PermanentFailure, Meta: "File too large"}
	respDirListingOff  = &geministatus.Response{Status: geministatus.NotFound, Meta: "Not found"}
	respInternalFailed = &geministatus.Response{Status: geministatus.TemporaryFailure, Meta: "Unable to read directory"}
)

// StaticFileHandler implements spec.md §4.7's algorithm: index
// resolution, directory listing, MIME detection, and the size cap.
type StaticFileHandler struct {
	DocumentRoot           string
	DefaultIndices         []string
	EnableDirectoryListing bool
	MaxFileSize            int64
}

// Serve resolves requestPath (already canonicalized by geminiurl,
// always beginning with "/") against DocumentRoot and returns the
// response to send. It never returns an error: every failure mode maps
// to a Gemini status per spec.md §7, and non-2x responses never carry
// a body.
func (h *StaticFileHandler) Serve(requestPath string) *geministatus.Response {
	root, err := filepath.Abs(h.DocumentRoot)
	if err != nil {
		return respInternalFailed
	}
	joined := filepath.Join(root, filepath.FromSlash(requestPath))
	resolved, err := filepath.Abs(joined)
	if err != nil {
		return respNotFound
	}
	if !withinRoot(root, resolved) {
		// spec.md §4.7 step 1: the meta MUST NOT disclose the attempted
		// filesystem path, so this is indistinguishable from a plain miss.
		return respNotFound
	}
	real, ok := resolveWithinRoot(root, resolved)
	if !ok {
		// A symlink under root resolves outside it (step 4): same
		// non-disclosing response as any other miss.
		return respNotFound
	}
	resolved = real

	info, err := os.Stat(resolved)
	if err != nil {
		return respNotFound
	}

	if info.IsDir() {
		return h.serveDirectory(root, resolved)
	}
	if !info.Mode().IsRegular() {
		return respNotFound
	}
	return h.serveFile(resolved, info.Size())
}

func (h *StaticFileHandler) serveDirectory(root, dir string) *geministatus.Response {
	for _, index := range h.DefaultIndices {
		candidate := filepath.Join(dir, index)
		if !withinRoot(root, candidate) {
			continue
		}
		real, ok := resolveWithinRoot(root, candidate)
		if !ok {
			continue
		}
		info, err := os.Stat(real)
		if err == nil && info.Mode().IsRegular() {
			return h.serveFile(real, info.Size())
		}
	}

	if !h.EnableDirectoryListing {
		return respDirListingOff
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return respInternalFailed
	}
	visible := entries[:0]
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		visible = append(visible, e)
	}

	isRoot := dir == root
	title := filepath.Base(dir)
	if isRoot {
		title = "Directory listing"
	}
	body := gemtext.Listing(title, visible, isRoot)
	return &geministatus.Response{Status: geministatus.Success, Meta: "text/gemini; charset=utf-8", Body: body}
}

func (h *StaticFileHandler) serveFile(path string, size int64) *geministatus.Response {
	if h.MaxFileSize > 0 && size > h.MaxFileSize {
		return respFileTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return respNotFound
	}
	meta := mimeFor(path)
	return &geministatus.Response{Status: geministatus.Success, Meta: meta, Body: data}
}

func mimeFor(path string) string {
	typ := mime.TypeByExtension(filepath.Ext(path))
	if typ == "" {
		return "application/octet-stream"
	}
	return typ
}

// withinRoot reports whether resolved lies at or under root. Both
// arguments must already be absolute. This is a lexical prefix check
// only; callers that need to defend against a symlink inside root
// pointing outside it (spec.md §4.7 step 4) must additionally call
// resolveWithinRoot.
func withinRoot(root, resolved string) bool {
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..")
}
