package handler

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/alanbato/nauyaca/internal/geministatus"
	"github.com/alanbato/nauyaca/internal/geminiurl"
)

var (
	respAuthRequired    = &geministatus.Response{Status: geministatus.ClientCertificateRequired, Meta: "Authentication required"}
	respMimeDisallowed  = &geministatus.Response{Status: geministatus.BadRequest, Meta: "Disallowed MIME type"}
	respUploadTooLarge  = &geministatus.Response{Status: geministatus.PermanentFailure, Meta: "Too large"}
	respBadSize         = &geministatus.Response{Status: geministatus.BadRequest, Meta: "Invalid size"}
	respOutsideRoot     = &geministatus.Response{Status: geministatus.BadRequest, Meta: "Invalid path"}
	respDeletesDisabled = &geministatus.Response{Status: geministatus.PermanentFailure, Meta: "Deletes disabled"}
	respDeleted         = &geministatus.Response{Status: geministatus.Success, Meta: "Deleted"}
	respUploaded        = &geministatus.Response{Status: geministatus.Success, Meta: "Uploaded"}
	respTimeout         = &geministatus.Response{Status: geministatus.TemporaryFailure, Meta: "Timeout reading upload"}
	respWriteFailed     = &geministatus.Response{Status: geministatus.TemporaryFailure, Meta: "Upload failed"}
)

// TitanHandler implements spec.md §4.8's numbered upload algorithm.
type TitanHandler struct {
	UploadDir     string
	MaxUploadSize int64
	// AllowedMimeTypes, when non-nil, restricts which mime= values are
	// accepted. A nil map means any MIME type is allowed.
	AllowedMimeTypes map[string]struct{}
	// AuthTokens, when non-nil, restricts which token= values are
	// accepted. A nil map means no authentication is required.
	AuthTokens   map[string]struct{}
	EnableDelete bool
}

// Handle validates req against the configured policy and, if accepted,
// reads exactly req.TitanSize bytes from body and commits them to disk.
// It never returns an error: every failure maps to a Gemini response.
func (h *TitanHandler) Handle(ctx context.Context, req *geminiurl.ParsedURL, body io.Reader) *geministatus.Response {
	if h.AuthTokens != nil {
		if _, ok := h.AuthTokens[req.TitanToken]; !ok {
			return respAuthRequired
		}
	}
	if h.AllowedMimeTypes != nil {
		if _, ok := h.AllowedMimeTypes[req.TitanMime]; !ok {
			return respMimeDisallowed
		}
	}
	if req.TitanSize < 0 {
		return respBadSize
	}
	if h.MaxUploadSize > 0 && req.TitanSize > h.MaxUploadSize {
		return respUploadTooLarge
	}

	root, err := filepath.Abs(h.UploadDir)
	if err != nil {
		return respWriteFailed
	}
	target := filepath.Join(root, filepath.FromSlash(req.Path))
	resolved, err := filepath.Abs(target)
	if err != nil || !withinRoot(root, resolved) {
		return respOutsideRoot
	}
	real, ok := resolveWithinRoot(root, resolved)
	if !ok {
		// A symlink under root (an already-uploaded file, say) resolves
		// outside it: same rejection as any other escape attempt.
		return respOutsideRoot
	}
	resolved = real

	if req.TitanSize == 0 {
		return h.handleDelete(resolved)
	}
	return h.handleWrite(ctx, resolved, req.TitanSize, body)
}

func (h *TitanHandler) handleDelete(target string) *geministatus.Response {
	if !h.EnableDelete {
		return respDeletesDisabled
	}
	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return respDeleted
		}
		return respWriteFailed
	}
	if !info.Mode().IsRegular() {
		return respWriteFailed
	}
	if err := os.Remove(target); err != nil {
		return respWriteFailed
	}
	return respDeleted
}

func (h *TitanHandler) handleWrite(ctx context.Context, target string, size int64, body io.Reader) *geministatus.Response {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return respWriteFailed
	}

	tmp, err := os.CreateTemp(dir, ".titan-upload-*")
	if err != nil {
		return respWriteFailed
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		tmp.Close()
		if !success {
			os.Remove(tmpPath)
		}
	}()

	limited := io.LimitReader(body, size)
	n, err := io.Copy(tmp, limited)
	if err != nil {
		return respWriteFailed
	}
	if n != size {
		return respTimeout
	}
	// Any bytes beyond the declared size stay unread on body; the
	// connection is closed after this response either way, so there is
	// nothing further to discard.

	if err := ctx.Err(); err != nil {
		return respTimeout
	}

	if err := tmp.Sync(); err != nil {
		return respWriteFailed
	}
	if err := tmp.Close(); err != nil {
		return respWriteFailed
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return respWriteFailed
	}
	success = true
	return respUploaded
}
