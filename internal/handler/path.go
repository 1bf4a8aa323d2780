package handler

import (
	"os"
	"path/filepath"
)

// realpath resolves symlinks in path, tolerating a final component that
// does not exist yet (a Titan upload target has not been created when
// this runs). It walks up to the closest existing ancestor, resolves
// that, and rejoins the missing suffix lexically.
func realpath(path string) (string, error) {
	if _, err := os.Lstat(path); err == nil {
		return filepath.EvalSymlinks(path)
	} else if !os.IsNotExist(err) {
		return "", err
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path, nil
	}
	realParent, err := realpath(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(realParent, filepath.Base(path)), nil
}

// resolveWithinRoot re-checks resolved against root after resolving
// symlinks. withinRoot alone is a lexical prefix check, which a
// symlink that lives inside root but points outside it defeats; this
// closes that gap for both the static file handler and Titan uploads.
func resolveWithinRoot(root, resolved string) (real string, ok bool) {
	realRoot, err := realpath(root)
	if err != nil {
		return "", false
	}
	real, err = realpath(resolved)
	if err != nil {
		return "", false
	}
	return real, withinRoot(realRoot, real)
}
