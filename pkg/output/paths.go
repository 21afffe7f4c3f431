package output

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	ErrEmptyPath    = errors.New("path is empty")
	ErrAbsolutePath = errors.New("path must be relative")
	ErrEscapesRoot  = errors.New("path escapes the output root")
)

// cleanBlobPath validates a rendered blob path and returns it in clean slash form
func cleanBlobPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", ErrEmptyPath
	}
	slashed := strings.ReplaceAll(p, "\\", "/")
	if path.IsAbs(slashed) || (len(slashed) >= 2 && slashed[1] == ':') {
		return "", fmt.Errorf("%q: %w", p, ErrAbsolutePath)
	}

	clean := path.Clean(slashed)
	if clean == "." || strings.HasSuffix(slashed, "/") {
		return "", fmt.Errorf("%q: %w", p, ErrEmptyPath)
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%q: %w", p, ErrEscapesRoot)
	}
	return clean, nil
}

// pathSet tracks which document or index claimed each output path
type pathSet map[string]string

// claim records owner for p. It returns the previous owner when p was already claimed.
func (s pathSet) claim(p, owner string) (string, bool) {
	if prev, ok := s[p]; ok {
		return prev, false
	}
	s[p] = owner
	return "", true
}
