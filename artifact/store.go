// Package artifact persists signed documents on disk and propagates read
// access to the signers that earned it.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidPayload rejects empty, oversized, or non-PDF payloads.
	ErrInvalidPayload = errors.New("artifact: invalid payload")
	// ErrOutsideRoot rejects locations escaping the managed storage root.
	ErrOutsideRoot = errors.New("artifact: location outside storage root")
	// ErrNotFound signals the location does not exist.
	ErrNotFound = errors.New("artifact: not found")
)

const defaultMaxSize = 25 << 20 // 25MB

var pdfMagic = []byte("%PDF-")

// Store writes signed artifacts under root, one directory per contract.
type Store struct {
	root    string
	maxSize int
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact: empty storage root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("artifact: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create root: %w", err)
	}
	return &Store{root: abs, maxSize: defaultMaxSize}, nil
}

// Save validates and writes the payload, returning a location handle
// relative to the storage root. The write is tmp+rename so a crash never
// leaves a half-written artifact at the final location.
func (s *Store) Save(data []byte, contractID, title string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("artifact: empty document: %w", ErrInvalidPayload)
	}
	if len(data) > s.maxSize {
		return "", fmt.Errorf("artifact: document exceeds %d bytes: %w", s.maxSize, ErrInvalidPayload)
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return "", fmt.Errorf("artifact: missing PDF signature: %w", ErrInvalidPayload)
	}
	if contractID == "" || strings.ContainsAny(contractID, `/\`) {
		return "", fmt.Errorf("artifact: bad contract id %q: %w", contractID, ErrInvalidPayload)
	}

	location := filepath.Join(contractID, slugify(title)+".pdf")
	full, err := s.resolve(location)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("artifact: create contract dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("artifact: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("artifact: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("artifact: close temp: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("artifact: rename: %w", err)
	}

	return filepath.ToSlash(location), nil
}

// Read returns the artifact bytes after confirming the location stays
// inside the managed root.
func (s *Store) Read(location string) ([]byte, error) {
	full, err := s.resolve(location)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("artifact: read: %w", err)
	}
	return data, nil
}

// resolve joins location onto the root and rejects traversal outside it.
func (s *Store) resolve(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("artifact: empty location: %w", ErrOutsideRoot)
	}
	full := filepath.Join(s.root, filepath.FromSlash(location))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact: %q: %w", location, ErrOutsideRoot)
	}
	return full, nil
}

func slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	if slug == "" {
		slug = "signed"
	}
	return slug
}
