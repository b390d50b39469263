// Package credstore manages the on-disk credential material the transport
// needs to resume a session without re-pairing. One subdirectory per account,
// never shared, safe to delete wholesale.
package credstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var accountIDPattern = regexp.MustCompile(`^[0-9]+$`)

type Store struct {
	baseDir string
}

func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create credential directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Path returns the account's credential directory, creating it if needed.
// Account IDs are digits-only by the time they reach here; the check guards
// against path traversal if that ever regresses.
func (s *Store) Path(accountID string) (string, error) {
	if !accountIDPattern.MatchString(accountID) {
		return "", fmt.Errorf("invalid account id %q", accountID)
	}
	dir := filepath.Join(s.baseDir, accountID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}
	return dir, nil
}

// Exists reports whether credential material is present for the account.
// An empty directory does not count: the transport writes at least one file
// once a pairing handshake succeeds.
func (s *Store) Exists(accountID string) bool {
	if !accountIDPattern.MatchString(accountID) {
		return false
	}
	entries, err := os.ReadDir(filepath.Join(s.baseDir, accountID))
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// Remove deletes the account's credential material wholesale.
func (s *Store) Remove(accountID string) error {
	if !accountIDPattern.MatchString(accountID) {
		return fmt.Errorf("invalid account id %q", accountID)
	}
	return os.RemoveAll(filepath.Join(s.baseDir, accountID))
}
