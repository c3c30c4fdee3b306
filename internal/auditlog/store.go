package auditlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"proofgate/pkg/platform/sentinel"
)

// Store is an append-only sink for sealed audit entries. Stores never see
// plaintext; entries arrive already encrypted.
type Store interface {
	Append(ctx context.Context, entry EncryptedEntry) error
}

// InMemoryStore keeps sealed entries in a slice. Used in tests and as the
// development default when no audit file is configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []EncryptedEntry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry EncryptedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of all appended entries, in order.
func (s *InMemoryStore) Entries() []EncryptedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EncryptedEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// FileStore appends sealed entries as JSON lines to a durable file. Each
// line is one {nonce, ciphertext} record; the file is never rewritten, only
// appended to.
type FileStore struct {
	mu     sync.Mutex
	file   *os.File
	closed bool
}

// NewFileStore opens (or creates) the audit log file in append-only mode.
func NewFileStore(path string) (*FileStore, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileStore{file: file}, nil
}

func (s *FileStore) Append(_ context.Context, entry EncryptedEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("serialize sealed entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sentinel.ErrClosed
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	// Sync per entry: an audit record that only exists in the page cache is
	// not durably recorded.
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}

// Close closes the underlying file. Appends after Close fail with
// sentinel.ErrClosed.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// ReadAll loads every sealed entry from an audit log file. Used by the
// authorized decryption path, not by the serving process.
func ReadAll(path string) ([]EncryptedEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	var entries []EncryptedEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry EncryptedEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("parse audit record: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	return entries, nil
}
