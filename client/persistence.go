package client

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/medtracker/medtracker/errors"
)

// Persistence keeps the session credential across restarts of the caller.
type Persistence interface {
	// Load returns the stored credential, or "" when there is none.
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, credential string) error
	Clear(ctx context.Context) error
}

// MemoryPersistence keeps the credential for the life of the process.
type MemoryPersistence struct {
	mu         sync.Mutex
	credential string
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{}
}

func (m *MemoryPersistence) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credential, nil
}

func (m *MemoryPersistence) Save(_ context.Context, credential string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credential = credential
	return nil
}

func (m *MemoryPersistence) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credential = ""
	return nil
}

// FilePersistence stores the credential in a file readable only by the
// current user.
type FilePersistence struct {
	path string
}

func NewFilePersistence(path string) *FilePersistence {
	return &FilePersistence{path: path}
}

func (f *FilePersistence) Load(context.Context) (string, error) {
	b, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.WrapPrefix(err, "client: failed to read credential", 0)
	}
	return strings.TrimSpace(string(b)), nil
}

// Save replaces the file atomically.
func (f *FilePersistence) Save(_ context.Context, credential string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.WrapPrefix(err, "client: failed to create credential directory", 0)
	}
	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return errors.WrapPrefix(err, "client: failed to write credential", 0)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.WrapPrefix(err, "client: failed to write credential", 0)
	}
	if _, err := tmp.WriteString(credential); err != nil {
		tmp.Close()
		return errors.WrapPrefix(err, "client: failed to write credential", 0)
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapPrefix(err, "client: failed to write credential", 0)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errors.WrapPrefix(err, "client: failed to write credential", 0)
	}
	return nil
}

func (f *FilePersistence) Clear(context.Context) error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.WrapPrefix(err, "client: failed to remove credential", 0)
	}
	return nil
}
