package cabinet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists the session to a JSON file so that a CLI survives
// restarts. Every write replaces the file atomically.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	session Session
}

// NewFileStore loads path if it exists. A missing file starts an empty session.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Path returns the backing file location.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) AccessToken(context.Context) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.session.AccessToken, nil
}

func (f *FileStore) SetAccessToken(_ context.Context, token string) error {
	return f.update(func(s *Session) { s.AccessToken = token })
}

func (f *FileStore) RefreshToken(context.Context) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.session.RefreshToken, nil
}

func (f *FileStore) SetRefreshToken(_ context.Context, token string) error {
	return f.update(func(s *Session) { s.RefreshToken = token })
}

func (f *FileStore) IdentityData(context.Context) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.session.IdentityData, nil
}

func (f *FileStore) SetIdentityData(_ context.Context, data string) error {
	return f.update(func(s *Session) { s.IdentityData = data })
}

func (f *FileStore) ClearTokens(context.Context) error {
	return f.update(func(s *Session) {
		s.AccessToken = ""
		s.RefreshToken = ""
	})
}

func (f *FileStore) update(mutate func(*Session)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.session
	mutate(&next)
	if err := f.save(next); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	f.session = next
	return nil
}

func (f *FileStore) save(s Session) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err = tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileStore) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err = json.Unmarshal(data, &f.session); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrStoreUnavailable, f.path, err)
	}
	return nil
}
