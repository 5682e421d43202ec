package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps credentials in a JSON file, used by the CLI.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by path. The file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(ctx context.Context) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return Credential{}, err
	}
	return Credential{
		Token:           values[KeyToken],
		Tenant:          values[KeyTenant],
		SuperAdminToken: values[KeySuperAdminToken],
	}, nil
}

func (s *FileStore) Set(ctx context.Context, token, tenant string) error {
	return s.update(func(values map[string]string) {
		values[KeyToken] = token
		values[KeyTenant] = tenant
	})
}

func (s *FileStore) SetToken(ctx context.Context, token string) error {
	return s.update(func(values map[string]string) {
		values[KeyToken] = token
	})
}

func (s *FileStore) SetTenant(ctx context.Context, tenant string) error {
	return s.update(func(values map[string]string) {
		values[KeyTenant] = tenant
	})
}

func (s *FileStore) Clear(ctx context.Context) error {
	return s.update(func(values map[string]string) {
		delete(values, KeyToken)
		delete(values, KeyTenant)
	})
}

func (s *FileStore) ClearToken(ctx context.Context, expected string) (bool, error) {
	cleared := false
	err := s.update(func(values map[string]string) {
		if expected != "" && values[KeyToken] == expected {
			delete(values, KeyToken)
			cleared = true
		}
	})
	return cleared && err == nil, err
}

func (s *FileStore) SetSuperAdminToken(ctx context.Context, token string) error {
	return s.update(func(values map[string]string) {
		values[KeySuperAdminToken] = token
	})
}

func (s *FileStore) ClearSuperAdminToken(ctx context.Context) error {
	return s.update(func(values map[string]string) {
		delete(values, KeySuperAdminToken)
	})
}

func (s *FileStore) update(fn func(map[string]string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	fn(values)
	for k, v := range values {
		if v == "" {
			delete(values, k)
		}
	}
	return s.save(values)
}

func (s *FileStore) load() (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("credential: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("credential: decode %s: %w", s.path, err)
	}
	return values, nil
}

func (s *FileStore) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credential: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("credential: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credential: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("credential: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credential: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("credential: rename: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
