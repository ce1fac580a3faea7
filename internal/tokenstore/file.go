package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const fileVersion = 1

var ErrUnsupportedVersion = errors.New("unsupported token file version")

// File keeps the tokens in a 0600 JSON file, replaced atomically on every write.
type File struct {
	path string
	mu   sync.Mutex
}

type persistedTokensFile struct {
	Version int    `json:"version"`
	Tokens  Tokens `json:"tokens"`
	SavedAt int64  `json:"savedAt"`
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Load(ctx context.Context) (Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Tokens{}, nil
		}
		return Tokens{}, err
	}
	if len(data) == 0 {
		return Tokens{}, nil
	}

	var file persistedTokensFile
	if err := json.Unmarshal(data, &file); err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if file.Version != fileVersion {
		return Tokens{}, ErrUnsupportedVersion
	}
	return file.Tokens, nil
}

func (f *File) Save(ctx context.Context, tokens Tokens) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	file := persistedTokensFile{Version: fileVersion, Tokens: tokens, SavedAt: time.Now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}

func (f *File) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *File) Close() error { return nil }
