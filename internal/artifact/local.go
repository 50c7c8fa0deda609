package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
)

// LocalStore keeps files below a directory. All access goes through os.Root
// so names can never escape it.
type LocalStore struct {
	mu   sync.RWMutex
	root *os.Root
}

// NewLocalStore opens path, creating it when missing.
func NewLocalStore(path string) (*LocalStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &LocalStore{root: root}, nil
}

// Path returns the directory of the store.
func (s *LocalStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.root == nil {
		return ""
	}
	return s.root.Name()
}

func (s *LocalStore) Exists(_ context.Context, folder, name string) (bool, error) {
	root, err := s.open(folder, name)
	if err != nil {
		return false, err
	}
	info, err := root.Stat(folder + "/" + name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (s *LocalStore) List(ctx context.Context, folder, pattern string) ([]FileInfo, error) {
	root, err := s.open(folder, "list")
	if err != nil {
		return nil, err
	}
	match, err := matcher(pattern)
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(root.FS(), folder)
	if errors.Is(err, fs.ErrNotExist) {
		return []FileInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", folder, err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !match.Match(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			slog.WarnContext(ctx, "skipping file", "folder", folder, "name", e.Name(), "error", err)
			continue
		}
		files = append(files, newFileInfo(e.Name(), info.Size(), info.ModTime()))
	}
	sortNewest(files)
	return files, nil
}

func (s *LocalStore) Read(_ context.Context, folder, name string) ([]byte, error) {
	root, err := s.open(folder, name)
	if err != nil {
		return nil, err
	}
	f, err := root.Open(folder + "/" + name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, folder, name)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *LocalStore) Write(ctx context.Context, folder, name string, data []byte) error {
	root, err := s.open(folder, name)
	if err != nil {
		return err
	}
	if err := root.Mkdir(folder, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("creating folder %s: %w", folder, err)
	}

	f, err := root.OpenFile(folder+"/"+name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s/%s: %w", folder, name, err)
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("saving %s/%s: %w", folder, name, err)
	}
	slog.DebugContext(ctx, "file saved", "folder", folder, "name", name, "size", len(data))
	return nil
}

func (s *LocalStore) Delete(_ context.Context, folder, name string) error {
	root, err := s.open(folder, name)
	if err != nil {
		return err
	}
	err = root.Remove(folder + "/" + name)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, folder, name)
	}
	return err
}

func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return errors.New("store already closed")
	}
	err := s.root.Close()
	s.root = nil
	return err
}

func (s *LocalStore) open(folder, name string) (*os.Root, error) {
	if err := CheckName(folder, name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.root == nil {
		return nil, errors.New("store closed")
	}
	return s.root, nil
}
