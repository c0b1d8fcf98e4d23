package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store is durable key-addressed artifact storage. Put returns a stable
// public reference; the presence of a reference on an episode record is the
// pipeline's resumability checkpoint.
type Store interface {
	Put(localPath, key string) (string, error)
	Exists(ref string) bool
	Fetch(ref, localPath string) error
	Remove(ref string) error
}

// FileStore keeps artifacts under a root directory and hands out references
// as URLs below <baseURL>/audio/, which the HTTP layer serves from the same
// directory.
type FileStore struct {
	root    string
	baseURL string
}

func NewFileStore(root, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root %s: %w", root, err)
	}
	return &FileStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *FileStore) Put(localPath, key string) (string, error) {
	dest := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	if err := copyFile(localPath, dest); err != nil {
		return "", fmt.Errorf("failed to store %s: %w", key, err)
	}
	return s.baseURL + "/audio/" + key, nil
}

func (s *FileStore) Exists(ref string) bool {
	path, err := s.localPath(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (s *FileStore) Fetch(ref, localPath string) error {
	path, err := s.localPath(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return copyFile(path, localPath)
}

func (s *FileStore) Remove(ref string) error {
	path, err := s.localPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) localPath(ref string) (string, error) {
	key, ok := strings.CutPrefix(ref, s.baseURL+"/audio/")
	if !ok {
		return "", fmt.Errorf("reference %q does not belong to this store", ref)
	}
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("reference %q escapes the artifact root", ref)
	}
	return path, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// SafeName makes a string usable as an artifact file name.
func SafeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "episode"
	}
	return b.String()
}
