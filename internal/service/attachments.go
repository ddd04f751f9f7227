package service

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore кладёт декодированные вложения на диск под uuid-префиксом,
// чтобы имена от клиентов не пересекались.
type FileStore struct {
	dir     string
	baseURL string
}

func NewFileStore(dir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media dir: %w", err)
	}
	return &FileStore{dir: dir, baseURL: baseURL}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Save(data []byte, name string) (string, error) {
	fileName := uuid.New().String() + "_" + filepath.Base(name)
	path := filepath.Join(s.dir, fileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save attachment: %w", err)
	}
	return path, nil
}

func (s *FileStore) URL(path string) string {
	return s.baseURL + "/" + filepath.Base(path)
}
