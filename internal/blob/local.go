package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store сохраняет загруженные файлы (чеки об оплате) и отдаёт путь к ним
// по ссылке.
type Store interface {
	Save(r io.Reader, originalName string) (ref string, err error)
	Path(ref string) (string, error)
}

// LocalStore хранит файлы в каталоге на диске под случайными именами.
type LocalStore struct {
	dir string
}

// NewLocalStore создаёт каталог хранения, если его нет.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Save записывает файл, сохраняя исходное расширение.
func (s *LocalStore) Save(r io.Reader, originalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	ref := uuid.New().String() + ext

	f, err := os.Create(filepath.Join(s.dir, ref))
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write file: %w", err)
	}
	return ref, nil
}

// Path возвращает путь к сохранённому файлу. Ссылки с разделителями пути
// отклоняются.
func (s *LocalStore) Path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) {
		return "", fmt.Errorf("invalid blob ref %q", ref)
	}
	full := filepath.Join(s.dir, ref)
	if _, err := os.Stat(full); err != nil {
		return "", fmt.Errorf("blob %s: %w", ref, err)
	}
	return full, nil
}
