package document

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Storage keeps the original uploads.
type Storage interface {
	// Save writes an upload under name and returns the path it was stored at
	Save(name string, data []byte) (string, error)

	// Get reads a stored upload by the path Save returned
	Get(path string) ([]byte, error)

	// Delete removes a stored upload
	Delete(path string) error
}

// LocalStorage stores uploads in a directory on the local filesystem.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the upload directory if needed.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Save writes data to basePath/name.
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid upload name %q", name)
	}
	p := filepath.Join(l.basePath, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", fmt.Errorf("writing upload: %w", err)
	}
	return p, nil
}

// Get reads a stored upload.
func (l *LocalStorage) Get(path string) ([]byte, error) {
	if err := l.contains(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	return data, nil
}

// Delete removes a stored upload.
func (l *LocalStorage) Delete(path string) error {
	if err := l.contains(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting upload: %w", err)
	}
	return nil
}

func (l *LocalStorage) contains(path string) error {
	rel, err := filepath.Rel(l.basePath, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("%s is outside the upload directory", path)
	}
	return nil
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^\p{L}\p{N}\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// maxFilenameBase limits the base name, in runes, of stored uploads.
const maxFilenameBase = 50

// sanitizeFilename strips characters that are awkward in file names and
// shortens the long names phones and scanners generate.
func sanitizeFilename(filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	if ext = unsafeFilenameChars.ReplaceAllString(strings.TrimPrefix(ext, "."), ""); ext != "" {
		ext = "." + ext
	}

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if runes := []rune(base); len(runes) > maxFilenameBase {
		base = strings.TrimSpace(string(runes[:maxFilenameBase]))
	}
	if base == "" {
		base = "document"
	}
	return base + ext
}
