package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrArchiveUnreadable is returned when an upload is not a readable ZIP archive.
	ErrArchiveUnreadable = errors.New("archive is unreadable")
	// ErrArchiveEmpty is returned when an archive holds no image members.
	ErrArchiveEmpty = errors.New("archive contains no images")
	// ErrNoRasterizer is returned for PDFs when no rasterizer is configured.
	ErrNoRasterizer = errors.New("no PDF rasterizer available")
	// ErrNoPages is returned when rasterizing a PDF produced no pages.
	ErrNoPages = errors.New("PDF produced no pages")
	// ErrNoUnits is returned when a batch has nothing to process.
	ErrNoUnits = errors.New("batch has no units")
)

// Workspace is a private scratch directory for one batch.
type Workspace struct {
	Dir   string
	token string
}

// NewWorkspace creates a directory under root named after a token that is
// unique to this batch.
func NewWorkspace(root string, now time.Time) (*Workspace, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	token := fmt.Sprintf("%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
	dir := filepath.Join(root, "batch_"+token)
	if err := os.Mkdir(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	return &Workspace{Dir: dir, token: token}, nil
}

// Token identifies the batch.
func (w *Workspace) Token() string {
	return w.token
}

// Close removes the workspace and everything in it.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.Dir)
}
