// Package artifact writes recognition results to files and reads them back.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/scan-ledger/internal/extraction"
	"github.com/zombor/scan-ledger/internal/scanning"
)

// Format is an output file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatTXT  Format = "txt"
	FormatXLSX Format = "xlsx"
)

// ParseFormat maps a user supplied value to a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatTXT, "text":
		return FormatTXT, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

const (
	timeLayout = "2006-01-02 15:04:05"
	fileStamp  = "20060102_150405"
)

// Artifact is everything written for one recognized unit.
type Artifact struct {
	Timestamp        time.Time
	OriginalFilename string
	Outcome          scanning.Outcome
	Extraction       extraction.Result
}

func (a Artifact) status() string {
	if a.Outcome.Succeeded {
		return "Success"
	}
	return "Failed"
}

// Writer writes artifacts into a caller chosen directory.
type Writer struct {
	saveWorkbook func(f *excelize.File, path string) error
}

// NewWriter creates a Writer.
func NewWriter() *Writer {
	return &Writer{
		saveWorkbook: func(f *excelize.File, path string) error {
			return f.SaveAs(path)
		},
	}
}

// Write stores a in dir using format and returns the file path. When the
// spreadsheet cannot be written the artifact is written as text instead.
func (w *Writer) Write(dir string, a Artifact, format Format) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	switch format {
	case FormatJSON:
		return w.writeFile(dir, a, FormatJSON, encodeJSON)
	case FormatTXT:
		return w.writeFile(dir, a, FormatTXT, encodeText)
	case FormatXLSX:
		path, err := w.writeXLSX(dir, a)
		if err == nil {
			return path, nil
		}
		slog.Warn("Spreadsheet output failed, writing text instead", "file", a.OriginalFilename, "error", err)
		return w.writeFile(dir, a, FormatTXT, encodeText)
	}
	return "", fmt.Errorf("unknown output format %q", format)
}

func (w *Writer) writeFile(dir string, a Artifact, format Format, encode func(Artifact) ([]byte, error)) (string, error) {
	data, err := encode(a)
	if err != nil {
		return "", fmt.Errorf("encoding %s artifact: %w", format, err)
	}

	f, path, err := createUnique(dir, a, format)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", path, err)
	}
	return path, nil
}

func (w *Writer) writeXLSX(dir string, a Artifact) (string, error) {
	wb, err := buildWorkbook(a)
	if err != nil {
		return "", err
	}
	defer wb.Close()

	// Reserve the name first so concurrent writers never share a path.
	f, path, err := createUnique(dir, a, FormatXLSX)
	if err != nil {
		return "", err
	}
	f.Close()

	if err := w.saveWorkbook(wb, path); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("saving workbook: %w", err)
	}
	return path, nil
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9\-_]+`)

// stem turns an original filename into a safe file name prefix.
func stem(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Trim(unsafeName.ReplaceAllString(base, "_"), "_")
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" || base == "." {
		base = "document"
	}
	return base
}

// createUnique opens a new file named <stem>_<timestamp>.<ext>, adding a
// counter when that name is taken.
func createUnique(dir string, a Artifact, format Format) (*os.File, string, error) {
	prefix := fmt.Sprintf("%s_%s", stem(a.OriginalFilename), a.Timestamp.Format(fileStamp))
	for i := 1; i < 1000; i++ {
		name := prefix
		if i > 1 {
			name = fmt.Sprintf("%s_%d", prefix, i)
		}
		path := filepath.Join(dir, name+"."+string(format))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("creating %s: %w", path, err)
		}
		return f, path, nil
	}
	return nil, "", fmt.Errorf("no free file name for %s in %s", prefix, dir)
}
