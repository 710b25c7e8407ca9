package document

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zombor/scan-ledger/internal/artifact"
	"github.com/zombor/scan-ledger/internal/record"
)

// ImportReport counts what ImportArtifacts did.
type ImportReport struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ImportArtifacts walks dir for text artifacts, extracts fields from the
// recognized text of each successful one and saves it as a record. Files that
// are not text artifacts, and failed recognitions, are skipped.
func (s *Service) ImportArtifacts(dir string) (*ImportReport, error) {
	report := &ImportReport{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".txt") {
			return nil
		}

		imported, err := s.importArtifact(p)
		if err != nil {
			return err
		}
		if imported {
			report.Imported++
		} else {
			report.Skipped++
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("importing artifacts from %s: %w", dir, err)
	}

	slog.Info("Imported artifacts", "dir", dir, "imported", report.Imported, "skipped", report.Skipped)
	return report, nil
}

func (s *Service) importArtifact(p string) (bool, error) {
	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer f.Close()

	parsed, err := artifact.ParseText(f)
	if errors.Is(err, artifact.ErrNotArtifact) {
		slog.Debug("Skipping file that is not an artifact", "path", p)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", p, err)
	}
	if !parsed.Outcome.Succeeded || strings.TrimSpace(parsed.Outcome.Text) == "" {
		slog.Debug("Skipping failed artifact", "path", p)
		return false, nil
	}

	ext := s.extractor.Extract(parsed.Outcome.Text)
	filename := parsed.OriginalFilename
	if filename == "" {
		filename = filepath.Base(p)
	}
	if _, err := s.store.Save(&record.Record{
		Filename:       filename,
		SourcePath:     p,
		ProcessingTime: parsed.Timestamp,
		Fields:         ext.Fields,
		RawText:        parsed.Outcome.Text,
		Backend:        string(parsed.Outcome.Backend),
	}); err != nil {
		return false, fmt.Errorf("saving record for %s: %w", p, err)
	}
	return true, nil
}
