// Package document accepts uploads, routes them through recognition and
// extraction, and serves the stored records over HTTP.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/scan-ledger/internal/artifact"
	"github.com/zombor/scan-ledger/internal/batch"
	"github.com/zombor/scan-ledger/internal/record"
	"github.com/zombor/scan-ledger/internal/scanning"
)

var (
	// ErrEmptyUpload is returned for uploads without content.
	ErrEmptyUpload = errors.New("upload is empty")
	// ErrUnsupportedType is returned for uploads that are not an image, PDF or ZIP archive.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Kind is how an upload is processed.
type Kind string

const (
	KindImage   Kind = "image"
	KindPDF     Kind = "pdf"
	KindArchive Kind = "archive"
)

// Processor runs units through recognition, extraction, artifacts and the
// store. batch.Orchestrator implements it.
type Processor interface {
	ProcessUnit(ctx context.Context, b batch.Batch, unit scanning.Unit) batch.UnitResult
	ProcessPDF(ctx context.Context, b batch.Batch, data []byte) (*batch.Result, error)
	ProcessArchive(ctx context.Context, b batch.Batch, data []byte) (*batch.Result, error)
	CanRasterize() bool
}

// StatusReporter describes the recognition backends. scanning.Chain implements it.
type StatusReporter interface {
	Status() []scanning.BackendStatus
}

// IDGenerator generates the token that keeps upload names unique.
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()[:8]
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Upload is one file received for processing.
type Upload struct {
	Filename    string
	Data        []byte
	ContentType string
	Format      artifact.Format
	Hint        scanning.Hint
}

// Processed is the result of one upload. Image uploads fill Unit, PDFs and
// archives fill Batch.
type Processed struct {
	Kind       Kind              `json:"kind"`
	Filename   string            `json:"filename"`
	SourcePath string            `json:"source_path,omitempty"`
	OutputDir  string            `json:"output_dir"`
	Unit       *batch.UnitResult `json:"unit,omitempty"`
	Batch      *batch.Result     `json:"batch,omitempty"`
}

// Succeeded reports whether at least one unit was recognized.
func (p *Processed) Succeeded() bool {
	if p.Unit != nil {
		return p.Unit.Succeeded
	}
	return p.Batch != nil && p.Batch.SuccessCount > 0
}

// Summary describes the outcome in one line.
func (p *Processed) Summary() string {
	if p.Unit != nil {
		if p.Unit.Succeeded {
			return fmt.Sprintf("Recognized %s with %s", p.Filename, p.Unit.Backend)
		}
		return p.Unit.Error
	}
	if p.Batch == nil {
		return ""
	}
	return fmt.Sprintf("Processed %d units from %s: %d succeeded, %d failed",
		len(p.Batch.Units), p.Filename, p.Batch.SuccessCount, p.Batch.FailureCount)
}

// Backends describes what the service can process.
type Backends struct {
	Backends   []scanning.BackendStatus `json:"backends"`
	PDFSupport bool                     `json:"pdf_support"`
}

// Service handles document uploads and record queries.
type Service struct {
	processor   Processor
	status      StatusReporter
	extractor   batch.FieldExtractor
	store       record.Store
	storage     Storage
	outputRoot  string
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service that writes artifacts under outputRoot. A nil
// storage keeps no copy of the uploads.
func NewService(processor Processor, status StatusReporter, extractor batch.FieldExtractor, store record.Store, storage Storage, outputRoot string) *Service {
	return NewServiceWithDeps(processor, status, extractor, store, storage, outputRoot, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(processor Processor, status StatusReporter, extractor batch.FieldExtractor, store record.Store, storage Storage, outputRoot string, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		processor:   processor,
		status:      status,
		extractor:   extractor,
		store:       store,
		storage:     storage,
		outputRoot:  outputRoot,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Process stores an upload and processes it as a single image, a multi-page
// PDF or a ZIP archive of images. Each upload gets its own output directory.
func (s *Service) Process(ctx context.Context, u Upload) (*Processed, error) {
	if len(u.Data) == 0 {
		return nil, ErrEmptyUpload
	}
	kind, contentType, err := classify(u.Filename, u.ContentType, u.Data)
	if err != nil {
		return nil, err
	}

	stamp := s.timeSource.Now().Format("20060102_150405")
	token := stamp + "_" + s.idGenerator.Generate()
	name := sanitizeFilename(u.Filename)

	p := &Processed{
		Kind:      kind,
		Filename:  name,
		OutputDir: filepath.Join(s.outputRoot, token),
	}
	if s.storage != nil {
		saved, err := s.storage.Save(token+"_"+name, u.Data)
		if err != nil {
			return nil, fmt.Errorf("saving upload: %w", err)
		}
		p.SourcePath = saved
	}

	b := batch.Batch{
		Source:     name,
		SourcePath: p.SourcePath,
		OutputDir:  p.OutputDir,
		Format:     u.Format,
		Hint:       u.Hint,
	}
	slog.Info("Processing upload", "filename", name, "kind", kind, "size", len(u.Data))

	switch kind {
	case KindImage:
		b.Source = ""
		unit := s.processor.ProcessUnit(ctx, b, scanning.Unit{Name: name, Data: u.Data, ContentType: contentType})
		p.Unit = &unit
	case KindPDF:
		p.Batch, err = s.processor.ProcessPDF(ctx, b, u.Data)
	case KindArchive:
		p.Batch, err = s.processor.ProcessArchive(ctx, b, u.Data)
	}
	if err != nil {
		slog.Error("Failed to process upload", "filename", name, "kind", kind, "error", err)
		s.discardUpload(p.SourcePath)
		return nil, fmt.Errorf("processing %s: %w", name, err)
	}
	return p, nil
}

func (s *Service) discardUpload(path string) {
	if s.storage == nil || path == "" {
		return
	}
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to delete upload", "path", path, "error", err)
	}
}

// classify decides how an upload is processed, preferring the file extension
// over the declared content type and falling back to the content itself.
func classify(filename, contentType string, data []byte) (Kind, string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}

	switch {
	case ext == ".pdf", contentType == "application/pdf", bytes.HasPrefix(data, []byte("%PDF-")):
		return KindPDF, "application/pdf", nil
	case ext == ".zip", contentType == "application/zip", contentType == "application/x-zip-compressed":
		return KindArchive, "application/zip", nil
	}
	if ct, ok := batch.ImageContentType(filename); ok {
		return KindImage, ct, nil
	}
	if strings.HasPrefix(contentType, "image/") {
		return KindImage, contentType, nil
	}
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return KindArchive, "application/zip", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnsupportedType, filename)
}

// Get retrieves a record by id
func (s *Service) Get(id uint64) (*record.Record, error) {
	r, err := s.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return r, nil
}

// List returns every record, newest first
func (s *Service) List() ([]*record.Record, error) {
	records, err := s.store.List()
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return records, nil
}

// Search returns records matching all set filters
func (s *Service) Search(f record.Filters) ([]*record.Record, error) {
	records, err := s.store.Search(f)
	if err != nil {
		return nil, fmt.Errorf("searching records: %w", err)
	}
	return records, nil
}

// AdvancedSearch returns records matching q
func (s *Service) AdvancedSearch(q record.Query) ([]*record.Record, error) {
	records, err := s.store.AdvancedSearch(q)
	if err != nil {
		return nil, fmt.Errorf("searching records: %w", err)
	}
	return records, nil
}

// Delete removes a record and reports whether it existed. The stored upload
// is kept because other records from the same batch may point at it.
func (s *Service) Delete(id uint64) (bool, error) {
	existed, err := s.store.Delete(id)
	if err != nil {
		return false, fmt.Errorf("deleting record: %w", err)
	}
	return existed, nil
}

// Stats summarizes the stored records
func (s *Service) Stats() (*record.Stats, error) {
	stats, err := s.store.Stats()
	if err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}
	return stats, nil
}

// ExportCSV writes the records matching q as CSV.
func (s *Service) ExportCSV(w io.Writer, q record.Query) error {
	records, err := s.AdvancedSearch(q)
	if err != nil {
		return err
	}
	return record.WriteCSV(w, records)
}

// ExportXLSX writes the records matching q as a spreadsheet.
func (s *Service) ExportXLSX(w io.Writer, q record.Query) error {
	records, err := s.AdvancedSearch(q)
	if err != nil {
		return err
	}
	return record.WriteXLSX(w, records)
}

// Backends reports the recognition backends and whether PDFs can be processed.
func (s *Service) Backends() Backends {
	info := Backends{PDFSupport: s.processor.CanRasterize()}
	if s.status != nil {
		info.Backends = s.status.Status()
	}
	return info
}
