// Package batch fans one upload out into recognition units and gathers their
// results.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/scan-ledger/internal/artifact"
	"github.com/zombor/scan-ledger/internal/extraction"
	"github.com/zombor/scan-ledger/internal/record"
	"github.com/zombor/scan-ledger/internal/scanning"
)

// Recognizer turns a unit into an Outcome. scanning.Chain implements it.
type Recognizer interface {
	Recognize(ctx context.Context, unit scanning.Unit, hint scanning.Hint) (scanning.Outcome, error)
}

// FieldExtractor pulls fields out of recognized text.
type FieldExtractor interface {
	Extract(text string) extraction.Result
}

// ResultWriter stores an artifact in a directory.
type ResultWriter interface {
	Write(dir string, a artifact.Artifact, format artifact.Format) (string, error)
}

// Recorder persists records. record.Store implements it.
type Recorder interface {
	Save(r *record.Record) (uint64, error)
}

// Batch describes one upload to process.
type Batch struct {
	// Source is the uploaded file name.
	Source string
	// SourcePath is where the upload was stored, if it was.
	SourcePath string
	Units      []scanning.Unit
	OutputDir  string
	Format     artifact.Format
	Hint       scanning.Hint
}

// UnitResult is the outcome for one unit. Failed units carry Error.
type UnitResult struct {
	Name         string             `json:"name"`
	Succeeded    bool               `json:"succeeded"`
	Backend      scanning.Backend   `json:"backend,omitempty"`
	Text         string             `json:"text,omitempty"`
	Extraction   *extraction.Result `json:"extraction,omitempty"`
	ArtifactPath string             `json:"artifact_path,omitempty"`
	RecordID     uint64             `json:"record_id,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Result aggregates a batch. Units are in input order.
type Result struct {
	Units            []UnitResult       `json:"units"`
	SuccessCount     int                `json:"success_count"`
	FailureCount     int                `json:"failure_count"`
	CombinedText     string             `json:"combined_text"`
	Combined         *extraction.Result `json:"combined,omitempty"`
	CombinedArtifact string             `json:"combined_artifact,omitempty"`
	CombinedRecordID uint64             `json:"combined_record_id,omitempty"`
	OutputDir        string             `json:"output_dir"`
}

// Orchestrator processes batches of units.
type Orchestrator struct {
	recognizer      Recognizer
	extractor       FieldExtractor
	writer          ResultWriter
	recorder        Recorder
	rasterizer      Rasterizer
	workspaceRoot   string
	workers         int
	persistCombined bool
	now             func() time.Time
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder saves a record for every successful unit.
func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// WithRasterizer enables PDF batches.
func WithRasterizer(r Rasterizer) Option { return func(o *Orchestrator) { o.rasterizer = r } }

// WithWorkspaceRoot sets where batch workspaces are created. Default: os.TempDir().
func WithWorkspaceRoot(dir string) Option { return func(o *Orchestrator) { o.workspaceRoot = dir } }

// WithWorkers processes up to n units at once. Results keep input order.
func WithWorkers(n int) Option { return func(o *Orchestrator) { o.workers = n } }

// WithCombinedRecord also saves a record for the combined text.
func WithCombinedRecord() Option { return func(o *Orchestrator) { o.persistCombined = true } }

// WithClock sets the time source for artifact timestamps and workspace tokens.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New creates an Orchestrator.
func New(recognizer Recognizer, extractor FieldExtractor, writer ResultWriter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		recognizer:    recognizer,
		extractor:     extractor,
		writer:        writer,
		workspaceRoot: os.TempDir(),
		workers:       1,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CanRasterize reports whether PDF batches are supported.
func (o *Orchestrator) CanRasterize() bool {
	return o.rasterizer != nil
}

// ProcessArchive expands a ZIP archive into a private workspace and processes
// its images. The workspace is removed before returning.
func (o *Orchestrator) ProcessArchive(ctx context.Context, b Batch, data []byte) (*Result, error) {
	return o.withWorkspace(ctx, b, func(ws *Workspace) ([]scanning.Unit, error) {
		return ExpandArchive(ws, data)
	})
}

// ProcessPDF rasterizes a PDF into a private workspace and processes each
// page. The workspace is removed before returning.
func (o *Orchestrator) ProcessPDF(ctx context.Context, b Batch, data []byte) (*Result, error) {
	if o.rasterizer == nil {
		return nil, ErrNoRasterizer
	}
	return o.withWorkspace(ctx, b, func(ws *Workspace) ([]scanning.Unit, error) {
		return ExpandPDF(ws, o.rasterizer, data)
	})
}

func (o *Orchestrator) withWorkspace(ctx context.Context, b Batch, expand func(*Workspace) ([]scanning.Unit, error)) (*Result, error) {
	ws, err := NewWorkspace(o.workspaceRoot, o.now())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			slog.Warn("Failed to remove batch workspace", "dir", ws.Dir, "error", err)
		}
	}()

	units, err := expand(ws)
	if err != nil {
		return nil, err
	}
	slog.Info("Expanded batch", "source", b.Source, "batch", ws.Token(), "units", len(units))

	b.Units = units
	return o.ProcessBatch(ctx, b)
}

// ProcessBatch processes every unit. A failing unit becomes a failure entry
// and never stops the batch.
func (o *Orchestrator) ProcessBatch(ctx context.Context, b Batch) (*Result, error) {
	if len(b.Units) == 0 {
		return nil, ErrNoUnits
	}

	units := make([]UnitResult, len(b.Units))
	if o.workers > 1 {
		var g errgroup.Group
		g.SetLimit(o.workers)
		for i, unit := range b.Units {
			g.Go(func() error {
				units[i] = o.ProcessUnit(ctx, b, unit)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, unit := range b.Units {
			units[i] = o.ProcessUnit(ctx, b, unit)
		}
	}

	res := &Result{Units: units, OutputDir: b.OutputDir}
	var sections []string
	for _, u := range units {
		if !u.Succeeded {
			res.FailureCount++
			continue
		}
		res.SuccessCount++
		sections = append(sections, fmt.Sprintf("=== %s ===\n%s", u.Name, u.Text))
	}
	res.CombinedText = strings.Join(sections, "\n\n")

	slog.Info("Processed batch",
		"source", b.Source,
		"units", len(units),
		"succeeded", res.SuccessCount,
		"failed", res.FailureCount,
	)

	if res.SuccessCount > 0 {
		o.combine(b, res)
	}
	return res, nil
}

// combine extracts fields from the combined text and writes its artifact.
// Problems here are logged; the per-unit results stand on their own.
func (o *Orchestrator) combine(b Batch, res *Result) {
	ext, err := o.extract(res.CombinedText)
	if err != nil {
		slog.Error("Failed to extract combined text", "source", b.Source, "error", err)
		return
	}
	res.Combined = &ext

	outcome := scanning.Outcome{
		Text:      res.CombinedText,
		Backend:   combinedBackend(res.Units),
		Succeeded: true,
	}
	name := combinedName(b.Source)
	ts := o.now()

	p, err := o.writer.Write(b.OutputDir, artifact.Artifact{
		Timestamp:        ts,
		OriginalFilename: name,
		Outcome:          outcome,
		Extraction:       ext,
	}, b.Format)
	if err != nil {
		slog.Error("Failed to write combined result", "source", b.Source, "error", err)
	} else {
		res.CombinedArtifact = p
	}

	if o.recorder != nil && o.persistCombined {
		id, err := o.recorder.Save(&record.Record{
			Filename:       name,
			SourcePath:     b.SourcePath,
			ProcessingTime: ts,
			Fields:         ext.Fields,
			RawText:        outcome.Text,
			Backend:        string(outcome.Backend),
		})
		if err != nil {
			slog.Error("Failed to save combined record", "source", b.Source, "error", err)
			return
		}
		res.CombinedRecordID = id
	}
}

// ProcessUnit recognizes, extracts, writes and records a single unit using the
// settings of b. b.Units is ignored. Temporary unit files are removed.
func (o *Orchestrator) ProcessUnit(ctx context.Context, b Batch, unit scanning.Unit) (res UnitResult) {
	res.Name = unit.Name
	if unit.Temporary && unit.Path != "" {
		defer func() {
			if err := os.Remove(unit.Path); err != nil && !os.IsNotExist(err) {
				slog.Warn("Failed to remove unit file", "path", unit.Path, "error", err)
			}
		}()
	}

	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return res
	}

	outcome, err := o.recognizer.Recognize(ctx, unit, b.Hint)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Backend = outcome.Backend
	res.Text = outcome.Text
	if !outcome.Succeeded {
		res.Error = outcome.Text
		return res
	}

	ext, err := o.extract(outcome.Text)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Extraction = &ext

	ts := o.now()
	filename := unitFilename(b.Source, unit.Name)
	p, err := o.writer.Write(b.OutputDir, artifact.Artifact{
		Timestamp:        ts,
		OriginalFilename: filename,
		Outcome:          outcome,
		Extraction:       ext,
	}, b.Format)
	if err != nil {
		res.Error = fmt.Sprintf("writing result: %v", err)
		return res
	}
	res.ArtifactPath = p

	if o.recorder != nil {
		id, err := o.recorder.Save(&record.Record{
			Filename:       filename,
			SourcePath:     b.SourcePath,
			ProcessingTime: ts,
			Fields:         ext.Fields,
			RawText:        outcome.Text,
			Backend:        string(outcome.Backend),
		})
		if err != nil {
			res.Error = fmt.Sprintf("saving record: %v", err)
			return res
		}
		res.RecordID = id
	}

	res.Succeeded = true
	return res
}

// extract runs the extractor, turning a panic into an error.
func (o *Orchestrator) extract(text string) (res extraction.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("extracting fields: %v", p)
		}
	}()
	return o.extractor.Extract(text), nil
}

func unitFilename(source, unit string) string {
	if source == "" {
		return unit
	}
	return path.Join(source, unit)
}

func combinedName(source string) string {
	if source == "" {
		return "combined"
	}
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_combined"
}

// combinedBackend names the backend shared by all successful units, or
// "Mixed" when they differ.
func combinedBackend(units []UnitResult) scanning.Backend {
	var backend scanning.Backend
	for _, u := range units {
		if !u.Succeeded {
			continue
		}
		if backend != "" && backend != u.Backend {
			return "Mixed"
		}
		backend = u.Backend
	}
	return backend
}
