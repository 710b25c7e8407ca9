package batch

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"

	"github.com/zombor/scan-ledger/internal/scanning"
)

// Rasterizer renders every page of a PDF to a PNG image.
type Rasterizer interface {
	Rasterize(pdfData []byte) ([][]byte, error)
}

// FitzRasterizer renders PDFs with MuPDF.
type FitzRasterizer struct {
	// DPI is the render resolution. Zero uses the MuPDF default.
	DPI float64
}

// Rasterize renders every page in order.
func (r FitzRasterizer) Rasterize(pdfData []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	pages := make([][]byte, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		rendered, err := r.render(doc, i)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}
		pages = append(pages, rendered)
	}
	return pages, nil
}

func (r FitzRasterizer) render(doc *fitz.Document, page int) ([]byte, error) {
	var (
		img *image.RGBA
		err error
	)
	if r.DPI > 0 {
		img, err = doc.ImageDPI(page, r.DPI)
	} else {
		img, err = doc.Image(page)
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// ExpandPDF rasterizes a PDF into ws and returns one temporary unit per page.
func ExpandPDF(ws *Workspace, r Rasterizer, pdfData []byte) ([]scanning.Unit, error) {
	if r == nil {
		return nil, ErrNoRasterizer
	}

	pages, err := r.Rasterize(pdfData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPages, err)
	}
	if len(pages) == 0 {
		return nil, ErrNoPages
	}

	units := make([]scanning.Unit, 0, len(pages))
	for i, page := range pages {
		name := fmt.Sprintf("page_%03d.png", i+1)
		dest := filepath.Join(ws.Dir, name)
		if err := os.WriteFile(dest, page, 0600); err != nil {
			return nil, fmt.Errorf("writing %s: %w", dest, err)
		}
		units = append(units, scanning.Unit{
			Name:        name,
			Path:        dest,
			ContentType: "image/png",
			Temporary:   true,
		})
	}
	return units, nil
}
