package scanning

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Backend identifies which recognizer produced an Outcome.
type Backend string

const (
	BackendPrimary      Backend = "Primary"
	BackendLocalEngine  Backend = "LocalEngine"
	BackendMetadataOnly Backend = "MetadataOnly"
)

// Hint tells a recognizer what kind of page to expect.
type Hint string

const (
	HintDocument Hint = "document"
	HintTable    Hint = "table"
)

// ParseHint maps a user supplied value to a Hint. Empty means HintDocument.
func ParseHint(s string) (Hint, error) {
	switch Hint(s) {
	case "", HintDocument:
		return HintDocument, nil
	case HintTable:
		return HintTable, nil
	}
	return "", fmt.Errorf("unknown hint %q", s)
}

// ErrInvalidUnit is returned when a unit has no name or no image bytes.
var ErrInvalidUnit = errors.New("invalid recognition unit")

// Unit is a single image to recognize: an uploaded file, an archive member or
// a rasterized page.
type Unit struct {
	Name        string
	Data        []byte
	Path        string
	ContentType string
	// Temporary units live in a batch workspace and are removed once recorded.
	Temporary bool
}

// Bytes returns the unit's image, reading it from Path when Data is empty.
func (u Unit) Bytes() ([]byte, error) {
	if len(u.Data) > 0 {
		return u.Data, nil
	}
	if u.Path == "" {
		return nil, fmt.Errorf("%w: %q has no data", ErrInvalidUnit, u.Name)
	}
	data, err := os.ReadFile(u.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidUnit, u.Path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %q is empty", ErrInvalidUnit, u.Name)
	}
	return data, nil
}

// Outcome is the result of running a unit through the recognition chain.
type Outcome struct {
	Text      string  `json:"text"`
	Backend   Backend `json:"backend"`
	Succeeded bool    `json:"succeeded"`
}

// Recognizer defines a recognition backend.
type Recognizer interface {
	// Recognize returns the text found in an image.
	Recognize(ctx context.Context, imageData []byte, contentType string, hint Hint) (string, error)
	// Close releases any resources held by the backend
	Close() error
}

// Availability records which optional backends were found at startup.
type Availability struct {
	PrimaryAvailable     bool
	LocalEngineAvailable bool
}
