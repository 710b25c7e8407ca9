package artifact

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zombor/scan-ledger/internal/scanning"
)

// ErrNotArtifact is returned when text does not look like a text artifact.
var ErrNotArtifact = errors.New("not a text artifact")

// Parsed is a text artifact read back from disk.
type Parsed struct {
	Timestamp        time.Time
	OriginalFilename string
	Outcome          scanning.Outcome
}

// ParseText reads an artifact written in FormatTXT. Only the header and the
// recognized text are read; extracted fields are recomputed by callers.
func ParseText(r io.Reader) (*Parsed, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}

	var (
		p         Parsed
		sawStatus bool
	)
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == labelText+":" {
			p.Outcome.Text = strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
			break
		}
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(label) {
		case labelTime:
			if t, err := time.ParseInLocation(timeLayout, value, time.Local); err == nil {
				p.Timestamp = t
			}
		case labelFilename:
			p.OriginalFilename = value
		case labelModel:
			p.Outcome.Backend = scanning.Backend(value)
		case labelStatus:
			sawStatus = true
			p.Outcome.Succeeded = strings.EqualFold(value, "success")
		}
	}

	if !sawStatus {
		return nil, ErrNotArtifact
	}
	return &p, nil
}
