package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var errNoText = errors.New("no text recognized")

// BackendStatus describes one link of the chain.
type BackendStatus struct {
	Backend   Backend `json:"backend"`
	Name      string  `json:"name"`
	Available bool    `json:"available"`
}

type named interface {
	Name() string
}

// Chain tries the primary backend, then the local engine, then falls back to
// describing the image. Recognize always yields an Outcome for a valid unit.
type Chain struct {
	primary      Recognizer
	local        Recognizer
	metadata     Metadata
	availability Availability
}

// NewChain creates a Chain. A nil recognizer is treated as unavailable
// regardless of availability.
func NewChain(primary, local Recognizer, availability Availability) *Chain {
	if primary == nil {
		availability.PrimaryAvailable = false
	}
	if local == nil {
		availability.LocalEngineAvailable = false
	}
	return &Chain{
		primary:      primary,
		local:        local,
		availability: availability,
	}
}

// Recognize runs the unit through each available backend in order. The only
// error is ErrInvalidUnit; backend failures are absorbed by the fallback.
func (c *Chain) Recognize(ctx context.Context, unit Unit, hint Hint) (Outcome, error) {
	if unit.Name == "" {
		return Outcome{}, fmt.Errorf("%w: missing name", ErrInvalidUnit)
	}
	data, err := unit.Bytes()
	if err != nil {
		return Outcome{}, err
	}

	if c.availability.PrimaryAvailable {
		out := invoke(ctx, c.primary, BackendPrimary, unit, data, hint)
		if out.Succeeded {
			return out, nil
		}
	}
	if c.availability.LocalEngineAvailable {
		out := invoke(ctx, c.local, BackendLocalEngine, unit, data, hint)
		if out.Succeeded {
			return out, nil
		}
	}
	return invoke(ctx, c.metadata, BackendMetadataOnly, unit, data, hint), nil
}

// invoke calls one backend and converts its error or panic into a failed
// Outcome. Failed outcomes keep a readable "<backend> recognition failed"
// text for artifacts.
func invoke(ctx context.Context, r Recognizer, backend Backend, unit Unit, data []byte, hint Hint) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Recognition backend panicked", "backend", backend, "unit", unit.Name, "panic", p)
			out = failed(backend, fmt.Errorf("panic: %v", p))
		}
	}()

	text, err := r.Recognize(ctx, data, unit.ContentType, hint)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errNoText
	}
	if err != nil {
		slog.Warn("Recognition backend failed", "backend", backend, "unit", unit.Name, "error", err)
		return failed(backend, err)
	}

	slog.Debug("Recognized unit", "backend", backend, "unit", unit.Name, "chars", len(text))
	return Outcome{
		Text:      strings.TrimSpace(text),
		Backend:   backend,
		Succeeded: true,
	}
}

func failed(backend Backend, err error) Outcome {
	return Outcome{
		Text:    fmt.Sprintf("%s recognition failed: %v", backend, err),
		Backend: backend,
	}
}

// Status lists every backend with the name it reports, if any.
func (c *Chain) Status() []BackendStatus {
	return []BackendStatus{
		{Backend: BackendPrimary, Name: nameOf(c.primary), Available: c.availability.PrimaryAvailable},
		{Backend: BackendLocalEngine, Name: nameOf(c.local), Available: c.availability.LocalEngineAvailable},
		{Backend: BackendMetadataOnly, Name: c.metadata.Name(), Available: true},
	}
}

func nameOf(r Recognizer) string {
	if n, ok := r.(named); ok {
		return n.Name()
	}
	return ""
}

// Close closes every configured backend.
func (c *Chain) Close() error {
	var errs []error
	for _, r := range []Recognizer{c.primary, c.local} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
