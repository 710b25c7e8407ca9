package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements the Recognizer interface with a local Tesseract engine.
type Tesseract struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// NewTesseract creates a Tesseract recognizer for the given languages, e.g.
// "eng" or "chi_sim". No languages means the engine default.
func NewTesseract(languages ...string) *Tesseract {
	return &Tesseract{
		languages:     languages,
		clientFactory: gosseract.NewClient,
	}
}

// TesseractVersion returns the linked engine version, or "" when the engine
// cannot be loaded.
func TesseractVersion() (version string) {
	defer func() {
		if recover() != nil {
			version = ""
		}
	}()
	return strings.TrimSpace(gosseract.Version())
}

func (t *Tesseract) Name() string {
	if len(t.languages) == 0 {
		return "tesseract"
	}
	return "tesseract:" + strings.Join(t.languages, "+")
}

// Recognize enhances the image and runs OCR on it.
func (t *Tesseract) Recognize(ctx context.Context, imageData []byte, contentType string, hint Hint) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	enhanced, err := enhanceForOCR(imageData, contentType)
	if err != nil {
		return "", fmt.Errorf("preparing image: %w", err)
	}

	c := t.clientFactory()
	defer c.Close()

	if len(t.languages) > 0 {
		if err := c.SetLanguage(t.languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetPageSegMode(pageSegMode(hint)); err != nil {
		return "", fmt.Errorf("set page segmentation: %w", err)
	}
	if err := c.SetImageFromBytes(enhanced); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// pageSegMode keeps table rows together as one block.
func pageSegMode(hint Hint) gosseract.PageSegMode {
	if hint == HintTable {
		return gosseract.PSM_SINGLE_BLOCK
	}
	return gosseract.PSM_AUTO
}

// Close is a no-op; clients are created per call.
func (t *Tesseract) Close() error {
	return nil
}
