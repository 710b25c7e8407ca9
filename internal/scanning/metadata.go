package scanning

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/gen2brain/heic"
)

// Metadata is the last resort backend. It never reads text; it describes the
// image instead and always succeeds.
type Metadata struct{}

func (Metadata) Name() string { return "image-info" }

// Recognize describes the image. It never returns an error.
func (m Metadata) Recognize(_ context.Context, imageData []byte, contentType string, _ Hint) (string, error) {
	return m.Describe(imageData, contentType), nil
}

// Describe reports format, dimensions and size for the image. Undecodable
// input is still described.
func (Metadata) Describe(imageData []byte, contentType string) string {
	format, width, height, model := "unknown", 0, 0, "unknown"

	if isHEICFormat(imageData) || isHEICMimeType(contentType) {
		if img, err := heic.Decode(bytes.NewReader(imageData)); err == nil {
			format = "heic"
			width, height = img.Bounds().Dx(), img.Bounds().Dy()
			model = colorModelName(img.ColorModel())
		}
	} else if cfg, f, err := image.DecodeConfig(bytes.NewReader(imageData)); err == nil {
		format = f
		width, height = cfg.Width, cfg.Height
		model = colorModelName(cfg.ColorModel)
	}

	var b strings.Builder
	b.WriteString("Image information (no text recognized)\n")
	fmt.Fprintf(&b, "Format: %s\n", strings.ToUpper(format))
	if width > 0 && height > 0 {
		fmt.Fprintf(&b, "Dimensions: %dx%d\n", width, height)
	}
	fmt.Fprintf(&b, "Color model: %s\n", model)
	if contentType != "" {
		fmt.Fprintf(&b, "Content type: %s\n", contentType)
	}
	fmt.Fprintf(&b, "Size: %d bytes", len(imageData))
	return b.String()
}

func (Metadata) Close() error {
	return nil
}

func colorModelName(m color.Model) string {
	if _, ok := m.(color.Palette); ok {
		return "Paletted"
	}
	switch m {
	case color.RGBAModel, color.NRGBAModel:
		return "RGBA"
	case color.RGBA64Model, color.NRGBA64Model:
		return "RGBA64"
	case color.GrayModel:
		return "Gray"
	case color.Gray16Model:
		return "Gray16"
	case color.CMYKModel:
		return "CMYK"
	case color.YCbCrModel, color.NYCbCrAModel:
		return "YCbCr"
	case color.AlphaModel, color.Alpha16Model:
		return "Alpha"
	}
	return "unknown"
}
