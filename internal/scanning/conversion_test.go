package scanning

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("prepareImageData", func() {
	It("should pass PNG data through untouched", func() {
		data := testPNG(5, 5)
		out, converted, err := prepareImageData(data, "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(converted).To(BeFalse())
		Expect(out).To(Equal(data))
	})

	It("should convert JPEG to PNG", func() {
		var buf bytes.Buffer
		Expect(jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 6, 3)), nil)).To(Succeed())

		out, converted, err := prepareImageData(buf.Bytes(), "image/jpeg")
		Expect(err).NotTo(HaveOccurred())
		Expect(converted).To(BeTrue())
		Expect(isPNG(out)).To(BeTrue())
	})

	It("should refuse PDFs", func() {
		_, _, err := prepareImageData([]byte("%PDF-1.7"), "application/pdf")
		Expect(err).To(MatchError(ContainSubstring("rasterized")))
	})

	It("should explain unsupported formats", func() {
		_, _, err := prepareImageData([]byte("plain text"), "text/plain")
		Expect(err).To(MatchError(ContainSubstring("unsupported image format")))
	})
})

var _ = Describe("enhanceForOCR", func() {
	It("should upscale small images to a grayscale PNG", func() {
		out, err := enhanceForOCR(testPNG(100, 50), "image/png")
		Expect(err).NotTo(HaveOccurred())

		img, format, err := image.Decode(bytes.NewReader(out))
		Expect(err).NotTo(HaveOccurred())
		Expect(format).To(Equal("png"))
		Expect(img.Bounds().Dx()).To(Equal(minOCRWidth))
		Expect(img.Bounds().Dy()).To(Equal(500))
	})
})

var _ = Describe("isHEICFormat", func() {
	It("should detect the ftyp brand", func() {
		Expect(isHEICFormat([]byte("\x00\x00\x00\x18ftypheic\x00\x00"))).To(BeTrue())
		Expect(isHEICFormat(testPNG(1, 1))).To(BeFalse())
	})
})

var _ = Describe("Metadata", func() {
	It("should describe a decodable image", func() {
		text := Metadata{}.Describe(testPNG(30, 40), "image/png")
		Expect(text).To(ContainSubstring("Format: PNG"))
		Expect(text).To(ContainSubstring("Dimensions: 30x40"))
		Expect(text).To(ContainSubstring("Color model: RGBA"))
	})

	It("should never fail", func() {
		text, err := Metadata{}.Recognize(context.Background(), nil, "", HintDocument)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(ContainSubstring("Size: 0 bytes"))
	})
})
