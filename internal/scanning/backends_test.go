package scanning

import (
	"context"

	"github.com/otiai10/gosseract/v2"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Tesseract", func() {
	It("should name itself after its languages", func() {
		Expect(NewTesseract().Name()).To(Equal("tesseract"))
		Expect(NewTesseract("eng", "chi_sim").Name()).To(Equal("tesseract:eng+chi_sim"))
	})

	It("should not start when the context is done", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewTesseract("eng").Recognize(ctx, testPNG(10, 10), "image/png", HintDocument)
		Expect(err).To(MatchError(context.Canceled))
	})

	It("should fail for undecodable images before loading the engine", func() {
		_, err := NewTesseract("eng").Recognize(context.Background(), []byte("not an image"), "image/png", HintDocument)
		Expect(err).To(MatchError(ContainSubstring("preparing image")))
	})

	DescribeTable("page segmentation",
		func(hint Hint, mode gosseract.PageSegMode) {
			Expect(pageSegMode(hint)).To(Equal(mode))
		},
		Entry("documents are laid out automatically", HintDocument, gosseract.PSM_AUTO),
		Entry("tables are read as one block", HintTable, gosseract.PSM_SINGLE_BLOCK),
	)
})

var _ = Describe("Gemini", func() {
	It("should require an API key", func() {
		_, err := NewGemini("", "")
		Expect(err).To(MatchError(ContainSubstring("api key is required")))
	})
})
