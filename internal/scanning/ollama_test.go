package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		ollama *Ollama
		image  []byte
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		ollama, err = NewOllama(server.URL(), "qwen2.5vl")
		Expect(err).NotTo(HaveOccurred())
		image = testPNG(8, 8)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Recognize", func() {
		var (
			hint Hint
			text string
			err  error
		)

		BeforeEach(func() {
			hint = HintDocument
		})

		JustBeforeEach(func() {
			text, err = ollama.Recognize(context.Background(), image, "image/png", hint)
		})

		When("the model answers with text", func() {
			BeforeEach(func() {
				hint = HintTable
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
					ghttp.VerifyContentType("application/json"),
					func(w http.ResponseWriter, r *http.Request) {
						body, err := io.ReadAll(r.Body)
						Expect(err).NotTo(HaveOccurred())
						var req ollamaChatRequest
						Expect(json.Unmarshal(body, &req)).To(Succeed())
						Expect(req.Model).To(Equal("qwen2.5vl"))
						Expect(req.Stream).To(BeFalse())
						Expect(req.Messages).To(HaveLen(2))
						Expect(req.Messages[1].Content).To(Equal(tablePrompt))
						Expect(req.Messages[1].Images).To(Equal([]string{base64.StdEncoding.EncodeToString(image)}))
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
						Message: ollamaMessage{Role: "assistant", Content: "| Customer Name | Wu Gang |"},
						Done:    true,
					}),
				))
			})

			It("should return the transcription", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(text).To(Equal("| Customer Name | Wu Gang |"))
			})
		})

		When("the model answers with natural_text JSON", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: `{"natural_text": "Customer Name: Li Ming"}`},
					Done:    true,
				}))
			})

			It("should unwrap it", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(text).To(Equal("Customer Name: Li Ming"))
			})
		})

		When("the server errors", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model crashed"))
			})

			It("should return the status and body", func() {
				Expect(err).To(MatchError(ContainSubstring("status 500")))
				Expect(err).To(MatchError(ContainSubstring("model crashed")))
			})
		})

		When("the model answers with nothing", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{Done: true}))
			})

			It("should report that no text was recognized", func() {
				Expect(err).To(MatchError(errNoText))
			})
		})
	})

	Describe("Ping", func() {
		When("the model is pulled", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, "/api/tags"),
					ghttp.RespondWith(http.StatusOK, `{"models":[{"name":"qwen2.5vl:latest"}]}`),
				))
			})

			It("should succeed", func() {
				Expect(ollama.Ping(context.Background())).To(Succeed())
			})
		})

		When("the model is missing", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"models":[{"name":"llava:latest"}]}`))
			})

			It("should fail", func() {
				Expect(ollama.Ping(context.Background())).To(MatchError(ContainSubstring("not available")))
			})
		})
	})

	It("should report its model in its name", func() {
		Expect(ollama.Name()).To(Equal("ollama:qwen2.5vl"))
	})
})
