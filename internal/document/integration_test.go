package document_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/scan-ledger/internal/artifact"
	"github.com/zombor/scan-ledger/internal/batch"
	"github.com/zombor/scan-ledger/internal/document"
	"github.com/zombor/scan-ledger/internal/extraction"
	"github.com/zombor/scan-ledger/internal/record"
	"github.com/zombor/scan-ledger/internal/scanning"
)

// scriptedRecognizer answers with the text registered for the image bytes.
type scriptedRecognizer struct {
	texts map[string]string
}

func (s *scriptedRecognizer) Recognize(_ context.Context, imageData []byte, _ string, _ scanning.Hint) (string, error) {
	text, ok := s.texts[string(imageData)]
	if !ok {
		return "", errors.New("model returned no content")
	}
	return text, nil
}

func (s *scriptedRecognizer) Close() error { return nil }

var _ = Describe("Integration", func() {
	var (
		tempDir       string
		workspaceRoot string
		outputRoot    string
		store         record.Store
		server        *document.Server
		ghServer      *ghttp.Server
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
		workspaceRoot = filepath.Join(tempDir, "work")
		outputRoot = filepath.Join(tempDir, "results")

		var err error
		store, err = record.NewBoltStore(filepath.Join(tempDir, "records.db"))
		Expect(err).NotTo(HaveOccurred())

		uploads, err := document.NewLocalStorage(filepath.Join(tempDir, "uploads"))
		Expect(err).NotTo(HaveOccurred())

		primary := &scriptedRecognizer{texts: map[string]string{
			"page one": "Customer Name: Li Ming\nTransaction ID: 5000098765\nAmount: 1,500.00",
			"page two": "| Customer Name | Wu Gang |\n| Amount | 20.00 |",
		}}
		chain := scanning.NewChain(primary, nil, scanning.Availability{PrimaryAvailable: true})
		orchestrator := batch.New(chain, extraction.Extractor{}, artifact.NewWriter(),
			batch.WithRecorder(store),
			batch.WithWorkspaceRoot(workspaceRoot),
		)
		service := document.NewService(orchestrator, chain, extraction.Extractor{}, store, uploads, outputRoot)
		server = document.NewServer(service, document.BasicAuth{})

		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		ghServer.Close()
		Expect(store.Close()).To(Succeed())
	})

	upload := func(filename string, data []byte) *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghServer.URL()+"/api/documents", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	It("should process an archive, persist its units and find them again", func() {
		ghServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP)

		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		for _, m := range []struct{ name, data string }{
			{"page1.png", "page one"},
			{"readme.txt", "not an image"},
			{"page2.png", "page two"},
			{"page3.png", "unreadable"},
		} {
			w, err := zw.Create(m.name)
			Expect(err).NotTo(HaveOccurred())
			_, err = w.Write([]byte(m.data))
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(zw.Close()).To(Succeed())

		resp := upload("scans.zip", buf.Bytes())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var env struct {
			Success bool               `json:"success"`
			Data    document.Processed `json:"data"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&env)).To(Succeed())
		Expect(env.Success).To(BeTrue())
		Expect(env.Data.Kind).To(Equal(document.KindArchive))

		result := env.Data.Batch
		Expect(result).NotTo(BeNil())
		Expect(result.Units).To(HaveLen(3))
		Expect(result.Units[0].Backend).To(Equal(scanning.BackendPrimary))
		Expect(result.Units[1].Backend).To(Equal(scanning.BackendPrimary))
		// The last resort backend describes the image instead of failing.
		Expect(result.Units[2].Backend).To(Equal(scanning.BackendMetadataOnly))
		Expect(result.SuccessCount).To(Equal(3))
		Expect(result.CombinedText).To(HavePrefix("=== page1.png ===\nCustomer Name: Li Ming"))
		Expect(result.CombinedArtifact).To(BeAnExistingFile())

		By("keeping the upload and removing the workspace")
		Expect(env.Data.SourcePath).To(BeAnExistingFile())
		entries, err := os.ReadDir(workspaceRoot)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())

		By("storing one record per unit")
		records, err := store.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(3))

		By("searching by amount")
		searchResp, err := http.Get(ghServer.URL() + "/api/records/advanced-search?min_amount=1000")
		Expect(err).NotTo(HaveOccurred())
		defer searchResp.Body.Close()

		var found struct {
			Data []*record.Record `json:"data"`
		}
		Expect(json.NewDecoder(searchResp.Body).Decode(&found)).To(Succeed())
		Expect(found.Data).To(HaveLen(1))
		Expect(found.Data[0].Filename).To(Equal("scans.zip/page1.png"))
		Expect(found.Data[0].Confidence).To(BeNumerically("~", 3.0/7, 1e-9))
	})

	It("should fall back for a single image the primary cannot read", func() {
		ghServer.AppendHandlers(server.ServeHTTP)

		resp := upload("blank.png", []byte("unreadable"))
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var env struct {
			Data document.Processed `json:"data"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&env)).To(Succeed())
		Expect(env.Data.Unit).NotTo(BeNil())
		Expect(env.Data.Unit.Backend).To(Equal(scanning.BackendMetadataOnly))
		Expect(env.Data.Unit.Text).To(ContainSubstring("no text recognized"))

		records, err := store.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Filename).To(Equal("blank.png"))
		Expect(records[0].HasExtractedFields()).To(BeFalse())
	})

	It("should reject a PDF when no rasterizer is configured", func() {
		ghServer.AppendHandlers(server.ServeHTTP)

		resp := upload("statement.pdf", []byte("%PDF-1.4 fake"))
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNotImplemented))

		records, err := store.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(BeEmpty())
	})
})
