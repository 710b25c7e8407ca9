package document

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/scan-ledger/internal/batch"
	"github.com/zombor/scan-ledger/internal/extraction"
	"github.com/zombor/scan-ledger/internal/record"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(resp *http.Response) envelope {
	defer resp.Body.Close()
	var env envelope
	Expect(json.NewDecoder(resp.Body).Decode(&env)).To(Succeed())
	return env
}

func multipartBody(filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		Expect(writer.WriteField(k, v)).To(Succeed())
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		processor   *mockProcessor
		store       *mockStore
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		processor = newMockProcessor()
		store = newMockStore()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		server = NewServerWithMux(newTestService(processor, store, newMockStorage()), auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	get := func(path string) *http.Response {
		resp, err := http.Get(ghttpServer.URL() + path)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	do := func(method, path string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	saveRecords := func() {
		for _, r := range []*record.Record{
			{Filename: "a.png", Fields: extraction.Fields{extraction.CustomerName: "Li Ming", extraction.TransactionAmount: "1,500.00", extraction.CustomerCountry: "China"}},
			{Filename: "b.png", Fields: extraction.Fields{extraction.CustomerName: "Wu Gang", extraction.TransactionAmount: "20"}},
		} {
			_, err := store.Save(r)
			Expect(err).NotTo(HaveOccurred())
		}
	}

	Describe("POST /api/documents", func() {
		var (
			filename string
			data     []byte
			fields   map[string]string
			resp     *http.Response
		)

		BeforeEach(func() {
			filename = "invoice.png"
			data = []byte("png bytes")
			fields = map[string]string{"format": "txt", "hint": "table"}
		})

		JustBeforeEach(func() {
			body, contentType := multipartBody(filename, data, fields)
			var err error
			resp, err = http.Post(ghttpServer.URL()+"/api/documents", contentType, body)
			Expect(err).NotTo(HaveOccurred())
		})

		When("the image is recognized", func() {
			It("should return status Created with the unit result", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				env := decodeEnvelope(resp)
				Expect(env.Success).To(BeTrue())
				Expect(env.Message).To(Equal("Recognized invoice.png with Primary"))

				var processed Processed
				Expect(json.Unmarshal(env.Data, &processed)).To(Succeed())
				Expect(processed.Kind).To(Equal(KindImage))
				Expect(processed.Unit).NotTo(BeNil())
				Expect(processed.Unit.RecordID).To(Equal(uint64(1)))
			})

			It("should pass format and hint on", func() {
				resp.Body.Close()
				Expect(processor.batches).To(HaveLen(1))
				Expect(string(processor.batches[0].Format)).To(Equal("txt"))
				Expect(string(processor.batches[0].Hint)).To(Equal("table"))
			})
		})

		When("recognition fails", func() {
			BeforeEach(func() {
				processor.unitResult = batch.UnitResult{Error: "MetadataOnly recognition failed: bad image"}
			})

			It("should return a structured failure", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				env := decodeEnvelope(resp)
				Expect(env.Success).To(BeFalse())
				Expect(env.Message).To(Equal("MetadataOnly recognition failed: bad image"))
			})
		})

		When("the archive holds no images", func() {
			BeforeEach(func() {
				filename = "scans.zip"
				processor.batchErr = batch.ErrArchiveEmpty
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				env := decodeEnvelope(resp)
				Expect(env.Success).To(BeFalse())
				Expect(env.Message).To(ContainSubstring(batch.ErrArchiveEmpty.Error()))
			})
		})

		When("PDFs cannot be rasterized", func() {
			BeforeEach(func() {
				filename = "statement.pdf"
				processor.batchErr = batch.ErrNoRasterizer
			})

			It("should return status Not Implemented", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusNotImplemented))
				resp.Body.Close()
			})
		})

		When("no file is sent", func() {
			BeforeEach(func() {
				filename = ""
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				env := decodeEnvelope(resp)
				Expect(env.Message).To(ContainSubstring("No file was selected"))
			})
		})

		When("the format is unknown", func() {
			BeforeEach(func() {
				fields["format"] = "docx"
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				env := decodeEnvelope(resp)
				Expect(env.Message).To(ContainSubstring("docx"))
				Expect(processor.calls).To(BeEmpty())
			})
		})

		When("the file type is unsupported", func() {
			BeforeEach(func() {
				filename = "notes.txt"
				data = []byte("hello")
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				env := decodeEnvelope(resp)
				Expect(env.Message).To(ContainSubstring(ErrUnsupportedType.Error()))
			})
		})
	})

	Describe("GET /api/records", func() {
		When("records exist", func() {
			BeforeEach(saveRecords)

			It("should return them", func() {
				resp := get("/api/records")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				env := decodeEnvelope(resp)
				var records []*record.Record
				Expect(json.Unmarshal(env.Data, &records)).To(Succeed())
				Expect(records).To(HaveLen(2))
			})
		})

		When("there are no records", func() {
			It("should return an empty list", func() {
				env := decodeEnvelope(get("/api/records"))
				Expect(string(env.Data)).To(Equal("[]"))
			})
		})

		When("the store fails", func() {
			BeforeEach(func() {
				store.err = errors.New("database is closed")
			})

			It("should return status Internal Server Error", func() {
				resp := get("/api/records")
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(decodeEnvelope(resp).Success).To(BeFalse())
			})
		})
	})

	Describe("GET /api/records/search", func() {
		BeforeEach(saveRecords)

		It("should filter by the query parameters", func() {
			env := decodeEnvelope(get("/api/records/search?customer_country=china"))
			var records []*record.Record
			Expect(json.Unmarshal(env.Data, &records)).To(Succeed())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Filename).To(Equal("a.png"))
			Expect(store.filters[0]).To(Equal(record.Filters{CustomerCountry: "china"}))
		})
	})

	Describe("GET /api/records/advanced-search", func() {
		BeforeEach(saveRecords)

		It("should apply the amount range", func() {
			env := decodeEnvelope(get("/api/records/advanced-search?min_amount=1000"))
			var records []*record.Record
			Expect(json.Unmarshal(env.Data, &records)).To(Succeed())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Filename).To(Equal("a.png"))
		})

		It("should parse the date range", func() {
			resp := get("/api/records/advanced-search?start_date=2024-06-01&end_date=2024-06-30&keyword=ming")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
			q := store.queries[0]
			Expect(q.Keyword).To(Equal("ming"))
			Expect(q.StartDate.Format("2006-01-02")).To(Equal("2024-06-01"))
			Expect(q.EndDate.Format("2006-01-02")).To(Equal("2024-06-30"))
		})

		DescribeTable("rejecting bad parameters",
			func(query string) {
				resp := get("/api/records/advanced-search?" + query)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeEnvelope(resp).Success).To(BeFalse())
			},
			Entry("amount", "min_amount=lots"),
			Entry("date", "start_date=06/01/2024"),
		)
	})

	Describe("GET /api/records/stats", func() {
		BeforeEach(func() {
			store.stats = &record.Stats{Total: 3, Extracted: 2, Today: 1}
		})

		It("should return the counts", func() {
			env := decodeEnvelope(get("/api/records/stats"))
			Expect(string(env.Data)).To(MatchJSON(`{"total":3,"with_extracted_fields":2,"created_today":1}`))
		})
	})

	Describe("GET /api/records/export.csv", func() {
		BeforeEach(saveRecords)

		It("should download the records as CSV", func() {
			resp := get("/api/records/export.csv")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/csv"))
			Expect(resp.Header.Get("Content-Disposition")).To(Equal(`attachment; filename="records_20240610_093000.csv"`))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			lines := strings.Split(strings.TrimSpace(string(body)), "\n")
			Expect(lines).To(HaveLen(3))
			Expect(lines[0]).To(HavePrefix("id,filename,processing_time"))
		})
	})

	Describe("GET /api/records/export.xlsx", func() {
		BeforeEach(saveRecords)

		It("should download a workbook", func() {
			resp := get("/api/records/export.xlsx")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal(xlsxType))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(HavePrefix("PK"))
		})
	})

	Describe("GET /api/records/{id}", func() {
		BeforeEach(saveRecords)

		It("should return the record", func() {
			env := decodeEnvelope(get("/api/records/2"))
			var r record.Record
			Expect(json.Unmarshal(env.Data, &r)).To(Succeed())
			Expect(r.Filename).To(Equal("b.png"))
		})

		It("should return status Not Found for unknown ids", func() {
			resp := get("/api/records/99")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("should return status Bad Request for malformed ids", func() {
			resp := get("/api/records/abc")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("DELETE /api/records/{id}", func() {
		BeforeEach(saveRecords)

		It("should delete the record", func() {
			resp := do("DELETE", "/api/records/1")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeEnvelope(resp).Success).To(BeTrue())
			Expect(store.records).To(HaveLen(1))
		})

		It("should return status Not Found when nothing was deleted", func() {
			resp := do("DELETE", "/api/records/7")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decodeEnvelope(resp).Success).To(BeFalse())
		})
	})

	Describe("GET /api/backends", func() {
		It("should describe the backends", func() {
			env := decodeEnvelope(get("/api/backends"))
			Expect(string(env.Data)).To(MatchJSON(`{"backends":[{"backend":"Primary","name":"ollama","available":true}],"pdf_support":true}`))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do("OPTIONS", "/api/documents")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "clerk", Password: "s3cret"}
		})

		It("should reject requests without credentials", func() {
			resp := get("/api/records")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			resp.Body.Close()
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/records", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("clerk", "guess")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("should accept the configured credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/records", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("clerk:s3cret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})
})
