package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/scan-ledger/internal/artifact"
	"github.com/zombor/scan-ledger/internal/batch"
	"github.com/zombor/scan-ledger/internal/record"
	"github.com/zombor/scan-ledger/internal/scanning"
)

// maxUploadSize caps uploads. Archives of phone photos get large.
const maxUploadSize = int64(100 << 20)

const (
	dateLayout = "2006-01-02"
	xlsxType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// response is the JSON envelope of every API answer.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, response{Success: false, Message: message})
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, response{Success: true, Data: data})
}

// handleUpload accepts a multipart upload in the "file" field. Optional
// "format" (json, txt, xlsx) and "hint" (document, table) fields tune it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File is too large. Maximum size is %dMB.", maxUploadSize>>20))
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	format, err := artifact.ParseFormat(r.FormValue("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hint, err := scanning.ParseHint(r.FormValue("hint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	processed, err := s.service.Process(r.Context(), Upload{
		Filename:    header.Filename,
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Format:      format,
		Hint:        hint,
	})
	if err != nil {
		writeError(w, uploadErrorStatus(err), err.Error())
		return
	}

	code := http.StatusOK
	if processed.Succeeded() {
		code = http.StatusCreated
	}
	writeJSON(w, code, response{
		Success: processed.Succeeded(),
		Message: processed.Summary(),
		Data:    processed,
	})
}

func uploadErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrEmptyUpload),
		errors.Is(err, ErrUnsupportedType),
		errors.Is(err, batch.ErrArchiveUnreadable),
		errors.Is(err, batch.ErrArchiveEmpty),
		errors.Is(err, batch.ErrNoPages):
		return http.StatusBadRequest
	case errors.Is(err, batch.ErrNoRasterizer):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// handleListRecords returns every record, newest first
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.List()
	if err != nil {
		slog.Error("Error listing records", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeData(w, nonNil(records))
}

// handleSearch filters records by customer_name, customer_id, transaction_id
// and customer_country
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records, err := s.service.Search(record.Filters{
		CustomerName:    strings.TrimSpace(q.Get("customer_name")),
		CustomerID:      strings.TrimSpace(q.Get("customer_id")),
		TransactionID:   strings.TrimSpace(q.Get("transaction_id")),
		CustomerCountry: strings.TrimSpace(q.Get("customer_country")),
	})
	if err != nil {
		slog.Error("Error searching records", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeData(w, nonNil(records))
}

// handleAdvancedSearch filters records by keyword, customer_name, amount range
// and processing date range
func (s *Server) handleAdvancedSearch(w http.ResponseWriter, r *http.Request) {
	query, err := parseQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.service.AdvancedSearch(query)
	if err != nil {
		slog.Error("Error searching records", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeData(w, nonNil(records))
}

// parseQuery reads the advanced search parameters.
func parseQuery(v url.Values) (record.Query, error) {
	q := record.Query{
		Keyword:      strings.TrimSpace(v.Get("keyword")),
		CustomerName: strings.TrimSpace(v.Get("customer_name")),
	}

	amounts := []struct {
		param string
		dest  **float64
	}{
		{"min_amount", &q.MinAmount},
		{"max_amount", &q.MaxAmount},
	}
	for _, a := range amounts {
		raw := strings.TrimSpace(v.Get(a.param))
		if raw == "" {
			continue
		}
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return q, fmt.Errorf("invalid %s %q", a.param, raw)
		}
		*a.dest = &n
	}

	dates := []struct {
		param string
		dest  **time.Time
	}{
		{"start_date", &q.StartDate},
		{"end_date", &q.EndDate},
	}
	for _, d := range dates {
		raw := strings.TrimSpace(v.Get(d.param))
		if raw == "" {
			continue
		}
		t, err := time.ParseInLocation(dateLayout, raw, time.Local)
		if err != nil {
			return q, fmt.Errorf("invalid %s %q, expected YYYY-MM-DD", d.param, raw)
		}
		*d.dest = &t
	}
	return q, nil
}

// handleStats returns record counts
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats()
	if err != nil {
		slog.Error("Error getting stats", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeData(w, stats)
}

// handleExportCSV downloads the records matching the advanced search
// parameters as CSV
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, "csv", "text/csv; charset=utf-8", s.service.ExportCSV)
}

// handleExportXLSX downloads the records matching the advanced search
// parameters as a spreadsheet
func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, "xlsx", xlsxType, s.service.ExportXLSX)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request, ext, contentType string, write func(io.Writer, record.Query) error) {
	query, err := parseQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Buffer so a failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := write(&buf, query); err != nil {
		slog.Error("Error exporting records", "format", ext, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	filename := fmt.Sprintf("records_%s.%s", s.service.timeSource.Now().Format("20060102_150405"), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("Error writing export", "format", ext, "error", err)
	}
}

// handleGetRecord returns a single record
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	rec, err := s.service.Get(id)
	if errors.Is(err, record.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}
	if err != nil {
		slog.Error("Error getting record", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeData(w, rec)
}

// handleDeleteRecord deletes a record
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	existed, err := s.service.Delete(id)
	if err != nil {
		slog.Error("Error deleting record", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Error deleting record")
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Record deleted"})
}

// handleBackends describes the recognition backends
func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.service.Backends())
}

func recordID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "Invalid record ID")
		return 0, false
	}
	return id, true
}

// nonNil keeps empty results encoding as [] rather than null.
func nonNil(records []*record.Record) []*record.Record {
	if records == nil {
		return []*record.Record{}
	}
	return records
}
