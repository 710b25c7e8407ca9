// Package record persists extracted document records and answers queries
// over them.
package record

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/scan-ledger/internal/extraction"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("record not found")

// Record is one processed document unit.
type Record struct {
	ID             uint64            `json:"id"`
	Filename       string            `json:"filename"`
	SourcePath     string            `json:"source_path,omitempty"`
	ProcessingTime time.Time         `json:"processing_time"`
	Fields         extraction.Fields `json:"fields"`
	RawText        string            `json:"raw_text"`
	Backend        string            `json:"backend"`
	Confidence     float64           `json:"confidence"`
}

// HasExtractedFields reports whether any field holds a value.
func (r *Record) HasExtractedFields() bool {
	return r.Fields.Count() > 0
}

func (r *Record) field(f extraction.Field) string {
	v, _ := r.Fields.Get(f)
	return v
}

// Filters narrows Search. Empty values match everything; all set values must
// match as case-insensitive substrings.
type Filters struct {
	CustomerName    string
	CustomerID      string
	TransactionID   string
	CustomerCountry string
}

// Match reports whether r satisfies every set filter.
func (f Filters) Match(r *Record) bool {
	return containsFold(r.field(extraction.CustomerName), f.CustomerName) &&
		containsFold(r.field(extraction.CustomerID), f.CustomerID) &&
		containsFold(r.field(extraction.TransactionID), f.TransactionID) &&
		containsFold(r.field(extraction.CustomerCountry), f.CustomerCountry)
}

// Query narrows AdvancedSearch. Nil and empty values match everything.
type Query struct {
	// Keyword is searched in the raw text, filename, customer name and
	// transaction id.
	Keyword      string
	CustomerName string
	MinAmount    *float64
	MaxAmount    *float64
	// StartDate and EndDate bound the processing date, both inclusive.
	StartDate *time.Time
	EndDate   *time.Time
}

// Match reports whether r satisfies the query.
func (q Query) Match(r *Record) bool {
	if q.Keyword != "" &&
		!containsFold(r.RawText, q.Keyword) &&
		!containsFold(r.Filename, q.Keyword) &&
		!containsFold(r.field(extraction.CustomerName), q.Keyword) &&
		!containsFold(r.field(extraction.TransactionID), q.Keyword) {
		return false
	}
	if !containsFold(r.field(extraction.CustomerName), q.CustomerName) {
		return false
	}
	if !q.matchAmount(r) {
		return false
	}

	// Dates compare in the bound's own location.
	if q.StartDate != nil && dateOf(r.ProcessingTime.In(q.StartDate.Location())) < dateOf(*q.StartDate) {
		return false
	}
	if q.EndDate != nil && dateOf(r.ProcessingTime.In(q.EndDate.Location())) > dateOf(*q.EndDate) {
		return false
	}
	return true
}

// matchAmount excludes records without a readable amount once a bound is set.
func (q Query) matchAmount(r *Record) bool {
	if q.MinAmount == nil && q.MaxAmount == nil {
		return true
	}
	amount, ok := ParseAmount(r.field(extraction.TransactionAmount))
	if !ok {
		return false
	}
	if q.MinAmount != nil && amount < *q.MinAmount {
		return false
	}
	if q.MaxAmount != nil && amount > *q.MaxAmount {
		return false
	}
	return true
}

var amountNoise = strings.NewReplacer(",", "", "$", "", "￥", "", "¥", "", "€", "", "£", "", " ", "")

// ParseAmount reads an extracted amount such as "6,750.00" or "$1,200".
func ParseAmount(s string) (float64, bool) {
	s = amountNoise.Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Stats summarizes the store.
type Stats struct {
	Total     int `json:"total"`
	Extracted int `json:"with_extracted_fields"`
	Today     int `json:"created_today"`
}

func containsFold(s, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func dateOf(t time.Time) string {
	return t.Format("2006-01-02")
}
