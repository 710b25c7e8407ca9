package record

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zombor/scan-ledger/internal/extraction"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	filename           TEXT NOT NULL,
	source_path        TEXT NOT NULL DEFAULT '',
	processing_time    INTEGER NOT NULL,
	customer_name      TEXT,
	customer_id        TEXT,
	transaction_id     TEXT,
	transaction_amount TEXT,
	payment_date       TEXT,
	document_timestamp TEXT,
	customer_country   TEXT,
	raw_text           TEXT NOT NULL DEFAULT '',
	backend            TEXT NOT NULL DEFAULT '',
	confidence         REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_records_processing_time ON records(processing_time);
`

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

const columns = `id, filename, source_path, processing_time,
	customer_name, customer_id, transaction_id, transaction_amount,
	payment_date, document_timestamp, customer_country,
	raw_text, backend, confidence`

// fieldColumns maps every extraction field to its column, in FieldOrder.
var fieldColumns = func() []string {
	cols := make([]string, len(extraction.FieldOrder))
	for i, f := range extraction.FieldOrder {
		cols[i] = string(f)
	}
	return cols
}()

// SQLiteStore implements the Store interface on an SQLite database
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// NewSQLiteStore opens or creates an SQLite database at path. Use ":memory:"
// for a throwaway database.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One connection serializes writes and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db, opts: buildOptions(opts)}, nil
}

func nullable(v string, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

// Save inserts the record as a single row
func (s *SQLiteStore) Save(r *Record) (uint64, error) {
	prepare(r, s.opts.now)

	args := []any{r.Filename, r.SourcePath, r.ProcessingTime.UnixNano()}
	for _, f := range extraction.FieldOrder {
		args = append(args, nullable(r.Fields.Get(f)))
	}
	args = append(args, r.RawText, r.Backend, r.Confidence)

	res, err := s.db.Exec(`INSERT INTO records (filename, source_path, processing_time, `+
		strings.Join(fieldColumns, ", ")+`, raw_text, backend, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading record id: %w", err)
	}
	r.ID = uint64(id)
	return r.ID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r      Record
		nanos  int64
		values = make([]sql.NullString, len(extraction.FieldOrder))
	)
	dest := []any{&r.ID, &r.Filename, &r.SourcePath, &nanos}
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &r.RawText, &r.Backend, &r.Confidence)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	r.ProcessingTime = time.Unix(0, nanos)
	r.Fields = extraction.Fields{}
	for i, f := range extraction.FieldOrder {
		if values[i].Valid && values[i].String != "" {
			r.Fields[f] = values[i].String
		}
	}
	return &r, nil
}

func (s *SQLiteStore) query(where []string, args ...any) ([]*Record, error) {
	q := "SELECT " + columns + " FROM records"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

// Get retrieves a record by id
func (s *SQLiteStore) Get(id uint64) (*Record, error) {
	row := s.db.QueryRow("SELECT "+columns+" FROM records WHERE id = ?", id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %d: %w", id, err)
	}
	return r, nil
}

// List returns every record, newest first
func (s *SQLiteStore) List() ([]*Record, error) {
	return s.query(nil)
}

// Search returns records matching all set filters. Matching runs in Go:
// SQLite's lower() only folds ASCII.
func (s *SQLiteStore) Search(f Filters) ([]*Record, error) {
	records, err := s.query(nil)
	if err != nil {
		return nil, err
	}
	return keep(records, f.Match), nil
}

// AdvancedSearch narrows by processing date in SQL and applies the text and
// amount filters after loading, since stored amounts keep their original
// formatting.
func (s *SQLiteStore) AdvancedSearch(q Query) ([]*Record, error) {
	var (
		where []string
		args  []any
	)
	if q.StartDate != nil {
		where = append(where, "processing_time >= ?")
		args = append(args, startOfDay(*q.StartDate).UnixNano())
	}
	if q.EndDate != nil {
		where = append(where, "processing_time < ?")
		args = append(args, startOfDay(*q.EndDate).AddDate(0, 0, 1).UnixNano())
	}

	records, err := s.query(where, args...)
	if err != nil {
		return nil, err
	}
	return keep(records, q.Match), nil
}

func keep(records []*Record, match func(*Record) bool) []*Record {
	matched := records[:0]
	for _, r := range records {
		if match(r) {
			matched = append(matched, r)
		}
	}
	return matched
}

// Delete removes a record
func (s *SQLiteStore) Delete(id uint64) (bool, error) {
	res, err := s.db.Exec("DELETE FROM records WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting record %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting record %d: %w", id, err)
	}
	return n > 0, nil
}

// Stats counts all records, those with extracted fields, and today's
func (s *SQLiteStore) Stats() (*Stats, error) {
	present := make([]string, len(fieldColumns))
	for i, c := range fieldColumns {
		present[i] = fmt.Sprintf("coalesce(%s, '') <> ''", c)
	}
	today := startOfDay(s.opts.now())

	var stats Stats
	err := s.db.QueryRow(`SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN `+strings.Join(present, " OR ")+` THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN processing_time >= ? AND processing_time < ? THEN 1 ELSE 0 END), 0)
		FROM records`,
		today.UnixNano(), today.AddDate(0, 0, 1).UnixNano(),
	).Scan(&stats.Total, &stats.Extracted, &stats.Today)
	if err != nil {
		return nil, fmt.Errorf("computing stats: %w", err)
	}
	return &stats, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
