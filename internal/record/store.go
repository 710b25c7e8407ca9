package record

import "time"

// Store defines the interface for record persistence
type Store interface {
	// Save assigns an id to r, fills in its processing time when unset and
	// computes its confidence, then persists it.
	Save(r *Record) (uint64, error)

	// Get retrieves a record by id
	Get(id uint64) (*Record, error)

	// List returns every record, newest first
	List() ([]*Record, error)

	// Search returns records matching all set filters, newest first
	Search(f Filters) ([]*Record, error)

	// AdvancedSearch returns records matching the query, newest first
	AdvancedSearch(q Query) ([]*Record, error)

	// Delete removes a record and reports whether it existed
	Delete(id uint64) (bool, error)

	// Stats summarizes the stored records
	Stats() (*Stats, error)

	// Close closes the underlying database
	Close() error
}

type options struct {
	now func() time.Time
}

// Option customises a Store.
type Option func(*options)

// WithClock sets the time source used for processing times and daily stats.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// prepare fills the fields Save is responsible for.
func prepare(r *Record, now func() time.Time) {
	if r.ProcessingTime.IsZero() {
		r.ProcessingTime = now()
	}
	r.Confidence = r.Fields.Confidence()
}
