package record

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "records"

// BoltStore implements the Store interface using BoltDB
type BoltStore struct {
	db   *bbolt.DB
	opts options
}

// NewBoltStore opens or creates a BoltDB file at path
func NewBoltStore(path string, opts ...Option) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db, opts: buildOptions(opts)}, nil
}

// itob encodes an id so keys sort in insertion order
func itob(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// Save stores the record under the bucket's next sequence number
func (b *BoltStore) Save(r *Record) (uint64, error) {
	prepare(r, b.opts.now)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		id, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating id: %w", err)
		}
		r.ID = id
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return bucket.Put(itob(id), data)
	})
	if err != nil {
		r.ID = 0
		return 0, err
	}
	return r.ID, nil
}

// Get retrieves a record by id
func (b *BoltStore) Get(id uint64) (*Record, error) {
	var r *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get(itob(id))
		if data == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// each visits records newest first until fn returns false
func (b *BoltStore) each(fn func(r *Record) bool) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshaling record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if !fn(&r) {
				return nil
			}
		}
		return nil
	})
}

func (b *BoltStore) filter(match func(r *Record) bool) ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.each(func(r *Record) bool {
		if match(r) {
			records = append(records, r)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// List returns every record, newest first
func (b *BoltStore) List() ([]*Record, error) {
	return b.filter(func(*Record) bool { return true })
}

// Search returns records matching all set filters
func (b *BoltStore) Search(f Filters) ([]*Record, error) {
	return b.filter(f.Match)
}

// AdvancedSearch returns records matching the query
func (b *BoltStore) AdvancedSearch(q Query) ([]*Record, error) {
	return b.filter(q.Match)
}

// Delete removes a record
func (b *BoltStore) Delete(id uint64) (bool, error) {
	var existed bool
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get(itob(id)) == nil {
			return nil
		}
		existed = true
		return bucket.Delete(itob(id))
	})
	if err != nil {
		return false, fmt.Errorf("deleting record %d: %w", id, err)
	}
	return existed, nil
}

// Stats counts all records, those with extracted fields, and today's
func (b *BoltStore) Stats() (*Stats, error) {
	var stats Stats
	now := b.opts.now()
	today := dateOf(now)
	err := b.each(func(r *Record) bool {
		stats.Total++
		if r.HasExtractedFields() {
			stats.Extracted++
		}
		if dateOf(r.ProcessingTime.In(now.Location())) == today {
			stats.Today++
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
