// Package kv wraps a single LevelDB database and partitions its key
// space into logical column families. A family key is the family's
// one byte table tag, the owning collection's name, a zero byte, and
// then the record key. The tag and separator sort below record bytes,
// so ordering arguments about record keys hold unchanged within a
// family.
package kv

import (
	"sync"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// DB owns the LevelDB handle. All families and batches share it;
// closing the DB invalidates them.
type DB struct {
	ldb *leveldb.DB

	mu     sync.Mutex
	closed bool
}

// Open opens the database directory at path, creating it if absent.
func Open(path string) (*DB, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		raven.CaptureError(err, map[string]string{"Path": path})
		return nil, errors.Wrapf(err, "kv: open %s", path)
	}
	return &DB{ldb: ldb}, nil
}

// OpenMem returns a database backed entirely by memory. It is used by
// tests.
func OpenMem() (*DB, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "kv: open memory")
	}
	return &DB{ldb: ldb}, nil
}

// Close releases the underlying handle. It may be called more than
// once; only the first call has any effect.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.ldb.Close()
}

// Property returns the named LevelDB property, e.g. "leveldb.stats".
func (db *DB) Property(name string) string {
	s, err := db.ldb.GetProperty(name)
	if err != nil {
		return err.Error()
	}
	return s
}

// Family returns a handle on the key space for one logical table.
func (db *DB) Family(tag byte, name string) Family {
	prefix := make([]byte, 0, len(name)+2)
	prefix = append(prefix, tag)
	prefix = append(prefix, name...)
	prefix = append(prefix, 0)
	return Family{db: db, prefix: prefix}
}

// Family is a non-owning view of one logical table within the DB.
type Family struct {
	db     *DB
	prefix []byte
}

func (f Family) key(k []byte) []byte {
	out := make([]byte, 0, len(f.prefix)+len(k))
	out = append(out, f.prefix...)
	return append(out, k...)
}

// Get returns the value stored under k, reporting whether it exists.
func (f Family) Get(k []byte) ([]byte, bool, error) {
	v, err := f.db.ldb.Get(f.key(k), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		raven.CaptureError(err, nil)
		return nil, false, errors.Wrap(err, "kv: get")
	}
	return v, true, nil
}

// Put durably stores a single key. Multi-key updates should use a
// Batch instead.
func (f Family) Put(k, v []byte) error {
	err := f.db.ldb.Put(f.key(k), v, &opt.WriteOptions{Sync: true})
	if err != nil {
		raven.CaptureError(err, nil)
		return errors.Wrap(err, "kv: put")
	}
	return nil
}

// Delete durably removes a single key. Removing an absent key is not
// an error.
func (f Family) Delete(k []byte) error {
	err := f.db.ldb.Delete(f.key(k), &opt.WriteOptions{Sync: true})
	if err != nil {
		raven.CaptureError(err, nil)
		return errors.Wrap(err, "kv: delete")
	}
	return nil
}

// Scan iterates the whole family in ascending key order.
func (f Family) Scan() *Iterator {
	return f.ScanPrefix(nil)
}

// ScanPrefix iterates, in ascending key order, every record whose key
// begins with sub. The iterator sees a consistent snapshot of the
// database taken when ScanPrefix is called.
func (f Family) ScanPrefix(sub []byte) *Iterator {
	return &Iterator{
		it:   f.db.ldb.NewIterator(util.BytesPrefix(f.key(sub)), nil),
		trim: len(f.prefix),
	}
}

// LastKey returns the largest key in the family, for recovering
// monotone id counters on startup.
func (f Family) LastKey() ([]byte, bool, error) {
	it := f.db.ldb.NewIterator(util.BytesPrefix(f.prefix), nil)
	defer it.Release()
	if !it.Last() {
		return nil, false, errors.Wrap(it.Error(), "kv: seek last")
	}
	k := append([]byte(nil), it.Key()[len(f.prefix):]...)
	return k, true, nil
}

// SizeOf reports the approximate on-disk size of the family.
func (f Family) SizeOf() int64 {
	sizes, err := f.db.ldb.SizeOf([]util.Range{*util.BytesPrefix(f.prefix)})
	if err != nil {
		return 0
	}
	return sizes.Sum()
}

// Iterator walks records of a single family. Key and Value are only
// valid until the following call to Next; callers needing the bytes
// longer must copy them. Release must be called exactly once.
type Iterator struct {
	it   iterator.Iterator
	trim int
}

// Next advances to the first or next record, reporting whether one
// exists.
func (i *Iterator) Next() bool { return i.it.Next() }

// Key returns the current record key with the family prefix removed.
func (i *Iterator) Key() []byte { return i.it.Key()[i.trim:] }

// Value returns the current record value.
func (i *Iterator) Value() []byte { return i.it.Value() }

// Release frees the iterator's snapshot and buffers.
func (i *Iterator) Release() { i.it.Release() }

// Err returns the first internal error encountered while iterating.
func (i *Iterator) Err() error { return i.it.Error() }

// Batch stages writes in memory and applies them in one atomic,
// durable commit. Staging the same key twice keeps the later write.
type Batch struct {
	db *DB
	b  *leveldb.Batch
}

// NewBatch returns an empty write batch against the database.
func (db *DB) NewBatch() *Batch {
	return &Batch{db: db, b: new(leveldb.Batch)}
}

// Put stages a write of v under k in the given family.
func (b *Batch) Put(f Family, k, v []byte) { b.b.Put(f.key(k), v) }

// Delete stages removal of k in the given family.
func (b *Batch) Delete(f Family, k []byte) { b.b.Delete(f.key(k)) }

// Len returns the number of staged writes.
func (b *Batch) Len() int { return b.b.Len() }

// Write atomically applies the staged writes. The batch is durable
// when Write returns without error.
func (b *Batch) Write() error {
	err := b.db.ldb.Write(b.b, &opt.WriteOptions{Sync: true})
	if err != nil {
		raven.CaptureError(err, nil)
		return errors.Wrap(err, "kv: batch write")
	}
	return nil
}

// Reset discards all staged writes, leaving the batch reusable.
func (b *Batch) Reset() { b.b.Reset() }
