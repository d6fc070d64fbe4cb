package index

import (
	"github.com/pkg/errors"

	"github.com/ndlib/cdxd/access"
	"github.com/ndlib/cdxd/cdx"
	"github.com/ndlib/cdxd/kv"
)

// Index is one collection's capture index. Queries resolve aliases,
// scan the capture family in key order, and pass each record through
// the datastore-wide filter before it is surfaced.
type Index struct {
	Name   string
	Access *access.Store

	db       *kv.DB
	captures kv.Family
	aliases  kv.Family
	filter   cdx.Predicate
}

// Query returns the captures stored under the canonical form of url,
// oldest first. If the canonical key is an alias, the target's
// captures are returned instead; aliases resolve one step only. The
// extra filters are applied after the datastore filter; a capture must
// pass every one to be returned.
func (ix *Index) Query(url string, filters ...cdx.Predicate) (*Results, error) {
	surt := cdx.Canonicalize(url)
	if target, ok, err := ix.aliases.Get([]byte(surt)); err != nil {
		return nil, errors.Wrap(err, "index: resolve alias")
	} else if ok && string(target) != surt {
		surt = string(target)
	}
	chain := append([]cdx.Predicate{ix.filter}, filters...)
	return &Results{
		it:     ix.captures.ScanPrefix(append([]byte(surt), ' ')),
		filter: cdx.Chain(chain...),
	}, nil
}

// Results iterates the captures matching a query. The usual pattern:
//
//	for res.Next() {
//		use(res.Capture())
//	}
//	res.Close()
//	if res.Err() != nil { ... }
type Results struct {
	it      *kv.Iterator
	filter  cdx.Predicate
	current *cdx.Capture
	err     error
}

// Next advances to the next visible capture, reporting whether one
// exists. It stops permanently once an error is encountered.
func (r *Results) Next() bool {
	if r.err != nil {
		return false
	}
	for r.it.Next() {
		c, err := cdx.DecodeRow(r.it.Key(), r.it.Value())
		if err != nil {
			r.err = err
			return false
		}
		ok, err := r.filter(c)
		if err != nil {
			r.err = err
			return false
		}
		if ok {
			r.current = c
			return true
		}
	}
	return false
}

// Capture returns the record Next advanced to.
func (r *Results) Capture() *cdx.Capture { return r.current }

// Err returns the first decoding or filtering error, if any.
func (r *Results) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.it.Err()
}

// Close releases the underlying iterator.
func (r *Results) Close() { r.it.Release() }

// BeginUpdate starts an atomic batch of capture and alias writes.
// Nothing is visible until Commit.
func (ix *Index) BeginUpdate() *Batch {
	return &Batch{ix: ix, b: ix.db.NewBatch()}
}

// Batch accumulates one ingest's writes. Either Commit or Discard must
// be called; afterwards the batch must not be reused.
type Batch struct {
	ix       *Index
	b        *kv.Batch
	captures int
	aliases  int
}

// PutCapture stages a capture. A record with the same urlkey,
// timestamp, file and offset overwrites the earlier one.
func (b *Batch) PutCapture(c *cdx.Capture) {
	b.b.Put(b.ix.captures, c.EncodeKey(), c.EncodeValue())
	b.captures++
}

// PutAlias stages an alias from one URL to another. Both sides are
// canonicalized; queries for the alias return the target's captures.
func (b *Batch) PutAlias(alias, target string) {
	b.b.Put(b.ix.aliases, []byte(cdx.Canonicalize(alias)), []byte(cdx.Canonicalize(target)))
	b.aliases++
}

// Len returns the number of records staged so far.
func (b *Batch) Len() int { return b.captures + b.aliases }

// Commit atomically and durably applies the batch.
func (b *Batch) Commit() error {
	return b.b.Write()
}

// Discard drops every staged write, leaving the batch empty.
func (b *Batch) Discard() {
	b.b.Reset()
	b.captures, b.aliases = 0, 0
}

// Stats reports approximate on-disk sizes for the status page.
type Stats struct {
	CaptureBytes int64
	AliasBytes   int64
}

// Stats returns the collection's approximate storage footprint.
func (ix *Index) Stats() Stats {
	return Stats{
		CaptureBytes: ix.captures.SizeOf(),
		AliasBytes:   ix.aliases.SizeOf(),
	}
}
