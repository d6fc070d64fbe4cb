// Package index stores and queries the capture index for each
// collection. A DataStore owns the shared database and hands out one
// Index per collection; an Index answers prefix queries over canonical
// URL keys and ingests batches of new captures and aliases.
package index

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/ndlib/cdxd/access"
	"github.com/ndlib/cdxd/cdx"
	"github.com/ndlib/cdxd/kv"
)

// ErrNoSuchCollection is returned by Get for names never created.
var ErrNoSuchCollection = errors.New("no such collection")

// Key space tags of the per-collection column families, plus the
// registry of collection names.
const (
	captureTag    = 'c'
	aliasTag      = 'a'
	ruleTag       = 'r'
	policyTag     = 'p'
	registryTag   = 'n'
	registryOwner = ""
)

// DataStore owns the database shared by every collection. Indexes are
// created lazily on first use and live for the life of the store.
type DataStore struct {
	db     *kv.DB
	filter cdx.Predicate // applied to every query across all collections

	mu      sync.Mutex
	indexes map[string]*Index
}

// Open opens (or creates) the datastore directory at path. The filter,
// which may be nil, is consulted on every capture returned by any
// collection's queries.
func Open(path string, filter cdx.Predicate) (*DataStore, error) {
	db, err := kv.Open(path)
	if err != nil {
		return nil, err
	}
	return New(db, filter)
}

// New builds a datastore over an already opened database. It is used
// by tests to run against a memory-backed database.
func New(db *kv.DB, filter cdx.Predicate) (*DataStore, error) {
	return &DataStore{
		db:      db,
		filter:  filter,
		indexes: make(map[string]*Index),
	}, nil
}

// Close releases the underlying database. All indexes handed out by
// the store are invalid afterwards.
func (ds *DataStore) Close() error {
	return ds.db.Close()
}

// validateName rejects collection names that cannot appear in URLs or
// that would break the family key encoding.
func validateName(name string) error {
	if name == "" {
		return errors.New("index: empty collection name")
	}
	if strings.ContainsAny(name, "/\x00") {
		return errors.Errorf("index: invalid collection name %q", name)
	}
	return nil
}

// Get returns the index for an existing collection, or
// ErrNoSuchCollection if the name was never created.
func (ds *DataStore) Get(name string) (*Index, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ix, ok := ds.indexes[name]; ok {
		return ix, nil
	}
	registry := ds.db.Family(registryTag, registryOwner)
	if _, ok, err := registry.Get([]byte(name)); err != nil {
		return nil, err
	} else if !ok {
		return nil, errors.Wrap(ErrNoSuchCollection, name)
	}
	return ds.open(name)
}

// GetOrCreate returns the index for a collection, registering the name
// on first use.
func (ds *DataStore) GetOrCreate(name string) (*Index, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ix, ok := ds.indexes[name]; ok {
		return ix, nil
	}
	registry := ds.db.Family(registryTag, registryOwner)
	if _, ok, err := registry.Get([]byte(name)); err != nil {
		return nil, err
	} else if !ok {
		if err := registry.Put([]byte(name), nil); err != nil {
			return nil, err
		}
	}
	return ds.open(name)
}

// open builds the Index for name. The caller holds ds.mu.
func (ds *DataStore) open(name string) (*Index, error) {
	acl, err := access.Open(
		ds.db.Family(ruleTag, name),
		ds.db.Family(policyTag, name),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "index: open %s", name)
	}
	ix := &Index{
		Name:     name,
		Access:   acl,
		db:       ds.db,
		captures: ds.db.Family(captureTag, name),
		aliases:  ds.db.Family(aliasTag, name),
		filter:   ds.filter,
	}
	ds.indexes[name] = ix
	return ix, nil
}

// ListCollections returns the names of every collection ever created,
// in ascending order.
func (ds *DataStore) ListCollections() ([]string, error) {
	var names []string
	it := ds.db.Family(registryTag, registryOwner).Scan()
	for it.Next() {
		names = append(names, string(it.Key()))
	}
	it.Release()
	if err := it.Err(); err != nil {
		return nil, errors.Wrap(err, "index: list collections")
	}
	sort.Strings(names)
	return names, nil
}

// Property exposes a database property for the status pages.
func (ds *DataStore) Property(name string) string {
	return ds.db.Property(name)
}
