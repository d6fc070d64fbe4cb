package index

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/ndlib/cdxd/access"
	"github.com/ndlib/cdxd/cdx"
	"github.com/ndlib/cdxd/kv"
)

func openTestStore(t *testing.T, filter cdx.Predicate) *DataStore {
	t.Helper()
	db, err := kv.OpenMem()
	if err != nil {
		t.Fatalf("received %s, expected nil", err.Error())
	}
	ds, err := New(db, filter)
	if err != nil {
		t.Fatalf("received %s, expected nil", err.Error())
	}
	return ds
}

func mustParse(t *testing.T, line string) *cdx.Capture {
	t.Helper()
	c, err := cdx.ParseCdxLine(line)
	if err != nil {
		t.Fatalf("received %s, expected nil", err.Error())
	}
	return c
}

func collect(t *testing.T, res *Results) []string {
	t.Helper()
	var out []string
	for res.Next() {
		out = append(out, res.Capture().String())
	}
	res.Close()
	if res.Err() != nil {
		t.Fatal(res.Err())
	}
	return out
}

const line1 = "- - 20200101000000 http://example.org/ text/html 200 sha1:AAA - - 1234 5678 file.warc.gz"
const line2 = "- - 20210101000000 http://example.org/ text/html 200 sha1:BBB - - 1234 9999 file2.warc.gz"

func TestIngestAndQuery(t *testing.T) {
	ds := openTestStore(t, nil)
	defer ds.Close()

	ix, err := ds.GetOrCreate("web")
	if err != nil {
		t.Fatal(err)
	}
	batch := ix.BeginUpdate()
	batch.PutCapture(mustParse(t, line2))
	batch.PutCapture(mustParse(t, line1))
	if err := batch.Commit(); err != nil {
		t.Fatal(err)
	}

	got := collect(t, query(t, ix, "http://example.org/"))
	if len(got) != 2 {
		t.Fatalf("got %d captures, expected 2", len(got))
	}
	// oldest first regardless of ingest order
	if got[0] != mustParse(t, line1).String() || got[1] != mustParse(t, line2).String() {
		t.Errorf("got %v out of order", got)
	}

	// the www form canonicalizes to the same key
	if got := collect(t, query(t, ix, "http://www.example.org/")); len(got) != 2 {
		t.Errorf("got %d captures for www form, expected 2", len(got))
	}
	// a longer urlkey must not appear under the shorter prefix
	if got := collect(t, query(t, ix, "http://example.org/page")); len(got) != 0 {
		t.Errorf("got %v for a different path, expected none", got)
	}
}

func query(t *testing.T, ix *Index, url string) *Results {
	t.Helper()
	res, err := ix.Query(url)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestOverwriteSameKey(t *testing.T) {
	ds := openTestStore(t, nil)
	defer ds.Close()
	ix, _ := ds.GetOrCreate("web")

	batch := ix.BeginUpdate()
	batch.PutCapture(mustParse(t, line1))
	batch.PutCapture(mustParse(t, line1))
	if err := batch.Commit(); err != nil {
		t.Fatal(err)
	}
	if got := collect(t, query(t, ix, "http://example.org/")); len(got) != 1 {
		t.Errorf("got %d captures, expected the duplicate collapsed to 1", len(got))
	}
}

func TestDiscard(t *testing.T) {
	ds := openTestStore(t, nil)
	defer ds.Close()
	ix, _ := ds.GetOrCreate("web")

	batch := ix.BeginUpdate()
	batch.PutCapture(mustParse(t, line1))
	batch.Discard()
	if batch.Len() != 0 {
		t.Errorf("got %d staged records after discard, expected 0", batch.Len())
	}
	if err := batch.Commit(); err != nil {
		t.Fatal(err)
	}
	if got := collect(t, query(t, ix, "http://example.org/")); len(got) != 0 {
		t.Errorf("got %v after discard, expected none", got)
	}
}

func TestAliases(t *testing.T) {
	ds := openTestStore(t, nil)
	defer ds.Close()
	ix, _ := ds.GetOrCreate("web")

	batch := ix.BeginUpdate()
	batch.PutCapture(mustParse(t, line1))
	batch.PutAlias("http://example.com/", "http://example.org/")
	if err := batch.Commit(); err != nil {
		t.Fatal(err)
	}

	if got := collect(t, query(t, ix, "http://example.com/")); len(got) != 1 {
		t.Errorf("got %d captures through the alias, expected 1", len(got))
	}

	// aliases resolve one hop only
	batch = ix.BeginUpdate()
	batch.PutAlias("http://example.net/", "http://example.com/")
	if err := batch.Commit(); err != nil {
		t.Fatal(err)
	}
	if got := collect(t, query(t, ix, "http://example.net/")); len(got) != 0 {
		t.Errorf("got %v through two hops, expected none", got)
	}

	// an alias pointing at itself behaves as no alias
	batch = ix.BeginUpdate()
	batch.PutAlias("http://example.org/", "http://example.org/")
	if err := batch.Commit(); err != nil {
		t.Fatal(err)
	}
	if got := collect(t, query(t, ix, "http://example.org/")); len(got) != 1 {
		t.Errorf("got %d captures under a self alias, expected 1", len(got))
	}
}

func TestDataStoreFilter(t *testing.T) {
	blockBBB := func(c *cdx.Capture) (bool, error) {
		return c.Digest != "sha1:BBB", nil
	}
	ds := openTestStore(t, blockBBB)
	defer ds.Close()
	ix, _ := ds.GetOrCreate("web")

	batch := ix.BeginUpdate()
	batch.PutCapture(mustParse(t, line1))
	batch.PutCapture(mustParse(t, line2))
	if err := batch.Commit(); err != nil {
		t.Fatal(err)
	}
	got := collect(t, query(t, ix, "http://example.org/"))
	if len(got) != 1 || got[0] != mustParse(t, line1).String() {
		t.Errorf("got %v, expected only the unblocked capture", got)
	}
}

func TestFilterError(t *testing.T) {
	boom := errors.New("oracle down")
	ds := openTestStore(t, func(c *cdx.Capture) (bool, error) { return false, boom })
	defer ds.Close()
	ix, _ := ds.GetOrCreate("web")

	batch := ix.BeginUpdate()
	batch.PutCapture(mustParse(t, line1))
	if err := batch.Commit(); err != nil {
		t.Fatal(err)
	}
	res := query(t, ix, "http://example.org/")
	if res.Next() {
		t.Errorf("capture surfaced despite a failing filter")
	}
	res.Close()
	if res.Err() != boom {
		t.Errorf("got %v, expected the filter error", res.Err())
	}
}

func TestCollections(t *testing.T) {
	ds := openTestStore(t, nil)
	defer ds.Close()

	if _, err := ds.Get("web"); errors.Cause(err) != ErrNoSuchCollection {
		t.Errorf("got %v, expected ErrNoSuchCollection", err)
	}
	for _, name := range []string{"web", "audio"} {
		if _, err := ds.GetOrCreate(name); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := ds.Get("web"); err != nil {
		t.Errorf("got %v fetching an existing collection", err)
	}

	names, err := ds.ListCollections()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "audio" || names[1] != "web" {
		t.Errorf("got %v, expected [audio web]", names)
	}

	for _, bad := range []string{"", "a/b", "a\x00b"} {
		if _, err := ds.GetOrCreate(bad); err == nil {
			t.Errorf("name %q was accepted", bad)
		}
	}
}

func TestCollectionIsolation(t *testing.T) {
	ds := openTestStore(t, nil)
	defer ds.Close()

	web, _ := ds.GetOrCreate("web")
	other, _ := ds.GetOrCreate("other")
	batch := web.BeginUpdate()
	batch.PutCapture(mustParse(t, line1))
	if err := batch.Commit(); err != nil {
		t.Fatal(err)
	}
	if got := collect(t, query(t, other, "http://example.org/")); len(got) != 0 {
		t.Errorf("got %v from a sibling collection, expected none", got)
	}
}

func TestReopenPersistence(t *testing.T) {
	dir := t.TempDir()
	ds, err := Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	ix, err := ds.GetOrCreate("web")
	if err != nil {
		t.Fatal(err)
	}
	batch := ix.BeginUpdate()
	batch.PutCapture(mustParse(t, line1))
	if err := batch.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := ds.Close(); err != nil {
		t.Fatal(err)
	}

	ds, err = Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()
	ix, err = ds.Get("web")
	if err != nil {
		t.Fatalf("collection lost across reopen: %s", err)
	}
	if got := collect(t, query(t, ix, "http://example.org/")); len(got) != 1 {
		t.Errorf("got %d captures after reopen, expected 1", len(got))
	}
}

func TestAccessRulesPerCollection(t *testing.T) {
	ds := openTestStore(t, nil)
	defer ds.Close()

	web, _ := ds.GetOrCreate("web")
	if web.Access == nil {
		t.Fatal("collection has no access store")
	}
	if len(web.Access.Policies()) != 3 {
		t.Errorf("got %d default policies, expected 3", len(web.Access.Policies()))
	}
	other, _ := ds.GetOrCreate("other")
	staff := web.Access.Policies()[1].ID
	if _, err := web.Access.PutRule(&access.Rule{PolicyID: staff, Surts: []string{"org,example)/"}}); err != nil {
		t.Fatal(err)
	}
	if got := len(other.Access.Rules()); got != 0 {
		t.Errorf("got %d rules in a sibling collection, expected 0", got)
	}
}
