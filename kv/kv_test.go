package kv

import (
	"bytes"
	"fmt"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMem()
	if err != nil {
		t.Fatalf("received %s, expected nil", err.Error())
	}
	return db
}

func TestFamilyIsolation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	a := db.Family('c', "web")
	b := db.Family('a', "web")
	c := db.Family('c', "other")

	if err := a.Put([]byte("k"), []byte("captures")); err != nil {
		t.Fatal(err)
	}
	if err := b.Put([]byte("k"), []byte("aliases")); err != nil {
		t.Fatal(err)
	}

	v, ok, err := a.Get([]byte("k"))
	if err != nil || !ok || string(v) != "captures" {
		t.Errorf("got %q %v %v, expected captures", v, ok, err)
	}
	v, ok, err = b.Get([]byte("k"))
	if err != nil || !ok || string(v) != "aliases" {
		t.Errorf("got %q %v %v, expected aliases", v, ok, err)
	}
	if _, ok, _ := c.Get([]byte("k")); ok {
		t.Errorf("family for another collection sees the key")
	}
}

func TestScanOrderAndPrefix(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	fam := db.Family('c', "web")
	keys := []string{"a 1", "a 2", "ab 1", "b 1"}
	for _, k := range keys {
		if err := fam.Put([]byte(k), []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	var got []string
	it := fam.Scan()
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	it.Release()
	if it.Err() != nil {
		t.Fatal(it.Err())
	}
	if fmt.Sprint(got) != fmt.Sprint(keys) {
		t.Errorf("got %v, expected %v", got, keys)
	}

	got = nil
	it = fam.ScanPrefix([]byte("a "))
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	it.Release()
	if fmt.Sprint(got) != fmt.Sprint([]string{"a 1", "a 2"}) {
		t.Errorf("got %v, expected the two 'a' records", got)
	}
}

func TestLastKey(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	fam := db.Family('r', "web")
	if _, ok, err := fam.LastKey(); ok || err != nil {
		t.Errorf("got ok=%v err=%v on empty family", ok, err)
	}
	for _, k := range []string{"01", "02", "10"} {
		if err := fam.Put([]byte(k), nil); err != nil {
			t.Fatal(err)
		}
	}
	// a neighboring family must not leak into the scan
	if err := db.Family('s', "web").Put([]byte("99"), nil); err != nil {
		t.Fatal(err)
	}
	k, ok, err := fam.LastKey()
	if err != nil || !ok || !bytes.Equal(k, []byte("10")) {
		t.Errorf("got %q %v %v, expected 10", k, ok, err)
	}
}

func TestBatchAtomicAndLastWins(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	fam := db.Family('c', "web")
	batch := db.NewBatch()
	batch.Put(fam, []byte("k"), []byte("first"))
	batch.Put(fam, []byte("k"), []byte("second"))
	batch.Put(fam, []byte("other"), []byte("x"))

	// nothing visible until Write
	if _, ok, _ := fam.Get([]byte("k")); ok {
		t.Errorf("staged write visible before commit")
	}
	if err := batch.Write(); err != nil {
		t.Fatal(err)
	}
	v, ok, err := fam.Get([]byte("k"))
	if err != nil || !ok || string(v) != "second" {
		t.Errorf("got %q %v %v, expected second", v, ok, err)
	}
}

func TestBatchReset(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	fam := db.Family('c', "web")
	batch := db.NewBatch()
	batch.Put(fam, []byte("k"), []byte("v"))
	batch.Reset()
	if batch.Len() != 0 {
		t.Errorf("got %d staged writes after reset, expected 0", batch.Len())
	}
	if err := batch.Write(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := fam.Get([]byte("k")); ok {
		t.Errorf("discarded write was applied")
	}
}

func TestCloseIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Close(); err != nil {
		t.Fatalf("received %s, expected nil", err.Error())
	}
	if err := db.Close(); err != nil {
		t.Errorf("second close: received %s, expected nil", err.Error())
	}
}
