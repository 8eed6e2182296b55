package rockyardkv

import (
	"path/filepath"
	"testing"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/memtable"
	"github.com/aalhour/rockyardkv/internal/table"
	"github.com/aalhour/rockyardkv/internal/vfs"
)

func fillMemTable(mt *memtable.MemTable, n int) {
	for i := 0; i < n; i++ {
		key := []byte{byte('a' + i)}
		value := []byte{byte('v'), byte('a' + i)}
		mt.Add(dbformat.SequenceNumber(100+i), dbformat.TypeValue, key, value)
	}
}

func TestBuildTableBasic(t *testing.T) {
	dbname := t.TempDir()
	fs := vfs.Default()
	opts := DefaultOptions()

	mt := memtable.NewMemTable(memtable.BytewiseComparator)
	fillMemTable(mt, 10)

	cache := table.NewTableCache(fs, table.DefaultTableCacheOptions())
	defer cache.Close()

	meta, err := BuildTable(dbname, fs, opts, 1, mt.NewIterator(), cache, nil)
	if err != nil {
		t.Fatalf("BuildTable() error = %v", err)
	}

	if meta.FileSize == 0 {
		t.Error("FileSize = 0, want > 0")
	}
	if meta.Number != 1 {
		t.Errorf("Number = %d, want 1", meta.Number)
	}
	if !fs.Exists(TableFileName(dbname, 1)) {
		t.Error("table file was not created")
	}

	wantSmallest := []byte{'a'}
	wantLargest := []byte{'a' + 9}
	if got := dbformat.ExtractUserKey(meta.Smallest); string(got) != string(wantSmallest) {
		t.Errorf("Smallest user key = %q, want %q", got, wantSmallest)
	}
	if got := dbformat.ExtractUserKey(meta.Largest); string(got) != string(wantLargest) {
		t.Errorf("Largest user key = %q, want %q", got, wantLargest)
	}

	// The cache entry should still be usable after BuildTable returns.
	reader, err := cache.Get(1, TableFileName(dbname, 1))
	if err != nil {
		t.Fatalf("cache.Get() after build failed: %v", err)
	}
	iter := reader.NewIterator()
	iter.SeekToFirst()
	if !iter.Valid() {
		t.Error("expected readable table after BuildTable warmed the cache")
	}
	cache.Release(1)
}

func TestBuildTableEmptyIterator(t *testing.T) {
	dbname := t.TempDir()
	fs := vfs.Default()
	opts := DefaultOptions()

	mt := memtable.NewMemTable(memtable.BytewiseComparator)

	meta, err := BuildTable(dbname, fs, opts, 1, mt.NewIterator(), nil, nil)
	if err != nil {
		t.Fatalf("BuildTable() error = %v", err)
	}
	if meta.FileSize != 0 {
		t.Errorf("FileSize = %d, want 0 for empty input", meta.FileSize)
	}
	if fs.Exists(TableFileName(dbname, 1)) {
		t.Error("no file should be created for an empty iterator")
	}
}

func TestBuildTableCreatesNestedDir(t *testing.T) {
	dbname := t.TempDir()
	fs := vfs.Default()
	opts := DefaultOptions()

	mt := memtable.NewMemTable(memtable.BytewiseComparator)
	fillMemTable(mt, 3)

	// A nonexistent db directory two levels deep still works: BuildTable
	// must create the directory itself.
	nested := filepath.Join(dbname, "nested", "deeper")

	meta, err := BuildTable(nested, fs, opts, 7, mt.NewIterator(), nil, nil)
	if err != nil {
		t.Fatalf("BuildTable() error = %v", err)
	}
	if !fs.Exists(TableFileName(nested, 7)) {
		t.Error("expected table file in nested directory")
	}
	if meta.FileSize == 0 {
		t.Error("FileSize = 0, want > 0")
	}
}

func TestTableFileName(t *testing.T) {
	got := TableFileName("/data/db", 42)
	want := filepath.Join("/data/db", "000042.ldb")
	if got != want {
		t.Errorf("TableFileName() = %q, want %q", got, want)
	}
}
