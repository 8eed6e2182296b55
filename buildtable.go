package rockyardkv

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/logging"
	"github.com/aalhour/rockyardkv/internal/table"
	"github.com/aalhour/rockyardkv/internal/vfs"
)

// InternalIterator is the minimal sorted-iteration contract BuildTable
// consumes: memtable.MemTableIterator and table.TableIterator both satisfy
// it, so either can be the source of a freshly built SST file.
type InternalIterator interface {
	Valid() bool
	SeekToFirst()
	Key() []byte
	Value() []byte
	Next()
	Error() error
}

// FileMetaData describes a table file produced by BuildTable.
type FileMetaData struct {
	Number   uint64
	FileSize uint64
	Smallest []byte // smallest internal key in the file
	Largest  []byte // largest internal key in the file
}

// TableFileName returns the on-disk name for table file number in dbname.
func TableFileName(dbname string, number uint64) string {
	return filepath.Join(dbname, fmt.Sprintf("%06d.ldb", number))
}

// BuildTable drains iter (already positioned over sorted internal keys)
// into a new SST file numbered fileNumber under dbname, and fills in the
// returned FileMetaData. If iter is empty, no file is created and the
// returned FileSize is zero. Any failure, or an empty result, deletes the
// partial file before returning the error.
func BuildTable(dbname string, fs vfs.FS, opts Options, fileNumber uint64, iter InternalIterator, cache *table.TableCache, logger logging.Logger) (meta FileMetaData, err error) {
	if logger == nil {
		logger = logging.NewDefaultLogger(logging.LevelInfo)
	}
	meta.Number = fileNumber

	iter.SeekToFirst()
	if !iter.Valid() {
		logger.Debugf("[buildtable] file %d: empty iterator, nothing to build", fileNumber)
		return meta, iter.Error()
	}

	if err := fs.MkdirAll(dbname, 0o755); err != nil {
		return meta, fmt.Errorf("buildtable: create db dir: %w", err)
	}

	fname := TableFileName(dbname, fileNumber)
	file, err := fs.Create(fname)
	if err != nil {
		return meta, fmt.Errorf("buildtable: create %s: %w", fname, err)
	}

	builderOpts := table.BuilderOptions{
		BlockSize:                 opts.BlockSize,
		BlockRestartInterval:      opts.BlockRestartInterval,
		IndexBlockRestartInterval: opts.IndexBlockRestartInterval,
		FilterBitsPerKey:          opts.FilterBitsPerKey,
		FilterBaseLg:              opts.FilterBaseLg,
		Compression:               opts.Compression,
		UserCompare:               opts.Comparator,
	}
	builder := table.NewTableBuilder(file, builderOpts)

	meta.Smallest = append([]byte(nil), iter.Key()...)

	var buildErr error
	for ; iter.Valid(); iter.Next() {
		key := iter.Key()
		if err := builder.Add(key, iter.Value()); err != nil {
			buildErr = fmt.Errorf("buildtable: add entry: %w", err)
			break
		}
		meta.Largest = append(meta.Largest[:0], key...)
	}
	if buildErr == nil {
		buildErr = iter.Error()
	}

	if buildErr == nil {
		if err := builder.Finish(); err != nil {
			buildErr = fmt.Errorf("buildtable: finish: %w", err)
		}
	} else {
		builder.Abandon()
	}

	if buildErr == nil {
		meta.FileSize = builder.FileSize()
	}

	if buildErr == nil {
		if err := file.Sync(); err != nil {
			buildErr = fmt.Errorf("buildtable: sync %s: %w", fname, err)
		}
	}
	if closeErr := file.Close(); closeErr != nil && buildErr == nil {
		buildErr = fmt.Errorf("buildtable: close %s: %w", fname, closeErr)
	}

	// Warm the table cache by opening an iterator over the new file: this
	// is verification as much as warming, so a failure here aborts the
	// build just like any other step. The cache entry is deliberately left
	// populated afterward rather than evicted.
	if buildErr == nil && cache != nil {
		warmIter, err := cache.NewIterator(fileNumber, fname)
		if err != nil {
			buildErr = fmt.Errorf("buildtable: warm cache for %s: %w", fname, err)
		} else {
			warmIter.SeekToFirst()
			if warmIter.Error() != nil {
				buildErr = fmt.Errorf("buildtable: verify %s: %w", fname, warmIter.Error())
			}
			cache.Release(fileNumber)
		}
	}

	if buildErr != nil || meta.FileSize == 0 {
		if buildErr != nil {
			logger.Errorf("[buildtable] file %d failed: %v", fileNumber, buildErr)
		} else {
			logger.Debugf("[buildtable] file %d: empty result, removing", fileNumber)
		}
		if rmErr := fs.Remove(fname); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warnf("[buildtable] failed to remove partial file %s: %v", fname, rmErr)
		}
		return meta, buildErr
	}

	logger.Infof("[buildtable] file %d: %d bytes, keys [%s, %s]",
		fileNumber, meta.FileSize, dbformat.ExtractUserKey(meta.Smallest), dbformat.ExtractUserKey(meta.Largest))

	return meta, nil
}
