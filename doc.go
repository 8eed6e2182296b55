/*
Package rockyardkv provides the building blocks of an LSM-tree storage
engine's write path: a varint/fixed-width encoding layer, a write-ahead
log framer, a block builder, a partitioned filter block, a sorted-string
table builder and reader, an arena-backed memtable, and a driver that
turns a sorted iterator into an on-disk table.

# Scope

This module covers table construction, not a full embedded database.
There is no version set, no compaction, no manifest, and no recovery
orchestration: those live one layer up, in a component that drives this
one. What is here is everything needed to take ordered key/value pairs
held in memory and durably turn them into an SST file, plus the memtable
and log writer that feed it.

# Usage

BuildTable (see buildtable.go) is the entry point most callers want: it
takes an iterator already positioned over sorted internal keys and
produces a single SST file plus the FileMetaData describing it. The
internal/table, internal/block, internal/wal, and internal/memtable
packages are usable independently for callers assembling their own
pipeline.

# Concurrency

A MemTable tolerates one writer concurrent with any number of readers,
via the underlying skip list's release-publish semantics; it performs no
I/O. A TableBuilder and a wal.Writer are each owned by exactly one
goroutine for their lifetime. Nothing in this module is safe for
concurrent writers.

# On-disk formats

SST files and log files follow the layouts described in the internal/table
(reader.go), internal/block and internal/wal packages; they are this module's own
format, not a byte-for-byte reproduction of any other engine's files.
*/
package rockyardkv
