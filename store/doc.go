// Package store implements an embedded, single-process persistent object
// store over one memory-mapped file.
//
// Applications declare a typed schema of structures, collections, and graph
// types when the file is created; the engine lays the values out in the file
// and hands back lightweight proxies that read and write the mapped bytes in
// place, without serialization on the access path. A reflective descriptor of
// every user-defined type is persisted alongside the data, so a reopened file
// reconstructs its schema and serves the same objects through the same
// operations that created them.
//
// # Layout
//
// The file starts with two fixed-size header slots; the clean slot with the
// highest revision names the current state: the bump-allocator high-water
// mark and the offsets of the string registry, the persisted type list, and
// the root value. Everything else is reached from those three roots through
// offsets. Offset zero means null; storage is never reclaimed within a file.
//
// # Durability
//
// A clean header commit (Flush, Close) is the only externally visible durable
// transition. With Options.Journal set, every mutation of mapped bytes is
// additionally recorded in an append-only redo log before it is applied; a
// reopen replays the committed log tail on top of the last clean header and
// discards a torn tail, so a crash loses at most the transactions after the
// first torn entry. Without the journal, in-place writes between commits are
// exposed to tearing and a crash falls back to the last clean header with no
// replay.
//
// # Proxies
//
// Every value handle carries (storage, type, offset) and resolves reads and
// writes against the storage's current mapping; operations on a handle after
// Close fail with ErrClosed. Handles returned by public accessors are tracked
// as live and must be released before Close, which otherwise fails with
// ErrProxies. The root, string registry, and persisted type list are exempt.
//
// A storage and its proxies are single-owner: no two goroutines may use them
// concurrently.
package store
