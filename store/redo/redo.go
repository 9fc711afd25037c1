// Package redo implements the append-only redo log: a second memory-mapped
// file that records byte-range updates to the primary file as checksummed
// transactions.
//
// Transaction protocol:
//  1. Begin() reserves the tail transaction header and starts a digest.
//  2. Save(off, data) appends a redo record and folds it into the digest.
//  3. Commit(lazy) finalizes the digest into the header, publishes the
//     payload length, and advances the cached tail.
//
// A transaction is committed iff the MD5 of its payload equals the stored
// checksum. Recovery scans forward from the first transaction, applies every
// transaction that verifies, and treats the first mismatch as a torn tail:
// that transaction and everything after it is discarded.
package redo

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"hash"

	"github.com/shelfdb/shelf/internal/buf"
	"github.com/shelfdb/shelf/internal/format"
	"github.com/shelfdb/shelf/internal/mmfile"
)

// Log is an open redo-log file.
type Log struct {
	m    *mmfile.File
	tail uint64 // next append position
}

// Create creates a redo log at path with the given total size and writes its
// header page. The size bounds how much undurable work a session can buffer;
// appends past it fail with ErrRedoFull.
func Create(path string, size int64) (*Log, error) {
	if size < format.RedoHeaderSize+format.TrxHeaderSize {
		return nil, fmt.Errorf("redo: log size %d too small", size)
	}
	m, err := mmfile.Create(path, size)
	if err != nil {
		return nil, err
	}
	b := m.Bytes()
	copy(b[format.RedoOffMagic:], format.RedoMagic)
	buf.PutU64(b, format.RedoOffFirstTrx, format.RedoHeaderSize)
	buf.PutU64(b, format.RedoOffTail, format.RedoHeaderSize)
	if err := m.Sync(false); err != nil {
		_ = m.Close()
		return nil, err
	}
	return &Log{m: m, tail: format.RedoHeaderSize}, nil
}

// Open maps an existing redo log and validates its header. The cached tail is
// not trusted until Recover has re-derived it from the transaction chain.
func Open(path string) (*Log, error) {
	m, err := mmfile.Open(path)
	if err != nil {
		return nil, err
	}
	b := m.Bytes()
	if len(b) < format.RedoHeaderSize || !bytes.Equal(b[:format.MagicSize], format.RedoMagic) {
		_ = m.Close()
		return nil, fmt.Errorf("redo: %w", ErrBadMagic)
	}
	first := buf.U64(b, format.RedoOffFirstTrx)
	if first != format.RedoHeaderSize {
		_ = m.Close()
		return nil, fmt.Errorf("redo: %w: first transaction at %d", ErrBadMagic, first)
	}
	return &Log{m: m, tail: first}, nil
}

// Recover scans committed transactions in order and hands every redo record
// to apply. It stops at the first transaction whose checksum or record
// structure does not verify, resets the tail there, and reports how many
// transactions were applied and whether a torn tail was discarded.
func (l *Log) Recover(apply func(target uint64, data []byte) error) (applied int, torn bool, err error) {
	b := l.m.Bytes()
	off := uint64(format.RedoHeaderSize)
	size := uint64(l.m.Size())
	for {
		if off+format.TrxHeaderSize > size {
			break
		}
		length := buf.U64(b, int(off))
		if length == 0 {
			break
		}
		payloadStart := off + format.TrxHeaderSize
		if length > size-payloadStart {
			torn = true
			break
		}
		payload := b[payloadStart : payloadStart+length]
		sum := md5.Sum(payload)
		if !bytes.Equal(sum[:], b[off+8:off+8+format.ChecksumSize]) {
			torn = true
			break
		}
		records, ok := splitRecords(payload)
		if !ok {
			torn = true
			break
		}
		for _, r := range records {
			if err := apply(r.target, r.data); err != nil {
				return applied, torn, err
			}
		}
		applied++
		off = payloadStart + length
	}
	l.tail = off
	l.invalidateAt(off)
	buf.PutU64(b, format.RedoOffTail, l.tail)
	if err := l.m.Sync(false); err != nil {
		return applied, torn, err
	}
	return applied, torn, nil
}

type record struct {
	target uint64
	data   []byte
}

// splitRecords walks a verified payload and returns its records, refusing any
// structural overrun so a half-parsed transaction is never applied.
func splitRecords(payload []byte) ([]record, bool) {
	var out []record
	pos := 0
	for pos < len(payload) {
		if pos+format.RecordHeaderSize > len(payload) {
			return nil, false
		}
		target := buf.U64(payload, pos)
		n := buf.U64(payload, pos+8)
		pos += format.RecordHeaderSize
		if n > uint64(len(payload)-pos) {
			return nil, false
		}
		out = append(out, record{target: target, data: payload[pos : pos+int(n)]})
		pos += int(n)
	}
	return out, true
}

// Trx is one in-flight transaction.
type Trx struct {
	l      *Log
	start  uint64 // transaction header position
	pos    uint64 // next record position
	digest hash.Hash
	saved  int
}

// Begin reserves the tail transaction header and starts a streaming digest.
func (l *Log) Begin() *Trx {
	return &Trx{
		l:      l,
		start:  l.tail,
		pos:    l.tail + format.TrxHeaderSize,
		digest: md5.New(),
	}
}

// Save appends one redo record carrying the new contents of the target byte
// range. Fails with ErrRedoFull when the record would cross the mapping's end.
func (t *Trx) Save(target uint64, data []byte) error {
	need := uint64(format.RecordHeaderSize) + uint64(len(data))
	if t.pos+need > uint64(t.l.m.Size()) {
		return ErrRedoFull
	}
	b := t.l.m.Bytes()
	buf.PutU64(b, int(t.pos), target)
	buf.PutU64(b, int(t.pos)+8, uint64(len(data)))
	copy(b[t.pos+format.RecordHeaderSize:], data)
	t.digest.Write(b[t.pos : t.pos+need])
	t.pos += need
	t.saved++
	return nil
}

// Commit finalizes the digest into the transaction header and advances the
// cached tail. The payload length is published last so a torn commit reads as
// an absent transaction. A transaction with no records leaves the log
// untouched. With lazy set, the page sync is asynchronous.
func (t *Trx) Commit(lazy bool) error {
	if t.saved == 0 {
		return nil
	}
	b := t.l.m.Bytes()
	payloadStart := t.start + format.TrxHeaderSize
	copy(b[t.start+8:], t.digest.Sum(nil))
	buf.PutU64(b, int(t.start), t.pos-payloadStart)
	t.l.tail = t.pos
	t.l.invalidateAt(t.pos)
	buf.PutU64(b, format.RedoOffTail, t.l.tail)
	return t.l.m.Sync(lazy)
}

// Reset discards all logged transactions. Called after a clean header commit
// of the primary file, which supersedes everything in the log.
func (l *Log) Reset() error {
	l.tail = format.RedoHeaderSize
	l.invalidateAt(l.tail)
	buf.PutU64(l.m.Bytes(), format.RedoOffTail, l.tail)
	return l.m.Sync(false)
}

// invalidateAt zeroes the payload-length field at off so a recovery scan
// stops there instead of resurrecting a stale transaction left over from an
// earlier session.
func (l *Log) invalidateAt(off uint64) {
	b := l.m.Bytes()
	if off+8 <= uint64(len(b)) {
		buf.PutU64(b, int(off), 0)
	}
}

// Flush forces the log's pages to disk.
func (l *Log) Flush(async bool) error {
	return l.m.Sync(async)
}

// Close unmaps and closes the log file.
func (l *Log) Close() error {
	return l.m.Close()
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.m.Path()
}
