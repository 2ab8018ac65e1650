// Package wal implements LogStore: a fixed-count ring of fixed-size
// segments with lock-free CAS reservation for log-record writes and a
// single background worker that fsyncs sealed segments in order (spec
// §4.7).
package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/arcanedb/arcanedb/pkg/fs"
)

const (
	defaultSegmentCount = 4
	defaultSegmentSize  = 4 << 20 // 4 MiB
)

// Options configures a LogStore.
type Options struct {
	// SegmentCount is the fixed number of ring slots. Defaults to 4.
	SegmentCount int
	// SegmentSize bounds each segment's contiguous write buffer in bytes.
	// Defaults to 4 MiB.
	SegmentSize int
	// ShouldSync gates whether a sealed segment is fsynced before being
	// marked free (spec §4.7 should_sync_file).
	ShouldSync bool
	// FS is the filesystem backing segment files. Defaults to fs.NewReal().
	FS fs.FS
	// Dir is the directory segment files are written under. Required if
	// ShouldSync is true.
	Dir string
}

type segment struct {
	base    uint64
	buf     []byte
	control atomic.Uint64
	inUse   atomic.Bool
	synced  atomic.Bool
}

// LogStore is the lock-free segmented WAL described in spec §4.7.
type LogStore struct {
	segSize    int
	shouldSync bool
	fsys       fs.FS
	dir        string

	segments []*segment
	cursor   atomic.Int64
	totalLen atomic.Uint64

	ioQueue chan *segment
	ioDone  sync.WaitGroup

	persistentLsn atomic.Uint64
}

// New constructs and starts a LogStore's background fsync worker.
func New(opts Options) *LogStore {
	segCount := opts.SegmentCount
	if segCount <= 0 {
		segCount = defaultSegmentCount
	}

	segSize := opts.SegmentSize
	if segSize <= 0 {
		segSize = defaultSegmentSize
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	l := &LogStore{
		segSize:    segSize,
		shouldSync: opts.ShouldSync,
		fsys:       fsys,
		dir:        opts.Dir,
		segments:   make([]*segment, segCount),
		ioQueue:    make(chan *segment, segCount),
	}

	for i := range l.segments {
		l.segments[i] = &segment{buf: make([]byte, segSize)}
	}

	l.segments[0].inUse.Store(true)
	l.totalLen.Store(uint64(segSize))

	l.ioDone.Add(1)

	go l.ioWorker()

	return l
}

// Append reserves space for payload, writes it into the ring, and returns
// its assigned LSN (spec §4.7 steps 1-4). An error is returned if payload
// exceeds the 16-bit length field or the record cannot fit in an empty
// segment.
func (l *LogStore) Append(payload []byte) (uint64, error) {
	if len(payload) > int(^uint16(0)) {
		return 0, fmt.Errorf("wal: payload of %d bytes exceeds the 16-bit length field", len(payload))
	}

	recordLen := uint64(recordHeaderSize + len(payload))
	if recordLen > uint64(l.segSize) {
		return 0, fmt.Errorf("wal: record of %d bytes does not fit in a %d-byte segment", recordLen, l.segSize)
	}

	for {
		idx := l.cursor.Load()
		seg := l.segments[int(idx)%len(l.segments)]

		old := seg.control.Load()

		sealed, writerCount, offset := unpackControlWord(old)
		if sealed {
			runtime.Gosched()

			continue
		}

		newOffset := offset + recordLen
		if newOffset > uint64(l.segSize) {
			sealedWord := packControlWord(true, writerCount, offset)
			if seg.control.CompareAndSwap(old, sealedWord) {
				// With no writer left to drain it, no release() will see
				// the sealed segment, so the sealer hands it over itself.
				if writerCount == 0 {
					l.ioQueue <- seg
				}

				l.openNextSegment(idx)
			}

			continue
		}

		if writerCount >= maxWriterCount {
			runtime.Gosched()

			continue
		}

		newWord := packControlWord(false, writerCount+1, newOffset)
		if !seg.control.CompareAndSwap(old, newWord) {
			continue
		}

		lsn := seg.base + offset
		copy(seg.buf[offset:], encodeRecord(lsn, payload))

		l.release(seg)

		return lsn, nil
	}
}

// release performs step 5: CAS-decrement writer_count, and if this was the
// last writer of a sealed segment, hands it to the background fsync worker.
func (l *LogStore) release(seg *segment) {
	for {
		old := seg.control.Load()

		sealed, writerCount, offset := unpackControlWord(old)
		newWord := packControlWord(sealed, writerCount-1, offset)

		if seg.control.CompareAndSwap(old, newWord) {
			if sealed && writerCount == 1 {
				l.ioQueue <- seg
			}

			return
		}
	}
}

// openNextSegment is run by the writer that observed the sealing
// transition: it moves the ring cursor to the next slot and resets that
// slot's control word, spin-waiting if the slot is still draining from its
// previous generation (spec §4.7's bounded "wait for segment open").
func (l *LogStore) openNextSegment(sealedIdx int64) {
	nextIdx := sealedIdx + 1
	next := l.segments[int(nextIdx)%len(l.segments)]

	for next.inUse.Load() {
		runtime.Gosched()
	}

	next.base = l.totalLen.Add(uint64(l.segSize)) - uint64(l.segSize)
	next.control.Store(0)
	next.synced.Store(false)
	next.inUse.Store(true)

	l.cursor.CompareAndSwap(sealedIdx, nextIdx)
}

// ioWorker fsyncs sealed, fully-drained segments strictly in seal order
// (the channel is FIFO), which keeps GetPersistentLsn's "greatest
// contiguous LSN" property trivially true without cross-segment
// coordination.
func (l *LogStore) ioWorker() {
	defer l.ioDone.Done()

	for seg := range l.ioQueue {
		_, _, offset := unpackControlWord(seg.control.Load())

		if l.shouldSync {
			_ = l.persistSegment(seg, offset)
		}

		seg.synced.Store(true)
		l.persistentLsn.Store(seg.base + offset)
		seg.inUse.Store(false)
	}
}

func (l *LogStore) persistSegment(seg *segment, writtenLen uint64) error {
	name := filepath.Join(l.dir, fmt.Sprintf("wal-%020d.seg", seg.base))

	f, err := l.fsys.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("wal: opening segment file %s: %w", name, err)
	}
	defer f.Close()

	if _, err := f.Write(seg.buf[:writtenLen]); err != nil {
		return fmt.Errorf("wal: writing segment file %s: %w", name, err)
	}

	if err := fdatasync(f.Fd()); err != nil {
		return fmt.Errorf("wal: fsyncing segment file %s: %w", name, err)
	}

	return nil
}

// GetPersistentLsn returns the greatest contiguous LSN whose backing
// segment has completed IO (spec §4.7). Satisfies flusher.PersistentLSNSource.
func (l *LogStore) GetPersistentLsn() uint64 {
	return l.persistentLsn.Load()
}

// Close stops accepting new sealed segments and waits for the background
// fsync worker to finish any in-flight IO.
func (l *LogStore) Close() {
	close(l.ioQueue)
	l.ioDone.Wait()
}

// ReadAll scans wal-*.seg files under dir in base-offset order and decodes
// every well-formed record, stopping at the first truncated (torn) tail
// record — the tail of whichever segment file was last written before a
// crash (spec §8: "there exists an LSN L ... recovery replay of [L+1, ∞)
// produces the same page state").
func ReadAll(fsys fs.FS, dir string) ([]Record, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("wal: reading segment directory %s: %w", dir, err)
	}

	var names []string

	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".seg" {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names) // lexicographic == base-offset order, given the zero-padded name

	var records []Record

	for _, name := range names {
		data, err := fsys.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("wal: reading segment file %s: %w", name, err)
		}

		for off := 0; off < len(data); {
			rec, consumed, ok := decodeRecord(data[off:])
			if !ok {
				break // torn tail record; stop replay here
			}

			records = append(records, rec)
			off += consumed
		}
	}

	return records, nil
}
