// Package arcanedb is an embeddable, transactional graph store: vertices
// and their outgoing weighted edges, backed by the bw-tree-style leaf
// pages, buffer pool, lock table, and WAL implemented in this module's
// pkg/ subpackages (spec §1-§6).
package arcanedb

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/arcanedb/arcanedb/pkg/cache"
	"github.com/arcanedb/arcanedb/pkg/codec"
	"github.com/arcanedb/arcanedb/pkg/flusher"
	"github.com/arcanedb/arcanedb/pkg/locktable"
	"github.com/arcanedb/arcanedb/pkg/page"
	"github.com/arcanedb/arcanedb/pkg/pagestore"
	"github.com/arcanedb/arcanedb/pkg/row"
	"github.com/arcanedb/arcanedb/pkg/schema"
	"github.com/arcanedb/arcanedb/pkg/txn"
	"github.com/arcanedb/arcanedb/pkg/txnmgr"
	"github.com/arcanedb/arcanedb/pkg/wal"
)

const (
	// vertexIDColumn / vertexValueColumn mirror the original weighted-graph
	// schema: vertex_id is the (only) sort-key column, value is the payload.
	vertexIDColumn    = 0
	vertexValueColumn = 1
	edgeDstColumn     = 0
	edgeValueColumn   = 1
)

var vertexSchema = mustSchema(
	[]schema.Column{{Name: "vertex_id", Type: codec.KindInt64}, {Name: "value", Type: codec.KindString}},
	1,
)

var edgeSchema = mustSchema(
	[]schema.Column{{Name: "dst", Type: codec.KindInt64}, {Name: "value", Type: codec.KindString}},
	1,
)

func mustSchema(cols []schema.Column, sortKeyCount int) *schema.Schema {
	sch, err := schema.New(cols, sortKeyCount)
	if err != nil {
		panic(fmt.Sprintf("arcanedb: building built-in schema: %v", err))
	}

	return sch
}

// schemaFingerprint identifies the vertex/edge schema layout a page store
// was created with, so reopening a directory with a differently-shaped
// build of this package is caught at Open instead of silently corrupting
// reads (manifest check; spec has no format-evolution story, so this is a
// conservative fail-fast rather than a migration).
func schemaFingerprint() uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "vertex_id:int64,value:string|dst:int64,value:string|v%d", manifestSchemaVersion)

	return h.Sum64()
}

const manifestSchemaVersion = 1

// EncodeVertexKey returns the page key a vertex's row lives under (spec §6:
// "<int-decimal>V").
func EncodeVertexKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10) + "V")
}

// EncodeEdgePageKey returns the page key every outgoing edge of src is
// clustered under (spec §6: "<int-decimal>E"); the sort key within that
// page is dst's order-preserving encoding.
func EncodeEdgePageKey(src int64) []byte {
	return []byte(strconv.FormatInt(src, 10) + "E")
}

func encodeInt64SortKey(v int64) ([]byte, error) {
	sk, err := codec.EncodeSortKey([]codec.Value{codec.Int64(v)})
	if err != nil {
		return nil, fmt.Errorf("arcanedb: encoding sort key: %w", err)
	}

	return []byte(sk), nil
}

// noopLSNSource never gates a flush: used when the WAL is disabled
// (in-memory Options), so the flusher still drains dirty pages instead of
// blocking forever on a durability horizon that will never advance.
type noopLSNSource struct{}

func (noopLSNSource) GetPersistentLsn() uint64 { return ^uint64(0) }

// DB is an open ArcaneDB instance (spec §6 Open/DB).
type DB struct {
	opts        Options
	pool        *cache.BufferPool
	locks       *locktable.LockTable
	log         *wal.LogStore
	flusher     *flusher.Flusher
	store       pageStoreCloser
	mgr         *txnmgr.TxnManager
	concurrency ConcurrencyMode
}

type pageStoreCloser interface {
	cache.PageStore
	Close() error
}

// Open opens (creating if absent) an ArcaneDB instance. opts.Dir == ""
// opens a purely in-memory instance: no WAL, no manifest, nothing
// survives process exit.
func Open(opts Options) (*DB, error) {
	var (
		store pageStoreCloser
		log   *wal.LogStore
	)

	if opts.Dir == "" {
		store = pagestore.NewMemStore()
	} else {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, wrapErr(fmt.Errorf("%w: creating dir: %w", ErrIO, err))
		}

		manifestPath := filepath.Join(opts.Dir, "MANIFEST")
		if err := checkManifest(manifestPath); err != nil {
			return nil, err
		}

		sqlStore, err := pagestore.OpenSQLiteStore(context.Background(), filepath.Join(opts.Dir, "pages.db"))
		if err != nil {
			return nil, wrapErr(fmt.Errorf("%w: opening page store: %w", ErrIO, err))
		}

		store = sqlStore
		log = wal.New(opts.walOptions())
	}

	var lsnSource flusher.PersistentLSNSource = noopLSNSource{}
	if log != nil {
		lsnSource = log
	}

	fl := flusher.New(opts.flusherShardCount(), store, lsnSource)

	pool := cache.New(opts.bufferPoolOptions(fl, store))
	locks := locktable.New(opts.lockTableOptions())

	return &DB{
		opts:        opts,
		pool:        pool,
		locks:       locks,
		log:         log,
		flusher:     fl,
		store:       store,
		mgr:         txnmgr.New(),
		concurrency: opts.Concurrency,
	}, nil
}

// checkManifest loads (or seeds) the manifest at path and verifies its
// schema fingerprint matches this build's built-in vertex/edge schema.
func checkManifest(path string) error {
	want := schemaFingerprint()

	return pagestore.UpdateManifest(path, func(cur pagestore.Manifest) (pagestore.Manifest, bool, error) {
		if cur.SchemaFingerprint == 0 {
			return pagestore.Manifest{SchemaFingerprint: want}, true, nil
		}

		if cur.SchemaFingerprint != want {
			return pagestore.Manifest{}, false, wrapErr(fmt.Errorf("%w: page store at %s was created with a different schema", ErrInvalidArgument, path))
		}

		return cur, false, nil
	})
}

// Close flushes every dirty page, stops the flusher and WAL, and releases
// the page store.
func (db *DB) Close() error {
	db.pool.ForceFlushAllPages()
	db.flusher.Stop()

	if db.log != nil {
		db.log.Close()
	}

	if err := db.store.Close(); err != nil {
		return wrapErr(fmt.Errorf("%w: closing page store: %w", ErrIO, err))
	}

	return nil
}

// txnCore is the slice of pkg/txn's Txn2PL/TxnOCC that the vertex/edge API
// is built on; both satisfy it identically.
type txnCore interface {
	GetRow(pageKey, sortKey []byte) (row.Row, error)
	SetRow(pageKey []byte, r row.Row) error
	DeleteRow(pageKey, sortKey []byte) error
	Commit() error
	Abort() error
	TxnID() uint64
	ReadTs() page.TxnTs
}

// TxnOptions is the per-transaction tuning knobs of spec §6.
type TxnOptions struct {
	IgnoreLock        bool
	ForceCompaction   bool
	SyncCommit        bool
	CheckIntentLocked bool
	EnableWAL         bool
	EnableFlush       bool
	SyncLog           bool
	OnlySingleEdgeTxn bool
}

func (o TxnOptions) toTxnOptions(lockMgr txn.LockManagerKind) txn.Options {
	return txn.Options{
		IgnoreLock:        o.IgnoreLock,
		ForceCompaction:   o.ForceCompaction,
		SyncCommit:        o.SyncCommit,
		CheckIntentLocked: o.CheckIntentLocked,
		LockManager:       lockMgr,
		EnableWAL:         o.EnableWAL,
		EnableFlush:       o.EnableFlush,
		SyncLog:           o.SyncLog,
		OnlySingleEdgeTxn: o.OnlySingleEdgeTxn,
	}
}

func (db *DB) newCore(mode txn.Mode, opts txn.Options) txnCore {
	var log txn.LogAppender
	if db.log != nil {
		log = db.log
	}

	if db.concurrency == Concurrency2PL {
		return txn.NewTxn2PL(db.mgr, db.pool, db.locks, log, mode, opts)
	}

	return txn.NewTxnOCC(db.mgr, db.pool, db.locks, log, mode, opts)
}

// BeginRo starts a read-only transaction (spec §6 db.begin_ro). A read-only
// transaction defaults to ignoring visible intents, matching the original
// weighted-graph example's BeginRoTxn.
func (db *DB) BeginRo(opts TxnOptions) *RoTxn {
	opts.IgnoreLock = true
	core := db.newCore(txn.ModeReadOnly, opts.toTxnOptions(txn.LockManagerCentralized))

	return &RoTxn{db: db, core: core}
}

// BeginRw starts a read-write transaction (spec §6 db.begin_rw). The
// vertex_hint parameter named in the language-neutral spec (a locality
// hint for page placement) has no effect here: this BufferPool has no
// placement policy for a caller to hint at, and the hint is absent from
// every call site in original_source/src/graph/weighted_graph.cpp.
func (db *DB) BeginRw(opts TxnOptions) *RwTxn {
	opts.EnableWAL = opts.EnableWAL || db.log != nil
	core := db.newCore(txn.ModeReadWrite, opts.toTxnOptions(txn.LockManagerCentralized))

	return &RwTxn{RoTxn{db: db, core: core}}
}

// RoTxn is a read-only transaction: get_vertex, get_edge, edge_iterator,
// commit (spec §6).
type RoTxn struct {
	db   *DB
	core txnCore
}

// GetVertex returns the value stored for vertex_id.
func (t *RoTxn) GetVertex(vertexID int64) ([]byte, error) {
	sortKey, err := encodeInt64SortKey(vertexID)
	if err != nil {
		return nil, err
	}

	r, err := t.core.GetRow(EncodeVertexKey(vertexID), sortKey)
	if err != nil {
		return nil, translateErr(err, EncodeVertexKey(vertexID), sortKey, t.core.TxnID())
	}

	return stringColumn(r, vertexSchema, vertexValueColumn)
}

// GetEdge returns the value stored for the (src, dst) edge.
func (t *RoTxn) GetEdge(src, dst int64) ([]byte, error) {
	sortKey, err := encodeInt64SortKey(dst)
	if err != nil {
		return nil, err
	}

	pageKey := EncodeEdgePageKey(src)

	r, err := t.core.GetRow(pageKey, sortKey)
	if err != nil {
		return nil, translateErr(err, pageKey, sortKey, t.core.TxnID())
	}

	return stringColumn(r, edgeSchema, edgeValueColumn)
}

// Edge is one (dst, value) pair yielded by an EdgeIterator.
type Edge struct {
	Dst   int64
	Value []byte
}

// EdgeIterator walks src's outgoing edges in dst-ascending order (spec §6
// edge_iterator). It snapshots the page's visible, unlocked rows at
// construction time under the transaction's read_ts; writes made after
// construction are not observed. Under OCC the transaction's own buffered
// writes are not included either, since they reach the page only at Commit.
type EdgeIterator struct {
	edges []Edge
	pos   int
}

// Next advances the iterator. ok is false once exhausted (status
// EndOfBuf per spec §6).
func (it *EdgeIterator) Next() (Edge, bool) {
	if it.pos >= len(it.edges) {
		return Edge{}, false
	}

	e := it.edges[it.pos]
	it.pos++

	return e, true
}

// EdgeIterator returns an iterator over src's outgoing edges.
func (t *RoTxn) EdgeIterator(src int64) (*EdgeIterator, error) {
	pageKey := EncodeEdgePageKey(src)

	holder, err := t.db.pool.GetPage(pageKey)
	if err != nil {
		return nil, translateErr(err, pageKey, nil, t.core.TxnID())
	}

	defer holder.Release()

	var (
		edges  []Edge
		decErr error
	)

	holder.Page.RangeFilter(page.ScanSorted, t.core.ReadTs(), func([]byte) bool { return true }, func(r row.Row, isDeleted bool) {
		if isDeleted || decErr != nil {
			return
		}

		dst, err := r.GetProp(edgeSchema, edgeDstColumn)
		if err != nil {
			decErr = err

			return
		}

		val, err := stringColumn(r, edgeSchema, edgeValueColumn)
		if err != nil {
			decErr = err

			return
		}

		edges = append(edges, Edge{Dst: dst.I, Value: val})
	})

	if decErr != nil {
		return nil, wrapErr(fmt.Errorf("%w: %w", ErrCorrupt, decErr), withPageKey(string(pageKey)))
	}

	return &EdgeIterator{edges: edges}, nil
}

// Commit finalizes the transaction, returning the distinguished outcome
// spec §6 names (Commit/Abort/Conflict).
func (t *RoTxn) Commit() (Status, error) {
	err := t.core.Commit()

	return commitStatus(err), translateErr(err, nil, nil, t.core.TxnID())
}

// RwTxn is a read-write transaction: every RoTxn read plus insert/delete
// vertex/edge (spec §6).
type RwTxn struct {
	RoTxn
}

// InsertVertex creates or overwrites a vertex's value.
func (t *RwTxn) InsertVertex(vertexID int64, value []byte) error {
	r, err := row.Serialize([]codec.Value{codec.Int64(vertexID), codec.String(string(value))}, vertexSchema)
	if err != nil {
		return wrapErr(fmt.Errorf("%w: %w", ErrInvalidArgument, err))
	}

	if err := t.core.SetRow(EncodeVertexKey(vertexID), r); err != nil {
		return translateErr(err, EncodeVertexKey(vertexID), r.SortKeyBytes(), t.core.TxnID())
	}

	return nil
}

// DeleteVertex tombstones a vertex.
func (t *RwTxn) DeleteVertex(vertexID int64) error {
	sortKey, err := encodeInt64SortKey(vertexID)
	if err != nil {
		return err
	}

	pageKey := EncodeVertexKey(vertexID)
	if err := t.core.DeleteRow(pageKey, sortKey); err != nil {
		return translateErr(err, pageKey, sortKey, t.core.TxnID())
	}

	return nil
}

// InsertEdge creates or overwrites the (src, dst) edge's value.
func (t *RwTxn) InsertEdge(src, dst int64, value []byte) error {
	r, err := row.Serialize([]codec.Value{codec.Int64(dst), codec.String(string(value))}, edgeSchema)
	if err != nil {
		return wrapErr(fmt.Errorf("%w: %w", ErrInvalidArgument, err))
	}

	pageKey := EncodeEdgePageKey(src)
	if err := t.core.SetRow(pageKey, r); err != nil {
		return translateErr(err, pageKey, r.SortKeyBytes(), t.core.TxnID())
	}

	return nil
}

// DeleteEdge tombstones the (src, dst) edge.
func (t *RwTxn) DeleteEdge(src, dst int64) error {
	sortKey, err := encodeInt64SortKey(dst)
	if err != nil {
		return err
	}

	pageKey := EncodeEdgePageKey(src)
	if err := t.core.DeleteRow(pageKey, sortKey); err != nil {
		return translateErr(err, pageKey, sortKey, t.core.TxnID())
	}

	return nil
}

func stringColumn(r row.Row, sch *schema.Schema, columnIndex int) ([]byte, error) {
	v, err := r.GetProp(sch, columnIndex)
	if err != nil {
		return nil, wrapErr(fmt.Errorf("%w: %w", ErrCorrupt, err))
	}

	return []byte(v.S), nil
}

func commitStatus(err error) Status {
	switch {
	case err == nil:
		return StatusCommit
	case errors.Is(err, txn.ErrConflict), errors.Is(err, txn.ErrTimeout):
		return StatusConflict
	default:
		return StatusAbort
	}
}

func translateErr(err error, pageKey, sortKey []byte, txnID uint64) error {
	if err == nil {
		return nil
	}

	var opts []errOpt
	if pageKey != nil {
		opts = append(opts, withPageKey(string(pageKey)))
	}

	if sortKey != nil {
		opts = append(opts, withSortKeyHex(fmt.Sprintf("%x", sortKey)))
	}

	if txnID != 0 {
		opts = append(opts, withTxnID(txnID))
	}

	switch {
	case errors.Is(err, txn.ErrNotFound):
		return wrapErr(fmt.Errorf("%w", ErrNotFound), opts...)
	case errors.Is(err, txn.ErrConflict):
		return wrapErr(fmt.Errorf("%w", ErrConflict), opts...)
	case errors.Is(err, txn.ErrAbort):
		return wrapErr(fmt.Errorf("%w", ErrAbort), opts...)
	case errors.Is(err, txn.ErrTimeout):
		return wrapErr(fmt.Errorf("%w", ErrTimeout), opts...)
	case errors.Is(err, txn.ErrReadOnly), errors.Is(err, txn.ErrDone):
		return wrapErr(fmt.Errorf("%w: %w", ErrInvalidArgument, err), opts...)
	default:
		return wrapErr(fmt.Errorf("%w: %w", ErrIO, err), opts...)
	}
}
