package arcanedb

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"

	"github.com/arcanedb/arcanedb/pkg/cache"
	"github.com/arcanedb/arcanedb/pkg/locktable"
	"github.com/arcanedb/arcanedb/pkg/wal"
)

// ConcurrencyMode picks which transaction layer [DB.BeginRw] hands back
// (spec §4.8): both sit atop the same BufferPool/LockTable/LogStore, so
// switching modes is a pure configuration choice, not a storage-format one.
type ConcurrencyMode uint8

const (
	// ConcurrencyOCC is Hekaton-style optimistic concurrency control, the
	// default (it's what the original weighted-graph example wires up).
	ConcurrencyOCC ConcurrencyMode = iota
	// Concurrency2PL is strict two-phase locking.
	Concurrency2PL
)

// String implements fmt.Stringer.
func (m ConcurrencyMode) String() string {
	if m == Concurrency2PL {
		return "2pl"
	}

	return "occ"
}

// Options configures [Open]. Zero-value fields take the defaults documented
// alongside them; a *Options is typically built either by hand or loaded
// from a JSON-with-comments file via [LoadOptions].
//
// -----------------------------------------------
// OPTIONAL SETTINGS (SENSIBLE DEFAULTS PROVIDED)
// -----------------------------------------------
type Options struct {
	// Dir is the directory ArcaneDB stores its WAL segments, SQLite page
	// store, and manifest under. Created automatically if it doesn't
	// exist. Empty means in-memory only: no WAL, an in-memory PageStore,
	// nothing survives process exit.
	Dir string `json:"dir"`

	// Concurrency picks the transaction layer. Defaults to ConcurrencyOCC.
	Concurrency ConcurrencyMode `json:"concurrency"`

	// BufferPoolShards is the BufferPool's shard count. Defaults to 16
	// (pkg/cache's own default) when zero.
	BufferPoolShards int `json:"buffer_pool_shards"`

	// BufferPoolCapacityPerShard bounds each BufferPool shard's charge
	// before eviction kicks in. Zero means unbounded.
	BufferPoolCapacityPerShard int64 `json:"buffer_pool_capacity_per_shard"`

	// FlusherShards is the Flusher's worker-shard count. Defaults to 8
	// (pkg/flusher's own default) when zero.
	FlusherShards int `json:"flusher_shards"`

	// LockShards is the LockTable's shard count. Defaults to 32
	// (pkg/locktable's own default) when zero.
	LockShards int `json:"lock_shards"`

	// LockTimeout is kLockTimeoutUs, shared by every lock acquirer.
	// Defaults to locktable.DefaultLockTimeout when zero.
	LockTimeout time.Duration `json:"lock_timeout"`

	// WALSegmentCount is the WAL's fixed ring size. Defaults to 4 when
	// zero. Ignored when Dir is empty (WAL disabled).
	WALSegmentCount int `json:"wal_segment_count"`

	// WALSegmentSize bounds each WAL segment in bytes. Defaults to 4 MiB
	// when zero. Ignored when Dir is empty.
	WALSegmentSize int `json:"wal_segment_size"`

	// DisableWALFsync skips fsyncing a sealed WAL segment before marking
	// it free. Defaults to false (fsync on); meaningless when Dir is
	// empty. Only useful for tests that don't care about durability
	// across a crash.
	DisableWALFsync bool `json:"disable_wal_fsync"`

	// OnPageFlushed is an observability hook slot for page flushes.
	// ArcaneDB itself never logs. Open does not pass it to the flusher or
	// any other component, so it is never called.
	OnPageFlushed func(pageKey []byte) `json:"-"`

	// OnCompaction is a hook slot for delta-chain compactions. Open does
	// not pass it to any component, so it is never called.
	OnCompaction func(pageKey []byte, newDepth int) `json:"-"`
}

// DefaultOptions returns an in-memory-only Options value with OCC
// concurrency — the configuration [Open] uses when none is given.
func DefaultOptions() Options {
	return Options{Concurrency: ConcurrencyOCC}
}

// LoadOptions reads path as JSON-with-comments (trailing commas and
// /* */ and // comments allowed, per github.com/tailscale/hujson) and
// unmarshals it into an Options value seeded with [DefaultOptions].
func LoadOptions(path string) (Options, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return Options{}, fmt.Errorf("arcanedb: read options: %w", err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return Options{}, fmt.Errorf("arcanedb: parse options: %w", err)
	}

	opts := DefaultOptions()
	if err := json.Unmarshal(std, &opts); err != nil {
		return Options{}, fmt.Errorf("arcanedb: decode options: %w", err)
	}

	return opts, nil
}

func (o Options) bufferPoolOptions(flusher cache.Flusher, store cache.PageStore) cache.Options {
	return cache.Options{
		ShardCount:       o.BufferPoolShards,
		CapacityPerShard: o.BufferPoolCapacityPerShard,
		Store:            store,
		Flusher:          flusher,
	}
}

func (o Options) lockTableOptions() locktable.Options {
	return locktable.Options{
		ShardCount: o.LockShards,
		Timeout:    o.LockTimeout,
	}
}

func (o Options) walOptions() wal.Options {
	return wal.Options{
		SegmentCount: o.WALSegmentCount,
		SegmentSize:  o.WALSegmentSize,
		ShouldSync:   !o.DisableWALFsync,
		Dir:          o.Dir,
	}
}

func (o Options) flusherShardCount() int {
	return o.FlusherShards
}
