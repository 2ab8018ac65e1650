package txnmgr

import (
	"container/heap"
	"sync"

	"github.com/arcanedb/arcanedb/pkg/page"
)

// tsHeap is a min-heap of in-flight timestamps.
type tsHeap []page.TxnTs

func (h tsHeap) Len() int            { return len(h) }
func (h tsHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h tsHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *tsHeap) Push(x interface{}) { *h = append(*h, x.(page.TxnTs)) }

func (h *tsHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]

	return v
}

// SnapshotManager tracks the set of in-flight ts values so that
// GetSnapshotTs can return the minimum one — the horizon below which every
// read-only transaction observes a fully committed state (spec §4.8).
type SnapshotManager struct {
	mu      sync.Mutex
	active  tsHeap
	retired map[page.TxnTs]bool
}

// NewSnapshotManager constructs an empty SnapshotManager.
func NewSnapshotManager() *SnapshotManager {
	return &SnapshotManager{retired: make(map[page.TxnTs]bool)}
}

// Begin registers ts as in-flight.
func (s *SnapshotManager) Begin(ts page.TxnTs) {
	s.mu.Lock()
	defer s.mu.Unlock()

	heap.Push(&s.active, ts)
}

// End retires ts, whether the owning transaction committed or aborted.
func (s *SnapshotManager) End(ts page.TxnTs) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retired[ts] = true
}

// GetSnapshotTs returns the minimum in-flight ts, or kMaxTxnTs if none are
// outstanding (spec §4.8). Retired entries are lazily popped off the heap's
// front rather than removed eagerly, since a binary heap has no efficient
// arbitrary-element delete.
func (s *SnapshotManager) GetSnapshotTs() page.TxnTs {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.active.Len() > 0 {
		top := s.active[0]

		if s.retired[top] {
			delete(s.retired, top)
			heap.Pop(&s.active)

			continue
		}

		return top
	}

	return page.MaxTxnTs()
}
