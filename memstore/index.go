// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package memstore

import (
	"container/heap"
	"sync"
	"time"

	"github.com/alamin-khalid/planet-orchestrator/core"
)

// Index is an in-memory core.PendingIndex backed by a binary heap
// ordered by due time, with a side map for O(log n) upsert and
// removal by planet id.
type Index struct {
	mu      sync.Mutex
	entries indexHeap
	byID    map[string]*indexEntry
}

// NewIndex creates an empty in-memory pending-due index.
func NewIndex() *Index {
	return &Index{byID: make(map[string]*indexEntry)}
}

type indexEntry struct {
	id       string
	due      time.Time
	heapSlot int
}

type indexHeap []*indexEntry

func (h indexHeap) Len() int { return len(h) }
func (h indexHeap) Less(i, j int) bool {
	return h[i].due.Before(h[j].due)
}
func (h indexHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapSlot = i
	h[j].heapSlot = j
}
func (h *indexHeap) Push(x interface{}) {
	e := x.(*indexEntry)
	e.heapSlot = len(*h)
	*h = append(*h, e)
}
func (h *indexHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapSlot = -1
	*h = old[:n-1]
	return e
}

// Put upserts id with the given due time.
func (idx *Index) Put(id string, due time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if e, ok := idx.byID[id]; ok {
		e.due = due
		heap.Fix(&idx.entries, e.heapSlot)
		return
	}
	e := &indexEntry{id: id, due: due}
	idx.byID[id] = e
	heap.Push(&idx.entries, e)
}

// Remove removes id, if present.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.byID[id]
	if !ok {
		return
	}
	heap.Remove(&idx.entries, e.heapSlot)
	delete(idx.byID, id)
}

// RangeDue returns ids with due <= now, ascending, limited to max.
func (idx *Index) RangeDue(now time.Time, max int) []core.DueEntry {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if max <= 0 {
		return nil
	}

	// Pop-and-collect, then push back: cheaper structures exist,
	// but the heap is already the simplest correct thing here and
	// this index is expected to stay small (bounded by live planet
	// count).
	var taken []*indexEntry
	var result []core.DueEntry
	for idx.entries.Len() > 0 && len(result) < max {
		top := idx.entries[0]
		if top.due.After(now) {
			break
		}
		heap.Pop(&idx.entries)
		taken = append(taken, top)
		result = append(result, core.DueEntry{PlanetID: top.id, Due: top.due})
	}
	for _, e := range taken {
		e.heapSlot = -1
		heap.Push(&idx.entries, e)
	}
	return result
}

// PeekNext returns the single lowest-scored entry, if any.
func (idx *Index) PeekNext() (core.DueEntry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.entries.Len() == 0 {
		return core.DueEntry{}, false
	}
	top := idx.entries[0]
	return core.DueEntry{PlanetID: top.id, Due: top.due}, true
}

// Size returns the number of entries in the index.
func (idx *Index) Size() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.entries.Len()
}

// Members returns every id currently indexed.
func (idx *Index) Members() []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	result := make([]string, 0, len(idx.byID))
	for id := range idx.byID {
		result = append(result, id)
	}
	return result
}
