// Package lru implements LruIndex: the ordered set of cached asset UUIDs
// with size bookkeeping, LRU touch/evict, and 3-hex-prefix lookup (§4.3).
//
// LruIndex is deliberately not internally synchronized — per §4.3/§5, all
// operations are externally serialized by StorageManager under one mutex
// that also covers the paired LocalStore mutation, which is what keeps the
// two structures from ever diverging.
package lru

import (
	"container/list"
	"errors"

	"github.com/google/uuid"
	"github.com/kf6kjg/whip-lru/internal/asset"
)

// Errors returned by LruIndex operations.
var (
	ErrDuplicate = errors.New("lru: id already present")
	ErrNotFound  = errors.New("lru: id not present")
)

// Evicted describes one entry removed by EvictToFree.
type Evicted struct {
	ID   uuid.UUID
	Size int64
}

// entry is a single item tracked by the index.
type entry struct {
	id   uuid.UUID
	size int64
	elem *list.Element
}

// Index is the ordered set of LruEntry values described in §3/§4.3.
type Index struct {
	items  map[uuid.UUID]*entry
	list   *list.List // MRU at Front, LRU at Back
	prefix map[string]map[uuid.UUID]struct{}
	total  int64
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		items:  make(map[uuid.UUID]*entry),
		list:   list.New(),
		prefix: make(map[string]map[uuid.UUID]struct{}),
	}
}

func prefixKey(id uuid.UUID) string {
	return asset.ToHex32(id)[:3]
}

// Insert adds id at the MRU end with the given size. If id already exists,
// Insert is a no-op and returns ErrDuplicate.
func (x *Index) Insert(id uuid.UUID, size int64) error {
	if _, ok := x.items[id]; ok {
		return ErrDuplicate
	}
	e := &entry{id: id, size: size}
	e.elem = x.list.PushFront(e)
	x.items[id] = e
	x.total += size
	x.indexPrefix(id)
	return nil
}

func (x *Index) indexPrefix(id uuid.UUID) {
	k := prefixKey(id)
	set, ok := x.prefix[k]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		x.prefix[k] = set
	}
	set[id] = struct{}{}
}

func (x *Index) deindexPrefix(id uuid.UUID) {
	k := prefixKey(id)
	set, ok := x.prefix[k]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(x.prefix, k)
	}
}

// Contains reports whether id is present, without touching it.
func (x *Index) Contains(id uuid.UUID) bool {
	_, ok := x.items[id]
	return ok
}

// Touch moves id to the MRU end. Returns ErrNotFound if absent.
func (x *Index) Touch(id uuid.UUID) error {
	e, ok := x.items[id]
	if !ok {
		return ErrNotFound
	}
	x.list.MoveToFront(e.elem)
	return nil
}

// ItemsWithPrefix returns every id whose lowercase 32-hex form starts with
// hexPrefix (expected to be 3 characters, per §3). Order is unspecified.
func (x *Index) ItemsWithPrefix(hexPrefix string) []uuid.UUID {
	set, ok := x.prefix[hexPrefix]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Remove deletes id from the index and returns its size, or ErrNotFound.
func (x *Index) Remove(id uuid.UUID) (int64, error) {
	e, ok := x.items[id]
	if !ok {
		return 0, ErrNotFound
	}
	x.list.Remove(e.elem)
	delete(x.items, id)
	x.deindexPrefix(id)
	x.total -= e.size
	return e.size, nil
}

// EvictToFree removes entries from the LRU end until the cumulative removed
// size is at least bytesNeeded or the index is empty, returning the removed
// entries in removal order (oldest-used first).
func (x *Index) EvictToFree(bytesNeeded int64) []Evicted {
	var removed []Evicted
	var freed int64
	for freed < bytesNeeded {
		tail := x.list.Back()
		if tail == nil {
			break
		}
		e := x.list.Remove(tail).(*entry)
		delete(x.items, e.id)
		x.deindexPrefix(e.id)
		x.total -= e.size
		freed += e.size
		removed = append(removed, Evicted{ID: e.id, Size: e.size})
	}
	return removed
}

// TotalBytes returns the current sum of all tracked entry sizes.
func (x *Index) TotalBytes() int64 {
	return x.total
}

// Len returns the number of entries currently tracked.
func (x *Index) Len() int {
	return len(x.items)
}

// AllOldestFirst returns every tracked id ordered from least- to
// most-recently-used. Used by PurgeAllLocalAssets and tests.
func (x *Index) AllOldestFirst() []uuid.UUID {
	out := make([]uuid.UUID, 0, x.list.Len())
	for e := x.list.Back(); e != nil; e = e.Prev() {
		out = append(out, e.Value.(*entry).id)
	}
	return out
}
