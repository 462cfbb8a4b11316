package kache

// heapItem is one entry in the TTL min-heap: an absolute expiry timestamp
// and a back-reference used to keep the owning Entry's cached heap index in
// sync across swaps. Grounded on original_source/src/heap.hpp; ref is a *int
// pointing straight at the owner struct's heapIdx field, and entry.go's
// entryFromHeapIdxRef recovers the owning Entry from that pointer.
type heapItem struct {
	expireAtUs uint64
	ref        *int // points at the owning Entry's heapIdx field
}

// ttlHeap is an array-backed binary min-heap ordered by expireAtUs.
type ttlHeap struct {
	items []heapItem
}

const heapAbsent = -1

func (h *ttlHeap) Len() int { return len(h.items) }

func parentIdx(i int) int { return (i - 1) / 2 }
func leftIdx(i int) int   { return i*2 + 1 }
func rightIdx(i int) int  { return i*2 + 2 }

func (h *ttlHeap) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	*h.items[i].ref = i
	*h.items[j].ref = j
}

func (h *ttlHeap) siftUp(i int) int {
	for i > 0 && h.items[parentIdx(i)].expireAtUs > h.items[i].expireAtUs {
		p := parentIdx(i)
		h.swap(i, p)
		i = p
	}
	return i
}

func (h *ttlHeap) siftDown(i int) int {
	n := len(h.items)
	for {
		smallest := i
		if l := leftIdx(i); l < n && h.items[l].expireAtUs < h.items[smallest].expireAtUs {
			smallest = l
		}
		if r := rightIdx(i); r < n && h.items[r].expireAtUs < h.items[smallest].expireAtUs {
			smallest = r
		}
		if smallest == i {
			return i
		}
		h.swap(i, smallest)
		i = smallest
	}
}

// Upsert sets *idx's item, appending if *idx == heapAbsent or updating the
// existing slot otherwise, and re-heapifies either way. *idx is written with
// the item's final resting index (by way of ref, on every swap it passes
// through).
func (h *ttlHeap) Upsert(idx *int, expireAtUs uint64) {
	if *idx == heapAbsent {
		*idx = len(h.items)
		h.items = append(h.items, heapItem{expireAtUs: expireAtUs, ref: idx})
		h.siftUp(*idx)
		return
	}
	pos := *idx
	h.items[pos].expireAtUs = expireAtUs
	pos = h.siftUp(pos)
	h.siftDown(pos)
}

// Delete removes the item at *idx, swapping with the tail and re-heapifying
// the displaced element, then sets *idx to heapAbsent.
func (h *ttlHeap) Delete(idx *int) {
	pos := *idx
	last := len(h.items) - 1
	if pos != last {
		h.items[last], h.items[pos] = h.items[pos], h.items[last]
		h.items = h.items[:last]
		*h.items[pos].ref = pos
		h.siftDown(pos)
		h.siftUp(pos)
	} else {
		h.items = h.items[:last]
	}
	*idx = heapAbsent
}

// Peek returns the minimum item and true, or the zero value and false if the
// heap is empty.
func (h *ttlHeap) Peek() (heapItem, bool) {
	if len(h.items) == 0 {
		return heapItem{}, false
	}
	return h.items[0], true
}
