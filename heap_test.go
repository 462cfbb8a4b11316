package kache

import (
	"math/rand"
	"testing"
)

func checkHeapInvariants(t *testing.T, h *ttlHeap) {
	t.Helper()
	for i, it := range h.items {
		if i > 0 && h.items[parentIdx(i)].expireAtUs > it.expireAtUs {
			t.Log("heap order violated at index", i)
			t.FailNow()
		}
		if *it.ref != i {
			t.Log("back-pointer mismatch at index", i, "got", *it.ref)
			t.FailNow()
		}
	}
}

func TestTTLHeapInvariants(t *testing.T) {
	h := &ttlHeap{}
	rng := rand.New(rand.NewSource(3))

	idxs := make([]int, 300)
	for i := range idxs {
		idxs[i] = heapAbsent
	}

	for round := 0; round < 5000; round++ {
		i := rng.Intn(len(idxs))
		if idxs[i] == heapAbsent {
			h.Upsert(&idxs[i], uint64(rng.Intn(1_000_000)))
		} else if rng.Intn(3) == 0 {
			h.Delete(&idxs[i])
		} else {
			h.Upsert(&idxs[i], uint64(rng.Intn(1_000_000)))
		}
		checkHeapInvariants(t, h)
	}
}

func TestTTLHeapPopsInOrder(t *testing.T) {
	h := &ttlHeap{}
	vals := []uint64{50, 10, 40, 20, 30}
	idxs := make([]int, len(vals))
	for i := range idxs {
		idxs[i] = heapAbsent
	}
	for i, v := range vals {
		h.Upsert(&idxs[i], v)
	}

	var popped []uint64
	for h.Len() > 0 {
		top, ok := h.Peek()
		if !ok {
			t.Log("expected Peek to succeed while heap non-empty")
			t.FailNow()
		}
		popped = append(popped, top.expireAtUs)
		h.Delete(top.ref)
	}

	want := []uint64{10, 20, 30, 40, 50}
	if len(popped) != len(want) {
		t.Log("length mismatch", len(popped), len(want))
		t.FailNow()
	}
	for i := range want {
		if popped[i] != want[i] {
			t.Log("order mismatch at", i, popped[i], want[i])
			t.FailNow()
		}
	}
}
