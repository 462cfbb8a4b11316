package kache

import (
	"fmt"
	"unsafe"
)

// entryKind tags which payload an Entry currently holds.
type entryKind int

const (
	entryBytes entryKind = iota
	entryZSet
)

// defaultLargeContainerThreshold is LARGE_CONTAINER_THRESHOLD (§4.5): a ZSet
// at or above this many members is torn down on the thread pool instead of
// inline, so a single DEL/expiry never stalls the reactor goroutine. Used
// when a Keyspace is constructed with largeContainerThreshold <= 0
// (Config.LargeContainerThreshold unset).
const defaultLargeContainerThreshold = 1000

// heapAbsentIdx mirrors heapAbsent for the zero value of a freshly allocated
// Entry, spelled out under its own name here since "absent" is an Entry-level
// concept (§3's heap_idx invariant) independent of the heap package's own
// bookkeeping.
const heapAbsentIdx = heapAbsent

// Entry is the unit of the keyspace: a tagged union of a byte string or a
// ZSet, an intrusive hash node keyed by name, and a TTL heap index (§3).
// Grounded on beelog/structure.go's Structure/State wrapper (a small tagged
// payload addressed by key), combined with original_source/src/main.cpp's
// Entry struct for the kind/heap_idx fields.
type Entry struct {
	hash hnode

	key  []byte
	kind entryKind

	bytes []byte
	zset  *ZSet

	heapIdx int
}

func entryOfHash(n *hnode) *Entry {
	// hash is Entry's first field, same container_of idiom as znodeOfTree.
	return (*Entry)(unsafe.Pointer(n))
}

// entryFromHeapIdxRef recovers the owning Entry from a *int pointing at its
// heapIdx field, the same back-reference trick ttlHeap.swap uses to keep
// heap_idx current (§4.4).
func entryFromHeapIdxRef(ref *int) *Entry {
	return (*Entry)(unsafe.Pointer(uintptr(unsafe.Pointer(ref)) - unsafe.Offsetof(Entry{}.heapIdx)))
}

func newBytesEntry(key, val []byte) *Entry {
	e := &Entry{
		key:     append([]byte(nil), key...),
		kind:    entryBytes,
		bytes:   append([]byte(nil), val...),
		heapIdx: heapAbsentIdx,
	}
	e.hash.hashVal = fnv1a64(key)
	return e
}

func newZSetEntry(key []byte, zqueryMax int) *Entry {
	e := &Entry{
		key:     append([]byte(nil), key...),
		kind:    entryZSet,
		zset:    NewZSet(zqueryMax),
		heapIdx: heapAbsentIdx,
	}
	e.hash.hashVal = fnv1a64(key)
	return e
}

func entryKeyEqual(n *hnode, key []byte) bool {
	return string(entryOfHash(n).key) == string(key)
}

// Keyspace is the top-level key -> Entry map plus the shared TTL heap, tying
// together §4.1 (HMap) and §4.4 (ttlHeap) under the single Entry lifecycle
// described in §3.
type Keyspace struct {
	entries *HMap
	expires ttlHeap
	pool    *ThreadPool

	largeContainerThreshold int
	zqueryMax               int
}

// NewKeyspace returns an empty keyspace whose deferred-destruction work is
// dispatched to pool (nil disables deferral: large containers are then freed
// inline, which is still correct, just not off the hot path).
// largeContainerThreshold and zqueryMax configure §4.5's LARGE_CONTAINER_THRESHOLD
// and §4.3's ZQUERY_MAX for every ZSet this keyspace creates; either left <= 0
// falls back to its spec default.
func NewKeyspace(pool *ThreadPool, largeContainerThreshold, zqueryMax int) *Keyspace {
	if largeContainerThreshold <= 0 {
		largeContainerThreshold = defaultLargeContainerThreshold
	}
	if zqueryMax <= 0 {
		zqueryMax = defaultZqueryMax
	}
	return &Keyspace{
		entries:                 NewHMap(),
		pool:                    pool,
		largeContainerThreshold: largeContainerThreshold,
		zqueryMax:               zqueryMax,
	}
}

func (k *Keyspace) lookup(key []byte) *Entry {
	n := k.entries.Lookup(fnv1a64(key), key, entryKeyEqual)
	if n == nil {
		return nil
	}
	return entryOfHash(n)
}

// Get returns the entry for key, or nil if absent.
func (k *Keyspace) Get(key []byte) *Entry {
	return k.lookup(key)
}

// SetBytes stores val under key as a plain byte string, replacing whatever
// payload was there before. An existing TTL is left untouched (§4.8's SET
// row: "if TTL existed, keep it"), matching original_source/src/main.cpp's
// do_set, which only ever touches the entry's value.
func (k *Keyspace) SetBytes(key, val []byte) {
	if existing := k.lookup(key); existing != nil {
		k.destroyPayload(existing)
		existing.kind = entryBytes
		existing.bytes = append([]byte(nil), val...)
		existing.zset = nil
		return
	}
	e := newBytesEntry(key, val)
	k.entries.Insert(&e.hash)
}

// GetOrCreateZSet returns the ZSet stored at key, creating an empty one if
// key is absent. Returns an error if key exists but holds a byte string
// (§4.8's WRONGTYPE-equivalent behavior, surfaced via StatusErrBadType).
func (k *Keyspace) GetOrCreateZSet(key []byte) (*ZSet, error) {
	e := k.lookup(key)
	if e == nil {
		e = newZSetEntry(key, k.zqueryMax)
		k.entries.Insert(&e.hash)
		return e.zset, nil
	}
	if e.kind != entryZSet {
		return nil, fmt.Errorf("kache: key holds a string, not a zset")
	}
	return e.zset, nil
}

// Del removes key entirely, clearing any TTL and deferring large-container
// teardown. Returns whether key was present.
func (k *Keyspace) Del(key []byte) bool {
	e := k.lookup(key)
	if e == nil {
		return false
	}
	k.clearExpire(e)
	k.entries.Delete(&e.hash)
	k.destroyPayload(e)
	return true
}

// destroyPayload drops e's container, deferring to the thread pool when a
// ZSet has crossed this keyspace's largeContainerThreshold (§4.5). Del calls
// it after e has been unlinked from both the hash map and the heap; SetBytes
// calls it on an entry that stays linked but whose zset field is cleared
// here. Either way the deferred closure holds the only remaining reference
// to the ZSet.
func (k *Keyspace) destroyPayload(e *Entry) {
	if e.kind != entryZSet || e.zset == nil {
		return
	}
	if k.pool != nil && e.zset.Size() >= k.largeContainerThreshold {
		zset := e.zset
		k.pool.Enqueue(func() {
			zset.root = nil
			zset.hmap = nil
		})
	}
	e.zset = nil
}

// Expire sets or refreshes key's TTL to expireAtUs (absolute, microseconds).
// Returns false if key does not exist.
func (k *Keyspace) Expire(key []byte, expireAtUs uint64) bool {
	e := k.lookup(key)
	if e == nil {
		return false
	}
	k.expires.Upsert(&e.heapIdx, expireAtUs)
	debugAssert(e.heapIdx != heapAbsentIdx, "Expire left heapIdx absent")
	return true
}

// Persist removes key's TTL, if any, leaving the key itself intact. Returns
// whether a TTL was actually cleared.
func (k *Keyspace) Persist(key []byte) bool {
	e := k.lookup(key)
	if e == nil {
		return false
	}
	return k.clearExpire(e)
}

func (k *Keyspace) clearExpire(e *Entry) bool {
	if e.heapIdx == heapAbsentIdx {
		return false
	}
	k.expires.Delete(&e.heapIdx)
	return true
}

// TTL reports the remaining time-to-live in microseconds for key, per §4.8's
// TTL semantics: ok=false if the key is absent, hasTTL=false if it has no
// expiry (in which case remaining is meaningless).
func (k *Keyspace) TTL(key []byte, nowUs uint64) (remaining uint64, hasTTL bool, ok bool) {
	e := k.lookup(key)
	if e == nil {
		return 0, false, false
	}
	if e.heapIdx == heapAbsentIdx {
		return 0, false, true
	}
	// Peek only exposes the minimum; read this entry's own slot directly.
	it := k.expires.items[e.heapIdx]
	if it.expireAtUs <= nowUs {
		return 0, true, true
	}
	return it.expireAtUs - nowUs, true, true
}

// ExpireDue evicts every entry whose TTL has elapsed as of nowUs, up to
// maxWork evictions (§4.4's EXPIRE_WORK_MAX bound, applied by the reactor per
// tick so a TTL storm cannot starve request processing). Returns the number
// of keys evicted.
func (k *Keyspace) ExpireDue(nowUs uint64, maxWork int) int {
	n := 0
	for n < maxWork {
		top, ok := k.expires.Peek()
		if !ok || top.expireAtUs > nowUs {
			break
		}
		// top.ref points at the owning Entry's heapIdx field; recover the
		// Entry the same way the hash/tree intrusive nodes do.
		e := entryFromHeapIdxRef(top.ref)
		k.Del(e.key)
		n++
	}
	return n
}

// ForEachKey visits every live key, used by the KEYS command (§4.8). The
// callback must not mutate the keyspace.
func (k *Keyspace) ForEachKey(fn func(key []byte)) {
	k.entries.ForEach(func(n *hnode) {
		fn(entryOfHash(n).key)
	})
}

// Size is the number of live keys, used by tests.
func (k *Keyspace) Size() uint64 {
	return k.entries.Size()
}
