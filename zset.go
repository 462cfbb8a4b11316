package kache

import "unsafe"

// ZNode is a sorted-set member: score, name, and the two intrusive index
// nodes (AVL by (score, name), hash by name). Grounded on
// original_source/src/zset.hpp's ZNode (treeNode/hmapNode/score/name), with
// the name stored as an owned []byte rather than a C flexible array member
// (§9 Design Notes: "Flexible-array name storage... an equivalent is an
// owned byte buffer per ZNode").
type ZNode struct {
	tree avlNode
	hash hnode
	name []byte
	score float64
}

func znodeOfTree(n *avlNode) *ZNode {
	return (*ZNode)(unsafe.Pointer(n))
}

func znodeOfHash(n *hnode) *ZNode {
	// hash is the second field; recover ZNode via its offset rather than
	// assuming hash sits at offset 0 like tree does.
	return (*ZNode)(unsafe.Pointer(uintptr(unsafe.Pointer(n)) - unsafe.Offsetof(ZNode{}.hash)))
}

func newZNode(name []byte, score float64) *ZNode {
	z := &ZNode{name: append([]byte(nil), name...), score: score}
	avlInit(&z.tree)
	z.hash.hashVal = fnv1a64(name)
	return z
}

// zless implements the (score, name) total order from §3.
func zless(a, b *avlNode) bool {
	za, zb := znodeOfTree(a), znodeOfTree(b)
	return znodeLess(za.score, za.name, zb.score, zb.name)
}

func znodeLess(scoreA float64, nameA []byte, scoreB float64, nameB []byte) bool {
	if scoreA != scoreB {
		return scoreA < scoreB
	}
	return lexLess(nameA, nameB)
}

func lexLess(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func zNameEqual(n *hnode, key []byte) bool {
	return string(znodeOfHash(n).name) == string(key)
}

// ZSet bundles the AVL tree (by_rank) and hash map (by_name) views over the
// same set of ZNodes, §3/§4.3. Neither index owns the other; zadd/zrem keep
// both in lockstep.
type ZSet struct {
	root *avlNode
	hmap *HMap

	zqueryMax int
}

// NewZSet returns an empty sorted set whose Zquery results are capped at
// zqueryMax (§4.3 ZQUERY_MAX, configurable via Config.ZqueryMax).
func NewZSet(zqueryMax int) *ZSet {
	return &ZSet{hmap: NewHMap(), zqueryMax: zqueryMax}
}

// Size is the number of members, used by the supplemented ZSIZE command
// (§11) and by entry.go's large-container threshold check.
func (z *ZSet) Size() int {
	return int(z.hmap.Size())
}

func (z *ZSet) lookup(name []byte) *ZNode {
	n := z.hmap.Lookup(fnv1a64(name), name, zNameEqual)
	if n == nil {
		return nil
	}
	return znodeOfHash(n)
}

func (z *ZSet) treeInsert(node *ZNode) {
	z.root = avlInsert(z.root, &node.tree, zless)
}

// Zadd adds a new member or updates an existing one's score, returning
// added=true for a brand-new member and added=false for a rescored one
// (§4.3 zadd).
func (z *ZSet) Zadd(name []byte, score float64) (added bool) {
	if existing := z.lookup(name); existing != nil {
		if existing.score != score {
			z.root = avlDelete(&existing.tree)
			avlInit(&existing.tree)
			existing.score = score
			z.treeInsert(existing)
		}
		return false
	}

	node := newZNode(name, score)
	z.hmap.Insert(&node.hash)
	z.treeInsert(node)
	return true
}

// Zrem removes a member by name, returning whether it was present (§4.3
// zrem).
func (z *ZSet) Zrem(name []byte) bool {
	node := z.lookup(name)
	if node == nil {
		return false
	}
	z.hmap.Delete(&node.hash)
	z.root = avlDelete(&node.tree)
	return true
}

// Zscore returns a member's score and whether it exists (§4.3 zscore).
func (z *ZSet) Zscore(name []byte) (float64, bool) {
	node := z.lookup(name)
	if node == nil {
		return 0, false
	}
	return node.score, true
}

// seek finds the smallest ZNode whose (score, name) >= (minScore, minName),
// descending the tree and tracking the last >= candidate, per
// original_source/src/zset.hpp's zset_seek.
func (z *ZSet) seek(minScore float64, minName []byte) *ZNode {
	var found *avlNode
	for node := z.root; node != nil; {
		if znodeLess(znodeOfTree(node).score, znodeOfTree(node).name, minScore, minName) {
			node = node.right
		} else {
			found = node
			node = node.left
		}
	}
	if found == nil {
		return nil
	}
	return znodeOfTree(found)
}

// defaultZqueryMax is ZQUERY_MAX from §4.3, used when a ZSet is constructed
// with zqueryMax <= 0 (Config.ZqueryMax unset).
const defaultZqueryMax = 10000

// Zquery implements §4.3 zquery: seek to (minScore, minName), walk offset
// steps (negative allowed), then collect up to limit successors. Returns no
// nodes (a nil or empty slice) if limit is not positive or if seek or offset
// run out of range.
func (z *ZSet) Zquery(minScore float64, minName []byte, offset, limit int) []*ZNode {
	maxLimit := z.zqueryMax
	if maxLimit <= 0 {
		maxLimit = defaultZqueryMax
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if limit <= 0 {
		return nil
	}

	node := z.seek(minScore, minName)
	if node == nil {
		return nil
	}
	tnode := &node.tree
	if offset != 0 {
		tnode = avlOffset(tnode, offset)
	}

	out := make([]*ZNode, 0, limit)
	for tnode != nil && len(out) < limit {
		out = append(out, znodeOfTree(tnode))
		tnode = avlOffset(tnode, 1)
	}
	return out
}
