package kache

// idleNode is an intrusive node in the idle-timeout list. A Connection
// embeds one directly so inserting/removing it from the list never
// allocates. Generalized from beelog's singly forward-linked listNode
// (structure.go) into a circular doubly linked sentinel list, since LRU-style
// idle tracking needs O(1) detach of an arbitrary node, not just push/pop at
// the ends.
// Its zero value is not ready to use: prev/next must be self-looped before
// the first detach/pushMostRecent call (newConnection does this for the
// node it embeds).
type idleNode struct {
	prev, next *idleNode
	conn       *Connection
}

// idleList is a circular doubly linked list with a sentinel head. The node
// at sentinel.next is the oldest (least recently active); the node at
// sentinel.prev is the most recently active, per §3 "Idle list".
type idleList struct {
	sentinel idleNode
}

func newIdleList() *idleList {
	l := &idleList{}
	l.sentinel.prev = &l.sentinel
	l.sentinel.next = &l.sentinel
	return l
}

// empty reports whether the list has no live nodes.
func (l *idleList) empty() bool {
	return l.sentinel.next == &l.sentinel
}

// oldest returns the node nearest sentinel.next, or nil if the list is empty.
func (l *idleList) oldest() *idleNode {
	if l.empty() {
		return nil
	}
	return l.sentinel.next
}

// detach removes n from whatever list it is linked into. Safe to call on an
// already-detached node (it becomes a self-loop).
func (n *idleNode) detach() {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = n
	n.next = n
}

// pushMostRecent inserts n just before the sentinel, marking it as the most
// recently active connection. Detaches n from any prior position first, so
// this also implements "touch" (move-to-back) semantics.
func (l *idleList) pushMostRecent(n *idleNode) {
	n.detach()
	last := l.sentinel.prev
	n.prev = last
	n.next = &l.sentinel
	last.next = n
	l.sentinel.prev = n
}
