package scheduler

// item is a queue node carrying a reference to a RunInfo plus forward
// linkage. Items are opaque handles to callers outside this package: nothing
// exposes the *item pointer itself, only operations on a deviceQueue.
type item struct {
	rinfo *RunInfo
	next  *item
}

// deviceQueue is an ordered FIFO of pending DAG run entries for one device,
// supporting O(1) front/back push and O(1) pop_front. Eviction given the node
// handle returned by push is O(1) only for the head; any other node is found
// by walking from the head, so it is O(n). All operations assume the
// caller holds the owning RunQueueInfo's mutex; deviceQueue itself does no
// locking (spec.md §4.A).
type deviceQueue struct {
	head   *item
	tail   *item
	length int
}

// pushBack appends rinfo as a new tail item and returns its handle.
func (q *deviceQueue) pushBack(rinfo *RunInfo) *item {
	n := &item{rinfo: rinfo}
	if q.tail == nil {
		q.head, q.tail = n, n
	} else {
		q.tail.next = n
		q.tail = n
	}
	q.length++
	return n
}

// pushFront prepends rinfo as a new head item and returns its handle.
func (q *deviceQueue) pushFront(rinfo *RunInfo) *item {
	n := &item{rinfo: rinfo, next: q.head}
	q.head = n
	if q.tail == nil {
		q.tail = n
	}
	q.length++
	return n
}

// popFront removes and returns the head item, or nil if the queue is empty.
func (q *deviceQueue) popFront() *item {
	n := q.head
	if n == nil {
		return nil
	}
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	n.next = nil
	q.length--
	return n
}

// front returns the head item without removing it, or nil if empty.
func (q *deviceQueue) front() *item {
	return q.head
}

// next returns the item following n in queue order, or nil at the tail.
func (q *deviceQueue) next(n *item) *item {
	return n.next
}

// evict removes n from the queue in O(n) (singly linked, no back-pointer);
// the scheduler only ever evicts a handful of head-adjacent items per scan,
// so this stays cheap in practice. evict is a no-op if n is not present.
func (q *deviceQueue) evict(n *item) {
	if q.head == n {
		q.popFront()
		return
	}
	for p := q.head; p != nil; p = p.next {
		if p.next == n {
			p.next = n.next
			if q.tail == n {
				q.tail = p
			}
			n.next = nil
			q.length--
			return
		}
	}
}

// len returns the number of items currently queued.
func (q *deviceQueue) len() int {
	return q.length
}
