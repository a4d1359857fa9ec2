package pool

// heapItem is one entry in the priority queue. Among equal priorities, the
// lower sequence number (earlier submission) runs first, giving FIFO order
// within a priority band.
type heapItem struct {
	task     Task
	priority Priority
	seq      int
}

// taskHeap implements container/heap.Interface as a max-heap on priority,
// tie-broken by submission order.
type taskHeap []*heapItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*heapItem))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
