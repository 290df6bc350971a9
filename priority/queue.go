package priority

type item[K comparable, V any] struct {
	key   K
	value V
	index int
}

// Queue is a heap-ordered set of keyed values.
type Queue[K comparable, V any] struct {
	items []*item[K, V]
	byKey map[K]*item[K, V]
	less  func(a, b V) bool
}

// NewQueue creates an empty queue ordered by less.
func NewQueue[K comparable, V any](less func(a, b V) bool) *Queue[K, V] {
	return &Queue[K, V]{
		byKey: make(map[K]*item[K, V]),
		less:  less,
	}
}

// Len returns the number of items in the queue.
func (pq *Queue[K, V]) Len() int {
	return len(pq.items)
}

// Get returns the value stored for key.
func (pq *Queue[K, V]) Get(key K) (V, bool) {
	i, ok := pq.byKey[key]
	if !ok {
		var zero V
		return zero, false
	}
	return i.value, true
}

// Set adds key or replaces its value, restoring heap order either way.
func (pq *Queue[K, V]) Set(key K, value V) {
	if i, ok := pq.byKey[key]; ok {
		i.value = value
		pq.fix(i.index)
		return
	}

	i := &item[K, V]{key: key, value: value, index: len(pq.items)}
	pq.items = append(pq.items, i)
	pq.byKey[key] = i
	pq.up(i.index)
}

// ReplaceTop replaces the value of the highest priority item and restores
// heap order. It reports false if the queue is empty.
func (pq *Queue[K, V]) ReplaceTop(value V) bool {
	if len(pq.items) == 0 {
		return false
	}
	pq.items[0].value = value
	pq.down(0)
	return true
}

// Remove deletes key from the queue if present.
func (pq *Queue[K, V]) Remove(key K) {
	i, ok := pq.byKey[key]
	if !ok {
		return
	}

	last := len(pq.items) - 1
	idx := i.index
	if idx != last {
		pq.swap(idx, last)
	}
	pq.items[last] = nil
	pq.items = pq.items[:last]
	delete(pq.byKey, key)

	if idx < last {
		pq.fix(idx)
	}
}

// Pop removes and returns the highest priority item.
func (pq *Queue[K, V]) Pop() (key K, value V, ok bool) {
	if len(pq.items) == 0 {
		return key, value, false
	}
	top := pq.items[0]
	pq.Remove(top.key)
	return top.key, top.value, true
}

// Peek returns the highest priority item without removing it.
func (pq *Queue[K, V]) Peek() (key K, value V, ok bool) {
	if len(pq.items) == 0 {
		return key, value, false
	}
	top := pq.items[0]
	return top.key, top.value, true
}

func (pq *Queue[K, V]) swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.items[i].index = i
	pq.items[j].index = j
}

func (pq *Queue[K, V]) lessAt(i, j int) bool {
	return pq.less(pq.items[i].value, pq.items[j].value)
}

func (pq *Queue[K, V]) fix(i int) {
	if !pq.down(i) {
		pq.up(i)
	}
}

func (pq *Queue[K, V]) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !pq.lessAt(i, parent) {
			return
		}
		pq.swap(i, parent)
		i = parent
	}
}

// down sifts i towards the leaves and reports whether it moved.
func (pq *Queue[K, V]) down(i int) bool {
	start := i
	n := len(pq.items)
	for {
		smallest := i
		left, right := 2*i+1, 2*i+2
		if left < n && pq.lessAt(left, smallest) {
			smallest = left
		}
		if right < n && pq.lessAt(right, smallest) {
			smallest = right
		}
		if smallest == i {
			return i != start
		}
		pq.swap(i, smallest)
		i = smallest
	}
}
