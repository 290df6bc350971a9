// Package priority implements a generic keyed priority queue.
//
// The queue is a binary heap plus a map from key to heap position, so a
// value can be looked up, replaced or removed by key in O(log n). The k-way
// merge keys entries by source run and uses ReplaceTop to advance the run
// that just supplied the minimum without a full pop and push:
//
//	pq := priority.NewQueue[int, record.Record](record.Less)
//	pq.Set(0, first0)
//	pq.Set(1, first1)
//	for pq.Len() > 0 {
//	    src, rec, _ := pq.Peek()
//	    emit(rec)
//	    if next, ok := runs[src].Next(); ok {
//	        pq.ReplaceTop(next)
//	    } else {
//	        pq.Pop()
//	    }
//	}
//
// The less function returns true if a has higher priority than b. Ordering
// between equal values is unspecified.
package priority
