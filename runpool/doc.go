// Package runpool tracks the sorted runs waiting to be merged.
//
// A Pool holds a FIFO queue of published runs, the set of runs currently
// held by merge workers and a flag telling whether run production has
// finished. All three are guarded by one mutex, so a merge worker decides
// whether to take a pair or to stop in a single critical section:
//
//	queued >= 2                            take two runs
//	finished, none in flight, queued <= 1  drained, stop
//	otherwise                              wait for a change, then look again
//
// A lone run is never handed out, so two workers cannot each hold one run
// while neither can make progress. Commit removes the merged inputs from
// the in-flight set and queues the merged run in one step, so no worker can
// observe an empty pool between the two.
package runpool
