// Package runwriter turns a stream of records into sorted runs.
//
// Each Writer keeps a batch of records ordered in a B-tree. When the
// rotation strategy says the batch is full, or when the input closes, the
// batch is written in order to a pending file, published, and pushed to a
// Sink so that merging can start at once. Writers share nothing but the
// input channel, so any number of them can drain one queue.
package runwriter
