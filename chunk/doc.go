// Package chunk turns an input file into a stream of records.
//
// A Producer reads the file, splits it into lines, parses each line and
// sends the well-formed ones to a channel. Malformed lines are counted and
// dropped. The producer owns the channel and closes it when it returns,
// which is how consumers learn that the input is exhausted.
//
// Two producers are provided: StreamProducer reads the file in fixed-size
// blocks, MmapProducer maps it into memory. Both yield the same records in
// the same order.
package chunk
