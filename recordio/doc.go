// Package recordio reads and writes run files: newline-delimited records in
// the same "<number>. <text>" format as the sorter's input and output.
//
// A run is written once, in sort order, and then only read. Writer enforces
// that order so an out-of-order record is caught where it is produced rather
// than surfacing later as a mis-sorted output:
//
//	w := recordio.NewWriter(file)
//	for _, rec := range batch {
//	    if err := w.Write(rec); err != nil {
//	        return err
//	    }
//	}
//	if err := w.Flush(); err != nil {
//	    return err
//	}
//
// Reader streams a run back as an iterator. The iterator stops at the first
// error, which is then available from Err:
//
//	r := recordio.NewReader(file)
//	for rec := range r.All() {
//	    fmt.Println(rec)
//	}
//	if err := r.Err(); err != nil {
//	    return err
//	}
package recordio
