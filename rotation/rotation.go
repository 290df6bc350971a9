// Package rotation decides when a Run Writer's in-memory batch is full and
// must be spilled to a run file.
package rotation

// Information describes the batch currently being filled.
type Information struct {
	Records int
	Bytes   int64
}

type Strategy interface {
	ShouldRotate(information Information) bool
}
