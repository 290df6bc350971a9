// Package loser implements a tournament tree (also known as a loser tree) for
// merging several sorted sequences into one. It follows Bryan Boreham's
// go-loser (https://github.com/bboreham/go-loser).
//
// Each internal node remembers the loser of the game played below it and
// node 0 remembers the overall winner, so advancing the winning sequence only
// replays the games on the path from its leaf to the root: about log2(k)
// comparisons per element for k sequences.
//
// Exhausted sequences lose every game, so no sentinel "maximum" value is
// needed and any value of E may appear in the input.
//
//	tree := loser.New(
//	    []loser.Sequence[int]{seq1, seq2, seq3},
//	    func(a, b int) bool { return a < b },
//	)
//	for v := range tree.All() {
//	    fmt.Println(v)
//	}
//
// The tree is laid out in an array: for node N its children are 2N and 2N+1,
// the k leaves occupy positions k..2k-1 and the internal nodes 1..k-1.
package loser
