package loser

import (
	"iter"
)

// Sequence is anything that can be iterated in sorted order.
type Sequence[E any] interface {
	All() iter.Seq[E]
}

// Tree merges sorted sequences.
type Tree[E any] struct {
	sequences []Sequence[E]
	leaves    []leaf[E]
	// nodes[0] is the winning leaf position, nodes[1..k-1] the losing leaf
	// position of each internal game.
	nodes []int
	less  func(a, b E) bool
}

type leaf[E any] struct {
	value E
	done  bool
	next  func() (E, bool)
}

// New builds a tree over sequences ordered by less.
func New[E any](sequences []Sequence[E], less func(a, b E) bool) *Tree[E] {
	return &Tree[E]{
		sequences: sequences,
		leaves:    make([]leaf[E], len(sequences)),
		nodes:     make([]int, len(sequences)),
		less:      less,
	}
}

// All yields the merged sequence. It may be consumed once.
func (t *Tree[E]) All() iter.Seq[E] {
	return func(yield func(E) bool) {
		if len(t.sequences) == 0 {
			return
		}
		for i, s := range t.sequences {
			next, stop := iter.Pull(s.All())
			//nolint:gocritic // stop runs when the merge ends, not per iteration.
			defer stop()
			t.leaves[i].next = next
			t.advance(i)
		}

		t.nodes[0] = t.playGame(1)
		for {
			winner := t.nodes[0]
			l := &t.leaves[winner-len(t.leaves)]
			if l.done || !yield(l.value) {
				return
			}
			t.advance(winner - len(t.leaves))
			t.replayGames(winner)
		}
	}
}

func (t *Tree[E]) advance(i int) {
	l := &t.leaves[i]
	v, ok := l.next()
	if !ok {
		var zero E
		l.value, l.done = zero, true
		return
	}
	l.value = v
}

// beats reports whether the leaf at position p wins against the leaf at q.
// Ties go to p.
func (t *Tree[E]) beats(p, q int) bool {
	a, b := &t.leaves[p-len(t.leaves)], &t.leaves[q-len(t.leaves)]
	switch {
	case a.done:
		return false
	case b.done:
		return true
	default:
		return !t.less(b.value, a.value)
	}
}

// playGame returns the winning leaf position below pos, recording losers on
// the way up.
func (t *Tree[E]) playGame(pos int) int {
	if pos >= len(t.leaves) {
		return pos
	}
	left := t.playGame(pos * 2)
	right := t.playGame(pos*2 + 1)
	if t.beats(left, right) {
		t.nodes[pos] = right
		return left
	}
	t.nodes[pos] = left
	return right
}

// replayGames re-plays every game from the leaf at pos up to the root.
func (t *Tree[E]) replayGames(pos int) {
	winner := pos
	for n := parent(pos); n != 0; n = parent(n) {
		if t.beats(t.nodes[n], winner) {
			t.nodes[n], winner = winner, t.nodes[n]
		}
	}
	t.nodes[0] = winner
}

func parent(i int) int { return i >> 1 }
