// Package merge combines the sorted runs of a runpool.Pool into a single
// sorted output file.
//
// Two strategies are provided. KWay waits for run production to finish and
// merges every run in one pass, through a heap or a loser tree. Tournament
// runs a set of workers that repeatedly claim two runs from the pool, merge
// them into a new run and put it back, overlapping with run production,
// until one run is left. Given the same runs both produce byte-identical
// output.
package merge
