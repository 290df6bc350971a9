// Package hugesort sorts text files far larger than memory.
//
// Every line of the input has the form "<number>. <text>". The output holds
// the same records ordered by text, byte by byte, and then by number. Lines
// that do not have that form are dropped.
//
// A Sorter runs two stages at once. Run production reads the input, sorts
// it batch by batch in memory and spills each batch as a sorted run into a
// working directory. Merging combines those runs, as soon as they appear,
// until a single run is left, which becomes the output file.
//
//	cfg := hugesort.Config{InputPath: "input.txt"}
//	s, err := hugesort.New(cfg, hugesort.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	res, err := s.Sort(ctx)
package hugesort
