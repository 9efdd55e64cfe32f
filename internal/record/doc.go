// Package record parses externally generated diagnostic record files and
// loads them asynchronously.
//
// A record file is text, one record per line, tab separated:
//
//	<line>\t<column>\t<message>[\t...ignored]
//
// Lines and columns are zero-based. Lines with fewer than three fields or a
// first field that is not a base-10 integer are skipped without error.
//
// A File collects the records of every on-disk file that maps to one key.
// Loads run on goroutines and are tagged with the File's generation; Clear
// starts a new generation, and results of older loads are never observed.
package record
