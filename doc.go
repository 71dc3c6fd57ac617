// Package dphash implements two fixed-capacity concurrent hash tables for
// dataplane packet-processing workloads: Chain, a chained coarse-bucket
// table locked with a recursive spinlock per bucket, and Mod, a modular
// open-addressed table locked with a non-recursive spinlock per chunk.
//
// Both tables operate entirely on memory handed to them by the caller (or
// allocated once at construction and never resized): neither rehashes,
// persists, evicts, nor defines an iteration order. Concurrent insert,
// lookup, and stats calls from any number of goroutines are safe; Clear
// requires the caller to hold off all other operations.
package dphash
