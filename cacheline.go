package dphash

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLineSize is used to pad chunk structures so that a chunk's spinlock
// word never shares a cache line with a neighboring chunk, avoiding false
// sharing under contention. It's derived from golang.org/x/sys/cpu the same
// way general-purpose concurrent maps in this family size their buckets.
const CacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})

// noCopy may be embedded in a struct to help vet's copylocks check detect
// accidental copies of types that hold a lock or a raw memory view.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
