package dphash

import (
	"sync/atomic"
	"unsafe"
)

// modMaxChunkArity bounds the number of slots a Mod chunk may hold. A
// fixed bound (rather than a per-table slice of slices) keeps a chunk's
// byte size deterministic, which is what makes CalculateSizeof exact and
// BindTo's placement construction possible.
const modMaxChunkArity = 8

// defaultProbeWindow is the number of consecutive chunks a probe visits
// before giving up. It doubles as the insertion-failure threshold.
const defaultProbeWindow = 4

// modChunkHeaderPad, like chainPrimaryHeaderPad, is sized from the lock and
// bookkeeping fields only: unsafe.Sizeof of the K/V-dependent slots array is
// not a compile-time constant inside a generic type, so the header is
// padded to a cache line on its own and the slots trail after it.
const modChunkHeaderPad = (CacheLineSize - unsafe.Sizeof(struct {
	lock     spinlock
	occupied uint64
}{})%CacheLineSize) % CacheLineSize

// modChunk is a fixed array of inline pair slots guarded by one
// non-recursive spinlock. Overflow is resolved by probing neighboring
// chunks, not by chaining.
type modChunk[K comparable, V any] struct {
	lock     spinlock
	occupied uint64

	//lint:ignore U1000 prevents false sharing
	pad [modChunkHeaderPad]byte

	slots [modMaxChunkArity]pair[K, V]
}

// Mod is a modular, open-addressed hash table. Keys hash to a starting
// chunk and probing visits a bounded window of consecutive chunks, each
// independently guarded by its own spinlock.
//
// A Mod must not be copied after first use.
type Mod[K comparable, V any] struct {
	_ noCopy

	chunks      []modChunk[K, V]
	chunkCount  int
	chunkArity  int
	probeWindow int
	hash        HashFunc[K]

	pairs        atomic.Int64
	insertFailed atomic.Uint64
}

// ModConfig collects Mod construction options.
type ModConfig[K comparable] struct {
	hash        HashFunc[K]
	probeWindow int
}

// ModOption configures a Mod at construction time.
type ModOption[K comparable] func(*ModConfig[K])

// WithModHash overrides the default hasher (CRC-32C for integer keys, Go's
// built-in map hash otherwise).
func WithModHash[K comparable](h HashFunc[K]) ModOption[K] {
	return func(c *ModConfig[K]) { c.hash = h }
}

// WithProbeWindow overrides the default probe window of 4 chunks.
func WithProbeWindow[K comparable](w int) ModOption[K] {
	return func(c *ModConfig[K]) { c.probeWindow = w }
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func validateChunkArity(chunkArity int) {
	if chunkArity <= 0 || chunkArity > modMaxChunkArity {
		panic("dphash: chunkArity must be in [1, modMaxChunkArity]")
	}
}

// CalculateSizeof returns the exact number of bytes a Mod[K, V] sized for
// totalSize pairs with the given chunkArity needs, so a caller may
// allocate zeroed memory up front and bind it with BindTo.
func CalculateSizeof[K comparable, V any](totalSize, chunkArity int) uintptr {
	validateChunkArity(chunkArity)
	chunkCount := ceilDiv(max(totalSize, 1), chunkArity)
	var c modChunk[K, V]
	return uintptr(chunkCount) * unsafe.Sizeof(c)
}

func newModConfig[K comparable](opts []ModOption[K]) ModConfig[K] {
	cfg := ModConfig[K]{probeWindow: defaultProbeWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.hash == nil {
		cfg.hash = defaultHash[K]()
	}
	if cfg.probeWindow <= 0 {
		cfg.probeWindow = defaultProbeWindow
	}
	return cfg
}

// NewMod allocates its own backing storage for totalSize pairs, chunked
// into groups of chunkArity. Most callers that don't need placement
// construction on externally provided memory should use this.
func NewMod[K comparable, V any](totalSize, chunkArity int, opts ...ModOption[K]) *Mod[K, V] {
	validateChunkArity(chunkArity)
	cfg := newModConfig(opts)
	chunkCount := ceilDiv(max(totalSize, 1), chunkArity)
	return &Mod[K, V]{
		chunks:      make([]modChunk[K, V], chunkCount),
		chunkCount:  chunkCount,
		chunkArity:  chunkArity,
		probeWindow: min(cfg.probeWindow, chunkCount),
		hash:        cfg.hash,
	}
}

// BindTo binds a Mod[K, V] sized for totalSize pairs to caller-provided
// memory of exactly CalculateSizeof(totalSize, chunkArity) bytes, then
// clears it. buf must be zeroed: BindTo calls Clear before returning, but
// Clear resets occupancy and slots only, not the chunk spinlocks. This is
// the placement-construction
// equivalent of the updater.update_pointer contract: the returned Mod is
// a non-owning view over buf.
func BindTo[K comparable, V any](buf []byte, totalSize, chunkArity int, opts ...ModOption[K]) *Mod[K, V] {
	validateChunkArity(chunkArity)
	required := CalculateSizeof[K, V](totalSize, chunkArity)
	if uintptr(len(buf)) != required {
		panic("dphash: backing buffer size does not match CalculateSizeof")
	}
	cfg := newModConfig(opts)
	chunkCount := ceilDiv(max(totalSize, 1), chunkArity)

	var chunks []modChunk[K, V]
	if chunkCount > 0 {
		var zero modChunk[K, V]
		if uintptr(unsafe.Pointer(&buf[0]))%unsafe.Alignof(zero) != 0 {
			panic("dphash: backing buffer is not aligned for Mod's chunk type")
		}
		chunks = unsafe.Slice((*modChunk[K, V])(unsafe.Pointer(&buf[0])), chunkCount)
	}
	t := &Mod[K, V]{
		chunks:      chunks,
		chunkCount:  chunkCount,
		chunkArity:  chunkArity,
		probeWindow: min(cfg.probeWindow, chunkCount),
		hash:        cfg.hash,
	}
	t.Clear()
	return t
}

// Lookup searches the probe window starting at H(key) mod chunkCount. On a
// hit it returns a pointer to the value slot, the chunk's lock held on
// return, and the hash so a following Insert can reuse it without
// rehashing. On a miss both out-values are nil and every chunk visited has
// already had its lock released.
func (t *Mod[K, V]) Lookup(key K) (*V, Locker, uint32) {
	h := t.hash(key)
	start := h % uint32(t.chunkCount)

	for w := 0; w < t.probeWindow; w++ {
		idx := (start + uint32(w)) % uint32(t.chunkCount)
		c := &t.chunks[idx]
		c.lock.Lock()
		for i := 0; i < t.chunkArity; i++ {
			bit := uint64(1) << uint(i)
			if c.occupied&bit != 0 && c.slots[i].key == key {
				return &c.slots[i].val, &c.lock, h
			}
		}
		c.lock.Unlock()
	}
	return nil, nil, h
}

// Insert places (key, val) using a previously computed hash (typically
// the one returned from a prior Lookup miss), avoiding a second hash
// computation. It overwrites an existing pair with the same key, or
// occupies the first empty slot found in the probe window. It returns
// false, incrementing InsertFailed, only when the window is entirely
// occupied and holds no matching key.
func (t *Mod[K, V]) Insert(hash uint32, key K, val V) bool {
	return t.insert(hash, key, val)
}

// InsertOrUpdate computes H(key) and performs the same insert-or-overwrite
// walk as Insert, acquiring and releasing chunk locks one at a time. It
// returns false only when the probe window is exhausted.
func (t *Mod[K, V]) InsertOrUpdate(key K, val V) bool {
	return t.insert(t.hash(key), key, val)
}

// insert walks the probe window one chunk at a time, holding each chunk's
// lock only long enough to scan it. Match and placement must happen in the
// same pass under the same lock acquisition: releasing the lock between a
// match scan and a placement scan (as a separate pass would) lets two
// concurrent callers for the same key both see "no match" and then each
// place the key in a different empty slot. Scanning once per chunk and
// acting on the first match-or-empty slot found means whichever caller
// locks a given chunk first commits to it (overwrite or placement) before
// unlocking, so a later caller scanning that same chunk always sees the
// up-to-date result and finds the match instead of placing a duplicate.
func (t *Mod[K, V]) insert(hash uint32, key K, val V) bool {
	start := hash % uint32(t.chunkCount)

	for w := 0; w < t.probeWindow; w++ {
		idx := (start + uint32(w)) % uint32(t.chunkCount)
		c := &t.chunks[idx]
		c.lock.Lock()

		emptySlot := -1
		for i := 0; i < t.chunkArity; i++ {
			bit := uint64(1) << uint(i)
			if c.occupied&bit != 0 {
				if c.slots[i].key == key {
					c.slots[i].val = val
					c.lock.Unlock()
					return true
				}
				continue
			}
			if emptySlot < 0 {
				emptySlot = i
			}
		}
		if emptySlot >= 0 {
			c.slots[emptySlot] = pair[K, V]{key: key, val: val}
			c.occupied |= uint64(1) << uint(emptySlot)
			c.lock.Unlock()
			t.pairs.Add(1)
			return true
		}

		c.lock.Unlock()
	}

	t.insertFailed.Add(1)
	return false
}

// Stats returns a snapshot of the table's counters, each read with its
// own atomic load.
func (t *Mod[K, V]) Stats() ModStats {
	return ModStats{
		Pairs:        int(t.pairs.Load()),
		InsertFailed: t.insertFailed.Load(),
	}
}

// Clear zeroes every chunk's occupancy and value storage and resets
// stats. It is not safe to call concurrently with any other Mod
// operation.
func (t *Mod[K, V]) Clear() {
	for i := range t.chunks {
		c := &t.chunks[i]
		c.occupied = 0
		for j := 0; j < t.chunkArity; j++ {
			c.slots[j] = pair[K, V]{}
		}
	}
	t.pairs.Store(0)
	t.insertFailed.Store(0)
}
