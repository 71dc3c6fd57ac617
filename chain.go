package dphash

import (
	"sync/atomic"
	"unsafe"
)

// pair is a (key, value) record stored inline in a chunk slot.
type pair[K comparable, V any] struct {
	key K
	val V
}

// Padding is sized from a header-only shape (lock plus bookkeeping scalars,
// no K/V-dependent field): unsafe.Sizeof of a type parameterized by K or V
// is not a compile-time constant, so, like this family's own inline-storage
// buckets, the slots slice itself is excluded from the calculation and the
// header is padded up to a cache line on its own.
const chainPrimaryHeaderPad = (CacheLineSize - unsafe.Sizeof(struct {
	lock     recursiveSpinlock
	occupied uint64
	next     int32
}{})%CacheLineSize) % CacheLineSize

const chainExtendedHeaderPad = (CacheLineSize - unsafe.Sizeof(struct {
	occupied uint64
	next     int32
}{})%CacheLineSize) % CacheLineSize

// chainPrimary is a bucket's primary chunk: a fixed number of inline pair
// slots, an occupancy bitmap, a recursive spinlock guarding the whole
// chain reachable from this chunk, and a reference to the first extended
// chunk linked into the chain (or -1).
type chainPrimary[K comparable, V any] struct {
	lock     recursiveSpinlock
	occupied uint64
	next     int32

	//lint:ignore U1000 prevents false sharing
	pad [chainPrimaryHeaderPad]byte

	slots []pair[K, V]
}

// chainExtended is an extended chunk drawn from the free pool to continue
// a chain whose primary chunk is full. It carries no lock of its own: it
// is always accessed while the owning bucket's primary lock is held.
type chainExtended[K comparable, V any] struct {
	occupied uint64
	next     int32

	//lint:ignore U1000 prevents false sharing
	pad [chainExtendedHeaderPad]byte

	slots []pair[K, V]
}

// chainPool is the shared free pool of extended chunks. Allocation is a
// single fetch-and-add on next; the pool never reclaims a chunk back to
// the pool during steady operation, only on Clear.
type chainPool[K comparable, V any] struct {
	chunks []chainExtended[K, V]
	next   atomic.Uint32
}

func (p *chainPool[K, V]) alloc() (int32, bool) {
	n := p.next.Add(1) - 1
	if n >= uint32(len(p.chunks)) {
		return -1, false
	}
	return int32(n), true
}

// Chain is a chained, coarse-bucket hash table. Primary buckets are an
// array of P chunks, each guarded by a recursive spinlock; on overflow,
// chunks drawn from a shared pool of E extended chunks are linked to form
// a per-bucket chain.
//
// A Chain must not be copied after first use.
type Chain[K comparable, V any] struct {
	_ noCopy

	primaries        []chainPrimary[K, V]
	pool             chainPool[K, V]
	hash             HashFunc[K]
	pairsPerPrimary  int
	pairsPerExtended int

	pairs         atomic.Int64
	insertFailed  atomic.Uint64
	extendedInUse atomic.Int32
	longestChain  atomic.Int32
}

// ChainConfig collects Chain construction options.
type ChainConfig[K comparable] struct {
	hash HashFunc[K]
}

// ChainOption configures a Chain at construction time.
type ChainOption[K comparable] func(*ChainConfig[K])

// WithChainHash overrides the default hasher (CRC-32C for integer keys,
// Go's built-in map hash otherwise).
func WithChainHash[K comparable](h HashFunc[K]) ChainOption[K] {
	return func(c *ChainConfig[K]) { c.hash = h }
}

// NewChain constructs a Chain with primaryCount primary buckets and
// extendedCount extended chunks drawn from a shared pool, each primary
// chunk holding pairsPerPrimaryChunk pairs and each extended chunk holding
// pairsPerExtendedChunk pairs. All backing storage is allocated once, up
// front; no operation allocates afterward.
func NewChain[K comparable, V any](
	primaryCount, extendedCount, pairsPerPrimaryChunk, pairsPerExtendedChunk int,
	opts ...ChainOption[K],
) *Chain[K, V] {
	if primaryCount <= 0 || pairsPerPrimaryChunk <= 0 || pairsPerPrimaryChunk > 64 ||
		extendedCount < 0 || pairsPerExtendedChunk < 0 || pairsPerExtendedChunk > 64 {
		panic("dphash: invalid Chain parameters")
	}

	var cfg ChainConfig[K]
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.hash == nil {
		cfg.hash = defaultHash[K]()
	}

	t := &Chain[K, V]{
		hash:             cfg.hash,
		pairsPerPrimary:  pairsPerPrimaryChunk,
		pairsPerExtended: pairsPerExtendedChunk,
	}
	t.primaries = make([]chainPrimary[K, V], primaryCount)
	for i := range t.primaries {
		t.primaries[i].slots = make([]pair[K, V], pairsPerPrimaryChunk)
		t.primaries[i].next = -1
	}
	t.pool.chunks = make([]chainExtended[K, V], extendedCount)
	for i := range t.pool.chunks {
		t.pool.chunks[i].slots = make([]pair[K, V], pairsPerExtendedChunk)
		t.pool.chunks[i].next = -1
	}
	return t
}

// KeysSize reports the number of key slots the table can hold:
// P*pairsPerPrimaryChunk + E*pairsPerExtendedChunk.
func (t *Chain[K, V]) KeysSize() int {
	return len(t.primaries)*t.pairsPerPrimary + len(t.pool.chunks)*t.pairsPerExtended
}

// Insert places (key, val) in the table, overwriting any existing pair
// with the same key. It returns false, and increments InsertFailed, only
// when the bucket's chain is full and the extended-chunk pool is
// exhausted.
func (t *Chain[K, V]) Insert(key K, val V) bool {
	bidx := t.hash(key) % uint32(len(t.primaries))
	primary := &t.primaries[bidx]

	token := chainToken()
	primary.lock.Lock(token)
	defer primary.lock.Unlock()

	occupied := &primary.occupied
	nextIdx := &primary.next
	slots := primary.slots
	capacity := t.pairsPerPrimary
	chainLen := 1

	for {
		for i := 0; i < capacity; i++ {
			bit := uint64(1) << uint(i)
			if *occupied&bit != 0 && slots[i].key == key {
				slots[i].val = val
				return true
			}
		}
		for i := 0; i < capacity; i++ {
			bit := uint64(1) << uint(i)
			if *occupied&bit == 0 {
				slots[i] = pair[K, V]{key: key, val: val}
				*occupied |= bit
				t.pairs.Add(1)
				t.bumpLongestChain(chainLen)
				return true
			}
		}

		if *nextIdx < 0 {
			idx, ok := t.pool.alloc()
			if !ok {
				t.insertFailed.Add(1)
				return false
			}
			*nextIdx = idx
			t.extendedInUse.Add(1)
		}

		ext := &t.pool.chunks[*nextIdx]
		occupied = &ext.occupied
		nextIdx = &ext.next
		slots = ext.slots
		capacity = t.pairsPerExtended
		chainLen++
	}
}

func (t *Chain[K, V]) bumpLongestChain(n int) {
	for {
		cur := t.longestChain.Load()
		if int32(n) <= cur {
			return
		}
		if t.longestChain.CompareAndSwap(cur, int32(n)) {
			return
		}
	}
}

// Lookup searches the bucket's chain for key. On a hit it returns a
// pointer to the value slot and the bucket's lock, held on return; the
// caller must call Unlock on the returned Locker exactly once. On a miss
// it returns (nil, nil) and the lock is released internally before
// returning.
func (t *Chain[K, V]) Lookup(key K) (*V, Locker) {
	bidx := t.hash(key) % uint32(len(t.primaries))
	primary := &t.primaries[bidx]

	token := chainToken()
	primary.lock.Lock(token)

	occupied := primary.occupied
	nextIdx := primary.next
	slots := primary.slots
	capacity := t.pairsPerPrimary

	for {
		for i := 0; i < capacity; i++ {
			bit := uint64(1) << uint(i)
			if occupied&bit != 0 && slots[i].key == key {
				return &slots[i].val, &primary.lock
			}
		}
		if nextIdx < 0 {
			primary.lock.Unlock()
			return nil, nil
		}
		ext := &t.pool.chunks[nextIdx]
		occupied = ext.occupied
		nextIdx = ext.next
		slots = ext.slots
		capacity = t.pairsPerExtended
	}
}

// Stats returns a snapshot of the table's counters. Each counter is read
// with its own atomic load, so a concurrent Insert never makes Stats
// observe a torn value of any single counter, but the snapshot as a whole
// is not a single atomic operation.
func (t *Chain[K, V]) Stats() ChainStats {
	return ChainStats{
		Pairs:               int(t.pairs.Load()),
		ExtendedChunksInUse: int(t.extendedInUse.Load()),
		LongestChain:        int(t.longestChain.Load()),
		InsertFailed:        t.insertFailed.Load(),
	}
}

// Clear resets every bucket to empty, returns all extended chunks to the
// pool, and zeros the stats. It is not safe to call concurrently with any
// other Chain operation.
func (t *Chain[K, V]) Clear() {
	for i := range t.primaries {
		p := &t.primaries[i]
		p.occupied = 0
		p.next = -1
		clear(p.slots)
	}
	for i := range t.pool.chunks {
		c := &t.pool.chunks[i]
		c.occupied = 0
		c.next = -1
		clear(c.slots)
	}
	t.pool.next.Store(0)
	t.pairs.Store(0)
	t.insertFailed.Store(0)
	t.extendedInUse.Store(0)
	t.longestChain.Store(0)
}
