package dphash

import (
	"sync"
	"testing"

	"github.com/fastpath/dphash/internal/checksum"
)

func TestMod_LookupInsertRoundTrip(t *testing.T) {
	const total = 4096
	ht := NewMod[int, testEntry](total, 8)

	for i := 0; i < total; i++ {
		_, locker, h := ht.Lookup(i)
		if locker != nil {
			locker.Unlock()
			t.Fatalf("lookup(%d) unexpectedly hit before insert", i)
		}

		var e testEntry
		e.key = i
		e.value[0] = byte('A' + i%26)
		if !ht.Insert(h, i, e) {
			t.Fatalf("insert(%d) returned false", i)
		}
	}

	if got := ht.Stats().Pairs; got != total {
		t.Fatalf("stats.pairs = %d, want %d", got, total)
	}
	if got := ht.Stats().InsertFailed; got != 0 {
		t.Fatalf("insertFailed = %d, want 0", got)
	}

	for i := 0; i < total; i++ {
		val, locker, _ := ht.Lookup(i)
		if locker == nil {
			t.Fatalf("lookup(%d) missed after insert", i)
		}
		if want := byte('A' + i%26); val.value[0] != want {
			t.Fatalf("lookup(%d).value[0] = %q, want %q", i, val.value[0], want)
		}
		locker.Unlock()
	}
}

func TestMod_DuplicateInsertOverwrites(t *testing.T) {
	ht := NewMod[int, testEntry](64, 8)

	_, _, h := ht.Lookup(9)
	ht.Insert(h, 9, testEntry{key: 9, value: [64]byte{'a'}})
	if !ht.Insert(h, 9, testEntry{key: 9, value: [64]byte{'b'}}) {
		t.Fatal("overwrite insert failed")
	}
	if got := ht.Stats().Pairs; got != 1 {
		t.Fatalf("stats.pairs = %d, want 1", got)
	}

	val, locker, _ := ht.Lookup(9)
	if locker == nil {
		t.Fatal("lookup(9) missed")
	}
	defer locker.Unlock()
	if val.value[0] != 'b' {
		t.Fatalf("value[0] = %q, want 'b'", val.value[0])
	}
}

func TestMod_ProbeWindowExhaustion(t *testing.T) {
	// Every key hashes to chunk 0; a two-chunk probe window with one slot
	// per chunk means a third distinct key can't be placed.
	collideHash := WithModHash[int](func(int) uint32 { return 0 })
	ht := NewMod[int, testEntry](4, 1, collideHash, WithProbeWindow[int](2))

	_, _, h1 := ht.Lookup(1)
	if !ht.Insert(h1, 1, testEntry{key: 1}) {
		t.Fatal("insert 1 should land in chunk 0")
	}
	_, _, h2 := ht.Lookup(2)
	if !ht.Insert(h2, 2, testEntry{key: 2}) {
		t.Fatal("insert 2 should land in chunk 1")
	}
	_, _, h3 := ht.Lookup(3)
	if ht.Insert(h3, 3, testEntry{key: 3}) {
		t.Fatal("insert 3 should fail: probe window exhausted")
	}

	st := ht.Stats()
	if st.InsertFailed != 1 {
		t.Fatalf("insertFailed = %d, want 1", st.InsertFailed)
	}
	if st.Pairs != 2 {
		t.Fatalf("stats.pairs = %d, want 2", st.Pairs)
	}
}

func TestMod_InsertOrUpdateConcurrent(t *testing.T) {
	const (
		numThreads = 8
		numReps    = 4
		totalKeys  = 2048
	)
	ht := NewMod[int, testEntry](totalKeys, 8)

	var wg sync.WaitGroup
	writeSums := make([]uint64, numThreads)
	readSums := make([]uint64, numThreads)

	for th := 0; th < numThreads; th++ {
		wg.Add(1)
		go func(threadID int) {
			defer wg.Done()
			seed := byte(threadID)
			var writeSum uint64
			for rep := 0; rep < numReps; rep++ {
				for key := 0; key < totalKeys; key++ {
					var e testEntry
					e.key = key
					e.value[0] = byte('A' + key%26)
					if !ht.InsertOrUpdate(key, e) {
						t.Errorf("thread %d: insert_or_update(%d) returned false", threadID, key)
						continue
					}
					if rep == 0 && key%numThreads == threadID {
						writeSum += checksum.Sum(key, threadID, seed)
					}
				}
			}
			writeSums[threadID] = writeSum
		}(th)
	}
	wg.Wait()

	// Every goroutine calls InsertOrUpdate for every key each rep: if the
	// same key ever lands in two different slots (the two-pass race this
	// guards against), pairs overshoots the distinct-key count.
	if got := ht.Stats().Pairs; got != totalKeys {
		t.Fatalf("stats.pairs = %d, want %d (distinct keys): insert_or_update let a concurrent duplicate through", got, totalKeys)
	}

	for th := 0; th < numThreads; th++ {
		wg.Add(1)
		go func(threadID int) {
			defer wg.Done()
			seed := byte(threadID)
			var readSum uint64
			for key := 0; key < totalKeys; key++ {
				if key%numThreads != threadID {
					continue
				}
				val, locker, _ := ht.Lookup(key)
				if locker == nil {
					t.Errorf("thread %d: lookup(%d) missed after all writers joined", threadID, key)
					continue
				}
				if want := byte('A' + key%26); val.value[0] != want {
					t.Errorf("thread %d: lookup(%d).value[0] = %q, want %q", threadID, key, val.value[0], want)
				}
				locker.Unlock()
				readSum += checksum.Sum(key, threadID, seed)
			}
			readSums[threadID] = readSum
		}(th)
	}
	wg.Wait()

	for th := 0; th < numThreads; th++ {
		if writeSums[th] != readSums[th] {
			t.Errorf("thread %d: write checksum %d != read checksum %d", th, writeSums[th], readSums[th])
		}
	}
}

func TestMod_Clear(t *testing.T) {
	ht := NewMod[int, testEntry](256, 8)
	for i := 0; i < 128; i++ {
		_, _, h := ht.Lookup(i)
		ht.Insert(h, i, testEntry{key: i})
	}
	if ht.Stats().Pairs == 0 {
		t.Fatal("expected nonzero pairs before clear")
	}

	ht.Clear()

	if st := ht.Stats(); st.Pairs != 0 || st.InsertFailed != 0 {
		t.Fatalf("stats after clear = %+v, want all zero", st)
	}
	for i := 0; i < 128; i++ {
		if _, locker, _ := ht.Lookup(i); locker != nil {
			locker.Unlock()
			t.Fatalf("lookup(%d) hit after clear", i)
		}
	}
}

func TestMod_CalculateSizeofAndBindTo(t *testing.T) {
	const total, arity = 512, 8
	size := CalculateSizeof[int, testEntry](total, arity)
	if size == 0 {
		t.Fatal("CalculateSizeof returned 0")
	}

	buf := make([]byte, size)
	ht := BindTo[int, testEntry](buf, total, arity)

	for i := 0; i < total; i++ {
		_, _, h := ht.Lookup(i)
		if !ht.Insert(h, i, testEntry{key: i}) {
			t.Fatalf("insert(%d) into bound table failed", i)
		}
	}
	if got := ht.Stats().Pairs; got != total {
		t.Fatalf("stats.pairs = %d, want %d", got, total)
	}

	val, locker, _ := ht.Lookup(0)
	if locker == nil {
		t.Fatal("lookup(0) missed on bound table")
	}
	locker.Unlock()
	if val.key != 0 {
		t.Fatalf("val.key = %d, want 0", val.key)
	}
}

func TestMod_BindToRejectsWrongSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected BindTo to panic on undersized buffer")
		}
	}()
	buf := make([]byte, 1)
	BindTo[int, testEntry](buf, 512, 8)
}
