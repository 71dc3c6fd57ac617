package dphash

import (
	"testing"
)

func BenchmarkModInsertOrUpdate(b *testing.B) {
	ht := NewMod[int, testEntry](1<<16, 8)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ht.InsertOrUpdate(i, testEntry{key: i})
	}
}

func BenchmarkModLookupHit(b *testing.B) {
	const total = 1 << 16
	ht := NewMod[int, testEntry](total, 8)
	for i := 0; i < total; i++ {
		ht.InsertOrUpdate(i, testEntry{key: i})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, locker, _ := ht.Lookup(i % total)
		if locker != nil {
			locker.Unlock()
		}
	}
}

func BenchmarkModInsertOrUpdateParallel(b *testing.B) {
	ht := NewMod[int, testEntry](1<<16, 8)
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			ht.InsertOrUpdate(i, testEntry{key: i})
			i++
		}
	})
}
