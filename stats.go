package dphash

import "fmt"

// Locker is returned from a successful Lookup. The caller must call
// Unlock exactly once to release the chunk lock backing the returned
// value pointer; until then the value is safe to mutate in place and is
// guaranteed not to be concurrently rewritten by another insert.
type Locker interface {
	Unlock()
}

// ChainStats is a snapshot of a Chain table's counters.
type ChainStats struct {
	Pairs               int
	ExtendedChunksInUse int
	LongestChain        int
	InsertFailed        uint64
}

func (s ChainStats) String() string {
	return fmt.Sprintf(
		"pairs=%s extendedChunksInUse=%s longestChain=%d insertFailed=%s",
		formatNumber(uint64(s.Pairs)),
		formatNumber(uint64(s.ExtendedChunksInUse)),
		s.LongestChain,
		formatNumber(s.InsertFailed),
	)
}

// ModStats is a snapshot of a Mod table's counters.
type ModStats struct {
	Pairs        int
	InsertFailed uint64
}

func (s ModStats) String() string {
	return fmt.Sprintf("pairs=%s insertFailed=%s", formatNumber(uint64(s.Pairs)), formatNumber(s.InsertFailed))
}

// formatNumber renders a count using K/M/G/T suffixes, the same
// human-readable style the original benchmark harness used to summarize
// throughput; kept here purely for diagnostic Stats formatting.
func formatNumber(num uint64) string {
	units := [...]string{"", "K", "M", "G", "T"}
	unitIdx := 0
	value := float64(num)
	for value >= 1000.0 && unitIdx < len(units)-1 {
		value /= 1000.0
		unitIdx++
	}
	if unitIdx == 0 {
		return fmt.Sprintf("%d", num)
	}
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d%s", int64(value), units[unitIdx])
	}
	return fmt.Sprintf("%.1f%s", value, units[unitIdx])
}
