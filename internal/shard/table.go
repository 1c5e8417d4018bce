package shard

import (
	"fmt"
	"slices"

	"github.com/roach88/flux/internal/ir"
)

// NumBuckets is the number of hash buckets keys are spread over.
const NumBuckets = 256

// Range assigns the inclusive bucket range [From, To] to a shard.
type Range struct {
	Shard ir.ShardID
	From  int
	To    int
}

// Table is a static partition table. It is immutable after construction.
type Table struct {
	buckets [NumBuckets]ir.ShardID
	shards  []ir.ShardID
}

var _ Router = (*Table)(nil)

// NewTable builds a table from bucket ranges.
// The ranges must cover buckets 0..255 exactly once.
func NewTable(ranges []Range) (*Table, error) {
	if len(ranges) == 0 {
		return nil, fmt.Errorf("%w: no shards", ErrInvalidTopology)
	}

	t := &Table{}
	var covered [NumBuckets]bool
	seen := make(map[ir.ShardID]bool)

	for _, r := range ranges {
		if r.From < 0 || r.To >= NumBuckets || r.From > r.To {
			return nil, fmt.Errorf("%w: %s has bad bucket range [%d, %d]",
				ErrInvalidTopology, r.Shard, r.From, r.To)
		}
		for b := r.From; b <= r.To; b++ {
			if covered[b] {
				return nil, fmt.Errorf("%w: bucket %d assigned twice", ErrInvalidTopology, b)
			}
			covered[b] = true
			t.buckets[b] = r.Shard
		}
		if !seen[r.Shard] {
			seen[r.Shard] = true
			t.shards = append(t.shards, r.Shard)
		}
	}

	for b, ok := range covered {
		if !ok {
			return nil, fmt.Errorf("%w: bucket %d not assigned", ErrInvalidTopology, b)
		}
	}

	slices.Sort(t.shards)
	return t, nil
}

// NewUniformTable splits the buckets evenly over shards 0..n-1.
// Leftover buckets go to the lowest shards, one each.
func NewUniformTable(n int) (*Table, error) {
	if n <= 0 || n > NumBuckets {
		return nil, fmt.Errorf("%w: shard count %d out of range 1..%d", ErrInvalidTopology, n, NumBuckets)
	}
	return NewTable(UniformRanges(n))
}

// UniformRanges returns the ranges used by NewUniformTable.
func UniformRanges(n int) []Range {
	size, extra := NumBuckets/n, NumBuckets%n
	ranges := make([]Range, 0, n)
	from := 0
	for i := 0; i < n; i++ {
		width := size
		if i < extra {
			width++
		}
		ranges = append(ranges, Range{Shard: ir.ShardID(i), From: from, To: from + width - 1})
		from += width
	}
	return ranges
}

// Route implements Router.
func (t *Table) Route(key string) (ir.ShardID, error) {
	if err := checkKey(key); err != nil {
		return 0, err
	}
	return t.buckets[ir.ShardBucket(key)], nil
}

// Shards implements Router. The returned slice is a copy.
func (t *Table) Shards() []ir.ShardID {
	return slices.Clone(t.shards)
}

// Bucket exposes the bucket of key, for operator tooling.
func (t *Table) Bucket(key string) (int, error) {
	if err := checkKey(key); err != nil {
		return 0, err
	}
	return int(ir.ShardBucket(key)), nil
}
