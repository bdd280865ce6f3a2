// Package aggregate merges sub-query outputs into one deduplicated result.
package aggregate

import (
	"slices"

	"github.com/tokensweep/tokensweep/search"
)

// Record is one raw item tagged with where it came from. Partition is the
// partition's index in the plan and Position the item's index within that
// partition's output.
type Record struct {
	Partition int
	Position  int
	Item      search.RawItem
}

// Result is the deduplicated output of a job
type Result struct {
	Items               []search.RawItem `json:"-"`
	RawCount            int              `json:"raw_count"`
	UniqueCount         int              `json:"unique_count"`
	Partitions          int              `json:"partitions"`
	AveragePerPartition float64          `json:"average_per_partition"`
}

// Tag wraps the items of one partition as records
func Tag(partition int, items []search.RawItem) []Record {
	out := make([]Record, len(items))
	for i, it := range items {
		out[i] = Record{Partition: partition, Position: i, Item: it}
	}
	return out
}

// Merge deduplicates records by (repository, path), keeping the first
// occurrence in (Partition, Position) order. The input slice is not
// modified and its order does not affect the result. partitions is the
// number of sub-queries that ran and only feeds the average.
func Merge(records []Record, partitions int) Result {
	ordered := slices.Clone(records)
	slices.SortStableFunc(ordered, func(a, b Record) int {
		if a.Partition != b.Partition {
			return a.Partition - b.Partition
		}
		return a.Position - b.Position
	})

	seen := make(map[search.Key]struct{}, len(ordered))
	items := make([]search.RawItem, 0, len(ordered))
	for _, r := range ordered {
		k := r.Item.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		items = append(items, r.Item)
	}

	res := Result{
		Items:       items,
		RawCount:    len(records),
		UniqueCount: len(items),
		Partitions:  partitions,
	}
	if partitions > 0 {
		res.AveragePerPartition = float64(len(records)) / float64(partitions)
	}
	return res
}

// Matches converts the items to the outbound result shape
func (r Result) Matches() []search.Match {
	out := make([]search.Match, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.Match()
	}
	return out
}
