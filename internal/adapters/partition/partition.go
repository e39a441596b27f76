// Package partition groups raw records by loan identifier into a fixed number
// of disjoint partitions, either in memory or spilled to temporary files.
package partition

import (
	"context"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/loanlabel/internal/domain/record"
)

// Store collects records into partitions during ingestion and hands whole
// partitions back once sealed. All records sharing a key land in the same
// partition.
type Store interface {
	// Add routes one record to its partition.
	Add(rec record.RawRecord) error
	// Seal ends ingestion. Add fails afterwards and Load becomes available.
	Seal() error
	// Partitions returns the number of partitions.
	Partitions() int
	// Load returns every record of partition p.
	Load(ctx context.Context, p int) ([]record.RawRecord, error)
	// Len returns the number of records added to partition p.
	Len(p int) int
	// Close releases all resources held by the store.
	Close() error
}

// Shard maps key onto one of n partitions.
func Shard(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}
