package app

import (
	"context"
	"fmt"
)

// BulkUpdateFunc applies one bulk conditional update and returns the rows it
// changed.
type BulkUpdateFunc func(ctx context.Context, ids []int64) (int64, error)

// PartitionedCommitter bounds the size of every write by splitting ids into
// fixed-size chunks. Each chunk is durable on its own, so a failure keeps the
// chunks already written.
type PartitionedCommitter struct {
	chunkSize int
	update    BulkUpdateFunc
}

func NewPartitionedCommitter(chunkSize int, update BulkUpdateFunc) PartitionedCommitter {
	if chunkSize <= 0 {
		chunkSize = defaultCommitChunkSize
	}
	return PartitionedCommitter{chunkSize: chunkSize, update: update}
}

// Commit returns the summed affected rows, including those of chunks that
// completed before an error.
func (c PartitionedCommitter) Commit(ctx context.Context, ids []int64) (int64, error) {
	var total int64
	for i, chunk := range chunkIDs(ids, c.chunkSize) {
		affected, err := c.update(ctx, chunk)
		if err != nil {
			return total, fmt.Errorf("commit chunk %d: %w", i, err)
		}
		total += affected
	}
	return total, nil
}

func chunkIDs(ids []int64, size int) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
