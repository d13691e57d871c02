package embed

import (
	"context"
	"fmt"
)

// Progress reports batch completion for the Init CLI's progress bar.
type Progress struct {
	BatchIndex      int
	TotalBatches    int
	ProcessedChunks int
	TotalChunks     int
}

// EmbedBatched splits texts into batchSize groups and embeds each in turn,
// reporting progress on progressCh (nil disables reporting). Preserves
// input order in the result regardless of batch boundaries.
func EmbedBatched(ctx context.Context, provider Provider, texts []string, mode Mode, batchSize int, progressCh chan<- Progress) ([][]float32, error) {
	total := len(texts)
	if total == 0 {
		return [][]float32{}, nil
	}
	if batchSize <= 0 {
		batchSize = total
	}

	numBatches := (total + batchSize - 1) / batchSize
	out := make([][]float32, total)
	processed := 0

	for i := 0; i < numBatches; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		start := i * batchSize
		end := start + batchSize
		if end > total {
			end = total
		}

		batch, err := provider.Embed(ctx, texts[start:end], mode)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d/%d: %w", i+1, numBatches, err)
		}
		copy(out[start:end], batch)

		processed += end - start
		if progressCh != nil {
			progressCh <- Progress{BatchIndex: i + 1, TotalBatches: numBatches, ProcessedChunks: processed, TotalChunks: total}
		}
	}
	return out, nil
}
