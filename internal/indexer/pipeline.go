package indexer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/codeindex/core/internal/embed"
	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/parser"
)

// fileBatch is one file's fully-prepared payload, produced by a parse+embed
// worker and consumed by the single writer.
type fileBatch struct {
	relPath string
	file    model.File
	chunks  []model.Chunk
	nodes   []model.Node
	edges   []model.Edge
	err     error
}

const (
	embedRetries       = 3
	embedBackoffBase   = 500 * time.Millisecond
	embedBackoffCap    = 8 * time.Second
	resumeCheckpointInterval = 5 * time.Second
)

// processFiles runs stages 3-5 of the pipeline: a bounded worker pool
// parses and embeds each file, and a single writer persists completed
// batches in submission order so readers observe updates in walk order
// and never a torn file. Per-file failures are recorded and skipped; only
// cancellation aborts the run.
func (ix *Indexer) processFiles(ctx context.Context, relPaths []string) (int, []FileError) {
	n := len(relPaths)
	results := make([]fileBatch, n)
	ready := make([]chan struct{}, n)
	for i := range ready {
		ready[i] = make(chan struct{})
	}

	jobs := make(chan int)
	embedSem := make(chan struct{}, ix.opts.EmbedderConcurrency)

	workers := ix.opts.IngestWorkers
	if workers > n {
		workers = n
	}
	for w := 0; w < workers; w++ {
		go func() {
			for i := range jobs {
				results[i] = ix.prepareFile(ctx, relPaths[i], embedSem)
				close(ready[i])
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				// Workers drain; unscheduled slots are marked canceled so
				// the writer below doesn't block on a channel nobody will
				// close.
				for j := i; j < n; j++ {
					results[j] = fileBatch{relPath: relPaths[j], err: ctx.Err()}
					close(ready[j])
				}
				return
			}
		}
	}()

	runID := uuid.NewString()
	written := 0
	var errs []FileError
	var done []string
	lastCheckpoint := time.Now()

	for i := 0; i < n; i++ {
		<-ready[i]
		b := results[i]
		if b.err != nil {
			if ctx.Err() != nil {
				// Cancellation: stop persisting new files. Everything
				// persisted so far is consistent per-file.
				saveResume(ix.resumePath, ResumeToken{RunID: runID, Phase: "persist", Cursor: b.relPath, Done: done})
				return written, errs
			}
			errs = append(errs, FileError{RelPath: b.relPath, Err: b.err.Error()})
			continue
		}
		if err := ix.persistFile(ctx, b); err != nil {
			if ctx.Err() != nil {
				saveResume(ix.resumePath, ResumeToken{RunID: runID, Phase: "persist", Cursor: b.relPath, Done: done})
				return written, errs
			}
			errs = append(errs, FileError{RelPath: b.relPath, Err: err.Error()})
			continue
		}
		written += len(b.chunks)
		done = append(done, b.relPath)

		if time.Since(lastCheckpoint) >= resumeCheckpointInterval {
			saveResume(ix.resumePath, ResumeToken{RunID: runID, Phase: "persist", Cursor: b.relPath, Done: done})
			lastCheckpoint = time.Now()
		}
	}
	return written, errs
}

// prepareFile runs stages 3-4 for one file: read, parse (falling back per
// the failure policy), assemble chunks with stable ids, and embed.
func (ix *Indexer) prepareFile(ctx context.Context, relPath string, embedSem chan struct{}) fileBatch {
	abs := filepath.Join(ix.rootDir, relPath)
	source, err := os.ReadFile(abs)
	if err != nil {
		return fileBatch{relPath: relPath, err: fmt.Errorf("read %s: %w", relPath, err)}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fileBatch{relPath: relPath, err: fmt.Errorf("stat %s: %w", relPath, err)}
	}
	hash := hashBytes(source)
	language := parser.DetectLanguage(relPath, source)

	ext, _, parseErr := parser.ParseFile(ctx, ix.parsers, ix.projectID, relPath, source)
	if parseErr != nil {
		// ParseFile already substituted the fallback extraction; the error
		// is the structured warning, not an abort.
		log.Printf("warning: %v (fallback chunk emitted)", parseErr)
	}

	protos := ext.Chunks
	if ix.opts.MaxChunkBytes > 0 && ix.opts.MaxChunkBytes != parser.MaxChunkBytes {
		protos = resplitProtoChunks(protos, ix.opts.MaxChunkBytes)
	}

	chunks := make([]model.Chunk, 0, len(protos))
	texts := make([]string, 0, len(protos))
	for _, pc := range protos {
		chunks = append(chunks, model.Chunk{
			ID:          ChunkID(ix.projectID, relPath, pc.StartLine, pc.EndLine, hash),
			ProjectID:   ix.projectID,
			RelPath:     relPath,
			Kind:        pc.Kind,
			Name:        pc.Name,
			StartLine:   pc.StartLine,
			EndLine:     pc.EndLine,
			Text:        pc.Text,
			ContentHash: hash,
		})
		texts = append(texts, pc.Text)
	}

	if len(texts) > 0 {
		select {
		case embedSem <- struct{}{}:
		case <-ctx.Done():
			return fileBatch{relPath: relPath, err: ctx.Err()}
		}
		vecs, err := ix.embedWithRetry(ctx, texts)
		<-embedSem
		if err != nil {
			return fileBatch{relPath: relPath, err: fmt.Errorf("embed %s: %w", relPath, err)}
		}
		for i := range chunks {
			chunks[i].Embedding = vecs[i]
		}
	}

	nodes := make([]model.Node, len(ext.Symbols))
	for i, s := range ext.Symbols {
		s.ProjectID = ix.projectID
		nodes[i] = s
	}
	edges := make([]model.Edge, len(ext.Edges))
	for i, e := range ext.Edges {
		e.ProjectID = ix.projectID
		if e.Weight == 0 {
			e.Weight = 1
		}
		edges[i] = e
	}

	return fileBatch{
		relPath: relPath,
		file: model.File{
			ProjectID:   ix.projectID,
			RelPath:     relPath,
			ContentHash: hash,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			Language:    language,
			IndexedAt:   time.Now().UTC(),
		},
		chunks: chunks,
		nodes:  nodes,
		edges:  edges,
	}
}

// resplitProtoChunks enforces a configured chunk-size ceiling tighter
// than the parser's own default, re-splitting oversized chunks on the
// same blank-line boundary rule.
func resplitProtoChunks(in []parser.ProtoChunk, maxBytes int) []parser.ProtoChunk {
	out := make([]parser.ProtoChunk, 0, len(in))
	for _, pc := range in {
		if len(pc.Text) <= maxBytes {
			out = append(out, pc)
			continue
		}
		parts := parser.SplitChunkText(pc.Text, pc.StartLine, maxBytes)
		for i, part := range parts {
			name := pc.Name
			if len(parts) > 1 {
				name = fmt.Sprintf("%s#%d", pc.Name, i+1)
			}
			out = append(out, parser.ProtoChunk{Kind: pc.Kind, Name: name, StartLine: part.StartLine, EndLine: part.EndLine, Text: part.Text})
		}
	}
	return out
}

// embedWithRetry applies the environment-error policy: up to three
// retries with exponential backoff, base 500ms capped at 8s, before the
// batch is marked failed and the file skipped.
func (ix *Indexer) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	backoff := embedBackoffBase
	for attempt := 0; attempt <= embedRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			if backoff > embedBackoffCap {
				backoff = embedBackoffCap
			}
		}
		vecs, err := embed.EmbedBatched(ctx, ix.provider, texts, embed.ModePassage, ix.opts.EmbedBatchSize, nil)
		if err == nil {
			return vecs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, lastErr
}

// persistFile is stage 5 for one file: delete-then-upsert in the vector
// and graph stores, then the File row. Each store call is atomic; a
// failure leaves the previous state for that store and the file is
// reported failed, matching the mid-file failure row of the design's
// failure table.
func (ix *Indexer) persistFile(ctx context.Context, b fileBatch) error {
	if err := ix.vectors.DeleteByFile(ctx, ix.projectID, b.relPath); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if err := ix.vectors.UpsertChunks(ctx, ix.projectID, b.chunks); err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	if err := ix.graph.DeleteByFile(ctx, ix.projectID, b.relPath); err != nil {
		return fmt.Errorf("clear graph: %w", err)
	}
	if err := ix.graph.UpsertNodes(ctx, b.nodes); err != nil {
		return fmt.Errorf("upsert nodes: %w", err)
	}
	if err := ix.graph.UpsertEdges(ctx, b.edges); err != nil {
		return fmt.Errorf("upsert edges: %w", err)
	}
	if err := ix.registry.UpsertFile(ctx, b.file); err != nil {
		return fmt.Errorf("upsert file row: %w", err)
	}
	return nil
}
