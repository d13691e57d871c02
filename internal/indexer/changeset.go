package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/storage"
)

// diff is the Plan+Diff pipeline stages' output (§4.3 stages 1-2).
type diff struct {
	toAdd    []string
	toUpdate []string
	toRemove []string
}

// planDiff walks the project (or, when hint is non-nil, checks only the
// hinted paths) and joins against the persisted File rows, applying the
// mtime fast-path before falling back to a content hash — grounded on the
// teacher's change_detector.go DetectChanges algorithm.
func planDiff(ctx context.Context, rootDir string, registry storage.ProjectRegistry, projectID string, d *discovery, hint []string) (*diff, error) {
	var candidates []string
	var err error
	fullScan := hint == nil
	if fullScan {
		candidates, err = d.walk()
		if err != nil {
			return nil, fmt.Errorf("discover files: %w", err)
		}
	} else {
		candidates = hint
	}

	existing, err := registry.ListFiles(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	byPath := make(map[string]model.File, len(existing))
	for _, f := range existing {
		byPath[f.RelPath] = f
	}

	out := &diff{}
	for _, rel := range candidates {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		abs := filepath.Join(rootDir, rel)
		info, statErr := os.Stat(abs)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", rel, statErr)
		}

		prior, known := byPath[rel]
		if !known {
			out.toAdd = append(out.toAdd, rel)
			continue
		}
		delete(byPath, rel)

		if info.ModTime().Equal(prior.ModTime) {
			continue // mtime fast-path: unchanged
		}
		hash, hashErr := hashFile(abs)
		if hashErr != nil {
			return nil, fmt.Errorf("hash %s: %w", rel, hashErr)
		}
		if hash != prior.ContentHash {
			out.toUpdate = append(out.toUpdate, rel)
		}
		// else: mtime drifted but content identical — still Unchanged. The
		// persist stage refreshes the File row only for toAdd/toUpdate and
		// no write is forced here, so the row keeps its stale mtime and this
		// file is re-hashed on every later scan until its content changes.
	}

	if fullScan {
		for rel := range byPath {
			out.toRemove = append(out.toRemove, rel)
		}
	}
	return out, nil
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return hashBytes(data), nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
