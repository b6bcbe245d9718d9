// Package migrate moves thoughts in and out of a store as JSONL or as a
// directory of snapshot files.
package migrate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/enso-notes/enso/internal/errs"
	thoughtsync "github.com/enso-notes/enso/internal/sync"
	"github.com/enso-notes/enso/internal/store"
	"github.com/enso-notes/enso/internal/thought"
)

// DefaultBatchSize is the number of snapshots merged per Apply call.
const DefaultBatchSize = 500

// maxLine bounds a single JSONL record.
const maxLine = 16 << 20

// ImportResult contains statistics about an import.
type ImportResult struct {
	Lines    int                     `json:"lines"`
	Applied  int                     `json:"applied"`
	Stale    int                     `json:"stale"`
	Rejected []thoughtsync.Rejection `json:"rejected"`
}

// Export writes every thought, tombstones included, to w as one JSON object
// per line, ordered by updated_at then id. It returns the number of lines
// written.
func Export(ctx context.Context, r store.Reader, w io.Writer) (int, error) {
	rows, err := r.ChangedSince(ctx, time.Time{}, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to read thoughts: %w", err)
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, t := range rows {
		if err := enc.Encode(t); err != nil {
			return 0, fmt.Errorf("failed to encode %s: %w", t.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return len(rows), nil
}

// ExportDir writes every thought to dir/{id}.json. The directory is created
// when missing.
func ExportDir(ctx context.Context, r store.Reader, dir string) (int, error) {
	rows, err := r.ChangedSince(ctx, time.Time{}, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to read thoughts: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	for _, t := range rows {
		if _, err := thought.WriteFile(dir, t); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// Import reads JSONL snapshots from r and merges them through syncer in
// batches. Blank lines are skipped. A malformed line aborts the import with
// its line number; batches merged before it stay merged.
//
// A snapshot linking to a thought that only appears in a later batch is held
// back and merged again once every batch is in.
func Import(ctx context.Context, syncer thoughtsync.Syncer, r io.Reader, batchSize int) (*ImportResult, error) {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}

	res := &ImportResult{Rejected: []thoughtsync.Rejection{}}
	var held deferred
	batch := make([]thought.Snapshot, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		out, err := syncer.Apply(ctx, batch)
		if err != nil {
			return err
		}
		res.Applied += out.Applied
		res.Stale += out.Stale
		res.Rejected = append(res.Rejected, held.add(batch, out.Rejected)...)
		batch = batch[:0]
		return nil
	}
	fail := func(err error) (*ImportResult, error) {
		res.Rejected = append(res.Rejected, held.rejected...)
		return res, err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var snap thought.Snapshot
		if err := json.Unmarshal(line, &snap); err != nil {
			return fail(fmt.Errorf("invalid JSON at line %d: %w", lineNum, err))
		}
		batch = append(batch, snap)
		res.Lines++

		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return fail(err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fail(fmt.Errorf("failed to read line %d: %w", lineNum+1, err))
	}
	if err := flush(); err != nil {
		return fail(err)
	}

	// Retry held snapshots until a pass merges nothing new.
	for len(held.snaps) > 0 {
		retry := held
		held = deferred{}
		out, err := syncer.Apply(ctx, retry.snaps)
		if err != nil {
			held = retry
			return fail(err)
		}
		res.Applied += out.Applied
		res.Stale += out.Stale
		res.Rejected = append(res.Rejected, held.add(retry.snaps, out.Rejected)...)
		if out.Applied+out.Stale == 0 {
			res.Rejected = append(res.Rejected, held.rejected...)
			break
		}
	}
	return res, nil
}

// deferred holds snapshots rejected for a missing link target.
type deferred struct {
	snaps    []thought.Snapshot
	rejected []thoughtsync.Rejection
}

// add keeps the snapshots of batch rejected for a missing link target and
// returns the other rejections, which are final.
func (d *deferred) add(batch []thought.Snapshot, rejected []thoughtsync.Rejection) []thoughtsync.Rejection {
	byID := make(map[string]thought.Snapshot, len(batch))
	for _, s := range batch {
		if id := strings.TrimSpace(s.ID); id != "" {
			byID[id] = s
		}
	}
	var final []thoughtsync.Rejection
	for _, rej := range rejected {
		snap, ok := byID[rej.ID]
		if !ok || rej.Kind != errs.KindTargetNotFound {
			final = append(final, rej)
			continue
		}
		d.snaps = append(d.snaps, snap)
		d.rejected = append(d.rejected, rej)
	}
	return final
}

// ImportFile opens path and imports it.
func ImportFile(ctx context.Context, syncer thoughtsync.Syncer, path string, batchSize int) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer f.Close()
	return Import(ctx, syncer, f, batchSize)
}
