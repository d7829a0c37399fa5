package rfsc

import (
	"context"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/mirrorbackup/rtbackup/actionlog"
	"github.com/mirrorbackup/rtbackup/rfsc/filestate"
)

// maybeConsolidate repeatedly merges the two oldest local batches while
// the local batch count exceeds consolidationThreshold.
// Serialized by consolidationMu: at most one consolidation pass runs at a
// time, so a burst of back-to-back uploads never races two merges over
// the same pair of batches.
func (c *Cache) maybeConsolidate(ctx context.Context) error {
	c.consolidationMu.Lock()
	defer c.consolidationMu.Unlock()

	for {
		n, err := c.batchCount(ctx)
		if err != nil {
			return err
		}

		if n <= consolidationThreshold {
			return nil
		}

		retired, didMerge, err := c.consolidateOldestBatch(ctx)
		if err != nil {
			return err
		}

		if !didMerge {
			return nil
		}

		da := &actionlog.Action{Type: actionlog.DeleteFile, RemotePath: remotePath(retired)}

		if err := c.actionLog.LogAction(ctx, da); err != nil {
			return err
		}

		c.worker.Enqueue(da)

		c.diag.Writef("consolidated batch %d into the next batch; remote delete enqueued", retired)
	}
}

func (c *Cache) batchCount(ctx context.Context) (int, error) {
	batches, err := c.store.EnumerateBatches(ctx)
	if err != nil {
		return 0, err
	}

	return len(batches), nil
}

// consolidateOldestBatch merges the two oldest local batches, writing the
// result over the newer of the pair and dropping the older. Returns the
// retired batch number. didMerge is false when fewer
// than two local batches remain.
func (c *Cache) consolidateOldestBatch(ctx context.Context) (int, bool, error) {
	batches, err := c.store.EnumerateBatches(ctx)
	if err != nil {
		return 0, false, err
	}

	sort.Ints(batches)

	if len(batches) < 2 {
		return 0, false, nil
	}

	oldest, mergeInto := batches[0], batches[1]

	merged, deleted, err := c.readBatchAsMap(ctx, mergeInto)
	if err != nil {
		return 0, false, errors.Wrapf(err, "reading batch %d for consolidation", mergeInto)
	}

	// Tombstones in oldest are discarded: mergeInto (the newer batch)
	// already fully determines which paths are gone.
	oldestLive, _, err := c.readBatchAsMap(ctx, oldest)
	if err != nil {
		return 0, false, errors.Wrapf(err, "reading batch %d for consolidation", oldest)
	}

	for path, s := range oldestLive {
		if _, isDeleted := deleted[path]; isDeleted {
			continue
		}

		if _, exists := merged[path]; exists {
			continue
		}

		merged[path] = s
	}

	if err := c.writeConsolidatedBatch(ctx, mergeInto, merged); err != nil {
		return 0, false, err
	}

	if err := c.store.SwitchToConsolidatedFile(ctx, oldest, mergeInto); err != nil {
		return 0, false, errors.Wrapf(err, "switching consolidated batch %d", mergeInto)
	}

	if err := c.uploadBatch(ctx, mergeInto); err != nil {
		return 0, false, err
	}

	return oldest, true, nil
}

func (c *Cache) writeConsolidatedBatch(ctx context.Context, n int, merged map[string]filestate.State) error {
	w, err := c.store.OpenNewBatchFileWriter(ctx, n)
	if err != nil {
		return errors.Wrapf(err, "opening consolidated batch %d", n)
	}

	paths := make([]string, 0, len(merged))
	for p := range merged {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	for _, p := range paths {
		if _, err := io.WriteString(w, filestate.Format(merged[p])+"\n"); err != nil {
			w.Close()
			return errors.Wrapf(err, "writing consolidated batch %d", n)
		}
	}

	return errors.Wrap(w.Close(), "finalizing consolidated batch")
}
