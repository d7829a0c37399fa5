// Package rfsc implements the Remote File State Cache: the in-memory
// path->state map, its batched append log, consolidation of old batches,
// and the driver that hands sealed batches to the Cache Action Log for
// upload/deletion.
package rfsc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mirrorbackup/rtbackup/actionlog"
	"github.com/mirrorbackup/rtbackup/cachestore"
	"github.com/mirrorbackup/rtbackup/diagnostic"
	"github.com/mirrorbackup/rtbackup/logging"
	"github.com/mirrorbackup/rtbackup/rfsc/filestate"
	"github.com/mirrorbackup/rtbackup/timerport"
)

var logger = logging.GetContextLoggerFunc("rfsc")

// consolidationThreshold is the local batch count above which
// consolidation runs.
const consolidationThreshold = 3

// remotePrefix is where batches live in the remote namespace.
const remotePrefix = "/state/"

func remotePath(n int) string {
	return fmt.Sprintf("%s%d", remotePrefix, n)
}

// Cache is the Remote File State Cache.
type Cache struct {
	store     cachestore.Store
	actionLog *actionlog.Log
	worker    *actionlog.Worker
	timers    timerport.Port
	diag      diagnostic.Output

	debounceDelay time.Duration

	// sync guards the in-memory cache, the current batch, the
	// current-batch writer, the timer field, and currentBatchNumber.
	// Never held across disk I/O outside the current-batch append, and
	// never held across Remote Storage calls.
	mu                 sync.Mutex
	cacheMap           map[string]filestate.State
	currentBatch       []filestate.State
	currentBatchNumber int
	batchWriter        io.WriteCloser
	uploadTimer        timerport.Timer
	stopping           bool
	started            bool

	// consolidationMu serializes consolidation runs. Lock order:
	// consolidationMu -> mu. No other nesting is permitted.
	consolidationMu sync.Mutex

	busyMu    sync.Mutex
	busyCond  *sync.Cond
	busyCount int

	bgCtx    context.Context
	bgCancel context.CancelFunc

	storeLock locker
}

// locker is satisfied by cachestore.Store implementations that also
// support cross-process exclusion (e.g. filestore.Store, via
// gofrs/flock). It is deliberately not part of the cachestore.Store
// interface itself, since not every backend needs it; Cache checks for
// it opportunistically so two daemon instances pointed at the same
// on-disk cache root can't corrupt it, without forcing every Store
// implementation to carry locking semantics it doesn't need.
type locker interface {
	Lock(ctx context.Context) error
	Unlock() error
}

// New constructs a Cache over its collaborators. Nil collaborators are a
// programmer error and fail fast.
func New(store cachestore.Store, actionLog *actionlog.Log, worker *actionlog.Worker, timers timerport.Port, debounceDelay time.Duration, diag diagnostic.Output) *Cache {
	if store == nil || actionLog == nil || worker == nil || timers == nil {
		panic("rfsc: New called with a nil collaborator")
	}

	if debounceDelay <= 0 {
		panic("rfsc: New called with a non-positive debounce delay")
	}

	if diag == nil {
		diag = diagnostic.Nop{}
	}

	c := &Cache{
		store:         store,
		actionLog:     actionLog,
		worker:        worker,
		timers:        timers,
		debounceDelay: debounceDelay,
		diag:          diag,
		cacheMap:      map[string]filestate.State{},
	}
	c.busyCond = sync.NewCond(&c.busyMu)

	return c
}

// LoadCache replays every local batch, ascending, into the in-memory
// cache map and establishes currentBatchNumber. It takes the underlying
// store's cross-process exclusive lock (when the store supports one), so
// two daemon instances pointed at the same cache root can't both mutate
// it; use AttachReadOnly instead for a read-only view alongside an
// already-running daemon.
func (c *Cache) LoadCache(ctx context.Context) error {
	if err := c.store.EnsureDirectoryExists(ctx); err != nil {
		return err
	}

	if l, ok := c.store.(locker); ok {
		if err := l.Lock(ctx); err != nil {
			return err
		}

		c.storeLock = l
	}

	return c.replayBatches(ctx)
}

// AttachReadOnly replays every local batch into the in-memory cache map,
// the same as LoadCache, but never takes the store's exclusive lock: it
// is meant for read-only observation (status, drain) of a cache root a
// live daemon may already hold open.
func (c *Cache) AttachReadOnly(ctx context.Context) error {
	if err := c.store.EnsureDirectoryExists(ctx); err != nil {
		return err
	}

	return c.replayBatches(ctx)
}

func (c *Cache) replayBatches(ctx context.Context) error {
	batches, err := c.store.EnumerateBatches(ctx)
	if err != nil {
		return err
	}

	sort.Ints(batches)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cacheMap = map[string]filestate.State{}

	for _, n := range batches {
		states, err := c.readBatchLines(ctx, n)
		if err != nil {
			return errors.Wrapf(err, "replaying batch %d", n)
		}

		for _, s := range states {
			if s.IsTombstone() {
				delete(c.cacheMap, s.Path)
			} else {
				c.cacheMap[s.Path] = s
			}
		}
	}

	if len(batches) == 0 {
		c.currentBatchNumber = 1
	} else {
		c.currentBatchNumber = batches[len(batches)-1] + 1
	}

	c.diag.Writef("loaded cache: %d paths from %d batches, current batch %d", len(c.cacheMap), len(batches), c.currentBatchNumber)

	return nil
}

// Start ensures the action queue directory exists, rehydrates pending
// actions, and launches the action worker.
func (c *Cache) Start(ctx context.Context) error {
	if err := c.actionLog.EnsureDirectoryExists(); err != nil {
		return err
	}

	if err := c.worker.LoadPending(ctx); err != nil {
		return err
	}

	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	go c.worker.Run(c.bgCtx)

	return nil
}

// Stop requests the action worker to finish its in-flight action and
// exit, and cancels the debounce timer. Pending actions remain on disk
// for the next Start. Safe to call even if Start was never called (e.g.
// after a read-only attach, or after LoadCache alone, where it releases
// the store lock).
func (c *Cache) Stop() {
	c.mu.Lock()
	c.stopping = true
	started := c.started

	if c.uploadTimer != nil {
		c.uploadTimer.Stop()
		c.uploadTimer = nil
	}
	c.mu.Unlock()

	if started {
		c.worker.Stop()
		c.worker.Wait()
	}

	if c.bgCancel != nil {
		c.bgCancel()
	}

	if c.storeLock != nil {
		if err := c.storeLock.Unlock(); err != nil {
			logger(c.bgCtxOrBackground()).Warnf("failed to release cache store lock: %v", err)
		}
	}
}

// ContainsPath reports whether path has a live entry.
func (c *Cache) ContainsPath(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.cacheMap[path]

	return ok
}

// EnumeratePaths returns a stable copy of every live path.
func (c *Cache) EnumeratePaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	paths := make([]string, 0, len(c.cacheMap))
	for p := range c.cacheMap {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return paths
}

// GetFileState returns path's current state, if any.
func (c *Cache) GetFileState(path string) (filestate.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.cacheMap[path]

	return s, ok
}

// CurrentBatchNumber returns the batch number currently open for append.
func (c *Cache) CurrentBatchNumber() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.currentBatchNumber
}

// ActionQueueLen returns the number of actions the worker currently holds.
func (c *Cache) ActionQueueLen() int {
	return c.worker.QueueLen()
}

// DrainActionQueue blocks until the action queue is empty or deadline
// elapses, returning which happened.
func (c *Cache) DrainActionQueue(ctx context.Context, deadline time.Time) bool {
	return c.worker.DrainActionQueue(ctx, deadline)
}

// UpdateFileState upserts path's state in the in-memory map and appends
// it to the current batch.
func (c *Cache) UpdateFileState(ctx context.Context, path string, fileSize int64, checksum string) error {
	s := filestate.State{Path: path, FileSize: fileSize, Checksum: checksum}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cacheMap[path] = s

	return c.appendNewFileStateToCurrentBatch(ctx, s)
}

// RemoveFileState removes path, if present, and appends a tombstone.
// Returns whether an entry was removed.
func (c *Cache) RemoveFileState(ctx context.Context, path string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.cacheMap[path]; !ok {
		return false, nil
	}

	delete(c.cacheMap, path)

	if err := c.appendNewFileStateToCurrentBatch(ctx, filestate.Tombstone(path)); err != nil {
		return false, err
	}

	return true, nil
}

// appendNewFileStateToCurrentBatch must be called with mu held.
func (c *Cache) appendNewFileStateToCurrentBatch(ctx context.Context, s filestate.State) error {
	c.currentBatch = append(c.currentBatch, s)

	if c.uploadTimer == nil && !c.stopping {
		c.uploadTimer = c.timers.Schedule(c.bgCtxOrBackground(), c.debounceDelay, c.batchUploadTimerElapsed)
	}

	if c.batchWriter == nil {
		w, err := c.store.OpenBatchFileWriter(ctx, c.currentBatchNumber)
		if err != nil {
			return errors.Wrapf(err, "opening batch %d writer", c.currentBatchNumber)
		}

		c.batchWriter = w
	}

	if _, err := io.WriteString(c.batchWriter, filestate.Format(s)+"\n"); err != nil {
		return errors.Wrapf(err, "appending to batch %d", c.currentBatchNumber)
	}

	return nil
}

func (c *Cache) bgCtxOrBackground() context.Context {
	if c.bgCtx != nil {
		return c.bgCtx
	}

	return context.Background()
}

func (c *Cache) batchUploadTimerElapsed() {
	ctx := c.bgCtxOrBackground()

	if err := c.UploadCurrentBatchAndBeginNext(ctx); err != nil {
		logger(ctx).Errorf("batch upload failed: %v", err)
	}
}

// UploadCurrentBatchAndBeginNext rotates the current batch (if non-empty),
// enqueues its upload, and runs consolidation if warranted.
func (c *Cache) UploadCurrentBatchAndBeginNext(ctx context.Context) error {
	c.enterBusy()
	defer c.exitBusy()

	sealed, ok, err := c.rotateCurrentBatch()
	if err != nil {
		return err
	}

	if !ok {
		return nil
	}

	if err := c.uploadBatch(ctx, sealed); err != nil {
		return err
	}

	c.diag.Writef("sealed and enqueued batch %d", sealed)

	return c.maybeConsolidate(ctx)
}

func (c *Cache) rotateCurrentBatch() (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.uploadTimer != nil {
		c.uploadTimer.Stop()
		c.uploadTimer = nil
	}

	if len(c.currentBatch) == 0 {
		return 0, false, nil
	}

	sealed := c.currentBatchNumber
	c.currentBatchNumber++
	c.currentBatch = nil

	if c.batchWriter != nil {
		if err := c.batchWriter.Close(); err != nil {
			return 0, false, errors.Wrapf(err, "closing batch %d writer", sealed)
		}

		c.batchWriter = nil
	}

	return sealed, true, nil
}

// uploadBatch copies batch n to a fresh temporary path and enqueues an
// UploadFile action for it, insulating the queued action from later local
// mutations or cleanup of the original batch file.
func (c *Cache) uploadBatch(ctx context.Context, n int) error {
	tmp, err := c.actionLog.CreateTemporaryCacheActionDataFile()
	if err != nil {
		return err
	}

	if err := c.copyBatchToFile(ctx, n, tmp); err != nil {
		return err
	}

	a := &actionlog.Action{Type: actionlog.UploadFile, RemotePath: remotePath(n), SourcePath: tmp}

	if err := c.actionLog.LogAction(ctx, a); err != nil {
		return err
	}

	c.worker.Enqueue(a)

	return nil
}

func (c *Cache) copyBatchToFile(ctx context.Context, n int, destPath string) error {
	src, err := c.store.OpenBatchFileStream(ctx, n)
	if err != nil {
		return errors.Wrapf(err, "opening batch %d for upload", n)
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return errors.Wrap(err, "opening temporary upload file")
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return errors.Wrapf(err, "staging batch %d for upload", n)
	}

	return errors.Wrap(dst.Close(), "closing temporary upload file")
}

func (c *Cache) readBatchLines(ctx context.Context, n int) ([]filestate.State, error) {
	r, err := c.store.OpenBatchFileReader(ctx, n)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var states []filestate.State

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		s, err := filestate.Parse(line)
		if err != nil {
			return nil, err
		}

		states = append(states, s)
	}

	return states, scanner.Err()
}

// readBatchAsMap replays n's lines in order, returning the final live
// entries and the set of paths whose final entry in n is a tombstone.
func (c *Cache) readBatchAsMap(ctx context.Context, n int) (map[string]filestate.State, map[string]struct{}, error) {
	states, err := c.readBatchLines(ctx, n)
	if err != nil {
		return nil, nil, err
	}

	live := map[string]filestate.State{}
	deleted := map[string]struct{}{}

	for _, s := range states {
		if s.IsTombstone() {
			delete(live, s.Path)
			deleted[s.Path] = struct{}{}
		} else {
			live[s.Path] = s
			delete(deleted, s.Path)
		}
	}

	return live, deleted, nil
}

func (c *Cache) enterBusy() {
	c.busyMu.Lock()
	c.busyCount++
	c.busyMu.Unlock()
}

func (c *Cache) exitBusy() {
	c.busyMu.Lock()
	c.busyCount--

	if c.busyCount == 0 {
		c.busyCond.Broadcast()
	}
	c.busyMu.Unlock()
}

// WaitWhileBusy blocks until no consolidation/upload is in flight.
func (c *Cache) WaitWhileBusy() {
	c.busyMu.Lock()
	defer c.busyMu.Unlock()

	for c.busyCount > 0 {
		c.busyCond.Wait()
	}
}
