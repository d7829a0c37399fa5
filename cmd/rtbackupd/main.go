// Command rtbackupd is the thin operational surface over the backup
// core: enough CLI to run the daemon, inspect it, and drive it manually
// in place of a file-watching pipeline.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mirrorbackup/rtbackup/actionlog"
	"github.com/mirrorbackup/rtbackup/blob/filesystem"
	"github.com/mirrorbackup/rtbackup/cachestore/filestore"
	"github.com/mirrorbackup/rtbackup/config"
	"github.com/mirrorbackup/rtbackup/diagnostic"
	"github.com/mirrorbackup/rtbackup/errorlogger"
	"github.com/mirrorbackup/rtbackup/logging"
	"github.com/mirrorbackup/rtbackup/rfsc"
	"github.com/mirrorbackup/rtbackup/timerport"
)

func main() {
	app := kingpin.New("rtbackupd", "Real-time file backup daemon core")

	newRunCommand(app)
	newStatusCommand(app)
	newDrainCommand(app)
	newFeedCommand(app)

	kingpin.MustParse(app.Parse(os.Args[1:]))
}

// daemon bundles the full C1-C6 wiring behind the CLI, so run/feed/status
// share one construction path.
type daemon struct {
	cfg    *config.Config
	cache  *rfsc.Cache
	logger logging.Logger
	diag   *diagnostic.File
}

// openDaemon wires up the full C1-C6 collaborators and loads the cache.
// When readOnly is true it attaches to the on-disk cache without taking
// the store's exclusive lock, so it can run alongside an already-running
// daemon (status, drain); otherwise it takes the lock the way a mutating
// daemon instance (run, feed) must.
func openDaemon(ctx context.Context, configPath, remoteDir string, readOnly bool) (context.Context, *daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return ctx, nil, err
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return ctx, nil, errors.Wrap(err, "constructing logger")
	}

	ctx = logging.WithLogger(ctx, logging.NewZapFactory(zapLogger))

	var diag diagnostic.Output = diagnostic.Nop{}

	var diagFile *diagnostic.File

	if cfg.RemoteFileStateCacheDebugLogPath != "" {
		diagFile, err = diagnostic.Open(cfg.RemoteFileStateCacheDebugLogPath)
		if err != nil {
			return ctx, nil, err
		}

		diag = diagFile
	}

	remote, err := filesystem.New(remoteDir)
	if err != nil {
		return ctx, nil, errors.Wrap(err, "opening remote storage backend")
	}

	store := filestore.New(cfg.BatchesPath())
	log := actionlog.New(cfg.ActionQueuePath())
	worker := actionlog.NewWorker(log, remote, errorlogger.FromContext(ctx))

	cache := rfsc.New(store, log, worker, timerport.New(), cfg.BatchUploadConsolidationDelay, diag)

	if readOnly {
		err = cache.AttachReadOnly(ctx)
	} else {
		err = cache.LoadCache(ctx)
	}

	if err != nil {
		return ctx, nil, err
	}

	return ctx, &daemon{
		cfg:    cfg,
		cache:  cache,
		logger: logging.GetContextLoggerFunc("rtbackupd")(ctx),
		diag:   diagFile,
	}, nil
}

func (d *daemon) close() {
	if d.diag != nil {
		d.diag.Close()
	}
}

func newRunCommand(app *kingpin.Application) {
	cmd := app.Command("run", "Load the cache, start the action worker, and serve until signaled")

	configPath := cmd.Flag("config", "Path to the YAML config file").Required().String()
	remoteDir := cmd.Flag("remote-dir", "Local directory standing in for the remote blob namespace").Required().String()

	cmd.Action(func(*kingpin.ParseContext) error {
		ctx, sigCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer sigCancel()

		ctx, d, err := openDaemon(ctx, *configPath, *remoteDir, false)
		if err != nil {
			return err
		}
		defer d.close()

		if err := d.cache.Start(ctx); err != nil {
			return err
		}

		d.logger.Infof("rtbackupd running, cache root %s", d.cfg.RemoteFileStateCachePath)

		<-ctx.Done()

		d.logger.Infof("shutting down")
		d.cache.Stop()

		return nil
	})
}

func newFeedCommand(app *kingpin.Application) {
	cmd := app.Command("feed", "Read \"path size checksum\" lines from stdin and drive UpdateFileState/RemoveFileState")

	configPath := cmd.Flag("config", "Path to the YAML config file").Required().String()
	remoteDir := cmd.Flag("remote-dir", "Local directory standing in for the remote blob namespace").Required().String()

	cmd.Action(func(*kingpin.ParseContext) error {
		ctx, d, err := openDaemon(context.Background(), *configPath, *remoteDir, false)
		if err != nil {
			return err
		}
		defer d.close()

		if err := d.cache.Start(ctx); err != nil {
			return err
		}
		defer d.cache.Stop()

		return feedStdin(ctx, d.cache)
	})
}

// feedStdin is a minimal manual test harness: a line of `path size
// checksum` updates path, a line of just `path` removes it.
func feedStdin(ctx context.Context, cache *rfsc.Cache) error {
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)

		switch len(fields) {
		case 1:
			if _, err := cache.RemoveFileState(ctx, fields[0]); err != nil {
				return err
			}
		case 3:
			size, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "parsing size in line %q", line)
			}

			if err := cache.UpdateFileState(ctx, fields[0], size, fields[2]); err != nil {
				return err
			}
		default:
			return errors.Errorf("malformed feed line %q, expected \"path\" or \"path size checksum\"", line)
		}
	}

	return scanner.Err()
}

func newStatusCommand(app *kingpin.Application) {
	cmd := app.Command("status", "Print cache map size, current batch number, and action queue depth")

	configPath := cmd.Flag("config", "Path to the YAML config file").Required().String()
	remoteDir := cmd.Flag("remote-dir", "Local directory standing in for the remote blob namespace").Required().String()

	cmd.Action(func(*kingpin.ParseContext) error {
		_, d, err := openDaemon(context.Background(), *configPath, *remoteDir, true)
		if err != nil {
			return err
		}
		defer d.close()
		defer d.cache.Stop()

		printStatus(d.cache)

		return nil
	})
}

func printStatus(cache *rfsc.Cache) {
	useColor := isatty.IsTerminal(os.Stdout.Fd())

	label := color.New(color.FgHiCyan)
	if !useColor {
		label.DisableColor()
	}

	label.Printf("paths tracked:      ")
	fmt.Println(len(cache.EnumeratePaths()))

	label.Printf("current batch:      ")
	fmt.Println(cache.CurrentBatchNumber())

	label.Printf("action queue depth: ")
	fmt.Println(cache.ActionQueueLen())
}

func newDrainCommand(app *kingpin.Application) {
	cmd := app.Command("drain", "Block until the action queue empties or a timeout elapses")

	configPath := cmd.Flag("config", "Path to the YAML config file").Required().String()
	remoteDir := cmd.Flag("remote-dir", "Local directory standing in for the remote blob namespace").Required().String()
	timeout := cmd.Flag("timeout", "Maximum time to wait").Default("5m").Duration()

	cmd.Action(func(*kingpin.ParseContext) error {
		ctx, d, err := openDaemon(context.Background(), *configPath, *remoteDir, true)
		if err != nil {
			return err
		}
		defer d.close()

		if err := d.cache.Start(ctx); err != nil {
			return err
		}
		defer d.cache.Stop()

		drained := d.cache.DrainActionQueue(ctx, time.Now().Add(*timeout))
		if !drained {
			return errors.New("timed out waiting for the action queue to drain")
		}

		return nil
	})
}
