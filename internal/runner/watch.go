package runner

import (
	"context"
	"errors"
	"time"

	"github.com/lemon07r/crank/internal/result"
)

// WatchFunc receives the outcome of every run in watch mode.
type WatchFunc func(run *result.Run, err error)

// Watch runs the recipe once, then again after every debounced change below
// the workspace root, until ctx is cancelled. Step failures do not end the
// loop; they are handed to report.
func (r *Runner) Watch(ctx context.Context, opts RunOptions, report WatchFunc) error {
	if _, err := r.Plan(opts.Recipe); err != nil {
		return err
	}

	runCh := make(chan struct{}, 1)
	watcher := NewWatcher(r.root, time.Duration(r.cfg.Watch.DebounceMS)*time.Millisecond, r.cfg.WatchIgnore(), func() {
		select {
		case runCh <- struct{}{}:
		default:
		}
	}, r.logger)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- watcher.Watch(watchCtx)
	}()

	runOnce := func() {
		run, err := r.Run(ctx, opts)
		if ctx.Err() == nil {
			report(run, err)
		}
		r.print("Watching for changes... (Ctrl+C to stop)\n")
	}

	runOnce()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-watchErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil

		case <-runCh:
			r.logger.Debug("rerunning recipe", "recipe", opts.Recipe)
			runOnce()
		}
	}
}
