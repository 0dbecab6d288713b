package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sha1n/order-index/internal/lock"
	"github.com/spf13/pflag"
)

// RunSweep runs one reconciliation sweep and writes its result to out as
// JSON. Concurrent sweeps in other processes are excluded by the reconcile
// lock file.
func RunSweep(ctx context.Context, params RunParams, flags *pflag.FlagSet, out io.Writer) error {
	return runMaintenance(ctx, params, flags, out, func(ctx context.Context, svc *Services) (any, error) {
		return svc.Reconciler.ProcessFailedOperations(ctx)
	})
}

// RunReindex re-projects every stored order and writes the summary to out as
// JSON. Orders that fail to index are left in the ledger for the next sweep.
// It waits up to the index timeout for the reconcile lock so a reindex never
// overlaps a sweep.
func RunReindex(ctx context.Context, params RunParams, flags *pflag.FlagSet, out io.Writer) error {
	return runMaintenance(ctx, params, flags, out, func(ctx context.Context, svc *Services) (any, error) {
		if path := svc.settings.Reconcile.LockPath; path != "" {
			l := lock.New(path)
			if err := l.Acquire(ctx, svc.settings.Index.Timeout); err != nil {
				return nil, fmt.Errorf("reconcile lock %s: %w", l.Path(), err)
			}
			defer func() { _ = l.Unlock() }()
		}
		return svc.Reindexer.Reindex(ctx)
	})
}

func runMaintenance(ctx context.Context, params RunParams, flags *pflag.FlagSet, out io.Writer, task func(context.Context, *Services) (any, error)) error {
	settings, logger, err := setup(params, flags)
	if err != nil {
		return err
	}

	svc, err := params.OpenServices(settings, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("Failed to close services", "error", err)
		}
	}()

	res, err := task(ctx, svc)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
