package pipeline

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"recordpatch/internal/patcherr"
)

// RunBatch transforms several binaries concurrently, e.g. one build output
// per target framework. At most parallel runs are in flight. Every run goes
// to completion; the first error encountered, in input order, is returned
// along with all reports.
func (p *Pipeline) RunBatch(ctx context.Context, runs []Options, parallel int) ([]Report, error) {
	if err := checkDistinctTargets(runs); err != nil {
		return nil, err
	}
	if parallel <= 0 {
		parallel = 1
	}

	reports := make([]Report, len(runs))
	errs := make([]error, len(runs))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, opts := range runs {
		g.Go(func() error {
			reports[i], errs[i] = p.Run(ctx, opts)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// checkDistinctTargets rejects batches where two runs would write the same
// binary and therefore the same intermediate IL file.
func checkDistinctTargets(runs []Options) error {
	seen := make(map[string]int, len(runs))
	for i, o := range runs {
		target, err := stagedBinaryPath(o.InputPath, o.OutputDir)
		if err != nil {
			return patcherr.New(patcherr.KindArgument, "batch", "invalid paths for run %d: %v", i, err)
		}
		key := strings.ToLower(target)
		if j, ok := seen[key]; ok {
			return patcherr.New(patcherr.KindArgument, "batch", "runs %d and %d both write %s", j, i, target)
		}
		seen[key] = i
	}
	return nil
}
