package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"recordpatch/internal/artifactstore"
	"recordpatch/internal/config"
	"recordpatch/internal/il"
	"recordpatch/internal/patcherr"
	"recordpatch/internal/pipeline"
	"recordpatch/internal/procexec"
	"recordpatch/internal/toolchain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr, procexec.Exec{}))
}

// run is main without the process exit so tests can drive it.
func run(ctx context.Context, args []string, stderr io.Writer, runner procexec.Runner) int {
	logger := log.New(stderr, "[recordpatch] ", log.LstdFlags)

	cfg, err := config.Load(args, pipeline.DefaultToolRoot())
	if err != nil {
		return fail(stderr, err)
	}

	locator, err := toolchain.NewLocator(0)
	if err != nil {
		return fail(stderr, err)
	}
	p := pipeline.New(locator, runner, logger)
	if cfg.Artifact.Enabled {
		store, err := artifactstore.Open(cfg.Artifact.S3)
		if err != nil {
			return fail(stderr, patcherr.Wrap(patcherr.KindArgument, "artifact store", err))
		}
		p.Publisher = store
	}

	runs := buildRuns(cfg)
	if len(runs) == 1 {
		rep, err := p.Run(ctx, runs[0])
		if err != nil {
			return fail(stderr, err)
		}
		logReport(logger, rep)
		return 0
	}

	reports, err := p.RunBatch(ctx, runs, cfg.Parallel)
	for _, rep := range reports {
		logReport(logger, rep)
	}
	if err != nil {
		return fail(stderr, err)
	}
	return 0
}

// buildRuns expands the configuration into one run per input. In batch mode
// with an output directory, each binary lands in a subdirectory named after
// its parent directory so that per-framework builds stay apart.
func buildRuns(cfg *config.Config) []pipeline.Options {
	marker := il.DefaultMarker()
	marker.NamePrefix = cfg.TypePrefix

	runs := make([]pipeline.Options, 0, len(cfg.Inputs))
	for _, in := range cfg.Inputs {
		out := cfg.OutputDir
		if cfg.Batch && out != "" {
			out = filepath.Join(out, filepath.Base(filepath.Dir(in)))
		}
		runs = append(runs, pipeline.Options{
			InputPath:    in,
			OutputDir:    out,
			ToolRoot:     cfg.ToolRoot,
			Disassembler: cfg.Disassembler,
			Assembler:    cfg.Assembler,
			Marker:       marker,
		})
	}
	return runs
}

func logReport(logger *log.Logger, rep pipeline.Report) {
	if rep.State != pipeline.StateDone {
		logger.Printf("run %s ended in %s", rep.RunID, rep.State)
		return
	}
	logger.Printf("run %s: %s patched=%d skipped=%d published=%t",
		rep.RunID, rep.BinaryPath, len(rep.Patched), len(rep.Skipped), rep.Published)
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %s: %v\n", patcherr.KindOf(err), err)
	if st := patcherr.StackOf(err); st != "" {
		fmt.Fprint(stderr, st)
	}
	return 1
}
