// Package populator implements the Populator (C7, spec.md §4.7): the
// initial bulk analysis pass over a project.
//
// Grounded on overkam-code-property-graph/main.go's run()'s phase-ordered
// pipeline (load -> walk AST -> build SSA -> ...) generalized to a
// per-file pipeline (read -> parse -> analyze -> put_module), and on
// progress.go's callback idiom, generalized from a fixed stderr writer to
// a caller-supplied ProgressFunc. Bounded parallelism uses
// golang.org/x/sync/errgroup, the idiomatic worker-pool-with-first-error
// pattern absent from the teacher (which runs single-threaded) but present
// across the broader example pack.
package populator

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nshkrdotcom/cpgengine/internal/analyzer"
	"github.com/nshkrdotcom/cpgengine/internal/config"
	"github.com/nshkrdotcom/cpgengine/internal/cpgerr"
	"github.com/nshkrdotcom/cpgengine/internal/ident"
	"github.com/nshkrdotcom/cpgengine/internal/ingress"
	"github.com/nshkrdotcom/cpgengine/internal/repository"
)

// ProgressEvent is delivered to an optional callback during populate
// (spec.md §4.7 step 4; §6 Egress "Progress/event callbacks").
type ProgressEvent struct {
	Processed   int
	Total       int
	CurrentFile string
}

// ProgressFunc receives structured progress events; counts and a file
// path only, never user-code state (spec.md §6).
type ProgressFunc func(ProgressEvent)

// Status is the terminal outcome of a populate run (spec.md §4.7
// "Failure isolation").
type Status string

const (
	StatusOK        Status = "ok"
	StatusPartialOK Status = "partial_ok"
	StatusError     Status = "error"
)

// Result is spec.md §4.7's PopulationResult.
type Result struct {
	Discovered        int
	Processed         int
	FunctionsAnalyzed int
	Errors            []*cpgerr.Error
	Duration          time.Duration
	Status            Status
}

// Options configures one populate invocation.
type Options struct {
	IncludeGlobs []string
	IgnoreGlobs  []string
	WorkerCount  int
	FileTimeout  time.Duration
	IDStrategy   config.IDStrategy
	OnProgress   ProgressFunc
}

// Populator runs the initial bulk-analysis pipeline against a Repository.
type Populator struct {
	repo   *repository.Repository
	parser ingress.ASTParser
}

// New constructs a Populator bound to repo and parser. parser supplies the
// language-specific parse(source_bytes, file_path) -> AST seam
// (spec.md §6 Ingress).
func New(repo *repository.Repository, parser ingress.ASTParser) *Populator {
	return &Populator{repo: repo, parser: parser}
}

// Populate implements spec.md §4.7's populate(project_path, opts).
func (p *Populator) Populate(ctx context.Context, projectPath string, opts Options) Result {
	start := time.Now()

	files, derr := ingress.Discover(projectPath, opts.IncludeGlobs, opts.IgnoreGlobs)
	if derr != nil {
		return Result{Status: StatusError, Errors: []*cpgerr.Error{derr}, Duration: time.Since(start)}
	}

	res := Result{Discovered: len(files)}

	workers := opts.WorkerCount
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0) // host parallelism
	}

	var mu sync.Mutex
	processed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, file := range files {
		file := file
		g.Go(func() error {
			fileCtx := gctx
			var cancel context.CancelFunc
			if opts.FileTimeout > 0 {
				fileCtx, cancel = context.WithTimeout(gctx, opts.FileTimeout)
				defer cancel()
			}

			ferr := p.processFile(fileCtx, file, opts.IDStrategy, &res, &mu)

			mu.Lock()
			processed++
			count := processed
			mu.Unlock()
			if opts.OnProgress != nil {
				opts.OnProgress(ProgressEvent{Processed: count, Total: len(files), CurrentFile: file})
			}
			if ferr != nil {
				mu.Lock()
				res.Errors = append(res.Errors, ferr)
				mu.Unlock()
			}
			return nil // per-file errors never abort the batch (spec.md §4.7 "Failure isolation")
		})
	}
	_ = g.Wait()

	res.Processed = processed
	res.Duration = time.Since(start)
	switch {
	case len(res.Errors) == 0:
		res.Status = StatusOK
	case res.Processed > len(res.Errors):
		res.Status = StatusPartialOK
	default:
		res.Status = StatusError
	}
	return res
}

func (p *Populator) processFile(ctx context.Context, filePath string, idStrategy config.IDStrategy, res *Result, mu *sync.Mutex) *cpgerr.Error {
	src, rerr := ingress.Read(filePath)
	if rerr != nil {
		return rerr
	}

	select {
	case <-ctx.Done():
		return cpgerr.Wrap(cpgerr.KindResource, cpgerr.Locator{File: filePath}, "analysis timed out or was canceled", ctx.Err())
	default:
	}

	moduleAST, moduleName, perr := p.parser.Parse(ctx, src, filePath)
	if perr != nil {
		return perr
	}

	hash := ingress.ContentHash(src)
	idCtx := ident.Context{Strategy: idStrategy}
	mf, ferrs := analyzer.AnalyzeModule(moduleAST, moduleName, filePath, hash, idCtx)
	if len(ferrs) > 0 {
		mu.Lock()
		res.Errors = append(res.Errors, ferrs...)
		mu.Unlock()
	}

	mu.Lock()
	res.FunctionsAnalyzed += len(mf.Functions)
	mu.Unlock()

	if err := p.repo.PutModule(mf); err != nil {
		return cpgerr.Wrap(cpgerr.KindStorage, cpgerr.Locator{File: filePath, Module: moduleName}, "put_module failed", fmt.Errorf("%v", err))
	}
	return nil
}
