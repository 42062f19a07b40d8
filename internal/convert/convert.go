// Package convert is the single entry point from raw API description bytes
// to the interface model and its projections.
package convert

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/apiingest/internal/chunker"
	"github.com/dgallion1/apiingest/internal/diag"
	"github.com/dgallion1/apiingest/internal/loader"
	"github.com/dgallion1/apiingest/internal/markdown"
	"github.com/dgallion1/apiingest/internal/model"
	"github.com/dgallion1/apiingest/internal/normalize"
	"github.com/dgallion1/apiingest/internal/resolver"
	"github.com/dgallion1/apiingest/internal/tools"
)

// Options configures one conversion.
type Options struct {
	Format   loader.Format
	Location string           // where the content came from, for relative external refs
	Fetcher  resolver.Fetcher // nil disables external refs
	MaxDepth int
	MaxNodes int
}

// Timings records how long each stage took.
type Timings struct {
	Load      time.Duration `json:"load"`
	Resolve   time.Duration `json:"resolve"`
	Normalize time.Duration `json:"normalize"`
}

// Result is a converted document.
type Result struct {
	API         *model.API        `json:"api"`
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
	Timings     Timings           `json:"-"`
}

// Convert loads, resolves and normalizes content. It fails only with a
// *loader.ParseError or *normalize.InvalidDocumentError; every other problem
// is reported in Result.Diagnostics.
func Convert(ctx context.Context, content []byte, opts Options) (*Result, error) {
	res := &Result{Diagnostics: []diag.Diagnostic{}}

	start := time.Now()
	root, err := loader.Load(content, opts.Format)
	if err != nil {
		return nil, err
	}
	res.Timings.Load = time.Since(start)

	start = time.Now()
	resolved, diags := resolver.Resolve(ctx, root, resolver.Options{
		Fetcher:      opts.Fetcher,
		BaseLocation: opts.Location,
		MaxDepth:     opts.MaxDepth,
		MaxNodes:     opts.MaxNodes,
	})
	res.Diagnostics = append(res.Diagnostics, diags...)
	res.Timings.Resolve = time.Since(start)

	start = time.Now()
	api, diags, err := normalize.Normalize(resolved)
	if err != nil {
		return nil, err
	}
	res.Diagnostics = append(res.Diagnostics, diags...)
	res.Timings.Normalize = time.Since(start)
	res.API = api
	return res, nil
}

// ProjectOptions configures the projections.
type ProjectOptions struct {
	Markdown markdown.Options
	Chunks   chunker.Config
}

// Artifacts holds every projection of one model.
type Artifacts struct {
	Markdown string             `json:"markdown"`
	Chunks   *chunker.ChunkMap  `json:"chunks"`
	Tools    []tools.Descriptor `json:"tools"`
	Tokens   int                `json:"token_count"`
}

// ProjectAll runs the three projectors concurrently over the same model.
func ProjectAll(ctx context.Context, api *model.API, opts ProjectOptions) (*Artifacts, error) {
	if api == nil {
		return nil, fmt.Errorf("project: nil model")
	}
	if opts.Chunks.Markdown == (markdown.Options{}) {
		opts.Chunks.Markdown = opts.Markdown
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}

	out := &Artifacts{}
	var g errgroup.Group
	g.Go(func() error {
		out.Markdown = markdown.ProjectWith(api, opts.Markdown)
		out.Tokens = chunker.EstimateTokens(out.Markdown)
		return nil
	})
	g.Go(func() error {
		out.Chunks = chunker.Project(api, opts.Chunks)
		return nil
	})
	g.Go(func() error {
		out.Tools = tools.Project(api)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
