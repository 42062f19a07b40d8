package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/apiingest/internal/config"
	"github.com/dgallion1/apiingest/internal/convert"
	"github.com/dgallion1/apiingest/internal/diag"
	"github.com/dgallion1/apiingest/internal/loader"
	"github.com/dgallion1/apiingest/internal/metrics"
	"github.com/dgallion1/apiingest/internal/model"
	"github.com/dgallion1/apiingest/internal/normalize"
	"github.com/dgallion1/apiingest/internal/retry"
	"github.com/dgallion1/apiingest/internal/store"
)

// SpecStore persists converted specs.
type SpecStore interface {
	Create(ctx context.Context, s *store.Spec) (store.Status, int64, error)
}

// Worker processes a single spec job.
type Worker struct {
	store    SpecStore
	log      *slog.Logger
	cfg      config.Config
	stats    *LatencyStats
	storeSem chan struct{}
	wait     func(int) time.Duration
}

func NewWorker(st SpecStore, log *slog.Logger, cfg config.Config, stats *LatencyStats, storeSem chan struct{}) *Worker {
	return &Worker{
		store:    st,
		log:      log,
		cfg:      cfg,
		stats:    stats,
		storeSem: storeSem,
	}
}

// Process converts and stores one job. The job ends created, exists or
// failed.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename)
	started := time.Now()
	data := job.FileData()
	job.SetContentHash(store.ContentHash(data))

	// Phase 1: Convert
	job.SetStatus(StatusConverting, "converting")
	cctx, cancel := context.WithTimeout(ctx, w.cfg.ConvertTimeout)
	res, art, err := w.convert(cctx, job, data)
	cancel()
	if err != nil {
		log.Error("conversion failed", "error", err)
		job.AddError(err.Error())
		w.finish(job, StatusFailed, "converting", started)
		return
	}

	warnings := diag.Summarize(res.Diagnostics)
	job.SetResult(len(res.API.Operations), len(res.API.Schemas), len(res.Diagnostics), art.Tokens, warnings)
	log.Info("converted spec",
		"operations", len(res.API.Operations),
		"schemas", len(res.API.Schemas),
		"diagnostics", len(res.Diagnostics),
		"tokens", art.Tokens)

	spec, err := buildSpec(job, data, res, art)
	if err != nil {
		log.Error("encode artifacts failed", "error", err)
		job.AddError(err.Error())
		w.finish(job, StatusFailed, "converting", started)
		return
	}

	// Phase 2: Store
	job.SetStatus(StatusStoring, "storing")
	status, id, err := w.storeSpec(ctx, spec)
	if err != nil {
		log.Error("store failed", "error", err)
		job.AddError(fmt.Sprintf("store: %s", err))
		w.finish(job, StatusFailed, "storing", started)
		return
	}
	job.SetSpecID(id)
	if status == store.StatusExists {
		log.Info("duplicate spec, skipping", "existing_spec_id", id)
		w.finish(job, StatusExists, "dedup", started)
		return
	}
	log.Info("stored spec", "spec_id", id)
	w.finish(job, StatusCreated, "done", started)
}

func (w *Worker) convert(ctx context.Context, job *Job, data []byte) (*convert.Result, *convert.Artifacts, error) {
	res, err := convert.Convert(ctx, data, w.cfg.ConvertOptions(job.Format, job.Filename))
	if err != nil {
		metrics.IncConversion(failureOutcome(err))
		return nil, nil, err
	}
	metrics.ObserveStage("load", res.Timings.Load)
	metrics.ObserveStage("resolve", res.Timings.Resolve)
	metrics.ObserveStage("normalize", res.Timings.Normalize)
	w.stats.Record(StageConvert, res.Timings.Load+res.Timings.Resolve+res.Timings.Normalize)
	for kind, n := range countKinds(res.Diagnostics) {
		metrics.AddDiagnostics(string(kind), n)
	}

	start := time.Now()
	art, err := convert.ProjectAll(ctx, res.API, w.cfg.ProjectOptions())
	if err != nil {
		metrics.IncConversion("timeout")
		return nil, nil, err
	}
	elapsed := time.Since(start)
	metrics.ObserveStage("project", elapsed)
	w.stats.Record(StageProject, elapsed)
	metrics.ObserveTokens("markdown", art.Tokens)
	metrics.IncConversion("ok")
	return res, art, nil
}

// storeSpec writes spec, retrying transient failures. Concurrent writes
// across workers are bounded by storeSem.
func (w *Worker) storeSpec(ctx context.Context, spec *store.Spec) (store.Status, int64, error) {
	select {
	case w.storeSem <- struct{}{}:
	case <-ctx.Done():
		return store.StatusFailed, 0, ctx.Err()
	}
	defer func() { <-w.storeSem }()

	start := time.Now()
	var status store.Status
	var id int64
	err := retry.Do(ctx, w.wait, func() error {
		var err error
		status, id, err = w.store.Create(ctx, spec)
		return err
	})
	elapsed := time.Since(start)
	metrics.ObserveStore("create", elapsed)
	w.stats.Record(StageStore, elapsed)
	return status, id, err
}

func (w *Worker) finish(job *Job, status JobStatus, phase string, started time.Time) {
	job.SetStatus(status, phase)
	metrics.IncJob(string(status))
	w.stats.Record(StageTotal, time.Since(started))
}

func buildSpec(job *Job, data []byte, res *convert.Result, art *convert.Artifacts) (*store.Spec, error) {
	chunks, err := json.Marshal(art.Chunks)
	if err != nil {
		return nil, fmt.Errorf("encode chunks: %w", err)
	}
	tools, err := json.Marshal(art.Tools)
	if err != nil {
		return nil, fmt.Errorf("encode tools: %w", err)
	}
	diags, err := json.Marshal(res.Diagnostics)
	if err != nil {
		return nil, fmt.Errorf("encode diagnostics: %w", err)
	}

	api := res.API
	name := firstNonEmpty(job.Name, api.Info.Title, job.Filename)
	description := firstNonEmpty(job.Description, api.Info.Description)
	format := job.Format
	if format == loader.FormatAuto {
		format = loader.Sniff(data)
	}

	tags := append([]string(nil), job.Tags...)
	for _, t := range api.TagNames() {
		if t != model.UntaggedTag {
			tags = append(tags, t)
		}
	}

	return &store.Spec{
		Name:           name,
		Version:        api.Info.Version,
		Provider:       job.Provider,
		Description:    description,
		Filename:       job.Filename,
		Format:         string(format),
		ContentHash:    store.ContentHash(data),
		Original:       data,
		Markdown:       art.Markdown,
		Chunks:         chunks,
		Tools:          tools,
		Diagnostics:    diags,
		TokenCount:     art.Tokens,
		FileSize:       len(data),
		OperationCount: len(api.Operations),
		SchemaCount:    len(api.Schemas),
		Tags:           tags,
	}, nil
}

func failureOutcome(err error) string {
	var pe *loader.ParseError
	var ie *normalize.InvalidDocumentError
	switch {
	case errors.As(err, &pe):
		return "parse_error"
	case errors.As(err, &ie):
		return "invalid_document"
	default:
		return "error"
	}
}

func countKinds(ds []diag.Diagnostic) map[diag.Kind]int {
	out := map[diag.Kind]int{}
	for _, d := range ds {
		out[d.Kind]++
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
