package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RunOptions controls a full orchestration run.
type RunOptions struct {
	// ValidateFK enables the pre-flight foreign key audit. Warnings never
	// block or roll back a load.
	ValidateFK bool
}

// Orchestrator loads every entity of a batch set in dependency order.
// Entities are processed strictly one at a time.
type Orchestrator struct {
	Registry   *Registry
	Store      Store
	Loader     *Loader
	Normalizer Normalizer
	Logger     *slog.Logger

	// Now and NewRunID are replaceable for tests.
	Now      func() time.Time
	NewRunID func() string
}

// NewOrchestrator wires an Orchestrator and its Loader and Normalizer
// around the same store and logger.
func NewOrchestrator(reg *Registry, store Store, logger *slog.Logger) *Orchestrator {
	logger = loggerOrDiscard(logger)
	return &Orchestrator{
		Registry:   reg,
		Store:      store,
		Loader:     NewLoader(store, logger),
		Normalizer: Normalizer{Logger: logger},
		Logger:     logger,
		Now:        time.Now,
		NewRunID:   func() string { return uuid.NewString() },
	}
}

// RunAll loads every entity that src has a batch for.
//
// A missing batch is skipped with a warning. A read failure, schema violation
// or store error is recorded in that entity's result and the run continues
// with the next entity. The summary always covers every attempted entity.
func (o *Orchestrator) RunAll(ctx context.Context, src Source, opts RunOptions) RunSummary {
	logger := o.logger()
	summary := RunSummary{
		RunID:      o.runID(),
		StartedAt:  o.now(),
		ValidateFK: opts.ValidateFK,
		Results:    []LoadResult{},
	}
	logger = logger.With("run_id", summary.RunID)

	order := o.Registry.DependencyOrder()
	logger.Info("run started", "op", "load", "entities", len(order), "validate_fk", opts.ValidateFK)

	var baseline map[string]Snapshot
	if opts.ValidateFK {
		baseline = o.captureBaseline(ctx, logger, order)
	}

	for _, name := range order {
		e, err := o.Registry.Lookup(name)
		if err != nil {
			continue
		}

		raw, ok, err := src.Batch(name)
		if err != nil {
			logger.Error("batch read failed", "op", "load", "entity", name, "error", err)
			summary.Results = append(summary.Results, LoadResult{Entity: name, Error: err.Error()})
			continue
		}
		if !ok {
			logger.Warn("no batch for entity", "op", "skip", "entity", name)
			continue
		}

		batch, result, err := o.load(ctx, e, raw)
		if err == nil && opts.ValidateFK {
			result.FKWarnings = o.auditForeignKeys(ctx, logger, batch, baseline)
		}
		summary.Results = append(summary.Results, result)
	}

	summary.FinishedAt = o.now()
	stamp := summary.FinishedAt.UTC().Format(time.RFC3339)
	for i := range summary.Results {
		summary.Results[i].TimestampUTC = stamp
	}

	logger.Info("run finished",
		"op", "load",
		"attempted", len(summary.Results),
		"failed", summary.Failed(),
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
	)
	return summary
}

// LoadOne loads a single batch into the named entity.
// Only an unknown entity name is returned as an error; load failures are
// reported through the result.
func (o *Orchestrator) LoadOne(ctx context.Context, entity string, raw RawBatch) (LoadResult, error) {
	e, err := o.Registry.Lookup(entity)
	if err != nil {
		return LoadResult{}, err
	}

	_, result, _ := o.load(ctx, e, raw)
	result.TimestampUTC = o.now().UTC().Format(time.RFC3339)
	return result, nil
}

// load runs normalize, detect and apply for one entity.
func (o *Orchestrator) load(ctx context.Context, e *Entity, raw RawBatch) (*CanonicalBatch, LoadResult, error) {
	logger := o.logger().With("entity", e.Name)
	logger.Info("loading entity", "op", "load", "records", len(raw.Records))

	batch, err := o.Normalizer.Normalize(raw, e)
	if err != nil {
		logger.Error("normalize failed", "op", "load", "error", err)
		return nil, LoadResult{Entity: e.Name, Error: err.Error()}, err
	}

	snap, err := o.Store.Snapshot(ctx, e)
	if err != nil {
		err = wrapStoreError(e.Name, "snapshot", err)
		logger.Error("snapshot failed", "op", "load", "error", err)
		return nil, LoadResult{Entity: e.Name, Error: err.Error()}, err
	}

	changes := Detect(batch, snap)
	if dups := duplicateKeys(batch); len(dups) > 0 {
		logger.Warn("duplicate keys in batch, last row wins", "op", "load", "keys", limitStrings(dups, maxWarningValues))
	}

	result, err := o.loader().Apply(ctx, batch, changes)
	return batch, result, err
}

func (o *Orchestrator) captureBaseline(ctx context.Context, logger *slog.Logger, order []string) map[string]Snapshot {
	baseline := make(map[string]Snapshot, len(order))
	for _, name := range order {
		e, err := o.Registry.Lookup(name)
		if err != nil {
			continue
		}
		snap, err := o.Store.Snapshot(ctx, e)
		if err != nil {
			logger.Warn("baseline snapshot failed", "op", "fk_check", "entity", name, "error", err)
			snap = Snapshot{}
		}
		baseline[name] = snap
	}
	return baseline
}

func (o *Orchestrator) loader() *Loader {
	if o.Loader != nil {
		return o.Loader
	}
	return NewLoader(o.Store, o.logger())
}

func (o *Orchestrator) logger() *slog.Logger {
	return loggerOrDiscard(o.Logger)
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) runID() string {
	if o.NewRunID != nil {
		return o.NewRunID()
	}
	return uuid.NewString()
}

// IsHardFailure reports whether err from LoadOne should abort the caller.
func IsHardFailure(err error) bool {
	return errors.Is(err, ErrUnknownEntity)
}

func duplicateKeys(batch *CanonicalBatch) []string {
	seen := make(map[string]bool, len(batch.Rows))
	reported := make(map[string]bool)
	var dups []string
	for _, r := range batch.Rows {
		k := CanonicalKey(batch.Entity, r)
		if seen[k] && !reported[k] {
			dups = append(dups, k)
			reported[k] = true
		}
		seen[k] = true
	}
	return dups
}
