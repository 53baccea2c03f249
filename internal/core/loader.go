package core

import (
	"context"
	"errors"
	"log/slog"
)

// Loader applies change sets to a Store, one transaction per call.
type Loader struct {
	Store  Store
	Logger *slog.Logger
}

// NewLoader creates a Loader. A nil logger discards output.
func NewLoader(store Store, logger *slog.Logger) *Loader {
	return &Loader{Store: store, Logger: loggerOrDiscard(logger)}
}

// Apply inserts cs.New and then updates cs.Updated inside a single
// transaction. Unchanged rows are not touched.
//
// On failure the transaction is rolled back, the returned result carries the
// error message with zero counts, and the error is a *StoreError.
func (l *Loader) Apply(ctx context.Context, batch *CanonicalBatch, cs ChangeSet) (LoadResult, error) {
	e := batch.Entity
	logger := loggerOrDiscard(l.Logger).With("entity", e.Name)

	if err := l.apply(ctx, logger, batch, cs); err != nil {
		logger.Error("load failed", "op", "rollback", "error", err)
		return LoadResult{Entity: e.Name, Error: err.Error()}, err
	}

	result := LoadResult{
		Entity:       e.Name,
		Inserted:     len(cs.New),
		Updated:      len(cs.Updated),
		Skipped:      cs.Skipped(),
		Total:        cs.Len(),
		Rejected:     len(batch.Rejected),
		RejectedRows: batch.Rejected,
	}
	logger.Info("load committed",
		"op", "commit",
		"inserted", result.Inserted,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"total", result.Total,
	)
	return result, nil
}

func (l *Loader) apply(ctx context.Context, logger *slog.Logger, batch *CanonicalBatch, cs ChangeSet) (err error) {
	e := batch.Entity

	if len(cs.New) == 0 && len(cs.Updated) == 0 {
		logger.Debug("nothing to apply", "op", "load", "skipped", cs.Skipped())
		return nil
	}

	tx, err := l.Store.Begin(ctx)
	if err != nil {
		return wrapStoreError(e.Name, "begin", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("rollback failed", "op", "rollback", "error", rbErr)
		}
	}()

	if len(cs.New) > 0 {
		logger.Debug("inserting rows", "op", "load", "rows", len(cs.New))
		if err := tx.Insert(ctx, e, batch.Columns, cs.New); err != nil {
			return wrapStoreError(e.Name, "insert", err)
		}
	}

	if len(cs.Updated) > 0 {
		logger.Debug("updating rows", "op", "load", "rows", len(cs.Updated))
		if err := tx.Update(ctx, e, batch.Columns, cs.Updated); err != nil {
			return wrapStoreError(e.Name, "update", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreError(e.Name, "commit", err)
	}
	committed = true

	return nil
}

// wrapStoreError ensures err is a *StoreError carrying entity and op.
// A StoreError returned by the store keeps its constraint classification.
func wrapStoreError(entity, op string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		out := *se
		if out.Entity == "" {
			out.Entity = entity
		}
		if out.Op == "" {
			out.Op = op
		}
		return &out
	}
	return &StoreError{Entity: entity, Op: op, Err: err}
}
