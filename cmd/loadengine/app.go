package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/JonMunkholm/loadengine/internal/batch"
	"github.com/JonMunkholm/loadengine/internal/config"
	"github.com/JonMunkholm/loadengine/internal/core"
	"github.com/JonMunkholm/loadengine/internal/core/tables"
	"github.com/JonMunkholm/loadengine/internal/store"
)

// globalFlags are the persistent flags shared by every command.
// Empty values leave the environment configuration untouched.
type globalFlags struct {
	dbPath    string
	driver    string
	dbURL     string
	schema    string
	logLevel  string
	logFormat string
	logFile   string
}

// apply overrides cfg with every flag that was set, then validates.
func (f *globalFlags) apply(cfg *config.Config) error {
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.Path, f.dbPath)
	override(&cfg.Database.Driver, f.driver)
	override(&cfg.Database.URL, f.dbURL)
	override(&cfg.Load.SchemaFile, f.schema)
	override(&cfg.Logging.Level, f.logLevel)
	override(&cfg.Logging.Format, f.logFormat)
	override(&cfg.Logging.File, f.logFile)
	return cfg.Validate()
}

// app is the state a command runs with once configuration is resolved.
type app struct {
	cfg      *config.Config
	fs       afero.Fs
	logger   *slog.Logger
	registry *core.Registry
}

func newApp(cfg *config.Config, fs afero.Fs, logger *slog.Logger) (*app, error) {
	reg, err := loadRegistry(fs, cfg.Load.SchemaFile)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, fs: fs, logger: logger, registry: reg}, nil
}

// loadRegistry reads a YAML schema when path is set, else the built-in
// credit schema.
func loadRegistry(fs afero.Fs, path string) (*core.Registry, error) {
	if path == "" {
		return tables.Credit(), nil
	}
	return tables.LoadYAMLFile(fs, path)
}

// openStore opens the configured store and creates any missing tables.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, store.Options{
		Driver:          a.cfg.Database.Driver,
		Path:            a.cfg.Database.Path,
		URL:             a.cfg.Database.URL,
		InsertBatchSize: a.cfg.Load.InsertBatchSize,
	})
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx, a.registry); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func (a *app) orchestrator(st core.Store) *core.Orchestrator {
	return core.NewOrchestrator(a.registry, st, a.logger)
}

// writeSummary writes v as indented JSON to path on fs.
func writeSummary(fs afero.Fs, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fs, path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// printResults writes one line per entity result.
func printResults(w io.Writer, results []core.LoadResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tINSERTED\tUPDATED\tSKIPPED\tTOTAL\tSTATUS")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
			r.Entity, r.Inserted, r.Updated, r.Skipped, r.Total, resultStatus(r))
	}
	return tw.Flush()
}

func resultStatus(r core.LoadResult) string {
	var parts []string
	if r.Error != "" {
		code := core.MapError(errors.New(r.Error)).Code
		parts = append(parts, fmt.Sprintf("error %s: %s", code, r.Error))
	}
	if r.Rejected > 0 {
		parts = append(parts, fmt.Sprintf("%d rejected", r.Rejected))
	}
	if len(r.FKWarnings) > 0 {
		parts = append(parts, fmt.Sprintf("%d fk warnings", len(r.FKWarnings)))
	}
	if len(parts) == 0 {
		return "ok"
	}
	return strings.Join(parts, "; ")
}

// printCounts writes row counts in dependency order.
func printCounts(w io.Writer, reg *core.Registry, counts map[string]int64) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tROWS")
	for _, name := range reg.DependencyOrder() {
		fmt.Fprintf(tw, "%s\t%d\n", name, counts[name])
	}
	return tw.Flush()
}

// printRuns writes a history listing, newest run first.
func printRuns(w io.Writer, runs []core.RunSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tFINISHED\tENTITIES\tFAILED")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n",
			run.RunID, run.FinishedAt.UTC().Format("2006-01-02 15:04:05"), len(run.Results), run.Failed())
	}
	return tw.Flush()
}

// runDir loads every batch in dir and records the run in history.
// Files that match no registered entity are logged and ignored.
func (a *app) runDir(ctx context.Context, st *store.Store, dir string, validateFK bool) (core.RunSummary, error) {
	src := batch.NewDirSource(a.fs, dir, a.logger)
	names, err := src.Entities()
	if err != nil {
		return core.RunSummary{}, err
	}
	for _, name := range names {
		if _, err := a.registry.Lookup(name); err != nil {
			a.logger.Warn("unrecognized batch file", "op", "skip", "file", name+batch.Extension)
		}
	}

	summary := a.orchestrator(st).RunAll(ctx, src, core.RunOptions{ValidateFK: validateFK})
	if err := st.SaveRun(ctx, summary); err != nil {
		a.logger.Error("save run history failed", "run_id", summary.RunID, "error", err)
	}
	return summary, nil
}

// loadFile loads one CSV file into entity and records it in history.
// Only an unknown entity is returned as an error.
func (a *app) loadFile(ctx context.Context, st *store.Store, entity, path string) (core.LoadResult, error) {
	e, err := a.registry.Lookup(entity)
	if err != nil {
		return core.LoadResult{}, err
	}

	started := time.Now()
	var result core.LoadResult
	raw, err := batch.ReadFile(a.fs, path)
	if err != nil {
		a.logger.Error("read batch failed", "op", "load", "entity", e.Name, "error", err)
		result = core.LoadResult{Entity: e.Name, Error: err.Error(), TimestampUTC: started.UTC().Format(time.RFC3339)}
	} else {
		result, err = a.orchestrator(st).LoadOne(ctx, e.Name, raw)
		if err != nil {
			return core.LoadResult{}, err
		}
	}

	run := core.RunSummary{
		RunID:      uuid.NewString(),
		StartedAt:  started,
		FinishedAt: time.Now(),
		Results:    []core.LoadResult{result},
	}
	if err := st.SaveRun(ctx, run); err != nil {
		a.logger.Error("save run history failed", "run_id", run.RunID, "error", err)
	}
	return result, nil
}
