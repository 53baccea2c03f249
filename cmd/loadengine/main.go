// Command loadengine applies CSV batches to the store incrementally.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/loadengine"
	"github.com/JonMunkholm/loadengine/internal/config"
	"github.com/JonMunkholm/loadengine/internal/core"
	"github.com/JonMunkholm/loadengine/internal/core/tables"
	"github.com/JonMunkholm/loadengine/internal/logging"
	"github.com/JonMunkholm/loadengine/internal/web"
)

// errLoadFailed makes the process exit non-zero after the summary has been
// reported.
var errLoadFailed = errors.New("one or more entities failed to load")

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	var flags globalFlags
	var a *app
	closeLog := func() error { return nil }

	var cmdRoot = &cobra.Command{
		Use:   "loadengine",
		Short: "incremental CSV load engine",
		Long:  `Load per-entity CSV batches into a relational store, inserting new rows and updating changed ones.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := flags.apply(cfg); err != nil {
				return err
			}
			fs := afero.NewOsFs()
			logger, closeFn, err := logging.Setup(fs, cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
			if err != nil {
				return err
			}
			closeLog = closeFn
			a, err = newApp(cfg, fs, logger)
			return err
		},
	}
	cmdRoot.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database file (env LOADENGINE_DB_PATH)")
	cmdRoot.PersistentFlags().StringVar(&flags.driver, "driver", "", "store driver: sqlite or postgres (env LOADENGINE_DB_DRIVER)")
	cmdRoot.PersistentFlags().StringVar(&flags.dbURL, "db-url", "", "PostgreSQL connection string (env DATABASE_URL)")
	cmdRoot.PersistentFlags().StringVar(&flags.schema, "schema", "", "YAML schema file replacing the built-in entities")
	cmdRoot.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	cmdRoot.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "text or json")
	cmdRoot.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "also append logs to this file (env LOG_FILE)")

	appFn := func() *app { return a }
	cmdRoot.AddCommand(cmdRun(appFn))
	cmdRoot.AddCommand(cmdLoad(appFn))
	cmdRoot.AddCommand(cmdInitDB(appFn))
	cmdRoot.AddCommand(cmdStatus(appFn))
	cmdRoot.AddCommand(cmdHistory(appFn))
	cmdRoot.AddCommand(cmdServe(appFn))
	cmdRoot.AddCommand(cmdSchema(appFn))
	cmdRoot.AddCommand(cmdVersion())

	err := cmdRoot.Execute()
	_ = closeLog()
	if err != nil {
		os.Exit(1)
	}
}

func cmdRun(appFn func() *app) *cobra.Command {
	var dir, summaryPath string
	var validateFK, asJSON bool
	var cmd = &cobra.Command{
		Use:          "run",
		Short:        "load every entity batch in a directory in dependency order",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			if !cmd.Flags().Changed("dir") {
				dir = a.cfg.Load.BatchDir
			}
			if !cmd.Flags().Changed("validate-fk") {
				validateFK = a.cfg.Load.ValidateFK
			}
			if summaryPath == "" {
				summaryPath = a.cfg.Load.SummaryPath
			}

			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			summary, err := a.runDir(ctx, st, dir, validateFK)
			if err != nil {
				return err
			}
			if summaryPath != "" {
				if err := writeSummary(a.fs, summaryPath, summary); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(summary); err != nil {
					return err
				}
			} else if err := printResults(out, summary.Results); err != nil {
				return err
			}

			if summary.Failed() > 0 {
				return errLoadFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "batch directory (env LOADENGINE_BATCH_DIR)")
	cmd.Flags().BoolVar(&validateFK, "validate-fk", false, "audit foreign keys before each entity")
	cmd.Flags().StringVar(&summaryPath, "summary", "", "write the JSON run summary to this file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func cmdLoad(appFn func() *app) *cobra.Command {
	var entity, input string
	var cmd = &cobra.Command{
		Use:          "load",
		Short:        "load one CSV file into one entity",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := a.loadFile(ctx, st, entity, input)
			if core.IsHardFailure(err) {
				return fmt.Errorf("%s (%s)", core.FormatUserError(err), err)
			} else if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.OK() {
				return errLoadFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "entity name")
	cmd.Flags().StringVar(&input, "input", "", "CSV file to load")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func cmdInitDB(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:          "init-db",
		Short:        "create any missing entity and history tables",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			a.logger.Info("schema ready", "driver", st.Dialect().Name(), "entities", a.registry.Len())
			return nil
		},
	}
}

func cmdStatus(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:          "status",
		Short:        "show row counts per entity",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			counts, err := st.RowCounts(ctx, a.registry)
			if err != nil {
				return err
			}
			return printCounts(cmd.OutOrStdout(), a.registry, counts)
		},
	}
}

func cmdHistory(appFn func() *app) *cobra.Command {
	limit := 10
	var cmd = &cobra.Command{
		Use:          "history",
		Short:        "list recent load runs",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return errors.New("--limit must be positive")
			}
			a := appFn()
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.Runs(ctx, limit)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", limit, "number of runs to show")
	return cmd
}

func cmdServe(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "serve the JSON HTTP API",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			server := web.NewServer(a.cfg, a.registry, st, a.fs, a.logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("shutdown error", "error", err)
				return err
			}
			return nil
		},
	}
}

func cmdSchema(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:          "schema",
		Short:        "print the active entity schema as YAML",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tables.EncodeYAML(cmd.OutOrStdout(), appFn().registry)
		},
	}
}

func cmdVersion() *cobra.Command {
	showBuildInfo := false
	var cmd = &cobra.Command{
		Use:   "version",
		Short: "display the application's version number",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showBuildInfo {
				fmt.Fprintln(cmd.OutOrStdout(), loadengine.Version().String())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), loadengine.Version().Core())
			return nil
		},
	}
	cmd.Flags().BoolVar(&showBuildInfo, "build-info", showBuildInfo, "show build information")
	return cmd
}
