package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"survbatch/adapters/coxph"
	"survbatch/adapters/export"
	"survbatch/adapters/postgres"
	"survbatch/adapters/render"
	"survbatch/adapters/tabular"
	"survbatch/app"
	"survbatch/domain/core"
	"survbatch/domain/dataset"
	"survbatch/domain/survival"
	"survbatch/internal"
	"survbatch/internal/batch"
	"survbatch/internal/config"
	apperrors "survbatch/internal/errors"
	"survbatch/ports"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "survbatch",
		Short: "Batch proportional-hazards fitting over tabular survival data",
	}

	rootCmd.AddCommand(
		newBatchCmd(),
		newGroupedCmd(),
		newResultsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		if code := apperrors.GetCode(err); code != "UNKNOWN" {
			fmt.Fprintf(os.Stderr, "%s: %v\n", code, err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// columnFlags collects the declared column typing shared by the fitting
// commands. Types are always declared, never sniffed from the file.
type columnFlags struct {
	timeCol     string
	statusCol   string
	continuous  []string
	categorical []string
	logical     []string
	levels      []string // "column=a,b,c" declarations
}

func (c *columnFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.timeCol, "time", "time", "Follow-up time column (continuous)")
	cmd.Flags().StringVar(&c.statusCol, "status", "status", "Event indicator column (0/1)")
	cmd.Flags().StringSliceVar(&c.continuous, "continuous", nil, "Continuous covariate columns")
	cmd.Flags().StringSliceVar(&c.categorical, "categorical", nil, "Categorical covariate columns")
	cmd.Flags().StringSliceVar(&c.logical, "logical", nil, "Logical (0/1) covariate columns")
	cmd.Flags().StringArrayVar(&c.levels, "levels", nil, `Declared level order, e.g. --levels "stage=I,II,III" (first level is the reference)`)
}

func (c *columnFlags) schema() (tabular.ColumnSchema, error) {
	schema := tabular.ColumnSchema{
		Types:  map[string]dataset.ColumnType{},
		Levels: map[string][]string{},
	}
	schema.Types[c.timeCol] = dataset.TypeContinuous
	schema.Types[c.statusCol] = dataset.TypeLogical
	for _, name := range c.continuous {
		schema.Types[name] = dataset.TypeContinuous
	}
	for _, name := range c.categorical {
		schema.Types[name] = dataset.TypeCategorical
	}
	for _, name := range c.logical {
		schema.Types[name] = dataset.TypeLogical
	}
	for _, decl := range c.levels {
		name, list, ok := strings.Cut(decl, "=")
		if !ok {
			return schema, fmt.Errorf("invalid --levels %q (want column=a,b,c)", decl)
		}
		if schema.Types[name] != dataset.TypeCategorical {
			return schema, fmt.Errorf("--levels %s: column is not declared categorical", name)
		}
		schema.Levels[name] = strings.Split(list, ",")
	}
	return schema, nil
}

func newBatchCmd() *cobra.Command {
	var cols columnFlags
	var controls []string
	var parallel bool
	var retention string
	var outCSV, outXLSX string
	var forest bool
	var candidatesOnly bool

	cmd := &cobra.Command{
		Use:   "batch [data-file] [candidates...]",
		Short: "Fit one model per candidate and print the unified result table",
		Long: `Fit one proportional-hazards model per candidate variable, each adjusted
for the same control set, and merge the coefficients into one table.

Candidates must also appear in a type declaration flag. Example:

  survbatch batch cohort.csv age stage --continuous age --categorical stage \
    --levels "stage=I,II,III" --controls sex --logical sex --parallel`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, svc, cfg, cleanup, err := loadRun(args[0], &cols)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := runOptions(cfg, parallel, retention)

			result, err := svc.RunBatch(cmd.Context(), batch.RunRequest{
				Table:        table,
				Covariates:   core.VariableKeys(args[1:]),
				Controls:     core.VariableKeys(controls),
				TimeColumn:   core.VariableKey(cols.timeCol),
				StatusColumn: core.VariableKey(cols.statusCol),
				Options:      opts,
			})
			if err != nil {
				if result != nil {
					printFailures(result.Failures)
				}
				return err
			}

			out := result.Table
			if candidatesOnly {
				out = out.FilterControls()
			}

			fmt.Printf("Run %s: %d rows, %d failures (%dms)\n\n",
				result.RunID, out.Len(), len(result.Failures), result.RuntimeMs)
			printFailures(result.Failures)

			if forest {
				return printForest(cmd.Context(), out)
			}
			if err := export.WriteCSV(os.Stdout, out); err != nil {
				return err
			}
			return writeFiles(out, outCSV, outXLSX, cfg.Paths.OutputDir)
		},
	}

	cols.register(cmd)
	cmd.Flags().StringSliceVar(&controls, "controls", nil, "Control variables applied to every model")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "Dispatch candidates across worker goroutines")
	cmd.Flags().StringVar(&retention, "retain", "none", "Model retention: none|memory|disk")
	cmd.Flags().StringVar(&outCSV, "out-csv", "", "Also write the table to a CSV file")
	cmd.Flags().StringVar(&outXLSX, "out-xlsx", "", "Also write the table to an XLSX workbook")
	cmd.Flags().BoolVar(&forest, "forest", false, "Print a text forest plot instead of CSV")
	cmd.Flags().BoolVar(&candidatesOnly, "candidates-only", false, "Drop control rows from the output")
	return cmd
}

func newGroupedCmd() *cobra.Command {
	var cols columnFlags
	var controls []string
	var parallel bool

	cmd := &cobra.Command{
		Use:   "grouped [data-file] [group-var] [candidate]",
		Short: "Re-fit one candidate within each subgroup of a grouping variable",
		Long: `Partition the dataset by the grouping variable's distinct values and
fit the candidate once per partition. A degenerate partition (too few
rows, no events) is reported as that group's failure and never disturbs
its siblings.

Example:

  survbatch grouped cohort.csv site age --categorical site --continuous age`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, svc, cfg, cleanup, err := loadRun(args[0], &cols)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := svc.RunGrouped(cmd.Context(), batch.GroupedRequest{
				Table:        table,
				GroupVar:     core.VariableKey(args[1]),
				Covariate:    core.VariableKey(args[2]),
				Controls:     core.VariableKeys(controls),
				TimeColumn:   core.VariableKey(cols.timeCol),
				StatusColumn: core.VariableKey(cols.statusCol),
				Options:      runOptions(cfg, parallel, "none"),
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result.Summary())
		},
	}

	cols.register(cmd)
	cmd.Flags().StringSliceVar(&controls, "controls", nil, "Control variables applied in every subgroup")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "Dispatch candidates across worker goroutines")
	return cmd
}

func newResultsCmd() *cobra.Command {
	var sortBy string
	var outCSV, outXLSX string

	cmd := &cobra.Command{
		Use:   "results [run-id]",
		Short: "Reload a persisted run's result table without re-fitting",
		Long: `Fetch the stored rows of an earlier run from the configured database
(DATABASE_URL) and print or export them.

Example: survbatch results 0192f3a1-... --sort p_value --out-xlsx run.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("DATABASE_URL is not configured")
			}
			runID, err := core.ParseRunID(args[0])
			if err != nil {
				return err
			}

			db, err := postgres.Connect(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			repo := postgres.NewResultRepository(db)
			table, err := repo.GetResults(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if sortBy != "" {
				table, err = table.SortBy(survival.SortColumn(sortBy))
				if err != nil {
					return err
				}
			}
			if err := export.WriteCSV(os.Stdout, table); err != nil {
				return err
			}
			return writeFiles(table, outCSV, outXLSX, cfg.Paths.OutputDir)
		},
	}

	cmd.Flags().StringVar(&sortBy, "sort", "", "Sort column: variable|hr|p_value|n|n_events")
	cmd.Flags().StringVar(&outCSV, "out-csv", "", "Also write the table to a CSV file")
	cmd.Flags().StringVar(&outXLSX, "out-xlsx", "", "Also write the table to an XLSX workbook")
	return cmd
}

// loadRun builds the shared pipeline for the fitting commands: typed
// table from the data file, service wired with the Cox solver, and an
// optional database-backed result repository.
func loadRun(dataFile string, cols *columnFlags) (*dataset.Table, *app.BatchService, *config.Config, func(), error) {
	schema, err := cols.schema()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	table, err := tabular.NewDataReader(dataFile, schema).Read()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	internal.DefaultLogger = internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))

	cleanup := func() {}
	var results ports.ResultRepository
	if cfg.Database.URL != "" {
		db, err := postgres.Connect(cfg.Database.URL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		cleanup = func() { db.Close() }
		results = postgres.NewResultRepository(db)
	}

	svc := app.NewBatchService(coxph.NewSolver(), cfg.Paths.ModelStoreRoot, results)
	return table, svc, cfg, cleanup, nil
}

func runOptions(cfg *config.Config, parallel bool, retention string) survival.RunOptions {
	opts := survival.RunOptions{
		Retention:       survival.ModelRetention(retention),
		ModelDir:        cfg.Paths.ModelStoreRoot,
		BatchSize:       cfg.Fitting.BatchSize,
		MinCompleteRows: cfg.Fitting.MinCompleteRows,
		ConfidenceLevel: cfg.Fitting.ConfidenceLevel,
	}
	if parallel || cfg.Fitting.Parallel {
		opts.Execution = survival.ExecParallel
	}
	return opts
}

func printFailures(failures []survival.FitFailure) {
	for _, f := range failures {
		fmt.Fprintf(os.Stderr, "SKIP %s: %s (%s)\n", f.Candidate, f.Code, f.Detail)
	}
}

func printForest(ctx context.Context, table *survival.ResultTable) error {
	opts := ports.DefaultForestOptions()
	opts.Merged = true
	opts.PValueHeader = true
	out, err := render.NewTextRenderer().RenderForest(ctx, nil, table, opts)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func writeFiles(table *survival.ResultTable, outCSV, outXLSX, outputDir string) error {
	if outCSV != "" {
		f, err := os.Create(resolvePath(outCSV, outputDir))
		if err != nil {
			return err
		}
		defer f.Close()
		if err := export.WriteCSV(f, table); err != nil {
			return err
		}
	}
	if outXLSX != "" {
		if err := export.WriteXLSX(resolvePath(outXLSX, outputDir), table); err != nil {
			return err
		}
	}
	return nil
}

func resolvePath(path, outputDir string) string {
	if filepath.IsAbs(path) || outputDir == "" {
		return path
	}
	return filepath.Join(outputDir, path)
}
