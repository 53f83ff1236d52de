package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/export"
	"github.com/janekbaraniewski/counterstats/internal/ingest"
	"github.com/janekbaraniewski/counterstats/internal/query"
	"github.com/janekbaraniewski/counterstats/internal/store"
	"github.com/spf13/cobra"
)

func newSetupCommand(a *app) *cobra.Command {
	var recreate bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the report tables, cost tables and views",
		Long:  "Create every table and view that does not exist yet. With --recreate all tables are dropped first and every imported row is lost.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.store.SetupDatabase(cmd.Context(), recreate); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database ready at %s\n", a.store.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&recreate, "recreate", false, "drop and recreate all tables, discarding data")
	return cmd
}

func newImportCommand(a *app) *cobra.Command {
	var (
		vendor string
		year   int
	)
	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Import COUNTER 5 report files",
		Long:  "Import report files named <year>_<vendor>_<report>.tsv. Re-importing a file replaces the rows it contributed before.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := make([]ingest.FileSpec, len(args))
			for i, path := range args {
				specs[i] = ingest.FileSpec{Path: path, Vendor: strings.TrimSpace(vendor), Year: year}
			}
			imp := ingest.NewImporter(a.store, a.cfg.Concurrency, a.log)
			res := imp.ImportFiles(cmd.Context(), specs)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FILE\tREPORT\tREPLACED\tINSERTED\tREJECTED")
			for _, r := range res.Imported {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", r.File, r.Subtype, r.Deleted, r.Inserted, r.Failed)
			}
			for _, f := range res.Failed {
				fmt.Fprintf(w, "%s\t-\t-\t-\t%v\n", f.Path, f.Err)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d of %d files not imported", len(res.Failed), len(specs))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&vendor, "vendor", "", "vendor name (default: from the file name)")
	cmd.Flags().IntVar(&year, "year", 0, "report year (default: from the file name)")
	return cmd
}

func newWatchCommand(a *app) *cobra.Command {
	var (
		dir      string
		existing bool
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Import report files as they appear in a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = a.cfg.ImportDir
			}
			w := ingest.NewWatcher(dir, ingest.NewImporter(a.store, a.cfg.Concurrency, a.log), a.log)
			w.Delay = delay
			w.ImportExisting = existing
			fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", dir)
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory to watch (default: configured import dir)")
	cmd.Flags().BoolVar(&existing, "existing", false, "import files already in the directory first")
	cmd.Flags().DurationVar(&delay, "delay", ingest.DefaultSettleDelay, "quiet period before a changed file is imported")
	return cmd
}

// yearRange registers --from and --to, both defaulting to the current year.
type yearRange struct {
	from, to int
}

func (r *yearRange) register(cmd *cobra.Command) {
	year := time.Now().Year()
	cmd.Flags().IntVar(&r.from, "from", year, "first year")
	cmd.Flags().IntVar(&r.to, "to", year, "last year")
}

func newSearchCommand(a *app) *cobra.Command {
	var (
		years yearRange
		where []string
		xlsx  string
	)
	cmd := &cobra.Command{
		Use:   "search <report>",
		Short: "Search a report view",
		Long: `Search the aggregated view of a report. Every --where must hold; alternatives
inside one --where are joined with OR:

  counterstats search TR_J1 --from 2019 --to 2020 \
    --where "vendor = EBSCO OR vendor like Wil%" \
    --where "reporting_period_total >= 10"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subtype, err := catalog.ParseSubtype(args[0])
			if err != nil {
				return err
			}
			groups := make([][]query.Clause, 0, len(where))
			for _, w := range where {
				group, err := query.ParseGroup(w)
				if err != nil {
					return err
				}
				groups = append(groups, group)
			}
			res, err := a.store.Search(cmd.Context(), subtype, years.from, years.to, groups)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), res, xlsx, string(subtype)+" search")
		},
	}
	years.register(cmd)
	cmd.Flags().StringArrayVar(&where, "where", nil, `filter such as "metric_type = Total_Item_Requests"`)
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "write the result to this workbook instead of stdout")
	return cmd
}

func newChartCommand(a *app) *cobra.Command {
	var (
		years                  yearRange
		entity, metric, vendor string
		xlsx                   string
	)
	cmd := &cobra.Command{
		Use:   "chart <report>",
		Short: "Monthly series for charting",
		Long:  "Select monthly columns per entity. --entity, --metric and --vendor are LIKE patterns.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subtype, err := catalog.ParseSubtype(args[0])
			if err != nil {
				return err
			}
			res, err := a.store.ChartQuery(cmd.Context(), subtype, years.from, years.to, entity, metric, vendor)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), res, xlsx, string(subtype)+" chart")
		},
	}
	years.register(cmd)
	cmd.Flags().StringVar(&entity, "entity", "%", "entity name pattern")
	cmd.Flags().StringVar(&metric, "metric", "%", "metric type pattern")
	cmd.Flags().StringVar(&vendor, "vendor", "%", "vendor pattern")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "write the result to this workbook instead of stdout")
	return cmd
}

func newTopCommand(a *app) *cobra.Command {
	var (
		years          yearRange
		metric, vendor string
		n              int
		xlsx           string
	)
	cmd := &cobra.Command{
		Use:   "top <report>",
		Short: "Rank entities by total usage",
		Long:  "Rank entities by their total for one metric type. Ties share a rank and n counts ranks, so more than n entities can be listed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subtype, err := catalog.ParseSubtype(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(metric) == "" {
				return fmt.Errorf("--metric is required")
			}
			res, err := a.store.TopN(cmd.Context(), subtype, years.from, years.to, metric, vendor, n)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), res, xlsx, string(subtype)+" top")
		},
	}
	years.register(cmd)
	cmd.Flags().StringVar(&metric, "metric", "", "metric type to rank by")
	cmd.Flags().StringVar(&vendor, "vendor", "", "only rank this vendor")
	cmd.Flags().IntVarP(&n, "limit", "n", 10, "highest rank to list, 0 for all")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "write the result to this workbook instead of stdout")
	return cmd
}

func newRenameVendorCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename-vendor <old> <new>",
		Short: "Rename a vendor in every report and cost table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.store.RenameVendor(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed %q to %q in %d rows\n", args[0], args[1], n)
			return nil
		},
	}
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count stored rows per table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TABLE\tROWS")
			for _, subtype := range catalog.Subtypes() {
				fmt.Fprintf(w, "%s\t%d\n", subtype.Table(), stats.Rows[subtype])
			}
			for _, family := range catalog.Families() {
				fmt.Fprintf(w, "%s\t%d\n", family.CostTable(), stats.Costs[family])
			}
			return w.Flush()
		},
	}
}

// emit writes res to the workbook at xlsx, or as a table to out.
func emit(out io.Writer, res store.Result, xlsx, sheet string) error {
	if xlsx != "" {
		if err := export.WriteResult(xlsx, sheet, res); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %d rows to %s\n", len(res.Records), xlsx)
		return nil
	}
	return printResult(out, res)
}

func printResult(out io.Writer, res store.Result) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	headers := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		headers[i] = strings.ToUpper(c)
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, rec := range res.Records {
		values := make([]string, len(res.Columns))
		for i, c := range res.Columns {
			values[i] = rec.String(c)
		}
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
	return w.Flush()
}
