package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/janekbaraniewski/counterstats/internal/convert"
	"github.com/janekbaraniewski/counterstats/internal/ingest"
	"github.com/spf13/cobra"
)

func newConvertCommand(a *app) *cobra.Command {
	var (
		vendor    string
		outputDir string
		doImport  bool
	)
	cmd := &cobra.Command{
		Use:   "convert <file>...",
		Short: "Convert COUNTER 4 reports to COUNTER 5 files",
		Long: `Convert legacy COUNTER 4 reports (JR1, JR2, BR1, BR2, BR3, DB1, DB2, PR1) of one
vendor. Rows repeated across the given files are merged; the output holds one
file per report type and year.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputDir == "" {
				outputDir = a.cfg.ConvertDir
			}
			res, err := convert.NewConverter(outputDir, vendor, a.log).Convert(cmd.Context(), args)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FILE\tREPORT\tYEAR\tLINES")
			for _, out := range res.Outputs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", out.Path, out.Subtype, out.Year, out.Rows)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %d duplicate rows, skipped %d unmapped rows\n", res.Merged, res.Skipped)

			if !doImport {
				return nil
			}
			specs := make([]ingest.FileSpec, len(res.Outputs))
			for i, out := range res.Outputs {
				specs[i] = ingest.FileSpec{Path: out.Path, Vendor: vendor, Year: out.Year}
			}
			batch := ingest.NewImporter(a.store, a.cfg.Concurrency, a.log).ImportFiles(cmd.Context(), specs)
			inserted, rejected := batch.Rows()
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d files, %d rows (%d rejected)\n", len(batch.Imported), inserted, rejected)
			return batch.Err()
		},
	}
	cmd.Flags().StringVar(&vendor, "vendor", "", "vendor the reports come from")
	cmd.Flags().StringVar(&outputDir, "out", "", "output directory (default: configured convert dir)")
	cmd.Flags().BoolVar(&doImport, "import", false, "import the converted files")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}
