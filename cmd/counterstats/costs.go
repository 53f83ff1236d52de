package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/costs"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newCostsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Manage subscription costs",
		Long: `Add, import, delete and list monthly subscription costs. <family> is one of
` + familyList() + `. Every change rewrites the family's backup file.`,
	}

	cmd.AddCommand(newCostsAddCommand(a))
	cmd.AddCommand(newCostsImportCommand(a))
	cmd.AddCommand(newCostsDeleteCommand(a))
	cmd.AddCommand(newCostsListCommand(a))

	return cmd
}

func familyList() string {
	names := make([]string, 0, 4)
	for _, f := range catalog.Families() {
		names = append(names, string(f))
	}
	return strings.Join(names, ", ")
}

// costTarget holds the flags shared by add and delete.
type costTarget struct {
	entity, vendor string
	begin, end     string
}

func (t *costTarget) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.entity, "entity", "", "title, database, platform or item name")
	cmd.Flags().StringVar(&t.vendor, "vendor", "", "vendor name")
	cmd.Flags().StringVar(&t.begin, "begin", "", "first month, YYYY-MM")
	cmd.Flags().StringVar(&t.end, "end", "", "last month, YYYY-MM (default: begin)")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("vendor")
	_ = cmd.MarkFlagRequired("begin")
}

func (t *costTarget) months() (costs.YearMonth, costs.YearMonth, error) {
	begin, err := costs.ParseYearMonth(t.begin)
	if err != nil {
		return costs.YearMonth{}, costs.YearMonth{}, err
	}
	end := begin
	if strings.TrimSpace(t.end) != "" {
		if end, err = costs.ParseYearMonth(t.end); err != nil {
			return costs.YearMonth{}, costs.YearMonth{}, err
		}
	}
	return begin, end, nil
}

func newCostsAddCommand(a *app) *cobra.Command {
	var (
		target                        costTarget
		original, local, localWithTax string
		currency                      string
	)
	cmd := &cobra.Command{
		Use:   "add <family>",
		Short: "Spread a cost evenly over a range of months",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			family, err := catalog.ParseFamily(args[0])
			if err != nil {
				return err
			}
			begin, end, err := target.months()
			if err != nil {
				return err
			}
			amounts, err := parseAmounts(original, local, localWithTax)
			if err != nil {
				return err
			}
			if currency == "" {
				currency = a.cfg.LocalCurrency
			}

			res, err := a.store.InsertCost(cmd.Context(), family, costs.Entry{
				Entity:                     target.entity,
				Vendor:                     target.vendor,
				Begin:                      begin,
				End:                        end,
				CostInOriginalCurrency:     amounts[0],
				OriginalCurrency:           currency,
				CostInLocalCurrency:        amounts[1],
				CostInLocalCurrencyWithTax: amounts[2],
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d monthly costs for %s (%s to %s)\n", res.Records, target.entity, begin, end)
			return nil
		},
	}
	target.register(cmd)
	cmd.Flags().StringVar(&original, "original", "0", "cost in the original currency")
	cmd.Flags().StringVar(&currency, "currency", "", "original currency code (default: configured local currency)")
	cmd.Flags().StringVar(&local, "local", "0", "cost in local currency")
	cmd.Flags().StringVar(&localWithTax, "local-with-tax", "0", "cost in local currency including tax")
	return cmd
}

func parseAmounts(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(v), ",", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q", v)
		}
		out[i] = d
	}
	return out, nil
}

func newCostsImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <family> <file>",
		Short: "Import monthly costs from a tab separated file",
		Long:  "Import a file whose header names the entity, vendor, year, month and cost columns, like the backup files written after every change.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			family, err := catalog.ParseFamily(args[0])
			if err != nil {
				return err
			}
			res, err := a.store.InsertCostFile(cmd.Context(), family, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d monthly costs from %s\n", res.Records, args[1])
			return nil
		},
	}
}

func newCostsDeleteCommand(a *app) *cobra.Command {
	var target costTarget
	cmd := &cobra.Command{
		Use:   "delete <family>",
		Short: "Delete an entity's costs over a range of months",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			family, err := catalog.ParseFamily(args[0])
			if err != nil {
				return err
			}
			begin, end, err := target.months()
			if err != nil {
				return err
			}
			res, err := a.store.DeleteCosts(cmd.Context(), family, target.entity, target.vendor, begin, end)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d monthly costs\n", res.Records)
			return nil
		},
	}
	target.register(cmd)
	return cmd
}

func newCostsListCommand(a *app) *cobra.Command {
	var (
		vendor, entity string
		year           int
	)
	cmd := &cobra.Command{
		Use:   "list <family>",
		Short: "List monthly costs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			family, err := catalog.ParseFamily(args[0])
			if err != nil {
				return err
			}
			records, err := a.store.GetCosts(cmd.Context(), family, vendor, year, entity)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ENTITY\tVENDOR\tMONTH\tORIGINAL\tCURRENCY\tLOCAL\tLOCAL_WITH_TAX")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Entity,
					r.Vendor,
					r.YearMonth(),
					r.CostInOriginalCurrency.StringFixed(2),
					r.OriginalCurrency,
					r.CostInLocalCurrency.StringFixed(2),
					r.CostInLocalCurrencyWithTax.StringFixed(2),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&vendor, "vendor", "", "only this vendor")
	cmd.Flags().StringVar(&entity, "entity", "", "only this entity")
	cmd.Flags().IntVar(&year, "year", 0, "only this year")
	return cmd
}
