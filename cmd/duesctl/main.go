// duesctl is an operator CLI for the dues tracker: monthly summaries, bulk
// dues generation and CSV export without going through the web API.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/oyilmaz/aptDues/pkg/config"
	"github.com/oyilmaz/aptDues/pkg/dues"
	"github.com/oyilmaz/aptDues/pkg/models"
	"github.com/oyilmaz/aptDues/pkg/report"
	"github.com/oyilmaz/aptDues/pkg/store"
)

const dateLayout = "2006-01-02"

func openEngine() (*dues.Engine, *store.PostgresStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return dues.NewEngine(pgStore), pgStore, nil
}

func summaryCmd() *cobra.Command {
	var month string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the collection summary for a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, pgStore, err := openEngine()
			if err != nil {
				return err
			}
			defer pgStore.Close()

			if month == "" {
				month = dues.CurrentMonth(time.Now())
			}
			summary, err := engine.SummarizeMonth(month)
			if err != nil {
				return err
			}

			fmt.Printf("Month:            %s\n", summary.Month)
			fmt.Printf("Total due:        %s\n", summary.TotalDue.StringFixed(2))
			fmt.Printf("Total collected:  %s\n", summary.TotalCollected.StringFixed(2))
			fmt.Printf("Pending:          %s\n", summary.PendingAmount.StringFixed(2))
			fmt.Printf("Collection rate:  %.1f%%\n", summary.CollectionRate)
			fmt.Printf("Paid records:     %d\n", summary.PaidCount)
			fmt.Printf("Outstanding:      %d\n", summary.OutstandingCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "month key (YYYY-MM), defaults to the current month")
	return cmd
}

func generateCmd() *cobra.Command {
	var (
		month   string
		amount  float64
		dueDate string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create pending dues records for every apartment without one for the month",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, pgStore, err := openEngine()
			if err != nil {
				return err
			}
			defer pgStore.Close()

			due, err := time.Parse(dateLayout, dueDate)
			if err != nil {
				return fmt.Errorf("invalid --due date, expected YYYY-MM-DD: %w", err)
			}

			created, skipped, err := engine.GenerateMonthlyDues(month, decimal.NewFromFloat(amount), due)
			if err != nil {
				return err
			}
			fmt.Printf("Created %d dues records for %s, skipped %d apartments with existing records.\n",
				len(created), month, skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "target month key (YYYY-MM)")
	cmd.Flags().Float64Var(&amount, "amount", 0, "dues amount per apartment")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.MarkFlagRequired("month")
	cmd.MarkFlagRequired("amount")
	cmd.MarkFlagRequired("due")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		month  string
		status string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the dues report as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, pgStore, err := openEngine()
			if err != nil {
				return err
			}
			defer pgStore.Close()

			apartments, err := engine.GetAllApartments()
			if err != nil {
				return err
			}
			payments, err := engine.GetAllPayments()
			if err != nil {
				return err
			}

			filtered := make([]*models.Payment, 0, len(payments))
			for _, p := range payments {
				if month != "" && p.Month != month {
					continue
				}
				if status != "" && string(p.Status) != status {
					continue
				}
				filtered = append(filtered, p)
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("could not create %s: %w", out, err)
			}
			defer f.Close()

			rows := report.BuildRows(apartments, filtered)
			if err := report.WriteCSV(f, rows); err != nil {
				return err
			}
			fmt.Printf("Wrote %d rows to %s.\n", len(rows), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "filter by month key (YYYY-MM)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, partial, paid)")
	cmd.Flags().StringVarP(&out, "out", "o", "dues-report.csv", "output file")
	return cmd
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "duesctl",
		Short: "Apartment dues tracker admin tool",
	}

	rootCmd.AddCommand(
		summaryCmd(),
		generateCmd(),
		exportCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
