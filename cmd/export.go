package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/agrovista/satreport/internal/export"
	"github.com/agrovista/satreport/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export monthly data and report listings to spreadsheets",
}

var (
	exportParcelID string
	exportFrom     string
	exportTo       string
	exportOut      string
	exportLimit    int
)

var exportMonthlyCmd = &cobra.Command{
	Use:   "monthly",
	Short: "Write a parcel's monthly index and weather rows to an xlsx file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		if exportFrom == "" || exportTo == "" {
			return eris.New("--from and --to are required")
		}
		from, err := time.Parse("2006-01", exportFrom)
		if err != nil {
			return eris.Wrap(err, "parse --from (YYYY-MM)")
		}
		to, err := time.Parse("2006-01", exportTo)
		if err != nil {
			return eris.Wrap(err, "parse --to (YYYY-MM)")
		}

		if err := export.New(env.Store).ExportMonthly(ctx, exportParcelID, from, to, exportOut); err != nil {
			return err
		}
		fmt.Println(exportOut)
		return nil
	},
}

var exportReportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Write report billing rows to an xlsx file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		filter := store.ReportFilter{ParcelID: exportParcelID, Limit: exportLimit}
		if err := export.New(env.Store).ExportReports(ctx, filter, exportOut); err != nil {
			return err
		}
		fmt.Println(exportOut)
		return nil
	},
}

func init() {
	exportMonthlyCmd.Flags().StringVar(&exportParcelID, "parcel", "", "parcel ID (required)")
	exportMonthlyCmd.Flags().StringVar(&exportFrom, "from", "", "first month YYYY-MM")
	exportMonthlyCmd.Flags().StringVar(&exportTo, "to", "", "last month YYYY-MM")
	exportMonthlyCmd.Flags().StringVar(&exportOut, "out", "export.xlsx", "output path")
	exportMonthlyCmd.MarkFlagRequired("parcel") //nolint:errcheck

	exportReportsCmd.Flags().StringVar(&exportParcelID, "parcel", "", "filter by parcel ID")
	exportReportsCmd.Flags().IntVar(&exportLimit, "limit", 0, "maximum rows, 0 for all")
	exportReportsCmd.Flags().StringVar(&exportOut, "out", "reports.xlsx", "output path")

	exportCmd.AddCommand(exportMonthlyCmd, exportReportsCmd)
	rootCmd.AddCommand(exportCmd)
}
