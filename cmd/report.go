package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/report"
	"github.com/agrovista/satreport/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate and inspect analytical reports",
}

var (
	reportParcelID string
	reportTemplate string
	reportMonths   int
	reportFrom     string
	reportTo       string
	reportPrice    float64
	reportDiscount float64
	reportDueDays  int
	reportLimit    int
)

var reportGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Compose a PDF report from the cached monthly data",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "report")
		if err != nil {
			return err
		}
		defer env.Close()

		req := report.ComposeRequest{
			ParcelID:    reportParcelID,
			MonthsBack:  reportMonths,
			PriceBase:   reportPrice,
			DiscountPct: reportDiscount,
		}
		if reportTemplate != "" {
			tpl, err := report.TemplateConfig(reportTemplate)
			if err != nil {
				return err
			}
			req.Config = &tpl
		}
		if reportFrom != "" || reportTo != "" {
			if reportFrom == "" || reportTo == "" {
				return eris.New("--from and --to must be set together")
			}
			start, err := time.Parse("2006-01-02", reportFrom)
			if err != nil {
				return eris.Wrap(err, "parse --from")
			}
			end, err := time.Parse("2006-01-02", reportTo)
			if err != nil {
				return eris.Wrap(err, "parse --to")
			}
			req.DateStart, req.DateEnd = &start, &end
		}
		if reportPrice > 0 && reportDueDays > 0 {
			due := time.Now().UTC().AddDate(0, 0, reportDueDays)
			req.DueDate = &due
		}

		rep, err := env.Composer.Compose(ctx, req)
		if err != nil {
			return err
		}

		zap.L().Info("report generated",
			zap.String("report_id", rep.ID),
			zap.String("pdf", rep.PDFPath),
		)
		fmt.Println(rep.PDFPath)
		return nil
	},
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List generated reports, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		reports, err := env.Store.ListReports(ctx, store.ReportFilter{
			ParcelID: reportParcelID,
			Limit:    reportLimit,
		})
		if err != nil {
			return err
		}
		for _, r := range reports {
			fmt.Printf("%s  %s  %2d meses  %-10s  %s\n",
				r.ID, r.GeneratedAt.Format("2006-01-02"), r.PeriodMonths, r.StatusPay, r.Title)
		}
		return nil
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Print one report record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		r, err := env.Store.GetReport(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	},
}

func init() {
	reportGenerateCmd.Flags().StringVar(&reportParcelID, "parcel", "", "parcel ID (required)")
	reportGenerateCmd.Flags().StringVar(&reportTemplate, "template", "", "template name (executive_quick, standard_default, complete_deep, coffee_focused)")
	reportGenerateCmd.Flags().IntVar(&reportMonths, "months", report.DefaultMonthsBack, "months back from today when no explicit period is given")
	reportGenerateCmd.Flags().StringVar(&reportFrom, "from", "", "period start YYYY-MM-DD")
	reportGenerateCmd.Flags().StringVar(&reportTo, "to", "", "period end YYYY-MM-DD")
	reportGenerateCmd.Flags().Float64Var(&reportPrice, "price", 0, "base price, 0 means courtesy")
	reportGenerateCmd.Flags().Float64Var(&reportDiscount, "discount", 0, "discount percent")
	reportGenerateCmd.Flags().IntVar(&reportDueDays, "due-days", 0, "payment due in N days (0 uses no due date)")
	reportGenerateCmd.MarkFlagRequired("parcel") //nolint:errcheck

	reportListCmd.Flags().StringVar(&reportParcelID, "parcel", "", "filter by parcel ID")
	reportListCmd.Flags().IntVar(&reportLimit, "limit", 20, "maximum rows")

	reportCmd.AddCommand(reportGenerateCmd, reportListCmd, reportShowCmd)
	rootCmd.AddCommand(reportCmd)
}
