package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var billingCmd = &cobra.Command{
	Use:   "billing",
	Short: "Track report payments",
}

var (
	billingPrice    float64
	billingDiscount float64
	billingPaid     float64
	billingDue      string
)

var billingPayCmd = &cobra.Command{
	Use:   "pay <report-id>",
	Short: "Record a payment against a report and rederive its status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Store.GetReport(ctx, args[0])
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("price") {
			rep.PriceBase = billingPrice
		}
		if cmd.Flags().Changed("discount") {
			rep.DiscountPct = billingDiscount
		}
		if cmd.Flags().Changed("paid") {
			rep.AmountPaid += billingPaid
		}
		if billingDue != "" {
			due, err := time.Parse("2006-01-02", billingDue)
			if err != nil {
				return eris.Wrap(err, "parse --due")
			}
			rep.DueDate = &due
		}
		if rep.AmountPaid < 0 {
			return eris.New("amount paid cannot go negative")
		}

		status := rep.DerivePayStatus(time.Now().UTC())
		if err := env.Store.UpdateReportPayment(ctx, rep.ID,
			rep.PriceBase, rep.DiscountPct, rep.AmountPaid, rep.DueDate, status); err != nil {
			return err
		}

		zap.L().Info("payment recorded",
			zap.String("report_id", rep.ID),
			zap.Float64("amount_paid", rep.AmountPaid),
			zap.String("status", string(status)),
		)
		fmt.Printf("precio final %.2f, pagado %.2f, saldo %.2f, estado %s\n",
			rep.PriceFinal(), rep.AmountPaid, rep.Outstanding(), status)
		return nil
	},
}

func init() {
	billingPayCmd.Flags().Float64Var(&billingPrice, "price", 0, "override the base price")
	billingPayCmd.Flags().Float64Var(&billingDiscount, "discount", 0, "override the discount percent")
	billingPayCmd.Flags().Float64Var(&billingPaid, "paid", 0, "payment amount to add")
	billingPayCmd.Flags().StringVar(&billingDue, "due", "", "due date YYYY-MM-DD")

	billingCmd.AddCommand(billingPayCmd)
	rootCmd.AddCommand(billingCmd)
}
