package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agrovista/satreport/internal/acquire"
	"github.com/agrovista/satreport/internal/report"
)

var (
	batchUser        string
	batchIndices     []string
	batchMaxCloud    int
	batchConcurrency int
	batchMonths      int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Bulk operations over every registered parcel",
}

// batchAcquireCmd refreshes monthly data for all parcels. Failures are
// logged and counted, not fatal; one bad parcel must not stop the run.
var batchAcquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire and aggregate data for every parcel",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "acquire")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.checkQuota(ctx, batchUser); err != nil {
			return err
		}

		parcels, err := env.Store.ListParcels(ctx)
		if err != nil {
			return err
		}
		indices, err := parseIndices(batchIndices)
		if err != nil {
			return err
		}

		end := time.Now().UTC()
		start := end.AddDate(0, -batchMonths, 0)

		var ok, failed atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(batchConcurrency)
		for i := range parcels {
			p := &parcels[i]
			g.Go(func() error {
				ds, err := env.Orchestrator.Acquire(gctx, acquire.Request{
					Parcel:      p,
					DateStart:   start,
					DateEnd:     end,
					Indices:     indices,
					UserID:      batchUser,
					MaxCloudPct: batchMaxCloud,
				})
				if err == nil {
					_, err = env.Orchestrator.WriteMonthly(gctx, p.ID, ds)
				}
				if err != nil {
					failed.Add(1)
					zap.L().Warn("batch acquire failed",
						zap.String("parcel_id", p.ID),
						zap.String("parcel", p.Name),
						zap.Error(err),
					)
					return nil
				}
				ok.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("batch acquire finished",
			zap.Int64("succeeded", ok.Load()),
			zap.Int64("failed", failed.Load()),
		)
		fmt.Printf("%d parcels updated, %d failed\n", ok.Load(), failed.Load())
		return nil
	},
}

var batchTemplate string

// batchReportCmd composes one report per parcel from cached monthly
// data. Like batch acquire, per-parcel failures are counted, not fatal.
var batchReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Compose a report for every parcel",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "report")
		if err != nil {
			return err
		}
		defer env.Close()

		parcels, err := env.Store.ListParcels(ctx)
		if err != nil {
			return err
		}

		var tpl *report.Config
		if batchTemplate != "" {
			c, err := report.TemplateConfig(batchTemplate)
			if err != nil {
				return err
			}
			tpl = &c
		}

		var ok, failed atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(batchConcurrency)
		for i := range parcels {
			p := &parcels[i]
			g.Go(func() error {
				req := report.ComposeRequest{ParcelID: p.ID, MonthsBack: batchMonths}
				if tpl != nil {
					cp := *tpl
					req.Config = &cp
				}
				rep, err := env.Composer.Compose(gctx, req)
				if err != nil {
					failed.Add(1)
					zap.L().Warn("batch report failed",
						zap.String("parcel_id", p.ID),
						zap.String("parcel", p.Name),
						zap.Error(err),
					)
					return nil
				}
				ok.Add(1)
				zap.L().Info("report composed",
					zap.String("parcel_id", p.ID),
					zap.String("pdf", rep.PDFPath),
				)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		fmt.Printf("%d reports composed, %d failed\n", ok.Load(), failed.Load())
		return nil
	},
}

func init() {
	batchAcquireCmd.Flags().StringVar(&batchUser, "user", "", "user ID charged in the usage ledger")
	batchAcquireCmd.Flags().StringSliceVar(&batchIndices, "indices", []string{"NDVI"}, "indices to fetch")
	batchAcquireCmd.Flags().IntVar(&batchMaxCloud, "max-cloud", 30, "maximum scene cloud cover percent")
	batchAcquireCmd.Flags().IntVar(&batchConcurrency, "concurrency", 3, "parcels processed in parallel")
	batchAcquireCmd.Flags().IntVar(&batchMonths, "months", 6, "months back from today")

	batchReportCmd.Flags().StringVar(&batchTemplate, "template", "", "template applied to every report")
	batchReportCmd.Flags().IntVar(&batchConcurrency, "concurrency", 3, "reports composed in parallel")
	batchReportCmd.Flags().IntVar(&batchMonths, "months", 6, "months back from today")

	batchCmd.AddCommand(batchAcquireCmd, batchReportCmd)
	rootCmd.AddCommand(batchCmd)
}
