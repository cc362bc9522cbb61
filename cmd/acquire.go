package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/acquire"
	"github.com/agrovista/satreport/internal/model"
)

var (
	acquireParcelID    string
	acquireFrom        string
	acquireTo          string
	acquireIndices     []string
	acquireUser        string
	acquireMaxCloud    int
	acquireBestEffort  bool
	acquireMinCoverage int
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Fetch satellite and weather data for a parcel and aggregate it monthly",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "acquire")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.checkQuota(ctx, acquireUser); err != nil {
			return err
		}

		parcel, err := env.Store.GetParcel(ctx, acquireParcelID)
		if err != nil {
			return err
		}

		indices, err := parseIndices(acquireIndices)
		if err != nil {
			return err
		}
		start, end, err := parsePeriod(acquireFrom, acquireTo)
		if err != nil {
			return err
		}

		req := acquire.Request{
			Parcel:      parcel,
			DateStart:   start,
			DateEnd:     end,
			Indices:     indices,
			UserID:      acquireUser,
			MaxCloudPct: acquireMaxCloud,
		}

		var ds *model.Dataset
		if acquireBestEffort {
			res, err := env.Orchestrator.AcquireBestEffort(ctx, req, acquireMinCoverage)
			if err != nil {
				return err
			}
			ds = res.Data
			zap.L().Info("best-effort acquisition done",
				zap.Int("threshold_pct", res.ThresholdUsed),
				zap.String("quality", res.Quality),
				zap.Int("months_covered", res.MonthlyCoverage),
				zap.Int("months_expected", res.ExpectedMonths),
			)
		} else {
			ds, err = env.Orchestrator.Acquire(ctx, req)
			if err != nil {
				return err
			}
		}

		rows, err := env.Orchestrator.WriteMonthly(ctx, parcel.ID, ds)
		if err != nil {
			return err
		}

		fmt.Printf("%d scenes, %d weather records, %d monthly rows (from cache: %v)\n",
			len(ds.Scenes), len(ds.Weather), len(rows), ds.FromCache)
		return nil
	},
}

func parseIndices(raw []string) ([]model.IndexName, error) {
	if len(raw) == 0 {
		return []model.IndexName{model.IndexNDVI}, nil
	}
	out := make([]model.IndexName, 0, len(raw))
	for _, s := range raw {
		idx := model.IndexName(strings.ToUpper(strings.TrimSpace(s)))
		switch idx {
		case model.IndexNDVI, model.IndexNDMI, model.IndexSAVI:
			out = append(out, idx)
		default:
			return nil, eris.Errorf("unknown index %q", s)
		}
	}
	return out, nil
}

// parsePeriod defaults to the last six calendar months when both ends
// are empty. A single bound is an error.
func parsePeriod(from, to string) (time.Time, time.Time, error) {
	if from == "" && to == "" {
		end := time.Now().UTC()
		return end.AddDate(0, -6, 0), end, nil
	}
	if from == "" || to == "" {
		return time.Time{}, time.Time{}, eris.New("--from and --to must be set together")
	}
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrap(err, "parse --from")
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrap(err, "parse --to")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, eris.New("--to is before --from")
	}
	return start, end, nil
}

func init() {
	acquireCmd.Flags().StringVar(&acquireParcelID, "parcel", "", "parcel ID (required)")
	acquireCmd.Flags().StringVar(&acquireFrom, "from", "", "period start YYYY-MM-DD")
	acquireCmd.Flags().StringVar(&acquireTo, "to", "", "period end YYYY-MM-DD")
	acquireCmd.Flags().StringSliceVar(&acquireIndices, "indices", []string{"NDVI"}, "indices to fetch (NDVI, NDMI, SAVI)")
	acquireCmd.Flags().StringVar(&acquireUser, "user", "", "user ID charged in the usage ledger")
	acquireCmd.Flags().IntVar(&acquireMaxCloud, "max-cloud", 30, "maximum scene cloud cover percent")
	acquireCmd.Flags().BoolVar(&acquireBestEffort, "best-effort", false, "walk cloud thresholds until coverage is acceptable")
	acquireCmd.Flags().IntVar(&acquireMinCoverage, "min-coverage", 4, "months of coverage accepted by --best-effort")
	acquireCmd.MarkFlagRequired("parcel") //nolint:errcheck
	rootCmd.AddCommand(acquireCmd)
}
