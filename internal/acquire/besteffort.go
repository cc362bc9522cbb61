package acquire

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/model"
)

// CloudThresholds are tried in order until coverage is acceptable.
var CloudThresholds = []int{20, 50, 80, 100}

// Coverage quality labels, best to worst.
const (
	CoverageExcellent  = "excellent"
	CoverageGood       = "good"
	CoverageAcceptable = "acceptable"
	CoveragePoor       = "poor"
	CoverageNone       = "none"
)

// CoveragePresentation maps a quality label to display strings. Purely
// presentational; no logic reads it.
var CoveragePresentation = map[string]struct {
	Emoji string
	Label string
}{
	CoverageExcellent:  {"🌟", "Excelente"},
	CoverageGood:       {"✅", "Buena"},
	CoverageAcceptable: {"⚠️", "Aceptable"},
	CoveragePoor:       {"❌", "Pobre"},
	CoverageNone:       {"🚫", "Sin datos"},
}

// BestEffortResult is the outcome of a multi-threshold acquisition.
type BestEffortResult struct {
	Data            *model.Dataset
	ThresholdUsed   int
	Quality         string
	MonthlyCoverage int
	ExpectedMonths  int
	CoveragePct     float64
}

// AcquireBestEffort walks the cloud-cover thresholds from strictest to
// loosest and returns the first attempt whose month coverage reaches
// minCoverage. If none does, the best-covered attempt wins.
func (o *Orchestrator) AcquireBestEffort(ctx context.Context, req Request, minCoverage int) (*BestEffortResult, error) {
	expected := MonthsBetween(req.DateStart, req.DateEnd)
	if minCoverage > expected {
		minCoverage = expected
	}

	var best *BestEffortResult
	var lastErr error

	for i, threshold := range CloudThresholds {
		attempt := req
		attempt.MaxCloudPct = threshold
		attempt.bypassCache = i > 0

		ds, err := o.Acquire(ctx, attempt)
		if err != nil {
			var notSynced *NotSyncedError
			if errors.As(err, &notSynced) {
				return nil, err
			}
			zap.L().Warn("acquire: threshold attempt failed",
				zap.Int("max_cloud_pct", threshold),
				zap.Error(err),
			)
			lastErr = err
			continue
		}

		coverage := monthCoverage(ds)
		result := &BestEffortResult{
			Data:            ds,
			ThresholdUsed:   threshold,
			MonthlyCoverage: coverage,
			ExpectedMonths:  expected,
		}
		if expected > 0 {
			result.CoveragePct = float64(coverage) / float64(expected) * 100
		}
		result.Quality = coverageQuality(coverage, result.CoveragePct)

		if coverage >= minCoverage && coverage > 0 {
			zap.L().Info("acquire: best-effort settled",
				zap.Int("threshold", threshold),
				zap.Int("coverage", coverage),
				zap.Int("expected", expected),
			)
			return result, nil
		}
		if best == nil || coverage > best.MonthlyCoverage {
			best = result
		}
	}

	if best == nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return &BestEffortResult{Quality: CoverageNone}, nil
	}
	return best, nil
}

func monthCoverage(ds *model.Dataset) int {
	months := map[yearMonth]bool{}
	for _, sc := range ds.Scenes {
		months[yearMonth{sc.Date.Year(), int(sc.Date.Month())}] = true
	}
	return len(months)
}

func coverageQuality(coverage int, pct float64) string {
	switch {
	case coverage == 0:
		return CoverageNone
	case pct >= 95:
		return CoverageExcellent
	case pct >= 85:
		return CoverageGood
	case pct >= 50:
		return CoverageAcceptable
	default:
		return CoveragePoor
	}
}
