package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/analysis"
	"github.com/agrovista/satreport/internal/legal"
	"github.com/agrovista/satreport/internal/metrics"
	"github.com/agrovista/satreport/internal/model"
	"github.com/agrovista/satreport/internal/store"
)

// DefaultMonthsBack is the analysis window when no explicit dates are given.
const DefaultMonthsBack = 6

// NarrativeGenerator produces the LLM-written sections. narrative.Engine
// implements it; a nil generator means the deterministic fallback is used.
type NarrativeGenerator interface {
	Generate(ctx context.Context, parcel *model.Parcel, months []model.MonthlyIndex, imagePaths []string) model.NarrativeSections
	GeneratePerImage(ctx context.Context, imagePath string, index model.IndexName, meanValue float64, contextLabel string, previous *model.MonthlyIndex) (string, error)
}

// LegalEvaluator resolves legal restrictions for a parcel. Optional; the
// legal section is silently skipped when no evaluator is wired.
type LegalEvaluator interface {
	Evaluate(ctx context.Context, parcel *model.Parcel) (*legal.Result, error)
}

// Deps are the composer's collaborators.
type Deps struct {
	Store     store.Store
	Narrative NarrativeGenerator
	Legal     LegalEvaluator
	// OutDir is the root under which reports/<YYYY>/<MM>/ paths are laid out.
	OutDir string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Composer runs the full report pipeline for one parcel.
type Composer struct {
	store     store.Store
	narrative NarrativeGenerator
	legal     LegalEvaluator
	outDir    string
	now       func() time.Time
}

// NewComposer wires a composer from its collaborators.
func NewComposer(d Deps) *Composer {
	c := &Composer{
		store:     d.Store,
		narrative: d.Narrative,
		legal:     d.Legal,
		outDir:    d.OutDir,
		now:       d.Now,
	}
	if c.outDir == "" {
		c.outDir = "reports"
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// ComposeRequest selects the parcel, period, configuration and billing
// terms for one report. Explicit dates take precedence over MonthsBack.
type ComposeRequest struct {
	ParcelID   string
	DateStart  *time.Time
	DateEnd    *time.Time
	MonthsBack int
	Config     *Config

	PriceBase   float64
	DiscountPct float64
	DueDate     *time.Time
}

// Compose runs the pipeline: load data, analyze, narrate, render the PDF
// and persist the report record. Narrative and legal failures degrade to
// fallback content; data absence and invalid configuration are errors.
func (c *Composer) Compose(ctx context.Context, req ComposeRequest) (*model.Report, error) {
	cfg := DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	parcel, err := c.store.GetParcel(ctx, req.ParcelID)
	if err != nil {
		return nil, eris.Wrap(err, "report: load parcel")
	}

	start, end, periodMonths := c.resolvePeriod(req)
	months, err := c.store.ListMonthly(ctx, parcel.ID, start, end)
	if err != nil {
		return nil, eris.Wrap(err, "report: list monthly records")
	}
	if len(months) == 0 {
		return nil, eris.Errorf("report: no monthly data for parcel %s between %s and %s",
			parcel.ID, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	results := c.analyze(ctx, parcel, cfg.Indices, months)

	sections := c.narrate(ctx, parcel, cfg, months, results)

	var legalResult *legal.Result
	if cfg.HasSection(SectionLegal) && c.legal != nil {
		legalResult, err = c.legal.Evaluate(ctx, parcel)
		if err != nil {
			zap.L().Warn("report: legal evaluation failed, section skipped",
				zap.String("parcel_id", parcel.ID),
				zap.Error(err),
			)
			legalResult = nil
		}
	}

	indexCharts := map[model.IndexName][]byte{}
	for _, idx := range cfg.Indices {
		png, err := renderIndexChart(idx, months)
		if err != nil {
			zap.L().Warn("report: chart skipped", zap.String("index", string(idx)), zap.Error(err))
			continue
		}
		indexCharts[idx] = png
	}
	var comparison []byte
	if cfg.HasSection(SectionComparison) && len(cfg.Indices) > 1 {
		comparison, err = renderComparisonChart(cfg.Indices, months)
		if err != nil {
			zap.L().Warn("report: comparison chart skipped", zap.Error(err))
			comparison = nil
		}
	}

	perImage := c.perImageNarratives(ctx, cfg, months)

	now := c.now()
	pdfPath := c.reportPath(parcel, now)
	doc := &document{
		parcel:     parcel,
		cfg:        cfg,
		months:     months,
		results:    results,
		narrative:  sections,
		legal:      legalResult,
		charts:     indexCharts,
		comparison: comparison,
		perImage:   perImage,
		start:      start,
		end:        end,
		generated:  now,
	}
	if err := doc.render(pdfPath); err != nil {
		return nil, err
	}

	snapshot, err := cfg.Snapshot()
	if err != nil {
		return nil, err
	}

	rep := &model.Report{
		ID:               uuid.NewString(),
		ParcelID:         parcel.ID,
		Title:            fmt.Sprintf("Informe satelital %s (%s a %s)", parcel.Name, start.Format("2006-01"), end.Format("2006-01")),
		PeriodMonths:     periodMonths,
		DateStart:        start,
		DateEnd:          end,
		ConfigSnapshot:   snapshot,
		PDFPath:          pdfPath,
		GeneratedAt:      now,
		Narrative:        sections,
		IndexPeriodMeans: periodMeans(cfg.Indices, results),
		PriceBase:        req.PriceBase,
		DiscountPct:      req.DiscountPct,
		DueDate:          req.DueDate,
	}
	rep.StatusPay = rep.DerivePayStatus(now)

	if err := c.store.CreateReport(ctx, rep); err != nil {
		return nil, eris.Wrap(err, "report: persist record")
	}

	template := cfg.Template
	if template == "" {
		template = "custom"
	}
	metrics.ReportsGeneratedTotal.WithLabelValues(template).Inc()
	zap.L().Info("report: composed",
		zap.String("report_id", rep.ID),
		zap.String("parcel_id", parcel.ID),
		zap.String("pdf", pdfPath),
		zap.Int("months", len(months)),
		zap.Bool("narrative_fallback", sections.Error != ""),
	)
	return rep, nil
}

// resolvePeriod turns the request into a concrete [start, end] window.
func (c *Composer) resolvePeriod(req ComposeRequest) (start, end time.Time, periodMonths int) {
	if req.DateStart != nil && req.DateEnd != nil {
		start, end = *req.DateStart, *req.DateEnd
		periodMonths = monthSpan(start, end)
		return start, end, periodMonths
	}
	back := req.MonthsBack
	if back <= 0 {
		back = DefaultMonthsBack
	}
	end = c.now()
	start = end.AddDate(0, -back, 0)
	return start, end, back
}

func monthSpan(start, end time.Time) int {
	n := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month()) + 1
	if n < 1 {
		return 1
	}
	return n
}

// analyze runs the configured analyzers over the monthly means.
func (c *Composer) analyze(ctx context.Context, parcel *model.Parcel, indices []model.IndexName, months []model.MonthlyIndex) map[model.IndexName]analysis.Result {
	results := make(map[model.IndexName]analysis.Result, len(indices))
	for _, idx := range indices {
		samples := samplesFor(idx, months)
		if len(samples) == 0 {
			zap.L().Warn("report: no samples for index", zap.String("index", string(idx)))
			continue
		}
		var a analysis.Analyzer
		switch idx {
		case model.IndexNDVI:
			a = analysis.NDVIForCrop(ctx, c.store, parcel.CropType, "")
		case model.IndexNDMI:
			a = analysis.NDMIAnalyzer{}
		case model.IndexSAVI:
			a = analysis.SAVIAnalyzer{}
		default:
			continue
		}
		results[idx] = a.Analyze(samples)
	}
	return results
}

func samplesFor(idx model.IndexName, months []model.MonthlyIndex) []analysis.Sample {
	var out []analysis.Sample
	for _, m := range months {
		agg := m.Aggregate(idx)
		if !agg.Present() {
			continue
		}
		out = append(out, analysis.Sample{
			Period: fmt.Sprintf("%04d-%02d", m.Year, m.Month),
			Value:  *agg.Mean,
		})
	}
	return out
}

// narrate produces the narrative sections, degrading to deterministic
// fallback text whenever the engine is absent or failed.
func (c *Composer) narrate(ctx context.Context, parcel *model.Parcel, cfg Config, months []model.MonthlyIndex, results map[model.IndexName]analysis.Result) model.NarrativeSections {
	if !cfg.HasSection(SectionNarrative) {
		return model.NarrativeSections{}
	}
	if c.narrative == nil {
		return fallbackNarrative(parcel, results, "")
	}
	sections := c.narrative.Generate(ctx, parcel, months, narrativeImages(cfg, months))
	if sections.Error != "" {
		metrics.NarrativeFailuresTotal.Inc()
		zap.L().Warn("report: narrative failed, using deterministic fallback",
			zap.String("parcel_id", parcel.ID),
			zap.String("cause", sections.Error),
		)
		return fallbackNarrative(parcel, results, sections.Error)
	}
	return sections
}

// narrativeImages collects NDVI visualization paths in chronological order
// when the images section is enabled.
func narrativeImages(cfg Config, months []model.MonthlyIndex) []string {
	if !cfg.HasSection(SectionImages) {
		return nil
	}
	var paths []string
	for _, m := range months {
		if p, ok := m.ImagePaths[model.IndexNDVI]; ok && p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// perImageNarratives generates one short commentary per monthly NDVI image.
// Only the complete detail level pays for per-image calls.
func (c *Composer) perImageNarratives(ctx context.Context, cfg Config, months []model.MonthlyIndex) map[string]string {
	if c.narrative == nil || cfg.DetailLevel != DetailComplete || !cfg.HasSection(SectionImages) {
		return nil
	}
	out := map[string]string{}
	var prev *model.MonthlyIndex
	for i := range months {
		m := &months[i]
		path, ok := m.ImagePaths[model.IndexNDVI]
		if !ok || path == "" || !m.NDVI.Present() {
			prev = m
			continue
		}
		label := fmt.Sprintf("%04d-%02d", m.Year, m.Month)
		html, err := c.narrative.GeneratePerImage(ctx, path, model.IndexNDVI, *m.NDVI.Mean, label, prev)
		if err != nil {
			zap.L().Warn("report: per-image narrative skipped",
				zap.String("month", label),
				zap.Error(err),
			)
		} else {
			out[label] = html
		}
		prev = m
	}
	return out
}

// reportPath builds reports/<YYYY>/<MM>/<slug>_<timestamp>.pdf under outDir.
func (c *Composer) reportPath(parcel *model.Parcel, now time.Time) string {
	dir := filepath.Join(c.outDir, now.Format("2006"), now.Format("01"))
	name := fmt.Sprintf("%s_%s.pdf", slugify(parcel.Name), now.Format("20060102T150405"))
	return filepath.Join(dir, name)
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "parcela"
	}
	return out
}

func periodMeans(indices []model.IndexName, results map[model.IndexName]analysis.Result) map[model.IndexName]*float64 {
	means := map[model.IndexName]*float64{}
	for _, idx := range indices {
		if r, ok := results[idx]; ok {
			mean := r.Statistics.Mean
			means[idx] = &mean
		}
	}
	return means
}

// ensureDir creates the report output directory tree.
func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "report: create output directory")
	}
	return nil
}
