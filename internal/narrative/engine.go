// Package narrative turns monthly index series into agronomic prose through
// a vision-capable LLM, with pacing, failover and a store-backed cache.
// Narrative failures never propagate: callers always get a renderable
// result, with Error set when generation failed.
package narrative

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agrovista/satreport/internal/ledger"
	"github.com/agrovista/satreport/internal/metrics"
	"github.com/agrovista/satreport/internal/model"
	"github.com/agrovista/satreport/internal/resilience"
	"github.com/agrovista/satreport/internal/store"
	"github.com/agrovista/satreport/pkg/anthropic"
)

const (
	DefaultPrimaryModel  = "claude-sonnet-4-5-20250929"
	DefaultFallbackModel = "claude-haiku-4-5-20251001"

	// DefaultCallInterval paces calls to stay well inside the free-tier
	// daily request budget of the backing model.
	DefaultCallInterval = 4 * time.Second

	// DefaultCacheTTL invalidates cached narratives after 30 days; adding
	// a new month changes the cache key before the TTL is reached.
	DefaultCacheTTL = 30 * 24 * time.Hour

	maxTokens = 4096

	// maxInlineImages bounds the vision payload of one full-report call.
	maxInlineImages = 6
)

// Config tunes the engine; zero values take the defaults above.
type Config struct {
	PrimaryModel  string
	FallbackModel string
	CallInterval  time.Duration
	CacheTTL      time.Duration
	Retry         *resilience.RetryConfig
}

// ImageData describes one index image handed to GenerateGlobalImages.
type ImageData struct {
	Path  string
	Label string
	Index model.IndexName
	Mean  float64
}

// Engine generates narratives through an anthropic.Client with a primary
// and a fallback model.
type Engine struct {
	client   anthropic.Client
	store    store.Store
	primary  string
	fallback string
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	cacheTTL time.Duration
}

// New builds an Engine over the given client and store.
func New(client anthropic.Client, st store.Store, cfg Config) *Engine {
	if cfg.PrimaryModel == "" {
		cfg.PrimaryModel = DefaultPrimaryModel
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = DefaultFallbackModel
	}
	if cfg.CallInterval == 0 {
		cfg.CallInterval = DefaultCallInterval
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	retry := resilience.DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	return &Engine{
		client:   client,
		store:    st,
		primary:  cfg.PrimaryModel,
		fallback: cfg.FallbackModel,
		limiter:  rate.NewLimiter(rate.Every(cfg.CallInterval), 1),
		retry:    retry,
		cacheTTL: cfg.CacheTTL,
	}
}

// Generate produces the five-section narrative for a monthly series.
// Results are cached keyed to the parcel, period and latest row update, so
// re-generating an unchanged report costs nothing.
func (e *Engine) Generate(ctx context.Context, parcel *model.Parcel, months []model.MonthlyIndex, imagePaths []string) model.NarrativeSections {
	if len(months) == 0 {
		return model.NarrativeSections{Error: "sin datos mensuales para analizar"}
	}

	key := e.cacheKey(parcel.ID, months)
	if cached, err := e.store.GetNarrative(ctx, key); err == nil && cached != nil {
		zap.L().Debug("narrative: cache hit", zap.String("parcel_id", parcel.ID))
		return *cached
	}

	msg := anthropic.Message{
		Role:    "user",
		Content: []anthropic.ContentPart{anthropic.TextPart(buildAnalysisPrompt(parcel, months))},
	}
	msg.Content = append(msg.Content, e.loadImages(imagePaths)...)

	resp, err := e.call(ctx, []anthropic.Message{msg})
	if err != nil {
		zap.L().Error("narrative: generation failed",
			zap.String("parcel_id", parcel.ID),
			zap.Error(err),
		)
		return model.NarrativeSections{Error: eris.ToString(err, false)}
	}

	sections := parseSections(resp.Text())
	if err := e.store.SetNarrative(ctx, key, sections, e.cacheTTL); err != nil {
		zap.L().Warn("narrative: cache write failed", zap.Error(err))
	}
	return sections
}

// GeneratePerImage returns an HTML snippet analyzing one index image.
func (e *Engine) GeneratePerImage(ctx context.Context, imagePath string, index model.IndexName, meanValue float64, contextLabel string, previous *model.MonthlyIndex) (string, error) {
	parts := []anthropic.ContentPart{
		anthropic.TextPart(buildPerImagePrompt(index, meanValue, contextLabel, previous)),
	}
	if img, ok := e.loadImage(imagePath); ok {
		parts = append(parts, img)
	}

	resp, err := e.call(ctx, []anthropic.Message{{Role: "user", Content: parts}})
	if err != nil {
		return "", eris.Wrapf(err, "narrative: per-image analysis %s", imagePath)
	}
	return resp.Text(), nil
}

// GenerateGlobalImages returns one HTML block comparing the whole series.
func (e *Engine) GenerateGlobalImages(ctx context.Context, images []ImageData, parcel *model.Parcel) (string, error) {
	if len(images) == 0 {
		return "", eris.New("narrative: no images to analyze")
	}

	parts := []anthropic.ContentPart{
		anthropic.TextPart(buildGlobalImagesPrompt(images, parcel)),
	}
	for i, img := range images {
		if i == maxInlineImages {
			break
		}
		if part, ok := e.loadImage(img.Path); ok {
			parts = append(parts, part)
		}
	}

	resp, err := e.call(ctx, []anthropic.Message{{Role: "user", Content: parts}})
	if err != nil {
		return "", eris.Wrap(err, "narrative: global image analysis")
	}
	return resp.Text(), nil
}

// call paces the request, retries transient failures, and fails over from
// the primary to the fallback model.
func (e *Engine) call(ctx context.Context, msgs []anthropic.Message) (*anthropic.MessageResponse, error) {
	resp, primaryErr := e.callModel(ctx, e.primary, msgs)
	if primaryErr == nil {
		return resp, nil
	}

	zap.L().Warn("narrative: primary model failed, trying fallback",
		zap.String("primary", e.primary),
		zap.String("fallback", e.fallback),
		zap.Error(primaryErr),
	)

	resp, fallbackErr := e.callModel(ctx, e.fallback, msgs)
	if fallbackErr == nil {
		return resp, nil
	}

	metrics.NarrativeFailuresTotal.Inc()
	return nil, eris.Wrapf(fallbackErr, "narrative: all models failed (primary: %v)", primaryErr)
}

func (e *Engine) callModel(ctx context.Context, modelID string, msgs []anthropic.Message) (*anthropic.MessageResponse, error) {
	return resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "narrative: pacing wait")
		}

		resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     modelID,
			MaxTokens: maxTokens,
			System:    anthropic.BuildCachedSystemBlocks(systemPrompt()),
			Messages:  msgs,
		})
		if err != nil {
			return nil, err
		}

		resp.Usage.LogCost(modelID, "narrative")
		return resp, nil
	})
}

// cacheKey ties the narrative to the covered period and the newest row.
func (e *Engine) cacheKey(parcelID string, months []model.MonthlyIndex) string {
	first := months[0]
	last := months[len(months)-1]
	start := time.Date(first.Year, time.Month(first.Month), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(last.Year, time.Month(last.Month), 1, 0, 0, 0, 0, time.UTC)

	var latest time.Time
	for _, m := range months {
		if m.UpdatedAt.After(latest) {
			latest = m.UpdatedAt
		}
	}
	return ledger.NarrativeKey(parcelID, start, end, latest)
}

func (e *Engine) loadImages(paths []string) []anthropic.ContentPart {
	var parts []anthropic.ContentPart
	for i, p := range paths {
		if i == maxInlineImages {
			break
		}
		if img, ok := e.loadImage(p); ok {
			parts = append(parts, img)
		}
	}
	return parts
}

func (e *Engine) loadImage(path string) (anthropic.ContentPart, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		zap.L().Warn("narrative: skipping unreadable image",
			zap.String("path", path),
			zap.Error(err),
		)
		return anthropic.ContentPart{}, false
	}
	return anthropic.ImagePart("image/png", data), true
}
