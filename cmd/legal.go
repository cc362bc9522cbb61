package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/config"
	"github.com/agrovista/satreport/internal/fetcher"
	"github.com/agrovista/satreport/internal/legal"
	"github.com/agrovista/satreport/internal/model"
)

// layerEvaluator downloads the configured geodata archives, loads the
// shapefile layers and runs the restriction checker. Archives land in a
// local cache directory and are re-downloaded only when missing.
type layerEvaluator struct {
	cfg     config.LegalConfig
	http    fetcher.Fetcher
	ftp     fetcher.Fetcher
	checker *legal.Checker
}

func newLayerEvaluator(cfg config.LegalConfig) *layerEvaluator {
	return &layerEvaluator{
		cfg: cfg,
		http: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			RateLimiters: fetcher.DefaultRateLimiters(),
		}),
		ftp:     fetcher.NewFTPFetcher(fetcher.FTPOptions{}),
		checker: legal.NewChecker(),
	}
}

// fetcherFor picks the downloader by URL scheme. Some government portals
// still publish geodata archives over FTP.
func (e *layerEvaluator) fetcherFor(url string) fetcher.Fetcher {
	if strings.HasPrefix(url, "ftp://") {
		return e.ftp
	}
	return e.http
}

func (e *layerEvaluator) Evaluate(ctx context.Context, parcel *model.Parcel) (*legal.Result, error) {
	hydroShp, err := e.layerPath(ctx, e.cfg.HydroURL, "hidrografia")
	if err != nil {
		return nil, err
	}
	hydro, err := legal.LoadHydroLayer(hydroShp)
	if err != nil {
		return nil, err
	}

	var areas []*legal.AreaLayer
	for _, src := range []struct {
		url  string
		name string
		kind legal.RestrictionKind
	}{
		{e.cfg.ProtectedAreasURL, "areas-protegidas", legal.KindProtectedArea},
		{e.cfg.ReservesURL, "resguardos", legal.KindIndigenousReserve},
		{e.cfg.ParamosURL, "paramos", legal.KindParamo},
	} {
		if src.url == "" {
			continue
		}
		shpPath, err := e.layerPath(ctx, src.url, src.name)
		if err != nil {
			zap.L().Warn("legal: area layer unavailable, skipped",
				zap.String("layer", src.name),
				zap.Error(err),
			)
			continue
		}
		layer, err := legal.LoadAreaLayer(shpPath, src.kind)
		if err != nil {
			zap.L().Warn("legal: area layer unreadable, skipped",
				zap.String("layer", src.name),
				zap.Error(err),
			)
			continue
		}
		areas = append(areas, layer)
	}

	return e.checker.Check(parcel, hydro, areas)
}

// layerPath returns the shapefile for the archive URL, downloading and
// extracting it into the layer cache when not already present.
func (e *layerEvaluator) layerPath(ctx context.Context, url, name string) (string, error) {
	dir := filepath.Join(e.cfg.LayerCacheDir, name)
	if shpPath, err := legal.FindShapefile(dir); err == nil {
		return shpPath, nil
	}
	return legal.FetchLayerArchive(ctx, e.fetcherFor(url), url, dir)
}

var legalParcelID string

var legalCmd = &cobra.Command{
	Use:   "legal",
	Short: "Check a parcel against legal land-use restrictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "legal")
		if err != nil {
			return err
		}
		defer env.Close()

		parcel, err := env.Store.GetParcel(ctx, legalParcelID)
		if err != nil {
			return eris.Wrap(err, "load parcel")
		}

		result, err := newLayerEvaluator(cfg.Legal).Evaluate(ctx, parcel)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	legalCmd.Flags().StringVar(&legalParcelID, "parcel", "", "parcel id to check (required)")
	legalCmd.MarkFlagRequired("parcel") //nolint:errcheck
	rootCmd.AddCommand(legalCmd)
}
