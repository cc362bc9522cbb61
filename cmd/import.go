package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/fetcher"
	"github.com/agrovista/satreport/internal/geometry"
	"github.com/agrovista/satreport/internal/model"
	"github.com/agrovista/satreport/internal/store"
)

var importFilePath string

// parcelRecord is one row of a bulk registration file. The JSON form is
// an array of these; CSV and XLSX use the same columns in order.
type parcelRecord struct {
	Name            string `json:"name"`
	CropType        string `json:"crop_type"`
	OwnerLabel      string `json:"owner_label"`
	OwnerID         string `json:"owner_id"`
	MonitoringStart string `json:"monitoring_start"`
	GeometryGeoJSON string `json:"geometry_geojson"`
}

var parcelImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk register parcels from a CSV, XLSX or JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := readParcelRecords(ctx, importFilePath)
		if err != nil {
			return err
		}

		created, skipped := 0, 0
		for i, rec := range records {
			if err := registerParcel(ctx, env.Store, rec); err != nil {
				skipped++
				zap.L().Warn("parcel row skipped",
					zap.Int("row", i+1),
					zap.String("name", rec.Name),
					zap.Error(err),
				)
				continue
			}
			created++
		}

		zap.L().Info("import complete",
			zap.Int("created", created),
			zap.Int("skipped", skipped),
			zap.String("file", importFilePath),
		)
		fmt.Printf("%d parcels created, %d rows skipped\n", created, skipped)
		return nil
	},
}

func readParcelRecords(ctx context.Context, path string) ([]parcelRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readParcelCSV(ctx, path)
	case ".xlsx":
		return readParcelXLSX(path)
	case ".json":
		return readParcelJSON(ctx, path)
	default:
		return nil, eris.Errorf("unsupported import format %q", filepath.Ext(path))
	}
}

func readParcelCSV(ctx context.Context, path string) ([]parcelRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open import file")
	}
	defer f.Close()

	rowCh, errCh := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{
		HasHeader: true,
		TrimSpace: true,
	})

	var records []parcelRecord
	for row := range rowCh {
		records = append(records, rowToParcelRecord(row))
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return records, nil
}

func readParcelXLSX(path string) ([]parcelRecord, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SkipRows: 1})
	if err != nil {
		return nil, err
	}
	records := make([]parcelRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, rowToParcelRecord(row))
	}
	return records, nil
}

func readParcelJSON(ctx context.Context, path string) ([]parcelRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open import file")
	}
	defer f.Close()

	recCh, errCh := fetcher.DecodeJSONArray[parcelRecord](ctx, f)
	var records []parcelRecord
	for rec := range recCh {
		records = append(records, rec)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return records, nil
}

func rowToParcelRecord(row []string) parcelRecord {
	get := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	return parcelRecord{
		Name:            get(0),
		CropType:        get(1),
		OwnerLabel:      get(2),
		OwnerID:         get(3),
		MonitoringStart: get(4),
		GeometryGeoJSON: get(5),
	}
}

func registerParcel(ctx context.Context, st store.Store, rec parcelRecord) error {
	if rec.Name == "" {
		return eris.New("name is required")
	}
	poly, err := geometry.Parse([]byte(rec.GeometryGeoJSON))
	if err != nil {
		return err
	}
	if err := geometry.Validate(poly); err != nil {
		return err
	}
	derived := geometry.Compute(poly)

	now := time.Now().UTC()
	start := now
	if rec.MonitoringStart != "" {
		start, err = time.Parse("2006-01-02", rec.MonitoringStart)
		if err != nil {
			return eris.Wrap(err, "parse monitoring_start")
		}
	}

	return st.CreateParcel(ctx, &model.Parcel{
		ID:              uuid.NewString(),
		Name:            rec.Name,
		OwnerLabel:      rec.OwnerLabel,
		OwnerID:         rec.OwnerID,
		CropType:        rec.CropType,
		GeometryGeoJSON: rec.GeometryGeoJSON,
		AreaHa:          derived.AreaHa,
		PerimeterM:      derived.PerimeterM,
		Centroid:        derived.Centroid,
		BBox:            derived.BBox,
		SyncState:       model.SyncStateUnsynced,
		MonitoringStart: start,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

func init() {
	parcelImportCmd.Flags().StringVar(&importFilePath, "file", "", "path to a .csv, .xlsx or .json file (required)")
	parcelImportCmd.MarkFlagRequired("file") //nolint:errcheck
	parcelCmd.AddCommand(parcelImportCmd)
}
