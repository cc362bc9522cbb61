package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/geometry"
	"github.com/agrovista/satreport/internal/model"
)

var parcelCmd = &cobra.Command{
	Use:   "parcel",
	Short: "Manage monitored parcels",
}

var (
	parcelName     string
	parcelCrop     string
	parcelOwner    string
	parcelOwnerID  string
	parcelGeomFile string
	parcelGeom     string
	parcelStart    string
)

var parcelAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a parcel from a GeoJSON polygon",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		raw := []byte(parcelGeom)
		if parcelGeomFile != "" {
			raw, err = os.ReadFile(parcelGeomFile)
			if err != nil {
				return eris.Wrap(err, "read geometry file")
			}
		}
		if len(raw) == 0 {
			return eris.New("either --geometry or --geometry-file is required")
		}

		poly, err := geometry.Parse(raw)
		if err != nil {
			return err
		}
		if err := geometry.Validate(poly); err != nil {
			return err
		}
		derived := geometry.Compute(poly)

		start := time.Now().UTC()
		if parcelStart != "" {
			start, err = time.Parse("2006-01-02", parcelStart)
			if err != nil {
				return eris.Wrap(err, "parse --monitoring-start")
			}
		}

		now := time.Now().UTC()
		p := &model.Parcel{
			ID:              uuid.NewString(),
			Name:            parcelName,
			OwnerLabel:      parcelOwner,
			OwnerID:         parcelOwnerID,
			CropType:        parcelCrop,
			GeometryGeoJSON: string(raw),
			AreaHa:          derived.AreaHa,
			PerimeterM:      derived.PerimeterM,
			Centroid:        derived.Centroid,
			BBox:            derived.BBox,
			SyncState:       model.SyncStateUnsynced,
			MonitoringStart: start,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := env.Store.CreateParcel(ctx, p); err != nil {
			return err
		}

		zap.L().Info("parcel registered",
			zap.String("id", p.ID),
			zap.Float64("area_ha", p.AreaHa),
		)
		fmt.Println(p.ID)
		return nil
	},
}

var parcelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered parcels",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		parcels, err := env.Store.ListParcels(ctx)
		if err != nil {
			return err
		}
		for _, p := range parcels {
			fmt.Printf("%s  %-30s  %-12s  %8.2f ha  %s\n",
				p.ID, p.Name, p.CropType, p.AreaHa, p.SyncState)
		}
		return nil
	},
}

var parcelShowCmd = &cobra.Command{
	Use:   "show <parcel-id>",
	Short: "Print one parcel as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Store.GetParcel(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var parcelDeleteCmd = &cobra.Command{
	Use:   "delete <parcel-id>",
	Short: "Delete a parcel and its monthly data and reports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Store.DeleteParcel(ctx, args[0])
	},
}

func init() {
	parcelAddCmd.Flags().StringVar(&parcelName, "name", "", "parcel name (required)")
	parcelAddCmd.Flags().StringVar(&parcelCrop, "crop", "", "crop type, Spanish names accepted")
	parcelAddCmd.Flags().StringVar(&parcelOwner, "owner", "", "owner display label")
	parcelAddCmd.Flags().StringVar(&parcelOwnerID, "owner-id", "", "owner identifier for usage accounting")
	parcelAddCmd.Flags().StringVar(&parcelGeomFile, "geometry-file", "", "path to a GeoJSON polygon file")
	parcelAddCmd.Flags().StringVar(&parcelGeom, "geometry", "", "inline GeoJSON polygon")
	parcelAddCmd.Flags().StringVar(&parcelStart, "monitoring-start", "", "monitoring start date YYYY-MM-DD (default today)")
	parcelAddCmd.MarkFlagRequired("name") //nolint:errcheck

	parcelCmd.AddCommand(parcelAddCmd, parcelListCmd, parcelShowCmd, parcelDeleteCmd)
	rootCmd.AddCommand(parcelCmd)
}
