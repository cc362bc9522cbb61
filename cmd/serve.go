package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/report"
	"github.com/agrovista/satreport/internal/store"
)

// composeTimeout bounds a single report job, provider polling included.
const composeTimeout = 10 * time.Minute

type reportJob struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	ReportID string `json:"report_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

type server struct {
	env *appEnv

	mu   sync.Mutex
	jobs map[string]*reportJob
}

func newServer(env *appEnv) *server {
	return &server{env: env, jobs: make(map[string]*reportJob)}
}

func (s *server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/parcels", s.handleListParcels)
		r.Get("/parcels/{id}", s.handleGetParcel)
		r.Get("/reports", s.handleListReports)
		r.Get("/reports/{id}", s.handleGetReport)
		r.Post("/reports", s.handleComposeReport)
		r.Get("/jobs/{id}", s.handleGetJob)
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleListParcels(w http.ResponseWriter, r *http.Request) {
	parcels, err := s.env.Store.ListParcels(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, parcels)
}

func (s *server) handleGetParcel(w http.ResponseWriter, r *http.Request) {
	p, err := s.env.Store.GetParcel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleListReports(w http.ResponseWriter, r *http.Request) {
	filter := store.ReportFilter{ParcelID: r.URL.Query().Get("parcel_id")}
	reports, err := s.env.Store.ListReports(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.env.Store.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type composeReportBody struct {
	ParcelID    string     `json:"parcel_id"`
	Template    string     `json:"template,omitempty"`
	MonthsBack  int        `json:"months_back,omitempty"`
	DateStart   *time.Time `json:"date_start,omitempty"`
	DateEnd     *time.Time `json:"date_end,omitempty"`
	PriceBase   float64    `json:"price_base,omitempty"`
	DiscountPct float64    `json:"discount_pct,omitempty"`
}

// handleComposeReport queues the composition and returns 202 with a job
// handle; PDF rendering and narrative calls are too slow for a request
// cycle.
func (s *server) handleComposeReport(w http.ResponseWriter, r *http.Request) {
	var body composeReportBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.ParcelID == "" {
		writeError(w, http.StatusBadRequest, errors.New("parcel_id is required"))
		return
	}

	req := report.ComposeRequest{
		ParcelID:    body.ParcelID,
		MonthsBack:  body.MonthsBack,
		DateStart:   body.DateStart,
		DateEnd:     body.DateEnd,
		PriceBase:   body.PriceBase,
		DiscountPct: body.DiscountPct,
	}
	if body.Template != "" {
		tpl, err := report.TemplateConfig(body.Template)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.Config = &tpl
	}

	job := &reportJob{ID: uuid.NewString(), Status: "running"}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	// Copy before the job goroutine can start mutating the fields.
	accepted := *job
	go s.runJob(job.ID, req)

	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *server) runJob(jobID string, req report.ComposeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), composeTimeout)
	defer cancel()

	rep, err := s.env.Composer.Compose(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobID]
	if err != nil {
		job.Status = "failed"
		job.Error = err.Error()
		zap.L().Error("report job failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	job.Status = "done"
	job.ReportID = rep.ID
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	job, ok := s.jobs[chi.URLParam(r, "id")]
	var snapshot reportJob
	if ok {
		snapshot = *job
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newServer(env).router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		zap.L().Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
