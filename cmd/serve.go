package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cropdoc/internal/cache"
	"github.com/sells-group/cropdoc/internal/model"
)

const maxBodyBytes = 1 << 20

type diagnoser interface {
	Diagnose(ctx context.Context, ev model.EvidenceSet) (*model.DiagnosisResult, error)
	DiagnoseText(ctx context.Context, ev model.EvidenceSet, description string) (*model.DiagnosisResult, error)
}

type interventionRecorder interface {
	RecordIntervention(ctx context.Context, payload model.InterventionPayload) (*model.InterventionRecord, error)
	Status(ctx context.Context, id string) (*model.InterventionRecord, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// apiDeps are the handlers' collaborators. Nil members disable their routes.
type apiDeps struct {
	diag       diagnoser
	recorder   interventionRecorder
	health     pinger
	cacheStats func() cache.Stats
	origins    []string
}

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the diagnosis and intervention API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		svc, err := buildDiagnosis(st)
		if err != nil {
			return err
		}
		vs, err := buildValidation(st)
		if err != nil {
			return err
		}

		deps := apiDeps{
			diag:       svc,
			recorder:   vs.recorder,
			health:     st,
			cacheStats: svc.Cache().Local().Stats,
			origins:    cfg.Server.AllowedOrigins,
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", resolvePort(servePort, cfg.Server.Port)),
			Handler:           buildMux(deps),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return startServer(gctx, srv) })
		if cfg.Server.RunWorkers {
			vs.run(gctx, g)
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves until ctx is done, then shuts down gracefully.
func startServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return nil
}

func buildMux(d apiDeps) http.Handler {
	origins := d.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.health != nil {
			if err := d.health.Ping(r.Context()); err != nil {
				zap.L().Warn("health check failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		if d.diag != nil {
			r.Post("/diagnoses", handleDiagnose(d.diag))
		}
		if d.cacheStats != nil {
			r.Get("/cache/stats", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, d.cacheStats())
			})
		}
		if d.recorder != nil {
			r.Post("/interventions", handleRecordIntervention(d.recorder))
			r.Get("/interventions/{id}", handleInterventionStatus(d.recorder))
		}
	})

	return r
}

// diagnoseRequest is an evidence set plus an optional free-text description.
type diagnoseRequest struct {
	model.EvidenceSet
	Description string `json:"description,omitempty"`
}

func handleDiagnose(diag diagnoser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req diagnoseRequest
		if !decodeBody(w, r, &req) {
			return
		}

		var res *model.DiagnosisResult
		var err error
		if req.Description != "" {
			res, err = diag.DiagnoseText(r.Context(), req.EvidenceSet, req.Description)
		} else {
			res, err = diag.Diagnose(r.Context(), req.EvidenceSet)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleRecordIntervention(rec interventionRecorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload model.InterventionPayload
		if !decodeBody(w, r, &payload) {
			return
		}

		out, err := rec.RecordIntervention(r.Context(), payload)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/interventions/"+out.ID)
		writeJSON(w, http.StatusAccepted, out)
	}
}

func handleInterventionStatus(rec interventionRecorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := rec.Status(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ie *model.InputError
	switch {
	case errors.As(err, &ie):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ie.Error(), "field": ie.Field})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, model.ErrKnowledgeUnavailable), errors.Is(err, model.ErrSourceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable, retry later"})
	case r.Context().Err() != nil:
		// Client went away; nothing useful to send.
	default:
		zap.L().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
