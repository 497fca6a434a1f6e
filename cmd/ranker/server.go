package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sentiment-ranker/comment-ranker/internal/models"
	"github.com/sentiment-ranker/comment-ranker/internal/pipeline"
	"github.com/sentiment-ranker/comment-ranker/internal/scheduler"
	"github.com/sentiment-ranker/comment-ranker/internal/storage"
	"github.com/sirupsen/logrus"
)

// runService is what the control surface needs from the pipeline
type runService interface {
	GetMetrics() string
	StoredRuns(ctx context.Context) ([]string, error)
	StoredRun(ctx context.Context, id string) (*models.RunReport, error)
	DeleteRun(ctx context.Context, id string) error
}

type trigger interface {
	Trigger() error
	Next() string
}

func newRouter(svc runService, sched trigger) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheckHandler(sched)).Methods("GET")
	router.HandleFunc("/metrics", metricsHandler(svc)).Methods("GET")
	router.HandleFunc("/trigger", triggerHandler(sched)).Methods("POST")
	router.HandleFunc("/runs", listRunsHandler(svc)).Methods("GET")
	router.HandleFunc("/runs/{id}", getRunHandler(svc)).Methods("GET")
	router.HandleFunc("/runs/{id}", deleteRunHandler(svc)).Methods("DELETE")
	return router
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func healthCheckHandler(sched trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
			"next_run":  sched.Next(),
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrNoStorage):
		status = http.StatusServiceUnavailable
	default:
		logrus.Errorf("Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func metricsHandler(svc runService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(svc.GetMetrics()))
	}
}

func listRunsHandler(svc runService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := svc.StoredRuns(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]string{"runs": ids})
	}
}

func getRunHandler(svc runService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := svc.StoredRun(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func deleteRunHandler(svc runService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteRun(r.Context(), mux.Vars(r)["id"]); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// triggerHandler starts a run in the background. A run already in progress is reported
// by the run goroutine, so the response only acknowledges the request.
func triggerHandler(sched trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go func() {
			if err := sched.Trigger(); err != nil {
				if errors.Is(err, scheduler.ErrBusy) {
					logrus.Warn("Manual trigger ignored, a run is already in progress")
					return
				}
				logrus.Errorf("Manual run failed: %v", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "Run triggered"})
	}
}
