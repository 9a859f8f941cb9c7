package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"pulse/cmd/internal/realtime"
	v1 "pulse/contracts/realtime/v1"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	log       Logger
	cfg       Config
	hub       *realtime.Hub
	ws        *realtime.WSGateway
	dbPool    *pgxpool.Pool
	dbEnabled bool
	gatherer  prometheus.Gatherer
}

func registerHTTP(mux *http.ServeMux, d routeDeps) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.cfg.ReadinessRequireDB && !d.dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if d.dbEnabled && d.dbPool != nil {
			if err := PingDB(r.Context(), d.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				d.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /topics/{topic}", func(w http.ResponseWriter, r *http.Request) {
		handlePublish(w, r, d)
	})

	mux.Handle("GET /ws", d.ws)
}

// handlePublish fans the raw request body out to the path topic.
func handlePublish(w http.ResponseWriter, r *http.Request, d routeDeps) {
	topic, err := v1.ValidateTopic(r.PathValue("topic"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, v1.ErrorReply{Error: err.Error()})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, d.cfg.MaxPublishBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, v1.ErrorReply{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, v1.ErrorReply{Error: "unreadable body"})
		return
	}

	delivered := d.hub.Publish(topic, string(body))
	d.log.Debug("http.publish", "topic", topic, "bytes", len(body), "delivered", delivered)

	writeJSON(w, http.StatusOK, v1.PublishResult{Topic: topic, Delivered: delivered})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
