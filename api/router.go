// Package api is the HTTP surface: health, reading history, rule
// administration, the live viewer socket and metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/eddielth/edge-ingest/broadcast"
	"github.com/eddielth/edge-ingest/logger"
	"github.com/eddielth/edge-ingest/metrics"
	"github.com/eddielth/edge-ingest/model"
	"github.com/eddielth/edge-ingest/mqtt"
)

// Store is what the API needs from the persistence layer
type Store interface {
	SaveReading(ctx context.Context, draft model.ReadingDraft) (model.Reading, error)
	ListReadings(ctx context.Context, q model.ReadingQuery) ([]model.Reading, error)
	Counts(ctx context.Context) (model.Counts, error)
	ListRules(ctx context.Context) ([]model.Rule, error)
	CreateRule(ctx context.Context, rule model.Rule) (model.Rule, error)
	UpdateRule(ctx context.Context, rule model.Rule) (model.Rule, error)
	DeleteRule(ctx context.Context, id int64) error
}

// LatestSource is a cache of the newest reading per node
type LatestSource interface {
	Latest(ctx context.Context, nodeID string) (model.Reading, error)
}

// Options wires the handler
type Options struct {
	Store        Store
	Latest       LatestSource // optional, the store is queried on a miss
	Hub          *broadcast.Hub
	Metrics      *metrics.Metrics
	MQTTStatus   func() mqtt.Status // optional
	StorageType  string
	AdminToken   string
	AllowOrigins []string
	ViewerBuffer int
}

// Handler serves every route
type Handler struct {
	opts Options
	log  *logger.Component
}

// NewRouter builds the chi router with all routes mounted
func NewRouter(opts Options) *chi.Mux {
	h := &Handler{opts: opts, log: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowOrigins,
		AllowedMethods: []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", AdminTokenHeader},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Head("/health", h.healthHead)

	r.Get("/readings", h.listReadings)
	r.With(h.requireAdmin).Post("/readings", h.createReading)
	r.Get("/nodes/{node_id}/latest", h.latestReading)

	r.Get("/rules", h.listRules)
	r.Group(func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Post("/rules", h.createRule)
		r.Put("/rules/{id}", h.updateRule)
		r.Delete("/rules/{id}", h.deleteRule)
	})

	if opts.Hub != nil {
		r.Method(http.MethodGet, "/ws", broadcast.NewHandler(opts.Hub, opts.ViewerBuffer, opts.AllowOrigins))
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			h.log.Debug("%s %s %d %dB %s [%s]", r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(),
				time.Since(start).Round(time.Microsecond), middleware.GetReqID(r.Context()))
		}()
		next.ServeHTTP(ww, r)
	})
}
