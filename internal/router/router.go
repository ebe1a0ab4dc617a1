package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notification-orchestrator/internal/channel"
	handlers "notification-orchestrator/internal/handler/http"
	"notification-orchestrator/pkg/response"
)

// Deps bundles everything the HTTP surface needs.
type Deps struct {
	Webhooks *handlers.WebhookHandler
	Dlq      *handlers.DlqHandler
	Explain  *handlers.ExplainHandler
	Ws       *handlers.WsHandler

	DB       *pgxpool.Pool
	Redis    redis.UniversalClient
	Adapters *channel.Registry
	Logger   *zap.Logger
}

func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Tenant-ID", "X-Operator-ID", "X-Webhook-Secret"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthz(d))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/{provider}/status", d.Webhooks.Status)
		r.Post("/whatsapp/inbound", d.Webhooks.Inbound)
	})

	r.Route("/admin/dlq", func(r chi.Router) {
		r.Get("/", d.Dlq.List)
		r.Post("/replay", d.Dlq.BulkReplay)
		r.Get("/{id}", d.Dlq.Get)
		r.Post("/{id}/retry", d.Dlq.Retry)
	})

	r.Get("/messages/{id}/explain", d.Explain.Trace)
	r.Get("/ws", d.Ws.Connect)

	return r
}

// healthz aggregates the backing stores and every adapter's self-check.
// Adapter failures degrade the report but do not flip the status code;
// a broken SMS gateway should not pull the whole pod out of rotation.
func healthz(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		report := map[string]string{}
		healthy := true

		if err := d.DB.Ping(ctx); err != nil {
			report["postgres"] = err.Error()
			healthy = false
		} else {
			report["postgres"] = "ok"
		}
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			report["redis"] = err.Error()
			healthy = false
		} else {
			report["redis"] = "ok"
		}

		failures := d.Adapters.HealthChecks()
		for _, code := range d.Adapters.Codes() {
			if err, ok := failures[code]; ok {
				report["adapter:"+code] = err.Error()
			} else {
				report["adapter:"+code] = "ok"
			}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		response.JSON(w, status, report)
	}
}
