package api

import (
	"compress/flate"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fsoi/report-queue/api/jobs"
	api_middleware "github.com/fsoi/report-queue/api/middleware"
	"github.com/fsoi/report-queue/api/pipeline"
	"github.com/fsoi/report-queue/api/queue"
	"github.com/fsoi/report-queue/api/report"
	"github.com/fsoi/report-queue/api/routes"
	"github.com/fsoi/report-queue/api/store"
	"github.com/fsoi/report-queue/config"
)

// Services are the components the endpoints operate on.
type Services struct {
	Queue   queue.RequestQueue
	Runner  *pipeline.DataPipelineRunner
	Jobs    jobs.Store
	Source  store.ObjectStore
	Cache   store.ObjectStore
	Resolve report.CenterResolver
	// Metrics is served at /metrics when set.
	Metrics http.Handler
	// CacheDir is served at /cache when the artifact cache is a local directory.
	CacheDir string
}

// NewRouter returns a chi router with endpoints registered.
func NewRouter(cfg config.Config, svc Services) (chi.Router, error) {

	// Setup the router and configure baseline middleware
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(api_middleware.Logger(cfg.Logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(flate.DefaultCompression))

	// Configure CORS handling
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	})
	r.Use(c.Handler)

	r.Route("/reports", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Put("/", routes.EnqueueRequest(&cfg, svc.Runner, svc.Resolve)) // PUT instead of POST due to idempotency
		r.Put("/bulk", routes.BulkEnqueueRequest(&cfg, svc.Runner, svc.Resolve))
		r.Route("/{hash}", func(r chi.Router) {
			r.Get("/", routes.ReportRequest(&cfg, svc.Jobs))
			r.Put("/retry", routes.RetryRequest(&cfg, svc.Runner))
			r.Put("/subscribers", routes.AddSubscriberRequest(&cfg, svc.Jobs))
			r.Delete("/subscribers", routes.RemoveSubscriberRequest(&cfg, svc.Jobs))
			r.Delete("/artifacts", routes.DeleteArtifactsRequest(&cfg, svc.Cache))
		})
	})

	r.Route("/queue", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/waiting", routes.Waiting(&cfg, svc.Queue))
		r.Get("/jobs", routes.JobsRequest(&cfg, svc.Runner))
		r.Put("/clear", routes.ClearRequest(&cfg, svc.Runner))
	})

	r.Route("/pipeline", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Put("/start", routes.StartRequest(&cfg, svc.Runner))
		r.Put("/stop", routes.StopRequest(&cfg, svc.Runner))
		r.Put("/dispatch", routes.ForceDispatchRequest(&cfg, svc.Runner))
		r.Get("/status", routes.StatusRequest(&cfg, svc.Queue, svc.Runner))
	})

	r.With(render.SetContentType(render.ContentTypeJSON)).
		Get("/data/availability", routes.AvailabilityRequest(&cfg, svc.Source, svc.Resolve))

	if svc.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", svc.Metrics)
	}
	if svc.CacheDir != "" {
		r.Mount("/cache", http.StripPrefix("/cache", http.FileServer(http.Dir(svc.CacheDir))))
	}

	return r, nil
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
