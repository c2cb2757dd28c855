package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// Options carries the router-level configuration.
type Options struct {
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	RateLimitPerMin int
	AllowedOrigins  []string
	Logger          infra.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		if opts.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		}

		r.Post("/runs", app.SubmitRun)
		r.Get("/runs/{runID}", app.GetRun)
		r.Post("/runs/{runID}/scenes/{sceneID}/video", app.RenderSceneVideo)

		r.Get("/credits", app.Credits)

		r.Post("/autoloop/start", app.AutoLoopStart)
		r.Post("/autoloop/stop", app.AutoLoopStop)
		r.Get("/autoloop", app.AutoLoopStatus)

		r.Get("/events", app.Events)
	})

	return r
}
