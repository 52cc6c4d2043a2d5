// Package api wires the status endpoints into an HTTP router.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/raicho81/fake-mixcloud-plays/internal/api/handlers"
	"github.com/raicho81/fake-mixcloud-plays/internal/version"
)

// NewRouter builds the status router. history may be nil.
func NewRouter(loop handlers.StatusSource, history handlers.History) http.Handler {
	healthHandler := handlers.NewHealthHandler(loop)
	statusHandler := handlers.NewStatusHandler(loop, history, nil)
	sessionHandler := handlers.NewSessionHandler(history)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(httprate.LimitByIP(120, time.Minute))

	humaConfig := huma.DefaultConfig("Fake Plays", version.Get().Version)
	humaConfig.Info.Description = "Read-only status of the play loop"
	api := humachi.New(r, humaConfig)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*handlers.HealthOutput, error) {
		return &handlers.HealthOutput{Body: *healthHandler.Handle(ctx)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Loop status",
		Description: "Returns the loop state, counters, current session and optionally recent session history",
		Tags:        []string{"Status"},
	}, func(ctx context.Context, input *handlers.StatusInput) (*handlers.StatusOutput, error) {
		return &handlers.StatusOutput{Body: *statusHandler.Handle(ctx, input)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get session",
		Description: "Returns one recorded session from the history store",
		Tags:        []string{"Status"},
	}, sessionHandler.Get)

	return r
}
