package http

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinyscale/tinylink/internal/models"
	"github.com/tinyscale/tinylink/internal/service"
)

// URLService defines the interface for the core short URL business logic.
type URLService interface {
	// CreateShortURL persists a new short URL for target and dispatches its
	// asynchronous validation. It returns the stored record or an error if
	// the input is invalid or the operation fails.
	CreateShortURL(ctx context.Context, target string, opts service.CreateOptions) (*models.ShortURL, error)

	// RedirectTo resolves key to its target URL, spending one use of the
	// record. It returns a typed error when the key cannot be served.
	RedirectTo(ctx context.Context, key string) (string, error)

	// LogClick appends a click record for a redirect that was just served.
	LogClick(ctx context.Context, key, ip string) error
}

// getValidate initializes a new validator instance for validating incoming request payloads.
// It customizes tag name extraction from struct fields to match JSON tags.
func getValidate() *validator.Validate {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}

// NewRouter initializes and returns a new HTTP router with all routes and middleware configured.
func NewRouter(logger *httplog.Logger, urlSvc URLService, baseURL string) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"POST", "GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           84600,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	validate := getValidate()

	r.Get("/ping", handlePing)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/tiny-{key}", handleRedirect(urlSvc))
	r.Post("/api/link", handleCreateLink(urlSvc, validate, baseURL))

	return r
}
