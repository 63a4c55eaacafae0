package http

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/tinyscale/tinylink/internal/models"
	"github.com/tinyscale/tinylink/internal/service"
	"github.com/tinyscale/tinylink/pkg/response"
)

// handlePing handles health check requests to ensure the server is running.
func handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "pong")
}

// linkRequest represents the validated part of the form payload for creating
// a short URL.
type linkRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// linkResponse represents the response payload for a created short URL.
type linkResponse struct {
	URL       string     `json:"url"`
	Key       string     `json:"key"`
	Target    string     `json:"target"`
	Safe      bool       `json:"safe"`
	LeftUses  *int64     `json:"left_uses,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func toLinkResponse(url *models.ShortURL, shortURL string) linkResponse {
	return linkResponse{
		URL:       shortURL,
		Key:       url.Key,
		Target:    url.TargetURL,
		Safe:      url.Validation == models.ValidationPass,
		LeftUses:  url.LeftUses,
		ExpiresAt: url.ExpiresAt,
	}
}

// handleRedirect handles GET requests to resolve a key into a temporary
// redirect to its target URL.
//
// Expired, exhausted and unknown keys are indistinguishable to the caller:
// all answer 404. Keys still under validation answer 400 and unsafe targets
// answer 403. A click record is appended for every served redirect.
func handleRedirect(svc URLService) http.HandlerFunc {
	const op = "api.http.handleRedirect"

	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")

		target, err := svc.RedirectTo(r.Context(), key)
		if err != nil {
			var (
				notFound    *service.NotFoundError
				inProgress  *service.ValidationInProgressError
				unsafe      *service.UnsafeError
				unreachable *service.UnreachableError
			)

			switch {
			case errors.As(err, &notFound):
				redirectsTotal.WithLabelValues("not_found").Inc()
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
			case errors.As(err, &inProgress):
				redirectsTotal.WithLabelValues("pending_validation").Inc()
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.ErrorResponse("Validation In Progress",
					"The short URL is still being validated. Please retry later."))
			case errors.As(err, &unsafe):
				redirectsTotal.WithLabelValues("rejected_unsafe").Inc()
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.ErrorResponse("Forbidden",
					"The short URL points to an unsafe target."))
			case errors.As(err, &unreachable):
				redirectsTotal.WithLabelValues("rejected_unreachable").Inc()
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
			default:
				httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

				redirectsTotal.WithLabelValues("error").Inc()
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.ServerErrorResponse)
			}

			return
		}

		if err := svc.LogClick(r.Context(), key, remoteIP(r)); err != nil {
			// The redirect is already decided; a lost click is only logged.
			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})
		}

		redirectsTotal.WithLabelValues("usable").Inc()
		w.Header().Set("Location", target)
		w.WriteHeader(http.StatusTemporaryRedirect)
	}
}

// handleCreateLink handles POST requests to create a short URL from a
// form-encoded payload: url, and optionally leftUses, expiration (RFC 3339)
// and sponsor.
//
// Malformed optional fields are rejected before any store mutation. On
// success the handler answers 201 with a Location header pointing at the
// redirect endpoint for the new key.
func handleCreateLink(svc URLService, validate *validator.Validate, baseURL string) http.HandlerFunc {
	const op = "api.http.handleCreateLink"
	const successMsg = "The short URL has been created successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.BadRequestResponse)
			return
		}

		opts := service.CreateOptions{
			Sponsor: r.PostFormValue("sponsor"),
			OwnerIP: remoteIP(r),
		}

		if v := r.PostFormValue("leftUses"); v != "" {
			leftUses, err := strconv.ParseInt(v, 10, 64)
			if err != nil || leftUses <= 0 {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.ErrorResponse("Invalid Number Of Uses",
					(&service.InvalidLeftUsesError{Value: v}).Error()))
				return
			}

			opts.LeftUses = &leftUses
		}

		if v := r.PostFormValue("expiration"); v != "" {
			expiresAt, err := time.Parse(time.RFC3339, v)
			if err != nil {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.ErrorResponse("Invalid Date",
					(&service.InvalidExpirationError{Value: v}).Error()))
				return
			}

			opts.ExpiresAt = &expiresAt
		}

		req := linkRequest{URL: r.PostFormValue("url")}

		if err := validate.Struct(req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationErrorResponse(err))
			return
		}

		url, err := svc.CreateShortURL(r.Context(), req.URL, opts)
		if err != nil {
			var invalidURL *service.InvalidURLError

			if errors.As(err, &invalidURL) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.ErrorResponse("Invalid URL", invalidURL.Error()))
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		shortURL := fmt.Sprintf("%s/tiny-%s", strings.TrimRight(baseURL, "/"), url.Key)

		w.Header().Set("Location", shortURL)
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.SuccessResponse(successMsg, toLinkResponse(url, shortURL)))
	}
}

func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}

	return r.RemoteAddr
}
