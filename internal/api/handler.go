// Package api provides HTTP handlers for the CareerFlow API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/careerflow/internal/chat"
	"github.com/ashureev/careerflow/internal/middleware"
	"github.com/ashureev/careerflow/internal/search"
	"github.com/ashureev/careerflow/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// defaultMaxRequestBodySize caps JSON request bodies (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler serves the chat, search and health endpoints.
type Handler struct {
	chat     *chat.Service
	search   *search.Client
	repo     store.Repository
	cache    Pinger
	limiter  *middleware.RateLimiter
	validate *validator.Validate
	logger   *slog.Logger

	allowedOrigins []string
}

// Options carries the optional collaborators of a Handler.
type Options struct {
	Search         *search.Client
	Repo           store.Repository
	Cache          Pinger
	Limiter        *middleware.RateLimiter
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewHandler creates a handler. Only the chat service is required.
func NewHandler(svc *chat.Service, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chat:           svc,
		search:         opts.Search,
		repo:           opts.Repo,
		cache:          opts.Cache,
		limiter:        opts.Limiter,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		logger:         logger,
		allowedOrigins: opts.AllowedOrigins,
	}
}

// RegisterRoutes mounts the API under /api. Turn sends and searches are rate limited.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealth)

		r.Route("/chat/sessions", func(r chi.Router) {
			r.Post("/", h.HandleCreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", h.HandleDeleteSession)
				r.Get("/messages", h.HandleListMessages)
				r.Get("/turns", h.HandleListTurns)
				r.With(h.rateLimited).Post("/messages", h.HandleSend)
			})
		})

		r.Get("/ws/chat/{id}", h.HandleChatSocket)

		r.Group(func(r chi.Router) {
			r.Use(h.rateLimited)
			r.Post("/search/{kind}", h.HandleSearch)
			r.Post("/resume/analyze", h.HandleAnalyzeResume)
		})
	})
}

func (h *Handler) rateLimited(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return middleware.RateLimit(h.limiter)(next)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into dst and validates it.
// The returned error is safe to show to the client.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) (int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return http.StatusBadRequest, errors.New("invalid request body")
	}

	if err := h.validate.Struct(dst); err != nil {
		return http.StatusBadRequest, validationMessage(err)
	}
	return 0, nil
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.New("invalid request")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
