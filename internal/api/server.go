package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-publisher/internal/metrics"
	"github.com/JakeFAU/link-publisher/internal/pipeline"
	"github.com/JakeFAU/link-publisher/internal/retrieval"
)

const maxBodyBytes = 1 << 20

// Processor runs the pipeline for one link, or only its fetch step. Calls
// are expected to be serialized by the implementation.
type Processor interface {
	Process(ctx context.Context, item pipeline.Item, opts pipeline.Options) pipeline.ItemResult
	FetchAs(ctx context.Context, rawURL string, mode retrieval.Mode) retrieval.Result
}

// Config holds server-level settings.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
	Subtitle       string
}

// Server wires HTTP handlers to the pipeline runner.
type Server struct {
	router   chi.Router
	runner   Processor
	validate *validator.Validate
	cfg      Config
	logger   *zap.Logger
}

type fetchRequest struct {
	URL  string `json:"url" validate:"required,url"`
	Type string `json:"type" validate:"omitempty,oneof=auto wechat github webpage"`
}

type linkRequest struct {
	URL        string   `json:"url" validate:"required,url"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Categories []string `json:"categories" validate:"omitempty,dive,required"`
	CoverStyle string   `json:"cover_style"`
	Sender     string   `json:"sender"`
	Type       string   `json:"type" validate:"omitempty,oneof=auto wechat github webpage"`
	NoCover    bool     `json:"no_cover"`
	NoPublish  bool     `json:"no_publish"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Processor, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	s := &Server{
		runner:   runner,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cfg:      cfg,
		logger:   logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Post("/fetch", s.fetch)
		r.Post("/links", s.processLink)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if !s.decode(w, r, &req) {
		return
	}
	mode, err := retrieval.ParseMode(req.Type)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.runner.FetchAs(r.Context(), req.URL, mode))
}

func (s *Server) processLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !s.decode(w, r, &req) {
		return
	}
	mode, err := retrieval.ParseMode(req.Type)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item := pipeline.Item{
		URL:        req.URL,
		Title:      req.Title,
		Summary:    req.Summary,
		Categories: req.Categories,
		CoverStyle: req.CoverStyle,
		Sender:     req.Sender,
	}
	opts := pipeline.Options{
		NoCover:   req.NoCover,
		NoPublish: req.NoPublish,
		FetchMode: mode,
		Subtitle:  s.cfg.Subtitle,
	}
	res := s.runner.Process(r.Context(), item, opts)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, res)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+": "+fe.Tag())
			}
			s.writeError(w, http.StatusBadRequest, "invalid request: "+strings.Join(fields, ", "))
			return false
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
