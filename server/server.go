// Package server exposes the query pipeline over HTTP: one endpoint
// backed by the live backend, and one that serves user-supplied mapping
// documents without touching a backend.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"go.datalith.dev/querybridge/backend"
	"go.datalith.dev/querybridge/filter"
	"go.datalith.dev/querybridge/llm"
	"go.datalith.dev/querybridge/orchestrator"
	"go.datalith.dev/querybridge/schema"
)

// Service is the orchestrator surface the server exposes.
// *orchestrator.Orchestrator satisfies it.
type Service interface {
	Query(ctx context.Context, input string, execute bool) (*orchestrator.Response, error)
	QueryRaw(ctx context.Context, plan backend.Plan, size int) (*orchestrator.Response, error)
	Describe(ctx context.Context) (*filter.Descriptor, error)
}

// Server routes HTTP requests to the query pipeline.
type Server struct {
	svc        Service
	parser     llm.Parser
	translator backend.Translator
}

// New creates a Server. parser and translator serve the schema-query
// endpoint, which builds a one-off pipeline from the posted mapping.
func New(svc Service, parser llm.Parser, translator backend.Translator) *Server {
	return &Server{svc: svc, parser: parser, translator: translator}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/query/raw", s.handleQueryRaw)
		r.Post("/schema/query", s.handleSchemaQuery)
		r.Get("/schema", s.handleSchema)
	})

	return r
}

type queryRequest struct {
	UserInput string `json:"user_input"`
	Execute   bool   `json:"execute"`
}

type rawQueryRequest struct {
	Plan backend.Plan `json:"plan"`
	Size int          `json:"size"`
}

type schemaQueryRequest struct {
	UserInput string           `json:"user_input"`
	Mapping   string           `json:"mapping"`
	Enums     map[string][]any `json:"enums"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, "ok")
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.UserInput == "" {
		badRequest(w, r, "user_input is required")

		return
	}

	resp, err := s.svc.Query(r.Context(), req.UserInput, req.Execute)
	if err != nil {
		renderError(w, r, err)

		return
	}

	render.JSON(w, r, resp)
}

func (s *Server) handleQueryRaw(w http.ResponseWriter, r *http.Request) {
	var req rawQueryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || len(req.Plan) == 0 {
		badRequest(w, r, "plan is required")

		return
	}

	resp, err := s.svc.QueryRaw(r.Context(), req.Plan, req.Size)
	if err != nil {
		renderError(w, r, err)

		return
	}

	render.JSON(w, r, resp)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Describe(r.Context())
	if err != nil {
		renderError(w, r, err)

		return
	}

	render.JSON(w, r, d)
}

// handleSchemaQuery converts natural language against a posted mapping
// document instead of the live backend. Plans are returned unexecuted.
func (s *Server) handleSchemaQuery(w http.ResponseWriter, r *http.Request) {
	var req schemaQueryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.UserInput == "" || req.Mapping == "" {
		badRequest(w, r, "user_input and mapping are required")

		return
	}

	properties, err := schema.ParseMappingDocument([]byte(req.Mapping))
	if err != nil {
		renderError(w, r, err)

		return
	}

	fields, err := schema.ParseMapping(properties)
	if err != nil {
		renderError(w, r, err)

		return
	}

	if len(req.Enums) > 0 {
		schema.ApplyEnumValues(fields, req.Enums)
	}

	o := orchestrator.New(schema.NewStatic(fields, req.Enums), s.parser, s.translator, nil)

	resp, err := o.Query(r.Context(), req.UserInput, false)
	if err != nil {
		renderError(w, r, err)

		return
	}

	render.JSON(w, r, resp)
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, map[string]any{"error": msg})
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	var verr *filter.Error

	switch {
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, schema.ErrNoFields), errors.Is(err, schema.ErrInvalidMapping):
		status = http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, orchestrator.ErrLLM), errors.Is(err, llm.ErrBadOutput):
		status = http.StatusBadGateway
	case errors.Is(err, backend.ErrBackend):
		status = http.StatusBadGateway
	}

	render.Status(r, status)
	render.JSON(w, r, map[string]any{"error": err.Error()})
}
