// Package server exposes the HiveLab HTTP API under /v1. Requests carry a
// campus API key (Authorization: Bearer chk_...) and the acting user in the
// X-User-ID header set by the platform gateway.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/campushive/hivelab/internal/automation"
	"github.com/campushive/hivelab/internal/composition"
	"github.com/campushive/hivelab/internal/deployment"
	"github.com/campushive/hivelab/internal/elements"
	"github.com/campushive/hivelab/internal/execution"
	"github.com/campushive/hivelab/internal/genbridge"
	"github.com/campushive/hivelab/internal/permission"
	"github.com/campushive/hivelab/internal/profile"
	"github.com/campushive/hivelab/internal/state"
)

// Server wires the HTTP surface over the domain services.
type Server struct {
	registry    *elements.Registry
	tools       composition.Store
	deploys     *deployment.Service
	executor    *execution.Executor
	engine      *automation.Engine
	automations automation.Store
	generator   *genbridge.Service
	profiles    profile.Service
	auth        permission.Authenticator
	logger      *zap.Logger
}

// Config collects the server's dependencies.
type Config struct {
	Registry    *elements.Registry
	Tools       composition.Store
	Deployments *deployment.Service
	Executor    *execution.Executor
	Engine      *automation.Engine
	Automations automation.Store
	Generator   *genbridge.Service
	Profiles    profile.Service
	Auth        permission.Authenticator
	Logger      *zap.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	return &Server{
		registry:    cfg.Registry,
		tools:       cfg.Tools,
		deploys:     cfg.Deployments,
		executor:    cfg.Executor,
		engine:      cfg.Engine,
		automations: cfg.Automations,
		generator:   cfg.Generator,
		profiles:    cfg.Profiles,
		auth:        cfg.Auth,
		logger:      cfg.Logger,
	}
}

type ctxKey int

const campusKey ctxKey = 0

// Router builds the chi router with all routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/elements", s.handleListElements)
		r.Get("/elements/{elementID}", s.handleGetElement)
		r.Get("/profiles/{userID}", s.handleGetProfile)

		r.Route("/tools", func(r chi.Router) {
			r.Post("/", s.handleCreateTool)
			r.Post("/generate", s.handleGenerateTool)
			r.Get("/", s.handleListTools)
			r.Get("/{toolID}", s.handleGetTool)
			r.Delete("/{toolID}", s.handleDeleteTool)
			r.Post("/{toolID}/instances", s.handleAddInstance)
			r.Delete("/{toolID}/instances/{instanceID}", s.handleRemoveInstance)
			r.Post("/{toolID}/connections", s.handleConnect)
			r.Delete("/{toolID}/connections", s.handleDisconnect)
			r.Post("/{toolID}/publish", s.handlePublish)
			r.Post("/{toolID}/archive", s.handleArchive)
			r.Post("/{toolID}/suspend", s.handleSuspend)
		})

		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", s.handleDeploy)
			r.Get("/", s.handleListDeployments)
			r.Post("/reorder", s.handleReorder)
			r.Delete("/{deploymentID}", s.handleUndeploy)
			r.Get("/{deploymentID}/state", s.handleGetState)
			r.Post("/{deploymentID}/events", s.handleApplyEvent)
			r.Get("/{deploymentID}/automations", s.handleListAutomations)
		})

		r.Route("/automations", func(r chi.Router) {
			r.Post("/", s.handleCreateAutomation)
			r.Post("/tick", s.handleTick)
			r.Get("/{automationID}", s.handleGetAutomation)
			r.Put("/{automationID}", s.handleUpdateAutomation)
			r.Delete("/{automationID}", s.handleDeleteAutomation)
			r.Post("/{automationID}/run", s.handleRunNow)
		})
	})

	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		campus, err := s.auth.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		ctx := context.WithValue(r.Context(), campusKey, campus)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func campusFrom(r *http.Request) *permission.CampusContext {
	return r.Context().Value(campusKey).(*permission.CampusContext)
}

func userFrom(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeDomainError maps domain sentinels onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, composition.ErrToolNotFound),
		errors.Is(err, composition.ErrUnknownInstance),
		errors.Is(err, composition.ErrPortNotFound),
		errors.Is(err, deployment.ErrNotFound),
		errors.Is(err, automation.ErrNotFound),
		errors.Is(err, elements.ErrUnknownElement),
		errors.Is(err, state.ErrScopeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, composition.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, deployment.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, elements.ErrInvalidConfig),
		errors.Is(err, composition.ErrUnknownElement),
		errors.Is(err, composition.ErrInvalidConfig),
		errors.Is(err, composition.ErrTypeMismatch),
		errors.Is(err, composition.ErrCycleDetected),
		errors.Is(err, composition.ErrNotValid),
		errors.Is(err, composition.ErrBadStatus),
		errors.Is(err, deployment.ErrToolNotPublished),
		errors.Is(err, deployment.ErrBadSurface),
		errors.Is(err, automation.ErrInvalidAutomation),
		errors.Is(err, genbridge.ErrGenerationRejected):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, genbridge.ErrGeneratorUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
