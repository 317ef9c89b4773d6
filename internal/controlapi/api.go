// Package controlapi implements the REST API of the routing control plane.
package controlapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/switchyard-pay/switchyard/internal/routing"
	"github.com/switchyard-pay/switchyard/internal/ruleengine"
	"github.com/switchyard-pay/switchyard/internal/store"
)

// RuleService is the slice of routing.Service exposed over HTTP.
type RuleService interface {
	CreateRule(ctx context.Context, companyID, actor string, draft routing.RuleDraft) (*ruleengine.Rule, error)
	ListRules(ctx context.Context, companyID string, statuses ...ruleengine.Status) ([]ruleengine.Rule, error)
	GetRule(ctx context.Context, id string) (*ruleengine.Rule, error)
	UpdateRule(ctx context.Context, id string, patch routing.RulePatch) (*ruleengine.Rule, error)
	DeleteRule(ctx context.Context, id, actor string) error
	ReorderRules(ctx context.Context, companyID, actor string, updates []store.PriorityUpdate) error
	GetRuleStatistics(ctx context.Context, companyID, id string) (*ruleengine.Statistics, error)
	ListDecisions(ctx context.Context, companyID string, limit int) ([]store.DecisionLog, error)
	EvaluateTransaction(ctx context.Context, companyID string, tx ruleengine.TransactionContext) (ruleengine.Decision, error)
	TestRules(ctx context.Context, companyID string, tx ruleengine.TransactionContext) (ruleengine.Decision, error)
}

// API holds the router and its dependencies.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	rules RuleService

	// apiKeyHash is the SHA-256 hex digest of the accepted API key.
	apiKeyHash string

	// skipAuth disables authentication (test/dev environments only).
	skipAuth bool

	maxBodyBytes int64
}

// DefaultMaxBodyBytes caps request bodies unless WithMaxBodyBytes overrides it.
const DefaultMaxBodyBytes int64 = 1 << 20

// Option customizes an API.
type Option func(*API)

// WithMaxBodyBytes caps the size of request bodies. Larger bodies get 413.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// NewAPI creates an API with authentication enabled.
// Panics if apiKeyHash is empty.
func NewAPI(rules RuleService, apiKeyHash string) *API {
	return NewAPIWithConfig(rules, apiKeyHash, false)
}

// NewAPIWithConfig creates an API with explicit control over authentication.
//
// Panics if:
//   - rules is nil
//   - apiKeyHash is empty when skipAuth is false
func NewAPIWithConfig(rules RuleService, apiKeyHash string, skipAuth bool, opts ...Option) *API {
	if rules == nil {
		panic("controlapi: rule service cannot be nil")
	}
	if !skipAuth && apiKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}

	api := &API{
		Router:       chi.NewRouter(),
		rules:        rules,
		apiKeyHash:   apiKeyHash,
		skipAuth:     skipAuth,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(api)
	}

	api.configureRoutes()
	return api
}

func (a *API) configureRoutes() {
	// 1. Global Middleware Stack
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(Metrics)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	// 2. Public Routes
	a.Router.Get("/health", a.handleHealthCheck)

	// 3. Protected, tenant-scoped API
	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)
		r.Use(RequireCompany)
		r.Use(middleware.RequestSize(a.maxBodyBytes))

		r.Route("/rules", func(r chi.Router) {
			r.Post("/", a.handleCreateRule)
			r.Get("/", a.handleListRules)
			r.Post("/reorder", a.handleReorderRules)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetRule)
				r.Patch("/", a.handleUpdateRule)
				r.Delete("/", a.handleDeleteRule)
				r.Get("/stats", a.handleGetRuleStats)
			})
		})

		r.Post("/evaluate", a.handleEvaluate)
		r.Post("/test", a.handleTest)
		r.Get("/decisions", a.handleListDecisions)
	})
}

// handleHealthCheck only proves the HTTP server is serving; dependency
// checks live on the observability server.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
