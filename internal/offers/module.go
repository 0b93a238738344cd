package offers

import (
	"cashoffer_backend/internal/events"
	apphttp "cashoffer_backend/internal/http"
	"cashoffer_backend/internal/offers/handler"
	"cashoffer_backend/internal/offers/ports"
	"cashoffer_backend/internal/offers/repository"
	"cashoffer_backend/internal/offers/service"
	"cashoffer_backend/internal/ratelimit"
	"cashoffer_backend/platform/config"
	"cashoffer_backend/platform/logger"
	"cashoffer_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ModuleEnqueuer combines what the module needs from the queue client.
type ModuleEnqueuer interface {
	ports.Enqueuer
	ports.MaintenanceEnqueuer
}

// Module is the offers domain module.
type Module struct {
	handler      *handler.Handler
	repo         *repository.Repository
	orchestrator *Orchestrator
	Service      *service.Service
}

// NewModule wires the offers module. fraud may be nil when fraud checks are
// disabled.
func NewModule(pool *pgxpool.Pool, rdb redis.UniversalClient, enqueuer ModuleEnqueuer, fraud FraudAssessor, bus events.Bus, rules config.BusinessRulesConfig, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)

	// The spend cap fails closed; submission throttles fail open.
	spendLimiter := ratelimit.New(rdb, ratelimit.FailClosed, log)
	throttle := ratelimit.New(rdb, ratelimit.FailOpen, log)

	orch := NewOrchestrator(repo, enqueuer, spendLimiter, fraud, bus, rules, log)
	svc := service.New(repo, orch, throttle, enqueuer, bus, rules, log)
	h := handler.New(svc, val)

	return &Module{
		handler:      h,
		repo:         repo,
		orchestrator: orch,
		Service:      svc,
	}
}

// Name returns the module name for logging.
func (m *Module) Name() string {
	return "offers"
}

// Orchestrator exposes the pipeline authority for the queue workers.
func (m *Module) Orchestrator() *Orchestrator {
	return m.orchestrator
}

// Repository exposes the data layer for the queue workers.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

// RegisterRoutes registers the module's routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/offers"))
	m.handler.RegisterAdminRoutes(ctx.Admin)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
