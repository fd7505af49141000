package tenant

import (
	"context"
	"fmt"

	"relay/internal/logger"
	apperrors "relay/pkg/errors"
	"relay/pkg/metrics"
	"relay/pkg/models"
	"relay/pkg/tracing"
)

type Strategy string

const (
	StrategyCompanyID    Strategy = "company_id"
	StrategyAPIDomain    Strategy = "api_domain"
	StrategySingleTenant Strategy = "single_tenant"
)

type Resolution struct {
	TenantID string
	Strategy Strategy
}

type strategyFunc func(ctx context.Context, hint models.TenantHint) (*models.Tenant, error)

// Resolver maps an inbound event to its owning tenant. Strategies run in order and the
// first one that identifies a tenant decides: an active tenant resolves, an inactive one
// leaves the event unresolved. A store failure stops the chain with a retryable error so
// a weaker strategy never picks a different tenant for the same event.
type Resolver struct {
	store      Store
	logger     logger.Logger
	strategies []namedStrategy
}

type namedStrategy struct {
	name Strategy
	fn   strategyFunc
}

func NewResolver(store Store, log logger.Logger) *Resolver {
	r := &Resolver{store: store, logger: log}
	r.strategies = []namedStrategy{
		{name: StrategyCompanyID, fn: r.byCompanyID},
		{name: StrategyAPIDomain, fn: r.byDomain},
		{name: StrategySingleTenant, fn: r.singleTenant},
	}
	return r
}

func (r *Resolver) Resolve(ctx context.Context, evt *models.InboundEvent) (Resolution, error) {
	ctx, span := tracing.StartStage(ctx, "tenant.resolve")
	defer span.End()

	hint := evt.Hint()
	for _, s := range r.strategies {
		t, err := s.fn(ctx, hint)
		if apperrors.IsNotFound(err) || (err == nil && t == nil) {
			continue
		}
		if err != nil {
			metrics.IncTenantResolution("error")
			tracing.RecordError(span, err)
			r.logger.WarnwCtx(ctx, "Tenant lookup failed",
				"strategy", s.name,
				"error", err,
			)
			return Resolution{}, fmt.Errorf("resolve tenant by %s: %w", s.name, err)
		}
		if !t.IsActive() {
			metrics.IncTenantResolution("inactive")
			unresolved := apperrors.ErrUnresolvedTenant.
				WithDetail("tenant_id", t.ID).
				WithDetail("strategy", string(s.name)).
				WithDetail("reason", "tenant inactive")
			tracing.RecordError(span, unresolved)
			r.logger.InfowCtx(ctx, "Event belongs to an inactive tenant",
				"tenant_id", t.ID,
				"strategy", s.name,
			)
			return Resolution{}, unresolved
		}

		metrics.IncTenantResolution(string(s.name))
		r.logger.DebugwCtx(ctx, "Tenant resolved",
			"tenant_id", t.ID,
			"strategy", s.name,
		)
		return Resolution{TenantID: t.ID, Strategy: s.name}, nil
	}

	metrics.IncTenantResolution("unresolved")
	err := apperrors.ErrUnresolvedTenant.WithDetail("company_id", hint.CompanyID).WithDetail("api_domain", hint.Domain)
	tracing.RecordError(span, err)
	return Resolution{}, err
}

func (r *Resolver) byCompanyID(ctx context.Context, hint models.TenantHint) (*models.Tenant, error) {
	if hint.CompanyID == "" {
		return nil, apperrors.ErrNotFound
	}
	return r.store.FindByCompanyID(ctx, hint.CompanyID)
}

func (r *Resolver) byDomain(ctx context.Context, hint models.TenantHint) (*models.Tenant, error) {
	if hint.Domain == "" {
		return nil, apperrors.ErrNotFound
	}
	return r.store.FindByDomain(ctx, hint.Domain, hint.AccountID)
}

// singleTenant only applies to events without company, domain or account identifiers,
// and only succeeds when exactly one active tenant exists. That covers development and
// single-tenant installs.
func (r *Resolver) singleTenant(ctx context.Context, hint models.TenantHint) (*models.Tenant, error) {
	if hint.CompanyID != "" || hint.Domain != "" || hint.AccountID != "" {
		return nil, apperrors.ErrNotFound
	}
	tenants, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	if len(tenants) != 1 {
		return nil, apperrors.ErrNotFound
	}
	return &tenants[0], nil
}
