package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldops/surveypipe/internal/domain"
)

// TenantRepo resolves per-company telephony configuration, table
// tenant_configs.
type TenantRepo struct{ Pool PgxPool }

// NewTenantRepo constructs a TenantRepo.
func NewTenantRepo(p PgxPool) *TenantRepo { return &TenantRepo{Pool: p} }

// Get loads a tenant's telephony configuration.
func (r *TenantRepo) Get(ctx domain.Context, companyID string) (*domain.TenantConfig, error) {
	tracer := otel.Tracer("repo.tenant_configs")
	ctx, span := tracer.Start(ctx, "tenant_configs.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "tenant_configs"))

	q := `SELECT company_id, enabled_providers, selection_method, active_provider,
		fallback_provider, weights FROM tenant_configs WHERE company_id=$1`
	var cfg domain.TenantConfig
	var providersRaw, weightsRaw []byte
	err := r.Pool.QueryRow(ctx, q, companyID).Scan(&cfg.CompanyID, &providersRaw,
		&cfg.SelectionMethod, &cfg.ActiveProvider, &cfg.FallbackProvider, &weightsRaw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("op=tenant.get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=tenant.get: %w", err)
	}
	if len(providersRaw) > 0 {
		if err := json.Unmarshal(providersRaw, &cfg.EnabledProviders); err != nil {
			return nil, fmt.Errorf("op=tenant.get unmarshal providers: %w", err)
		}
	}
	if len(weightsRaw) > 0 {
		if err := json.Unmarshal(weightsRaw, &cfg.Weights); err != nil {
			return nil, fmt.Errorf("op=tenant.get unmarshal weights: %w", err)
		}
	}
	return &cfg, nil
}
