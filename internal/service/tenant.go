// Package service implements the tenant orchestrator: the state machine
// sequencing site creation, credential issuance, and frontend container
// management into atomic-looking create/delete operations.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	otelx "github.com/mystra-io/tenantd/internal/adapter/otel"
	"github.com/mystra-io/tenantd/internal/config"
	"github.com/mystra-io/tenantd/internal/domain"
	"github.com/mystra-io/tenantd/internal/domain/tenant"
	"github.com/mystra-io/tenantd/internal/port/cache"
	"github.com/mystra-io/tenantd/internal/port/containerruntime"
	"github.com/mystra-io/tenantd/internal/port/messagequeue"
	"github.com/mystra-io/tenantd/internal/port/sitecmd"
)

// listCacheKey holds the tenant-list snapshot.
const listCacheKey = "tenants/list"

// warnCredentialsPartial is returned to the caller when a tenant was
// created but API key derivation failed.
const warnCredentialsPartial = "api key generation failed; keys can be generated manually for the administrator account"

// Option configures optional TenantService collaborators.
type Option func(*TenantService)

// WithCache attaches a snapshot cache for tenant listings.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *TenantService) {
		s.cache = c
		s.snapshotTTL = ttl
	}
}

// WithQueue attaches a queue for lifecycle event publishing.
func WithQueue(q messagequeue.Queue) Option {
	return func(s *TenantService) { s.queue = q }
}

// WithMetrics attaches metric instruments.
func WithMetrics(m *otelx.Metrics) Option {
	return func(s *TenantService) { s.metrics = m }
}

// TenantService orchestrates tenant lifecycle operations. It holds no
// persistent record of tenants: the shared database server and the
// container runtime are the source of truth, queried on demand.
type TenantService struct {
	runner  sitecmd.Runner
	runtime containerruntime.Runtime
	creds   *CredentialIssuer
	ports   *PortRegistry
	locks   *Locks

	frontend  config.Frontend
	portTable config.Ports

	cache       cache.Cache
	snapshotTTL time.Duration
	queue       messagequeue.Queue
	metrics     *otelx.Metrics
}

// NewTenantService creates the orchestrator. The port registry and lock
// registry are passed in rather than made ambient so multiple instances
// (as in tests) do not interfere.
func NewTenantService(cfg *config.Config, runner sitecmd.Runner, rt containerruntime.Runtime, ports *PortRegistry, locks *Locks, opts ...Option) *TenantService {
	s := &TenantService{
		runner:    runner,
		runtime:   rt,
		creds:     NewCredentialIssuer(runner),
		ports:     ports,
		locks:     locks,
		frontend:  cfg.Frontend,
		portTable: cfg.Ports,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the names of all currently provisioned tenants, derived
// from external state. A short-TTL snapshot fronts the external query.
func (s *TenantService) List(ctx context.Context) ([]string, error) {
	if s.cache != nil {
		if data, ok, _ := s.cache.Get(ctx, listCacheKey); ok {
			var sites []string
			if err := json.Unmarshal(data, &sites); err == nil {
				return sites, nil
			}
		}
	}

	sites, err := s.runner.ListSites(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(sites); err == nil {
			_ = s.cache.Set(ctx, listCacheKey, data, s.snapshotTTL)
		}
	}
	return sites, nil
}

// Create provisions a new tenant: reserve the port (when a frontend is
// requested), create the site, install the application, derive API
// credentials, and stand up the frontend container.
//
// Partial failures leave completed external side effects in place: a site
// whose app install or frontend creation failed is not torn down, only
// reported. The caller remediates or retries with a fresh call.
func (s *TenantService) Create(ctx context.Context, req tenant.CreateRequest) (*tenant.CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	site := req.SiteName

	release, ok := s.locks.TryAcquire(site)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOperationInProgress, site)
	}
	defer release()

	// Once the sequence begins it runs to completion or failure; a caller
	// that disconnects does not stop the external operations.
	ctx = context.WithoutCancel(ctx)
	ctx, span := otelx.StartProvisionSpan(ctx, site, req.CreateFrontend)
	defer span.End()
	start := time.Now()

	slog.Debug("tenant create requested", "site_name", site, "state", tenant.StateRequested)

	exists, err := s.runner.SiteExists(ctx, site)
	if err != nil {
		return nil, s.fail(ctx, site, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: site %s already exists", domain.ErrValidation, site)
	}

	// Reserve before any external side effect so two tenants cannot race
	// for the same port.
	if req.CreateFrontend {
		if err := s.ports.Reserve(ctx, req.Port, site); err != nil {
			return nil, s.fail(ctx, site, err)
		}
	}

	slog.Info("creating tenant site", "site_name", site,
		"state", tenant.StateProvisioning, "frontend", req.CreateFrontend)

	if err := s.runner.CreateSite(ctx, site, req.AdminPassword); err != nil {
		if req.CreateFrontend {
			s.ports.Release(req.Port)
		}
		return nil, s.fail(ctx, site, err)
	}

	if err := s.runner.InstallApp(ctx, site); err != nil {
		if req.CreateFrontend {
			s.ports.Release(req.Port)
		}
		// The site was already created on the shared server and is left in
		// place; the error carries the install failure verbatim.
		return nil, s.fail(ctx, site, err)
	}

	creds, complete := s.creds.Issue(ctx, site, req.AdminPassword)

	res := &tenant.CreateResult{
		SiteName:    site,
		Credentials: creds,
	}
	if !complete {
		res.Warning = warnCredentialsPartial
	}

	if req.CreateFrontend {
		ref, err := s.runtime.CreateFrontend(ctx, s.frontendSpec(site, req.Port))
		if err != nil {
			s.ports.Release(req.Port)
			// Site and app stay in place, same partial-failure policy.
			return nil, s.fail(ctx, site, err)
		}
		res.Port = req.Port
		res.FrontendCreated = true
		res.FrontendRef = ref
	} else {
		res.Port = s.resolvePort(site)
	}

	s.invalidateList(ctx)
	s.publish(ctx, messagequeue.SubjectTenantCreated, tenant.Tenant{
		SiteName:    site,
		State:       tenant.StateActive,
		Port:        res.Port,
		FrontendRef: res.FrontendRef,
		CreatedAt:   time.Now().UTC(),
	})
	if s.metrics != nil {
		s.metrics.TenantsCreated.Add(ctx, 1)
		s.metrics.ProvisionDuration.Record(ctx, time.Since(start).Seconds())
	}

	slog.Info("tenant created", "site_name", site, "state", tenant.StateActive,
		"port", res.Port, "frontend_created", res.FrontendCreated,
		"credentials_complete", complete)
	return res, nil
}

// Delete tears a tenant down: drop the site (its data is archived, not
// hard-deleted), then remove the frontend container and release its port.
// Deleting an unknown tenant is an error, not a no-op.
func (s *TenantService) Delete(ctx context.Context, siteName string, opts tenant.DeleteOptions) (*tenant.DeleteResult, error) {
	if err := tenant.ValidateName(siteName); err != nil {
		return nil, err
	}

	release, ok := s.locks.TryAcquire(siteName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOperationInProgress, siteName)
	}
	defer release()

	ctx = context.WithoutCancel(ctx)
	ctx, span := otelx.StartTeardownSpan(ctx, siteName)
	defer span.End()

	exists, err := s.runner.SiteExists(ctx, siteName)
	if err != nil {
		return nil, s.fail(ctx, siteName, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, siteName)
	}

	slog.Info("deleting tenant site", "site_name", siteName,
		"state", tenant.StateDeleting,
		"no_backup", opts.NoBackup, "remove_frontend", opts.RemoveFrontend)

	if err := s.runner.DropSite(ctx, siteName, opts.NoBackup); err != nil {
		return nil, s.fail(ctx, siteName, err)
	}

	res := &tenant.DeleteResult{
		SiteName: siteName,
		Message:  "Tenant deleted",
	}

	if opts.RemoveFrontend {
		removed, err := s.runtime.RemoveContainer(ctx, containerruntime.FrontendName(siteName))
		if err != nil {
			// The site is already dropped; the frontend failure is surfaced
			// for caller-driven cleanup, never swallowed.
			return nil, s.fail(ctx, siteName, err)
		}
		s.ports.ReleaseSite(siteName)
		res.FrontendRemoved = removed
	}

	s.invalidateList(ctx)
	s.publish(ctx, messagequeue.SubjectTenantDeleted, tenant.Tenant{
		SiteName: siteName,
		State:    tenant.StateArchived,
	})
	if s.metrics != nil {
		s.metrics.TenantsDeleted.Add(ctx, 1)
	}

	slog.Info("tenant deleted", "site_name", siteName, "state", tenant.StateArchived,
		"frontend_removed", res.FrontendRemoved)
	return res, nil
}

// frontendSpec builds the container spec pinning the frontend to one site
// by name. Routing ignores the inbound request's apparent hostname.
func (s *TenantService) frontendSpec(siteName string, port int) containerruntime.Spec {
	return containerruntime.Spec{
		Name:        containerruntime.FrontendName(siteName),
		Image:       s.frontend.Image,
		Network:     s.frontend.Network,
		SitesVolume: s.frontend.SitesVolume,
		Port:        port,
		Env: map[string]string{
			"BACKEND":                    s.frontend.BackendHost,
			"SOCKETIO":                   s.frontend.WebsocketHost,
			"FRAPPE_SITE_NAME_HEADER":    siteName,
			"CLIENT_MAX_BODY_SIZE":       "50m",
			"PROXY_READ_TIMEOUT":         "120",
			"UPSTREAM_REAL_IP_ADDRESS":   "127.0.0.1",
			"UPSTREAM_REAL_IP_HEADER":    "X-Forwarded-For",
			"UPSTREAM_REAL_IP_RECURSIVE": "off",
		},
		Command: "nginx-entrypoint.sh",
	}
}

// resolvePort returns the host port serving a tenant that has no dedicated
// frontend, from the legacy port table or the default publish port.
func (s *TenantService) resolvePort(siteName string) int {
	if port, ok := s.portTable.Table[siteName]; ok {
		return port
	}
	return s.portTable.DefaultPublish
}

// invalidateList drops the tenant-list snapshot after a mutation.
func (s *TenantService) invalidateList(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, listCacheKey)
	}
}

// lifecycleEvent is the payload published on tenant lifecycle subjects.
// Credentials are never included in the snapshot.
type lifecycleEvent struct {
	ID     string        `json:"id"`
	Tenant tenant.Tenant `json:"tenant"`
	At     time.Time     `json:"at"`
}

// publish emits a lifecycle event best-effort: a publish failure is logged
// but never fails the operation that already completed.
func (s *TenantService) publish(ctx context.Context, subject string, snap tenant.Tenant) {
	if s.queue == nil {
		return
	}
	ev := lifecycleEvent{
		ID:     uuid.NewString(),
		Tenant: snap,
		At:     time.Now().UTC(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("lifecycle event publish failed", "subject", subject, "site_name", snap.SiteName, "error", err)
	}
}

// fail records a terminal failure for the site and returns err unchanged.
func (s *TenantService) fail(ctx context.Context, siteName string, err error) error {
	if s.metrics != nil {
		s.metrics.OperationsFailed.Add(ctx, 1)
	}
	slog.Error("tenant operation failed", "site_name", siteName, "state", tenant.StateFailed, "error", err)
	return err
}
