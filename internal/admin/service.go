// internal/admin/service.go
//
// Tenant lifecycle administration.
//
// Context
// -------
// The Service owns the dangerous, infrequent operations: provisioning a
// tenant end to end, mutating its status, and tearing it down.  It shares
// the descriptor store, env-file manager, domain mapper, and pool manager
// with the hot path, so every mutation goes through the same serialised
// Save/Delete the request path reads from.
//
// Create is a small saga: validate, reserve names, generate credentials,
// provision the database, write the env file and mapping, save the
// descriptor.  On failure after provisioning began, compensation runs in
// reverse order; compensation failures are logged and never mask the
// original error.
//
// Notes
// -----
//   - Status transitions: pending → active → {suspended, archived};
//     suspended ↔ active; archived is terminal except delete.
//   - suspend keeps the tenant's pool open so in-flight requests drain;
//     the next request fails at the status gate.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/WhitecodeAi/aicms-core/internal/domainmap"
	"github.com/WhitecodeAi/aicms-core/internal/envfile"
	"github.com/WhitecodeAi/aicms-core/internal/errdefs"
	"github.com/WhitecodeAi/aicms-core/internal/pool"
	"github.com/WhitecodeAi/aicms-core/internal/security"
	"github.com/WhitecodeAi/aicms-core/internal/tenant"
)

// UsageCounter measures what a tenant has actually consumed.  The data
// plane implements this; the admin service only joins counts with limits.
type UsageCounter interface {
	Counts(ctx context.Context, tenantID string) (Usage, error)
}

// Usage is a snapshot of measured consumption.
type Usage struct {
	Users     int `json:"users"`
	Pages     int `json:"pages"`
	Posts     int `json:"posts"`
	StorageMB int `json:"storageMB"`
	APICalls  int `json:"apiCalls"`
	Menus     int `json:"menus"`
	Galleries int `json:"galleries"`
	Sliders   int `json:"sliders"`
}

// LimitsReport is the outcome of CheckUsageLimits.
type LimitsReport struct {
	TenantID     string        `json:"tenantId"`
	WithinLimits bool          `json:"withinLimits"`
	Violations   []string      `json:"violations,omitempty"`
	Usage        Usage         `json:"usage"`
	Limits       tenant.Limits `json:"limits"`
}

// Summary is the redacted list view of one tenant.
type Summary struct {
	TenantID  string        `json:"tenantId"`
	Name      string        `json:"name"`
	Subdomain string        `json:"subdomain"`
	Domain    string        `json:"domain,omitempty"`
	Status    tenant.Status `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Options configures a Service.
type Options struct {
	// BaseDomain hosts subdomain tenants ("<sub>.<BaseDomain>").
	BaseDomain string
	// SchemaDDL is the baseline schema run on provision; contents are an
	// external collaborator.
	SchemaDDL []string
	// DBHost/DBPort locate the tenant database server for descriptors.
	DBHost string
	DBPort int
}

// Service performs administrative tenant operations.
type Service struct {
	store       *tenant.Store
	env         *envfile.Manager
	mapper      *domainmap.Mapper
	pools       *pool.Manager
	provisioner Provisioner
	usage       UsageCounter
	opts        Options
}

// New wires a Service.  usage may be nil, which disables limit checks.
func New(store *tenant.Store, env *envfile.Manager, mapper *domainmap.Mapper,
	pools *pool.Manager, prov Provisioner, usage UsageCounter, opts Options) *Service {
	if opts.DBHost == "" {
		opts.DBHost = "127.0.0.1"
	}
	if opts.DBPort == 0 {
		opts.DBPort = 3306
	}
	return &Service{
		store: store, env: env, mapper: mapper, pools: pools,
		provisioner: prov, usage: usage, opts: opts,
	}
}

//
// Create
//

// Create provisions a tenant end to end and returns its descriptor.
func (s *Service) Create(ctx context.Context, req *tenant.CreateRequest) (*tenant.Descriptor, error) {
	// 1. Validate.
	if res := tenant.ValidateCreate(req); !res.Valid {
		return nil, validationError(res)
	}

	// 2. Reserve subdomain and domain.
	if existing, _ := s.store.FindBySubdomain(req.Subdomain); existing != nil {
		return nil, errdefs.Newf(errdefs.KindTenantConfig,
			"subdomain %q is already taken", req.Subdomain)
	}
	if req.Domain != "" {
		if existing, _ := s.store.FindByDomain(req.Domain); existing != nil {
			return nil, errdefs.Newf(errdefs.KindTenantConfig,
				"domain %q is already taken", req.Domain)
		}
	}

	// 3. Tenant id derives from the subdomain.
	id := req.Subdomain
	if s.store.Exists(id) {
		return nil, errdefs.Newf(errdefs.KindTenantConfig, "tenant %q already exists", id)
	}

	// 4. Credentials, features, and limits.
	preset := presetFor(req.Tier)
	features := preset.Features
	if req.Features != nil {
		features = *req.Features
	}
	limits := preset.Limits
	if req.Limits != nil {
		limits = *req.Limits
	}
	dbName := id + "_cms"
	dbUser := id
	dbPassword := tenant.NewDBPassword()

	desc := &tenant.Descriptor{
		TenantID:  id,
		Name:      req.Name,
		Subdomain: req.Subdomain,
		Domain:    req.Domain,
		Status:    tenant.StatusActive,
		Database: tenant.DBConfig{
			Type:            tenant.DBMySQL,
			Host:            s.opts.DBHost,
			Port:            s.opts.DBPort,
			Database:        dbName,
			Username:        dbUser,
			Password:        dbPassword,
			ConnectionLimit: pool.DefaultConnLimit,
		},
		Features: features,
		Limits:   limits,
		Security: tenant.Security{
			JWTSecret:     tenant.NewSecret(),
			EncryptionKey: tenant.NewSecret(),
			SessionSecret: tenant.NewSecret(),
		},
		Storage:     tenant.Storage{Type: tenant.StorageLocal, BasePath: "uploads/" + id},
		Environment: req.Environment,
	}
	if req.Branding != nil {
		desc.Branding = *req.Branding
	}
	if req.AdminEmail != "" {
		desc.AdminUser = &tenant.AdminUser{Email: req.AdminEmail}
		if req.AdminPassword != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(req.AdminPassword), bcrypt.DefaultCost)
			if err != nil {
				return nil, errdefs.Wrap(errdefs.KindTenantCreation, "hash admin password", err)
			}
			desc.AdminUser.PasswordHash = string(hash)
		}
	}

	// 5-7. Provision, env + mapping, descriptor — with compensation.
	var provisioned, envWritten bool
	fail := func(stage string, err error) (*tenant.Descriptor, error) {
		s.compensate(ctx, desc, provisioned, envWritten)
		if typed, ok := err.(*errdefs.Error); ok {
			return nil, typed.WithTenant(id)
		}
		return nil, errdefs.Wrap(errdefs.KindTenantCreation, stage+" failed", err).WithTenant(id)
	}

	if err := s.provisioner.Provision(ctx, dbName, dbUser, dbPassword, s.opts.SchemaDDL); err != nil {
		return fail("database provisioning", err)
	}
	provisioned = true

	domain := desc.Domain
	if domain == "" {
		domain = fmt.Sprintf("%s.%s", desc.Subdomain, s.opts.BaseDomain)
	}
	_, err := s.env.Generate(domain, envfile.Template{
		TenantID:      id,
		TenantName:    desc.Name,
		Database:      desc.Database,
		JWTSecret:     desc.Security.JWTSecret,
		EncryptionKey: desc.Security.EncryptionKey,
		SessionSecret: desc.Security.SessionSecret,
		Extra:         desc.Environment,
	}, domainmap.TypeWebsite)
	if err != nil {
		return fail("env file generation", err)
	}
	envWritten = true

	if err := s.store.Save(desc); err != nil {
		return fail("descriptor save", err)
	}

	zap.S().Infow("tenant created", "tenant", id, "tier", req.Tier, "domain", domain)
	return desc, nil
}

// compensate rolls back a partial create in reverse order.  Failures are
// logged but never returned, so the original error stays visible.
func (s *Service) compensate(ctx context.Context, desc *tenant.Descriptor, provisioned, envWritten bool) {
	id := desc.TenantID
	if envWritten {
		domain := desc.Domain
		if domain == "" {
			domain = fmt.Sprintf("%s.%s", desc.Subdomain, s.opts.BaseDomain)
		}
		if err := s.env.Delete(domain); err != nil {
			zap.S().Errorw("compensation: env delete failed", "tenant", id, "err", err)
		}
	}
	if provisioned {
		if err := s.provisioner.Deprovision(ctx, desc.Database.Database, desc.Database.Username); err != nil {
			zap.S().Errorw("compensation: deprovision failed", "tenant", id, "err", err)
		}
	}
	if _, err := s.store.Delete(id); err != nil {
		zap.S().Errorw("compensation: descriptor delete failed", "tenant", id, "err", err)
	}
}

func validationError(res tenant.Result) error {
	issues := make([]map[string]string, 0, len(res.Errors))
	for _, fe := range res.Errors {
		issues = append(issues, map[string]string{"field": fe.Field, "message": fe.Message})
	}
	return errdefs.New(errdefs.KindTenantConfig, "validation failed").
		WithDetail("issues", issues)
}

//
// Read operations
//

// Get returns one descriptor or a typed not-found error.
func (s *Service) Get(_ context.Context, id string) (*tenant.Descriptor, error) {
	d, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errdefs.Newf(errdefs.KindTenantNotFound, "tenant %q not found", id).WithTenant(id)
	}
	return d, nil
}

// List returns all descriptors sorted by name.
func (s *Service) List(_ context.Context) ([]*tenant.Descriptor, error) {
	return s.store.List()
}

// ListSummary returns the redacted list view.
func (s *Service) ListSummary(ctx context.Context) ([]Summary, error) {
	all, err := s.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(all))
	for _, d := range all {
		out = append(out, Summary{
			TenantID:  d.TenantID,
			Name:      d.Name,
			Subdomain: d.Subdomain,
			Domain:    d.Domain,
			Status:    d.Status,
			CreatedAt: d.CreatedAt,
		})
	}
	return out, nil
}

// ExportConfig returns the redacted descriptor as pretty JSON.
func (s *Service) ExportConfig(ctx context.Context, id string) ([]byte, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(security.RedactDescriptor(d), "", "  ")
}

//
// Update and status transitions
//

// UpdatePatch carries the mutable descriptor fields; nil means unchanged.
type UpdatePatch struct {
	Name        *string            `json:"name,omitempty"`
	Domain      *string            `json:"domain,omitempty"`
	Features    *tenant.Features   `json:"features,omitempty"`
	Limits      *tenant.Limits     `json:"limits,omitempty"`
	Branding    *tenant.Branding   `json:"branding,omitempty"`
	SEO         *tenant.SEO        `json:"seo,omitempty"`
	Database    *tenant.DBConfig   `json:"database,omitempty"`
	SMTP        *tenant.SMTP       `json:"smtp,omitempty"`
	Storage     *tenant.Storage    `json:"storage,omitempty"`
	Environment *map[string]string `json:"environment,omitempty"`
}

// Update applies a patch and saves.  Domain uniqueness is re-checked when
// the patch changes it.
func (s *Service) Update(ctx context.Context, id string, patch *UpdatePatch) (*tenant.Descriptor, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Domain != nil && *patch.Domain != d.Domain && *patch.Domain != "" {
		if other, _ := s.store.FindByDomain(*patch.Domain); other != nil && other.TenantID != id {
			return nil, errdefs.Newf(errdefs.KindTenantConfig,
				"domain %q is already taken", *patch.Domain)
		}
	}

	// Work on a private copy: the cached descriptor is shared with every
	// in-flight request, and a patch that fails validation must leave it
	// exactly as persisted.
	d = d.Clone()

	if patch.Name != nil {
		d.Name = *patch.Name
	}
	if patch.Domain != nil {
		d.Domain = *patch.Domain
	}
	if patch.Features != nil {
		d.Features = *patch.Features
	}
	if patch.Limits != nil {
		d.Limits = *patch.Limits
	}
	if patch.Branding != nil {
		d.Branding = *patch.Branding
	}
	if patch.SEO != nil {
		d.SEO = *patch.SEO
	}
	if patch.Database != nil {
		d.Database = *patch.Database
	}
	if patch.SMTP != nil {
		d.SMTP = patch.SMTP
	}
	if patch.Storage != nil {
		d.Storage = *patch.Storage
	}
	if patch.Environment != nil {
		d.Environment = *patch.Environment
	}

	if err := s.store.Save(d); err != nil {
		return nil, errdefs.Wrap(errdefs.KindTenantConfig, "save failed", err).WithTenant(id)
	}
	return d, nil
}

// Suspend moves an active tenant to suspended.  The tenant's pool stays
// open so the last in-flight request drains; the next request fails at
// the status gate.
func (s *Service) Suspend(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, tenant.StatusSuspended, reason,
		tenant.StatusActive)
}

// Activate moves a suspended or pending tenant to active and clears the
// audit note.
func (s *Service) Activate(ctx context.Context, id string) error {
	return s.transition(ctx, id, tenant.StatusActive, "",
		tenant.StatusSuspended, tenant.StatusPending)
}

// Archive retires a tenant.  Archived is terminal except for delete.
func (s *Service) Archive(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, tenant.StatusArchived, reason,
		tenant.StatusActive, tenant.StatusSuspended)
}

func (s *Service) transition(ctx context.Context, id string, to tenant.Status, note string, from ...tenant.Status) error {
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	ok := false
	for _, f := range from {
		if d.Status == f {
			ok = true
			break
		}
	}
	if !ok {
		return errdefs.Newf(errdefs.KindTenantConfig,
			"cannot move tenant %q from %s to %s", id, d.Status, to).WithTenant(id)
	}

	// Same copy-then-swap discipline as Update: never touch the cached
	// descriptor in place.
	d = d.Clone()
	d.Status = to
	d.StatusNote = note
	if note != "" {
		d.StatusNote = fmt.Sprintf("%s at %s", note, time.Now().UTC().Format(time.RFC3339))
	}
	if err := s.store.Save(d); err != nil {
		return errdefs.Wrap(errdefs.KindTenantConfig, "save failed", err).WithTenant(id)
	}
	zap.S().Infow("tenant status changed", "tenant", id, "status", string(to))
	return nil
}

//
// Delete
//

// Delete tears a tenant down: pool, database and user, env file and
// mapping, descriptor.
func (s *Service) Delete(ctx context.Context, id string) error {
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	s.pools.Close(id)

	if err := s.provisioner.Deprovision(ctx, d.Database.Database, d.Database.Username); err != nil {
		return errdefs.Wrap(errdefs.KindTenantCreation, "deprovision failed", err).WithTenant(id)
	}

	domains := []string{fmt.Sprintf("%s.%s", d.Subdomain, s.opts.BaseDomain)}
	if d.Domain != "" {
		domains = append(domains, d.Domain)
	}
	for _, domain := range domains {
		if err := s.env.Delete(domain); err != nil {
			zap.S().Warnw("env delete failed", "tenant", id, "domain", domain, "err", err)
		}
	}

	if _, err := s.store.Delete(id); err != nil {
		return errdefs.Wrap(errdefs.KindTenantConfig, "descriptor delete failed", err).WithTenant(id)
	}
	zap.S().Infow("tenant deleted", "tenant", id)
	return nil
}

//
// Health and usage
//

// HealthReport summarises tenant and pool health.
type HealthReport struct {
	Tenants int             `json:"tenants"`
	Active  int             `json:"active"`
	Pools   map[string]bool `json:"pools"`
}

// HealthCheck probes every live pool and counts descriptors.
func (s *Service) HealthCheck(ctx context.Context) (*HealthReport, error) {
	all, err := s.store.List()
	if err != nil {
		return nil, err
	}
	rep := &HealthReport{Tenants: len(all), Pools: s.pools.HealthCheck(ctx)}
	for _, d := range all {
		if d.Status == tenant.StatusActive {
			rep.Active++
		}
	}
	return rep, nil
}

// UsageStats returns measured consumption for one tenant.
func (s *Service) UsageStats(ctx context.Context, id string) (*Usage, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.usage == nil {
		return &Usage{}, nil
	}
	u, err := s.usage.Counts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CheckUsageLimits joins measured counts with the descriptor's limits.
func (s *Service) CheckUsageLimits(ctx context.Context, id string) (*LimitsReport, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rep := &LimitsReport{TenantID: id, WithinLimits: true, Limits: d.Limits}
	if s.usage == nil {
		return rep, nil
	}
	u, err := s.usage.Counts(ctx, id)
	if err != nil {
		return nil, err
	}
	rep.Usage = u

	check := func(what string, used, limit int) {
		if limit > 0 && used > limit {
			rep.WithinLimits = false
			rep.Violations = append(rep.Violations,
				fmt.Sprintf("%s: %d used, limit %d", what, used, limit))
		}
	}
	check("users", u.Users, d.Limits.MaxUsers)
	check("pages", u.Pages, d.Limits.MaxPages)
	check("posts", u.Posts, d.Limits.MaxPosts)
	check("storageMB", u.StorageMB, d.Limits.MaxStorageMB)
	check("apiCalls", u.APICalls, d.Limits.MaxAPICalls)
	check("menus", u.Menus, d.Limits.MaxMenus)
	check("galleries", u.Galleries, d.Limits.MaxGalleries)
	check("sliders", u.Sliders, d.Limits.MaxSliders)
	return rep, nil
}
