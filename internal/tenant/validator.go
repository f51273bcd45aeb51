// internal/tenant/validator.go
//
// Pure descriptor and create-request validation.
//
// Context
// -------
// Validate and ValidateCreate walk the record and accumulate FieldError
// entries; they never return a Go error and never panic.  Single-value
// rules (email, hex colour) delegate to go-playground/validator via
// v.Var, the same library the config loader uses for struct tags;
// cross-field rules (storage/SMTP requireds, secret lengths) are explicit
// because they depend on sibling fields.
//
// Notes
// -----
//   - The reserved-subdomain list lives in descriptor.go and is the
//     authoritative one.
package tenant

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

//
// validator instance (package-level singleton)
//

var v = validator.New()

var (
	subdomainRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	tenantIDRe  = regexp.MustCompile(`^[a-z0-9-]{2,63}$`)
	domainRe    = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)
	hexColorRe  = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// FieldError names one invalid field and why.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the outcome of a validation pass.
type Result struct {
	Valid  bool         `json:"isValid"`
	Errors []FieldError `json:"errors"`
}

func (r *Result) add(field, format string, args ...any) {
	r.Errors = append(r.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) finish() Result {
	r.Valid = len(r.Errors) == 0
	return *r
}

// limitBound is one inclusive range for a usage limit.
type limitBound struct{ min, max int }

var limitBounds = map[string]limitBound{
	"maxUsers":      {1, 10_000},
	"maxPages":      {1, 100_000},
	"maxPosts":      {1, 1_000_000},
	"maxStorageMB":  {100, 100_000},
	"maxApiCalls":   {1_000, 10_000_000},
	"maxFileSizeMB": {1, 1_000},
	"maxMenus":      {1, 100},
	"maxGalleries":  {1, 1_000},
	"maxSliders":    {1, 100},
}

// Validate checks a full descriptor.  It fails only by returning a
// non-empty Errors slice.
func Validate(d *Descriptor) Result {
	var r Result
	if d == nil {
		r.add("descriptor", "descriptor is required")
		return r.finish()
	}

	if !tenantIDRe.MatchString(d.TenantID) {
		r.add("tenantId", "must match [a-z0-9-]{2,63}")
	} else if IsReservedSubdomain(d.TenantID) {
		r.add("tenantId", "%q is a reserved label", d.TenantID)
	}

	validateName(&r, d.Name)
	validateSubdomain(&r, d.Subdomain)
	validateDomain(&r, d.Domain)

	switch d.Status {
	case StatusActive, StatusSuspended, StatusPending, StatusArchived:
	default:
		r.add("status", "unknown status %q", d.Status)
	}

	validateDatabase(&r, d.Database)
	validateLimits(&r, d.Limits)
	validateBranding(&r, d.Branding)
	validateSecurity(&r, d.Security)
	validateStorage(&r, d.Storage)
	validateSMTP(&r, d.SMTP)

	if d.AdminUser != nil && v.Var(d.AdminUser.Email, "required,email") != nil {
		r.add("adminUser.email", "invalid email address")
	}

	return r.finish()
}

// ValidateCreate checks an inbound provisioning request.
func ValidateCreate(req *CreateRequest) Result {
	var r Result
	if req == nil {
		r.add("request", "request body is required")
		return r.finish()
	}

	validateName(&r, req.Name)
	validateSubdomain(&r, req.Subdomain)
	validateDomain(&r, req.Domain)

	switch req.Tier {
	case "", "starter", "professional", "enterprise":
	default:
		r.add("tier", "unknown tier %q", req.Tier)
	}

	if req.AdminEmail != "" && v.Var(req.AdminEmail, "email") != nil {
		r.add("adminEmail", "invalid email address")
	}
	if req.Limits != nil {
		validateLimits(&r, *req.Limits)
	}
	if req.Branding != nil {
		validateBranding(&r, *req.Branding)
	}

	return r.finish()
}

//
// per-section helpers
//

func validateName(r *Result, name string) {
	if l := len(name); l < 2 || l > 100 {
		r.add("name", "must be 2-100 characters")
	}
}

func validateSubdomain(r *Result, s string) {
	if l := len(s); l < 2 || l > 63 {
		r.add("subdomain", "must be 2-63 characters")
		return
	}
	if !subdomainRe.MatchString(s) {
		r.add("subdomain", "must be lowercase alphanumeric with inner hyphens")
		return
	}
	if IsReservedSubdomain(s) {
		r.add("subdomain", "%q is reserved", s)
	}
}

func validateDomain(r *Result, d string) {
	if d == "" {
		return
	}
	if !domainRe.MatchString(d) {
		r.add("domain", "invalid domain name")
	}
}

func validateDatabase(r *Result, c DBConfig) {
	switch c.Type {
	case DBMySQL, DBPostgreSQL, DBSQLite:
	default:
		r.add("database.type", "unknown database type %q", c.Type)
	}
	if c.Type != DBSQLite {
		if c.Host == "" {
			r.add("database.host", "host is required")
		}
		if c.Port < 1 || c.Port > 65535 {
			r.add("database.port", "port must be 1-65535")
		}
		if c.Username == "" {
			r.add("database.username", "username is required")
		}
		if c.Password == "" {
			r.add("database.password", "password is required")
		}
	}
	if c.Database == "" {
		r.add("database.database", "database name is required")
	}
	if c.ConnectionLimit < 1 || c.ConnectionLimit > 100 {
		r.add("database.connectionLimit", "connection limit must be 1-100")
	}
}

func validateLimits(r *Result, l Limits) {
	check := func(field string, val int) {
		b := limitBounds[field]
		if val < b.min || val > b.max {
			r.add("limits."+field, "must be %d-%d", b.min, b.max)
		}
	}
	check("maxUsers", l.MaxUsers)
	check("maxPages", l.MaxPages)
	check("maxPosts", l.MaxPosts)
	check("maxStorageMB", l.MaxStorageMB)
	check("maxApiCalls", l.MaxAPICalls)
	check("maxFileSizeMB", l.MaxFileSizeMB)
	check("maxMenus", l.MaxMenus)
	check("maxGalleries", l.MaxGalleries)
	check("maxSliders", l.MaxSliders)
}

func validateBranding(r *Result, b Branding) {
	colors := map[string]string{
		"branding.primaryColor":   b.PrimaryColor,
		"branding.secondaryColor": b.SecondaryColor,
		"branding.accentColor":    b.AccentColor,
	}
	for field, val := range colors {
		if val != "" && !hexColorRe.MatchString(val) {
			r.add(field, "must be #RRGGBB")
		}
	}
	if len(b.CompanyName) > 100 {
		r.add("branding.companyName", "must be at most 100 characters")
	}
	if len(b.Tagline) > 200 {
		r.add("branding.tagline", "must be at most 200 characters")
	}
	if len(b.FooterText) > 50 {
		r.add("branding.footerText", "must be at most 50 characters")
	}
}

func validateSecurity(r *Result, s Security) {
	if len(s.JWTSecret) < 32 {
		r.add("security.jwtSecret", "must be at least 32 characters")
	}
	if len(s.EncryptionKey) < 32 {
		r.add("security.encryptionKey", "must be at least 32 characters")
	}
	if len(s.SessionSecret) < 32 {
		r.add("security.sessionSecret", "must be at least 32 characters")
	}
	if rl := s.RateLimit.Requests; rl != 0 && (rl < 1 || rl > 10_000) {
		r.add("security.rateLimit.requests", "must be 1-10000")
	}
}

func validateStorage(r *Result, s Storage) {
	switch s.Type {
	case StorageLocal:
		if s.BasePath == "" {
			r.add("storage.basePath", "basePath is required for local storage")
		}
	case StorageS3, StorageGCS:
		if s.Bucket == "" {
			r.add("storage.bucket", "bucket is required for %s storage", s.Type)
		}
		if s.AccessKey == "" {
			r.add("storage.accessKey", "accessKey is required for %s storage", s.Type)
		}
		if s.SecretKey == "" {
			r.add("storage.secretKey", "secretKey is required for %s storage", s.Type)
		}
	case StorageCloudinary:
		if s.CloudName == "" {
			r.add("storage.cloudName", "cloudName is required for cloudinary storage")
		}
	default:
		r.add("storage.type", "unknown storage type %q", s.Type)
	}
}

func validateSMTP(r *Result, s *SMTP) {
	if s == nil || !s.Enabled {
		return
	}
	if s.Host == "" {
		r.add("smtp.host", "host is required when smtp is enabled")
	}
	if s.Port < 1 || s.Port > 65535 {
		r.add("smtp.port", "port must be 1-65535")
	}
	if s.Username == "" {
		r.add("smtp.username", "username is required when smtp is enabled")
	}
	if s.Password == "" {
		r.add("smtp.password", "password is required when smtp is enabled")
	}
	if s.FromEmail != "" && v.Var(s.FromEmail, "email") != nil {
		r.add("smtp.fromEmail", "invalid email address")
	}
}
