// internal/tenant/descriptor.go
//
// Tenant descriptor model.
//
// Context
// -------
// The Descriptor is the authoritative JSON record for one tenant, stored
// as `<configRoot>/<tenantId>.json` and cached by the Store.  Handlers
// receive a read-only snapshot; admin operations produce a whole new
// Descriptor and swap it through Store.Save, so a request never sees a
// half-written record.
//
// Notes
// -----
//   - Closed sets (status, db type, storage type) are plain string types
//     with package-level constant sets; the validator enforces membership.
//   - Timestamps are ISO-8601 in JSON; time.Time in memory.
package tenant

import (
	"fmt"
	"time"
)

// Status is the tenant life-cycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
	StatusArchived  Status = "archived"
)

// DBType enumerates supported database backends.
type DBType string

const (
	DBMySQL      DBType = "mysql"
	DBPostgreSQL DBType = "postgresql"
	DBSQLite     DBType = "sqlite"
)

// StorageType enumerates supported asset storage backends.
type StorageType string

const (
	StorageLocal      StorageType = "local"
	StorageS3         StorageType = "s3"
	StorageCloudinary StorageType = "cloudinary"
	StorageGCS        StorageType = "gcs"
)

// ReservedSubdomains may never be claimed by a tenant.
var ReservedSubdomains = []string{
	"www", "api", "admin", "app", "mail", "ftp", "localhost", "test",
	"dev", "staging", "console", "dashboard", "portal", "support",
	"help", "docs", "blog", "news",
}

// IsReservedSubdomain reports whether s is on the reserved list.
func IsReservedSubdomain(s string) bool {
	for _, r := range ReservedSubdomains {
		if s == r {
			return true
		}
	}
	return false
}

// DBConfig describes one tenant database.  Equality over the six identity
// fields (host, port, database, user, password, connectionLimit) decides
// whether an existing pool may be reused.
type DBConfig struct {
	Type            DBType `json:"type"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Database        string `json:"database"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	SSL             bool   `json:"ssl"`
	ConnectionLimit int    `json:"connectionLimit"`
}

// Equal reports byte-equality over the identity fields.
func (c DBConfig) Equal(o DBConfig) bool {
	return c.Host == o.Host &&
		c.Port == o.Port &&
		c.Database == o.Database &&
		c.Username == o.Username &&
		c.Password == o.Password &&
		c.ConnectionLimit == o.ConnectionLimit
}

// DSN renders the driver connection string for the config.  MySQL follows
// the go-sql-driver format; postgresql the URL form pgx accepts; sqlite a
// plain file path.
func (c DBConfig) DSN() string {
	switch c.Type {
	case DBPostgreSQL:
		ssl := "disable"
		if c.SSL {
			ssl = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			c.Username, c.Password, c.Host, c.Port, c.Database, ssl)
	case DBSQLite:
		return c.Database
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=Local&charset=utf8mb4",
			c.Username, c.Password, c.Host, c.Port, c.Database)
	}
}

// URL renders the scheme-prefixed connection URL stored in env files as
// DATABASE_URL.
func (c DBConfig) URL() string {
	scheme := "mysql"
	switch c.Type {
	case DBPostgreSQL:
		scheme = "postgresql"
	case DBSQLite:
		return "sqlite://" + c.Database
	}
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s",
		scheme, c.Username, c.Password, c.Host, c.Port, c.Database)
}

// Features is the closed ten-flag feature map.
type Features struct {
	AdvancedEditor bool `json:"advancedEditor"`
	CustomBranding bool `json:"customBranding"`
	APIAccess      bool `json:"apiAccess"`
	FileUpload     bool `json:"fileUpload"`
	Analytics      bool `json:"analytics"`
	CustomDomain   bool `json:"customDomain"`
	SSLEnabled     bool `json:"sslEnabled"`
	MultiLanguage  bool `json:"multiLanguage"`
	Ecommerce      bool `json:"ecommerce"`
	SocialLogin    bool `json:"socialLogin"`
}

// Limits bounds per-tenant resource usage.
type Limits struct {
	MaxUsers      int `json:"maxUsers"`
	MaxPages      int `json:"maxPages"`
	MaxPosts      int `json:"maxPosts"`
	MaxStorageMB  int `json:"maxStorageMB"`
	MaxAPICalls   int `json:"maxApiCalls"`
	MaxFileSizeMB int `json:"maxFileSizeMB"`
	MaxMenus      int `json:"maxMenus"`
	MaxGalleries  int `json:"maxGalleries"`
	MaxSliders    int `json:"maxSliders"`
}

// Branding holds the tenant's visual identity.
type Branding struct {
	PrimaryColor   string `json:"primaryColor,omitempty"`
	SecondaryColor string `json:"secondaryColor,omitempty"`
	AccentColor    string `json:"accentColor,omitempty"`
	LogoURL        string `json:"logoUrl,omitempty"`
	FaviconURL     string `json:"faviconUrl,omitempty"`
	CompanyName    string `json:"companyName,omitempty"`
	Tagline        string `json:"tagline,omitempty"`
	FooterText     string `json:"footerText,omitempty"`
}

// SEO holds per-tenant search settings.
type SEO struct {
	MetaTitle       string `json:"metaTitle,omitempty"`
	MetaDescription string `json:"metaDescription,omitempty"`
	MetaKeywords    string `json:"metaKeywords,omitempty"`
	RobotsTxt       string `json:"robotsTxt,omitempty"`
	SitemapEnabled  bool   `json:"sitemapEnabled,omitempty"`
}

// RateLimitPolicy is the per-tenant request budget.
type RateLimitPolicy struct {
	Requests int `json:"requests"`
	WindowMS int `json:"windowMs"`
}

// Security carries the tenant secret triple plus API access policy.
type Security struct {
	JWTSecret     string          `json:"jwtSecret"`
	EncryptionKey string          `json:"encryptionKey"`
	SessionSecret string          `json:"sessionSecret"`
	APIKey        string          `json:"apiKey,omitempty"`
	CORSOrigins   []string        `json:"corsOrigins,omitempty"`
	RateLimit     RateLimitPolicy `json:"rateLimit,omitempty"`
}

// SMTP is the optional outbound-mail relay.
type SMTP struct {
	Enabled   bool   `json:"enabled"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	FromEmail string `json:"fromEmail,omitempty"`
	Secure    bool   `json:"secure,omitempty"`
}

// Storage describes the asset backend.  Required fields depend on Type;
// see the validator.
type Storage struct {
	Type      StorageType `json:"type"`
	BasePath  string      `json:"basePath,omitempty"`
	Bucket    string      `json:"bucket,omitempty"`
	Region    string      `json:"region,omitempty"`
	AccessKey string      `json:"accessKey,omitempty"`
	SecretKey string      `json:"secretKey,omitempty"`
	CloudName string      `json:"cloudName,omitempty"`
	Endpoint  string      `json:"endpoint,omitempty"`
}

// AdminUser is the optional initial admin contact captured at create time.
type AdminUser struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	// PasswordHash is a bcrypt hash; the clear-text password never lands
	// in the descriptor.
	PasswordHash string `json:"passwordHash,omitempty"`
}

// Descriptor is the authoritative record for one tenant.
type Descriptor struct {
	TenantID    string            `json:"tenantId"`
	Name        string            `json:"name"`
	Subdomain   string            `json:"subdomain"`
	Domain      string            `json:"domain,omitempty"`
	Status      Status            `json:"status"`
	Database    DBConfig          `json:"database"`
	Features    Features          `json:"features"`
	Limits      Limits            `json:"limits"`
	Branding    Branding          `json:"branding,omitempty"`
	SEO         SEO               `json:"seo,omitempty"`
	Security    Security          `json:"security"`
	SMTP        *SMTP             `json:"smtp,omitempty"`
	Storage     Storage           `json:"storage"`
	Environment map[string]string `json:"environment,omitempty"`
	AdminUser   *AdminUser        `json:"adminUser,omitempty"`
	// StatusNote records who or what last changed Status, and when.
	StatusNote string    `json:"statusNote,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CreateRequest is the admin-facing payload for provisioning a tenant.
type CreateRequest struct {
	Name          string            `json:"name"`
	Subdomain     string            `json:"subdomain"`
	Domain        string            `json:"domain,omitempty"`
	Tier          string            `json:"tier,omitempty"`
	AdminEmail    string            `json:"adminEmail,omitempty"`
	AdminPassword string            `json:"adminPassword,omitempty"`
	Features      *Features         `json:"features,omitempty"`
	Limits        *Limits           `json:"limits,omitempty"`
	Branding      *Branding         `json:"branding,omitempty"`
	Environment   map[string]string `json:"environment,omitempty"`
}

// Clone returns a deep copy of the descriptor.  Cached descriptors are
// shared between concurrent readers, so every mutation path copies first
// and swaps the new record in through Store.Save.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	out := *d
	if d.SMTP != nil {
		smtp := *d.SMTP
		out.SMTP = &smtp
	}
	if d.AdminUser != nil {
		au := *d.AdminUser
		out.AdminUser = &au
	}
	if d.Security.CORSOrigins != nil {
		out.Security.CORSOrigins = append([]string(nil), d.Security.CORSOrigins...)
	}
	if d.Environment != nil {
		out.Environment = make(map[string]string, len(d.Environment))
		for k, v := range d.Environment {
			out.Environment[k] = v
		}
	}
	return &out
}
