// internal/envfile/envfile.go
//
// Per-domain KEY=VALUE env-file manager.
//
// Context
// -------
// Every tenant domain owns one dotenv file, `.env.<domain with dots
// stripped>`, holding its runtime environment (database URL, secrets,
// application settings).  This package generates, updates, validates, and
// deletes those files, and keeps the domain mapper in sync.  Parsing
// delegates to godotenv so quoting and comment semantics match what the
// tenant applications themselves use; generation renders a canonical
// section layout so hand-edited files stay diffable.
//
// Notes
// -----
//   - All writes are temp-file + rename, guarded by a per-domain lock.
//   - Missing secrets are filled with 32 bytes of crypto/rand hex.
//   - Deleting an absent file is a success, not an error.
package envfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/WhitecodeAi/aicms-core/internal/domainmap"
	"github.com/WhitecodeAi/aicms-core/internal/tenant"
)

// Required keys every tenant env file must carry.
var RequiredKeys = []string{"DATABASE_URL", "TENANT_ID", "JWT_SECRET"}

// dbInputKeys are the inputs DATABASE_URL is derived from; changing any
// of them through Update refreshes the URL.
var dbInputKeys = []string{
	"DATABASE_TYPE", "DATABASE_HOST", "DATABASE_PORT", "DATABASE_NAME",
	"DATABASE_USER", "DATABASE_PASSWORD", "DATABASE_CHARSET",
}

// knownSchemes DATABASE_URL may start with.
var knownSchemes = []string{"mysql://", "postgresql://", "postgres://", "sqlite://"}

// Template carries the values Generate renders.  Zero-value secrets are
// filled with fresh random hex.
type Template struct {
	TenantID   string
	TenantName string
	Database   tenant.DBConfig

	JWTSecret     string
	EncryptionKey string
	SessionSecret string

	AppURL string
	Extra  map[string]string
}

// Result reports what Generate produced.
type Result struct {
	EnvFile     string    `json:"envFile"`
	EnvPath     string    `json:"envPath"`
	DatabaseURL string    `json:"databaseUrl"`
	TenantID    string    `json:"tenantId"`
	Domain      string    `json:"domain"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Info joins one mapping entry with filesystem state for List.
type Info struct {
	domainmap.Entry
	Exists  bool      `json:"exists"`
	Size    int64     `json:"size,omitempty"`
	ModTime time.Time `json:"modTime,omitempty"`
}

// Validation is the outcome of Validate.
type Validation struct {
	Domain   string   `json:"domain"`
	EnvFile  string   `json:"envFile"`
	Exists   bool     `json:"exists"`
	Valid    bool     `json:"valid"`
	Missing  []string `json:"missing,omitempty"`
	Problems []string `json:"problems,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Manager owns the env files under one root directory.
type Manager struct {
	root   string
	mapper *domainmap.Mapper

	muMu  sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a Manager writing under root and registering domains with
// mapper.
func New(root string, mapper *domainmap.Mapper) *Manager {
	return &Manager{root: root, mapper: mapper, locks: make(map[string]*sync.Mutex)}
}

// Path returns the absolute env-file path for a domain.
func (m *Manager) Path(domain string) string {
	return filepath.Join(m.root, domainmap.EnvFileName(domain))
}

func (m *Manager) lock(domain string) *sync.Mutex {
	m.muMu.Lock()
	defer m.muMu.Unlock()
	mu, ok := m.locks[domain]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[domain] = mu
	}
	return mu
}

//
// Generate
//

// Generate renders the canonical env file for domain, writes it, and
// upserts the domain mapping.  tenantType distinguishes the admin console
// host from the public website host.
func (m *Manager) Generate(domain string, tpl Template, tenantType domainmap.TenantType) (*Result, error) {
	if domain == "" {
		return nil, errors.New("domain is required")
	}
	if tpl.TenantID == "" {
		return nil, errors.New("template tenantId is required")
	}
	fillSecrets(&tpl)

	body := render(domain, tpl)

	mu := m.lock(domain)
	mu.Lock()
	defer mu.Unlock()

	path := m.Path(domain)
	if err := atomicWrite(path, []byte(body)); err != nil {
		return nil, fmt.Errorf("write env file for %s: %w", domain, err)
	}
	if err := m.mapper.Upsert(domainmap.Entry{
		Domain:     domain,
		EnvFile:    domainmap.EnvFileName(domain),
		TenantType: tenantType,
		IsActive:   true,
	}); err != nil {
		return nil, fmt.Errorf("map domain %s: %w", domain, err)
	}

	return &Result{
		EnvFile:     domainmap.EnvFileName(domain),
		EnvPath:     path,
		DatabaseURL: tpl.Database.URL(),
		TenantID:    tpl.TenantID,
		Domain:      domain,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// GeneratePair creates the admin and website env files for one tenant
// under a base domain.  The pair is atomic: if the second write fails the
// first is rolled back.
func (m *Manager) GeneratePair(baseDomain, tenantID string, tpl Template) (admin, website *Result, err error) {
	if baseDomain == "" || tenantID == "" {
		return nil, nil, errors.New("baseDomain and tenantId are required")
	}
	tpl.TenantID = tenantID
	fillSecrets(&tpl)

	adminDomain := fmt.Sprintf("%sadmin.%s", tenantID, baseDomain)
	siteDomain := fmt.Sprintf("%s.%s", tenantID, baseDomain)

	adminTpl := tpl
	adminTpl.Database.Database = tenantID + "_admin_cms"
	siteTpl := tpl
	siteTpl.Database.Database = tenantID + "_cms"

	admin, err = m.Generate(adminDomain, adminTpl, domainmap.TypeAdmin)
	if err != nil {
		return nil, nil, err
	}
	website, err = m.Generate(siteDomain, siteTpl, domainmap.TypeWebsite)
	if err != nil {
		_ = m.Delete(adminDomain)
		return nil, nil, err
	}
	return admin, website, nil
}

//
// Update
//

// Update rewrites matching KEY lines in place, appends missing keys, and
// refreshes DATABASE_URL when any database input changed.
func (m *Manager) Update(domain string, changes map[string]string) error {
	if len(changes) == 0 {
		return nil
	}

	mu := m.lock(domain)
	mu.Lock()
	defer mu.Unlock()

	path := m.Path(domain)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read env file for %s: %w", domain, err)
	}

	lines := strings.Split(string(raw), "\n")
	pending := make(map[string]string, len(changes))
	for k, v := range changes {
		pending[k] = v
	}

	dbChanged := false
	for i, line := range lines {
		key := lineKey(line)
		if key == "" {
			continue
		}
		if val, ok := pending[key]; ok {
			lines[i] = key + "=" + val
			delete(pending, key)
			if isDBInput(key) {
				dbChanged = true
			}
		}
	}

	// Append anything not already present, in stable order.
	if len(pending) > 0 {
		keys := make([]string, 0, len(pending))
		for k := range pending {
			keys = append(keys, k)
			if isDBInput(k) {
				dbChanged = true
			}
		}
		sort.Strings(keys)
		if lines[len(lines)-1] != "" {
			lines = append(lines, "")
		}
		for _, k := range keys {
			lines = append(lines, k+"="+pending[k])
		}
	}

	if dbChanged {
		lines = refreshDatabaseURL(lines)
	}

	out := strings.Join(lines, "\n")
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return atomicWrite(path, []byte(out))
}

// refreshDatabaseURL rebuilds DATABASE_URL from the DATABASE_* lines.
func refreshDatabaseURL(lines []string) []string {
	vals, err := godotenv.Parse(strings.NewReader(strings.Join(lines, "\n")))
	if err != nil {
		return lines
	}
	cfg := tenant.DBConfig{
		Type:     tenant.DBType(vals["DATABASE_TYPE"]),
		Host:     vals["DATABASE_HOST"],
		Database: vals["DATABASE_NAME"],
		Username: vals["DATABASE_USER"],
		Password: vals["DATABASE_PASSWORD"],
	}
	if cfg.Type == "" {
		cfg.Type = tenant.DBMySQL
	}
	fmt.Sscanf(vals["DATABASE_PORT"], "%d", &cfg.Port)
	url := cfg.URL()
	for i, line := range lines {
		if lineKey(line) == "DATABASE_URL" {
			lines[i] = "DATABASE_URL=" + url
			return lines
		}
	}
	return append(lines, "DATABASE_URL="+url)
}

//
// Delete, Load, List, Validate
//

// Delete removes the env file and its mapping entry.  An absent file is a
// success.
func (m *Manager) Delete(domain string) error {
	mu := m.lock(domain)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(m.Path(domain)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete env file for %s: %w", domain, err)
	}
	return m.mapper.Remove(domain)
}

// Load parses the env file for domain into a map.
func (m *Manager) Load(domain string) (map[string]string, error) {
	vals, err := godotenv.Read(m.Path(domain))
	if err != nil {
		return nil, fmt.Errorf("load env for %s: %w", domain, err)
	}
	return vals, nil
}

// List joins mapping entries with filesystem stat information.
func (m *Manager) List() ([]Info, error) {
	entries, err := m.mapper.List()
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		info := Info{Entry: e}
		if st, err := os.Stat(filepath.Join(m.root, e.EnvFile)); err == nil {
			info.Exists = true
			info.Size = st.Size()
			info.ModTime = st.ModTime()
		}
		out = append(out, info)
	}
	return out, nil
}

// Validate checks presence, required keys, DATABASE_URL scheme, and
// secret lengths for one domain's env file.
func (m *Manager) Validate(domain string) (*Validation, error) {
	v := &Validation{Domain: domain, EnvFile: domainmap.EnvFileName(domain)}

	vals, err := godotenv.Read(m.Path(domain))
	if errors.Is(err, fs.ErrNotExist) {
		v.Problems = append(v.Problems, "env file does not exist")
		return v, nil
	}
	if err != nil {
		return nil, fmt.Errorf("validate env for %s: %w", domain, err)
	}
	v.Exists = true

	for _, key := range RequiredKeys {
		if vals[key] == "" {
			v.Missing = append(v.Missing, key)
		}
	}
	if url := vals["DATABASE_URL"]; url != "" && !hasKnownScheme(url) {
		v.Problems = append(v.Problems, "DATABASE_URL has an unknown scheme")
	}
	for _, key := range []string{"JWT_SECRET", "ENCRYPTION_KEY", "SESSION_SECRET"} {
		if s := vals[key]; s != "" && len(s) < 32 {
			v.Warnings = append(v.Warnings, key+" is shorter than 32 characters")
		}
	}

	v.Valid = len(v.Missing) == 0 && len(v.Problems) == 0
	return v, nil
}

//
// rendering helpers
//

func fillSecrets(tpl *Template) {
	if tpl.JWTSecret == "" {
		tpl.JWTSecret = tenant.NewSecret()
	}
	if tpl.EncryptionKey == "" {
		tpl.EncryptionKey = tenant.NewSecret()
	}
	if tpl.SessionSecret == "" {
		tpl.SessionSecret = tenant.NewSecret()
	}
}

// render produces the canonical section layout: database, tenant,
// security, application, additional.
func render(domain string, tpl Template) string {
	var b strings.Builder
	db := tpl.Database

	fmt.Fprintf(&b, "# Environment for %s\n", domain)
	fmt.Fprintf(&b, "# Generated %s\n\n", time.Now().UTC().Format(time.RFC3339))

	b.WriteString("# Database Configuration\n")
	fmt.Fprintf(&b, "DATABASE_URL=%s\n", db.URL())
	fmt.Fprintf(&b, "DATABASE_TYPE=%s\n", db.Type)
	fmt.Fprintf(&b, "DATABASE_HOST=%s\n", db.Host)
	fmt.Fprintf(&b, "DATABASE_PORT=%d\n", db.Port)
	fmt.Fprintf(&b, "DATABASE_NAME=%s\n", db.Database)
	fmt.Fprintf(&b, "DATABASE_USER=%s\n", db.Username)
	fmt.Fprintf(&b, "DATABASE_PASSWORD=%s\n", db.Password)
	b.WriteString("DATABASE_CHARSET=utf8mb4\n\n")

	b.WriteString("# Tenant Configuration\n")
	fmt.Fprintf(&b, "TENANT_ID=%s\n", tpl.TenantID)
	fmt.Fprintf(&b, "TENANT_NAME=%s\n\n", quoteIfNeeded(tpl.TenantName))

	b.WriteString("# Security\n")
	fmt.Fprintf(&b, "JWT_SECRET=%s\n", tpl.JWTSecret)
	fmt.Fprintf(&b, "ENCRYPTION_KEY=%s\n", tpl.EncryptionKey)
	fmt.Fprintf(&b, "SESSION_SECRET=%s\n\n", tpl.SessionSecret)

	b.WriteString("# Application\n")
	appURL := tpl.AppURL
	if appURL == "" {
		appURL = "https://" + domain
	}
	fmt.Fprintf(&b, "APP_URL=%s\n", appURL)

	if len(tpl.Extra) > 0 {
		b.WriteString("\n# Additional\n")
		keys := make([]string, 0, len(tpl.Extra))
		for k := range tpl.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s=%s\n", k, quoteIfNeeded(tpl.Extra[k]))
		}
	}
	return b.String()
}

// quoteIfNeeded wraps values containing spaces or # in double quotes so
// godotenv round-trips them.
func quoteIfNeeded(v string) string {
	if strings.ContainsAny(v, " #\t") {
		return `"` + v + `"`
	}
	return v
}

// lineKey extracts KEY from a "KEY=VALUE" line; comments and blanks
// return "".
func lineKey(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return ""
	}
	i := strings.IndexByte(trimmed, '=')
	if i <= 0 {
		return ""
	}
	return strings.TrimSpace(trimmed[:i])
}

func isDBInput(key string) bool {
	for _, k := range dbInputKeys {
		if k == key {
			return true
		}
	}
	return false
}

func hasKnownScheme(url string) bool {
	for _, s := range knownSchemes {
		if strings.HasPrefix(url, s) {
			return true
		}
	}
	return false
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
