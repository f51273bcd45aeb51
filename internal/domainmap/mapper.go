// internal/domainmap/mapper.go
//
// Persisted domain → env-file mapping.
//
// Context
// -------
// The Mapper owns `<configRoot>/domain-mappings.json`, an ordered array of
// entries relating public hostnames to env files.  It is consulted by the
// env-file manager when materialising a request's environment, and by the
// admin CLI.  A default mapping is created on first use so a fresh install
// resolves something sensible.
//
// Resolution policy (Resolve)
// ---------------------------
//  1. Strip any :port from the host.
//  2. Exact domain match wins.
//  3. Otherwise split host into `subdomain . baseDomain`; among entries
//     sharing that baseDomain, match the subdomain by equality or
//     substring-contains in either direction; first hit wins.
//
// Notes
// -----
//   - Writes are guarded by one mutex and are temp-file + rename.
//   - Domains are unique within the mapping; Upsert replaces in place.
package domainmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TenantType distinguishes the admin console host from the public site.
type TenantType string

const (
	TypeAdmin   TenantType = "admin"
	TypeWebsite TenantType = "website"
)

// Entry is one persisted mapping row.
type Entry struct {
	Domain     string     `json:"domain"`
	EnvFile    string     `json:"envFile"`
	TenantType TenantType `json:"tenantType"`
	IsActive   bool       `json:"isActive"`
}

// EnvFileName derives the canonical env-file name for a domain: ".env."
// plus the domain with every dot removed.
func EnvFileName(domain string) string {
	return ".env." + strings.ReplaceAll(domain, ".", "")
}

// Mapper loads, caches, and persists the mapping file.
type Mapper struct {
	path string

	mu      sync.Mutex
	entries []Entry
	loaded  bool
}

// New builds a Mapper over `<configRoot>/domain-mappings.json`.
func New(configRoot string) *Mapper {
	return &Mapper{path: filepath.Join(configRoot, "domain-mappings.json")}
}

// defaultEntries seed a fresh install.
func defaultEntries() []Entry {
	return []Entry{
		{Domain: "localhost", EnvFile: ".env.localhost", TenantType: TypeWebsite, IsActive: true},
	}
}

func (m *Mapper) load() error {
	if m.loaded {
		return nil
	}
	raw, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		m.entries = defaultEntries()
		m.loaded = true
		return m.persist()
	}
	if err != nil {
		return fmt.Errorf("read domain mappings: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parse domain mappings: %w", err)
	}
	m.entries = entries
	m.loaded = true
	return nil
}

func (m *Mapper) persist() error {
	raw, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, m.path)
}

// List returns a copy of all entries.
func (m *Mapper) List() ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return nil, err
	}
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

// Upsert inserts or replaces the entry for e.Domain.  An empty EnvFile is
// filled with the canonical name.
func (m *Mapper) Upsert(e Entry) error {
	if e.Domain == "" {
		return errors.New("domain is required")
	}
	if e.EnvFile == "" {
		e.EnvFile = EnvFileName(e.Domain)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return err
	}
	for i := range m.entries {
		if m.entries[i].Domain == e.Domain {
			m.entries[i] = e
			return m.persist()
		}
	}
	m.entries = append(m.entries, e)
	return m.persist()
}

// Remove deletes the entry for domain.  Removing an absent domain is a
// no-op success.
func (m *Mapper) Remove(domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return err
	}
	for i := range m.entries {
		if m.entries[i].Domain == domain {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return m.persist()
		}
	}
	return nil
}

// Get returns the entry for an exact domain, or nil.
func (m *Mapper) Get(domain string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return nil, err
	}
	for i := range m.entries {
		if m.entries[i].Domain == domain {
			e := m.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

// Resolve maps a request host to its best mapping entry, or nil.
func (m *Mapper) Resolve(host string) (*Entry, error) {
	host = stripPort(host)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return nil, err
	}

	// Exact match wins.
	for i := range m.entries {
		if m.entries[i].Domain == host {
			e := m.entries[i]
			return &e, nil
		}
	}

	// Fuzzy: same base domain, related subdomain.
	sub, base, ok := splitHost(host)
	if !ok {
		return nil, nil
	}
	for i := range m.entries {
		esub, ebase, ok := splitHost(m.entries[i].Domain)
		if !ok || ebase != base {
			continue
		}
		if esub == sub || strings.Contains(esub, sub) || strings.Contains(sub, esub) {
			e := m.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

// splitHost divides "a.b.c" into ("a", "b.c").  Hosts with fewer than
// three labels have no subdomain to split.
func splitHost(h string) (sub, base string, ok bool) {
	parts := strings.SplitN(h, ".", 2)
	if len(parts) != 2 || !strings.Contains(parts[1], ".") {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// stripPort removes the :port suffix from Host when present.
func stripPort(h string) string {
	if i := strings.IndexByte(h, ':'); i != -1 {
		return h[:i]
	}
	return h
}
