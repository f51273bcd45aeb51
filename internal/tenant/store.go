// internal/tenant/store.go
//
// File-backed descriptor store with a TTL cache.
//
// Context
// -------
// The Store owns `<configRoot>/<tenantId>.json`.  Reads go through a
// sync.Map cache whose entries expire after TTL (default five minutes);
// cold loads are collapsed with singleflight so a thundering herd on one
// tenant costs a single disk read.  Mutations are serialised per tenantId
// by a keyed mutex, and every write is temp-file + rename so readers see
// either the old or the new descriptor, never a torn one.
//
// Notes
// -----
//   - A missing descriptor file is (nil, nil), not an error; callers
//     decide whether absence is fatal.
//   - Save validates before touching disk.
package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/WhitecodeAi/aicms-core/internal/metrics"
)

// DefaultTTL is how long a cached descriptor stays fresh.
const DefaultTTL = 5 * time.Minute

// ErrInvalid wraps a failed validation inside Save.
var ErrInvalid = errors.New("descriptor failed validation")

type cacheEntry struct {
	desc     *Descriptor
	loadedAt time.Time // monotonic-backed
}

// Store reads and writes tenant descriptors under one config root.
type Store struct {
	root string
	ttl  time.Duration
	sfg  singleflight.Group
	m    sync.Map // tenantId → *cacheEntry

	muMu  sync.Mutex
	locks map[string]*sync.Mutex // per-tenant write serialisation
}

// NewStore builds a Store over root.  ttl <= 0 selects DefaultTTL.
func NewStore(root string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("config root: %w", err)
	}
	return &Store{
		root:  root,
		ttl:   ttl,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Root exposes the config root for collaborators (domain mapper, CLI).
func (s *Store) Root() string { return s.root }

func (s *Store) path(id string) string {
	return filepath.Join(s.root, id+".json")
}

func (s *Store) lock(id string) *sync.Mutex {
	s.muMu.Lock()
	defer s.muMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// Get returns the descriptor for id, or nil when no file exists.  Cached
// entries are served until their TTL lapses; expired entries are removed
// on access.  The returned pointer is shared with every concurrent reader:
// treat it as read-only, and Clone before mutating.
func (s *Store) Get(id string) (*Descriptor, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, nil
	}

	if v, ok := s.m.Load(id); ok {
		ent := v.(*cacheEntry)
		if time.Since(ent.loadedAt) < s.ttl {
			metrics.ConfigCacheHits.Inc()
			return ent.desc, nil
		}
		s.m.Delete(id)
	}

	v, err, _ := s.sfg.Do(id, func() (interface{}, error) {
		// Double-check after singleflight barrier.
		if v, ok := s.m.Load(id); ok {
			ent := v.(*cacheEntry)
			if time.Since(ent.loadedAt) < s.ttl {
				return ent.desc, nil
			}
		}
		metrics.ConfigCacheMisses.Inc()
		desc, err := s.readFile(id)
		if err != nil {
			return nil, err
		}
		if desc != nil {
			s.m.Store(id, &cacheEntry{desc: desc, loadedAt: time.Now()})
		}
		return desc, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*Descriptor), nil
}

func (s *Store) readFile(id string) (*Descriptor, error) {
	raw, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read descriptor %s: %w", id, err)
	}
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse descriptor %s: %w", id, err)
	}
	return &d, nil
}

// Exists reports whether a descriptor file is present for id.
func (s *Store) Exists(id string) bool {
	_, err := os.Stat(s.path(id))
	return err == nil
}

// FindBySubdomain scans all descriptors for a matching subdomain.
func (s *Store) FindBySubdomain(sub string) (*Descriptor, error) {
	return s.find(func(d *Descriptor) bool { return d.Subdomain == sub })
}

// FindByDomain scans all descriptors for a matching custom domain.
func (s *Store) FindByDomain(domain string) (*Descriptor, error) {
	if domain == "" {
		return nil, nil
	}
	return s.find(func(d *Descriptor) bool { return d.Domain == domain })
}

func (s *Store) find(match func(*Descriptor) bool) (*Descriptor, error) {
	ids, err := s.ids()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		d, err := s.Get(id)
		if err != nil {
			continue // one bad file must not break the scan
		}
		if d != nil && match(d) {
			return d, nil
		}
	}
	return nil, nil
}

func (s *Store) ids() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list config root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if name == "domain-mappings.json" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// List loads every descriptor, sorted by display name ascending.
func (s *Store) List() ([]*Descriptor, error) {
	ids, err := s.ids()
	if err != nil {
		return nil, err
	}
	out := make([]*Descriptor, 0, len(ids))
	for _, id := range ids {
		d, err := s.Get(id)
		if err != nil || d == nil {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save validates d, writes it atomically, and invalidates the cache entry.
func (s *Store) Save(d *Descriptor) error {
	if res := Validate(d); !res.Valid {
		return fmt.Errorf("%w: %s", ErrInvalid, res.Errors[0].Message)
	}

	mu := s.lock(d.TenantID)
	mu.Lock()
	defer mu.Unlock()

	d.UpdatedAt = time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = d.UpdatedAt
	}

	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal descriptor %s: %w", d.TenantID, err)
	}
	if err := atomicWrite(s.path(d.TenantID), raw); err != nil {
		return err
	}

	s.m.Delete(d.TenantID)
	return nil
}

// Delete removes the descriptor file and evicts the cache entry.  It
// returns false (and no error) when the file was already gone.
func (s *Store) Delete(id string) (bool, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	err := os.Remove(s.path(id))
	s.m.Delete(id)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete descriptor %s: %w", id, err)
	}
	return true, nil
}

// Invalidate drops one cached entry without touching disk.
func (s *Store) Invalidate(id string) { s.m.Delete(id) }

// atomicWrite is temp-file + rename in the target directory, so the
// rename never crosses filesystems.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
