// internal/pool/manager.go
//
// Per-tenant database connection pools.
//
// Context
// -------
// The Manager holds one live *sqlx.DB per tenant.  Get reuses the pool
// while the supplied DBConfig is byte-equal to the stored one; any change
// in host, port, database, user, password, or connectionLimit closes the
// old pool before a new one is opened.  Cold opens are verified with a
// trivial probe.
//
// Locking discipline
// ------------------
// The manager mutex guards only the slot map; each slot owns a mutex
// guarding its entry.  The dial itself runs with no lock held, so a slow
// server never wedges a slot; MaxPerTenant bounds the dials in flight per
// tenant, and racing openers of an identical config converge on whichever
// pool lands first.  No user query ever runs while either lock is held.
// The reaper takes the same slot lock, which is what makes reap-vs-Get
// race-free: a Get either finds the slot empty and reopens, or touches
// lastUsed before the reaper's idle check.
//
// Notes
// -----
//   - Caps: MaxTotal live pools process-wide, MaxPerTenant concurrent
//     opens per tenant.  Exceeding either surfaces
//     DATABASE_CONNECTION_FAILED, which the HTTP edge maps to 503.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/WhitecodeAi/aicms-core/internal/errdefs"
	"github.com/WhitecodeAi/aicms-core/internal/metrics"
	"github.com/WhitecodeAi/aicms-core/internal/tenant"
)

// Static defaults.  Override via Options.
const (
	DefaultMaxIdle      = 30 * time.Minute
	DefaultReapInterval = 5 * time.Minute
	DefaultMaxTotal     = 50
	DefaultMaxPerTenant = 5
	DefaultConnLimit    = 10
	probeTimeout        = 5 * time.Second
)

// Options tunes a Manager.
type Options struct {
	MaxTotal     int
	MaxPerTenant int
	MaxIdle      time.Duration
	ReapInterval time.Duration
}

func (o *Options) fill() {
	if o.MaxTotal == 0 {
		o.MaxTotal = DefaultMaxTotal
	}
	if o.MaxPerTenant == 0 {
		o.MaxPerTenant = DefaultMaxPerTenant
	}
	if o.MaxIdle == 0 {
		o.MaxIdle = DefaultMaxIdle
	}
	if o.ReapInterval == 0 {
		o.ReapInterval = DefaultReapInterval
	}
}

// entry is one live pool bound to the config that opened it.
type entry struct {
	db       *sqlx.DB
	cfg      tenant.DBConfig
	lastUsed int64 // UnixNano, atomic
	inFlight int64 // atomic
}

func (e *entry) touch() { atomic.StoreInt64(&e.lastUsed, time.Now().UnixNano()) }

// slot serialises entry transitions for one tenant.
type slot struct {
	mu  sync.Mutex
	ent *entry
	// opening counts dials in flight; bounded by MaxPerTenant.
	opening int
}

// Manager owns every tenant pool in the process.
type Manager struct {
	opts Options

	mu    sync.Mutex
	slots map[string]*slot
	live  int64 // atomic count of open entries

	// dial opens one database handle; swapped in tests.
	dial func(driverName, dsn string) (*sqlx.DB, error)

	reapTicker *time.Ticker
	done       chan struct{}
	closeOnce  sync.Once
}

// New constructs a Manager and starts the background reaper.
func New(opts Options) *Manager {
	opts.fill()
	m := &Manager{
		opts:  opts,
		slots: make(map[string]*slot),
		dial:  sqlx.Open,
		done:  make(chan struct{}),
	}
	m.reapTicker = time.NewTicker(opts.ReapInterval)
	go m.reapLoop()
	return m
}

func (m *Manager) slot(tenantID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[tenantID]
	if !ok {
		s = &slot{}
		m.slots[tenantID] = s
	}
	return s
}

// Get returns the pool for (tenantID, cfg), opening or replacing as
// needed.  The returned *sqlx.DB is owned by the manager; callers must
// not Close it.
func (m *Manager) Get(ctx context.Context, tenantID string, cfg tenant.DBConfig) (*sqlx.DB, error) {
	if cfg.ConnectionLimit == 0 {
		cfg.ConnectionLimit = DefaultConnLimit
	}

	s := m.slot(tenantID)

	s.mu.Lock()
	if s.ent != nil {
		if s.ent.cfg.Equal(cfg) {
			s.ent.touch()
			db := s.ent.db
			s.mu.Unlock()
			return db, nil
		}
		// Config changed: retire the old pool before opening the new one.
		m.closeEntryLocked(tenantID, s)
	}
	if s.opening >= m.opts.MaxPerTenant {
		s.mu.Unlock()
		return nil, errdefs.Newf(errdefs.KindDBConnection,
			"tenant %s exceeded %d concurrent pool opens", tenantID, m.opts.MaxPerTenant).
			WithTenant(tenantID)
	}
	if int(atomic.LoadInt64(&m.live)) >= m.opts.MaxTotal {
		s.mu.Unlock()
		return nil, errdefs.Newf(errdefs.KindDBConnection,
			"pool manager at capacity (%d live pools)", m.opts.MaxTotal).
			WithTenant(tenantID)
	}
	s.opening++
	s.mu.Unlock()

	// The dial runs outside the slot lock so a slow or hanging server
	// never wedges the tenant's slot; MaxPerTenant bounds how many of
	// these can be in flight at once.
	db, err := m.open(ctx, tenantID, cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opening--
	if err != nil {
		return nil, err
	}

	if s.ent != nil {
		if s.ent.cfg.Equal(cfg) {
			// A racing opener installed the same pool first; adopt it.
			_ = db.Close()
			s.ent.touch()
			return s.ent.db, nil
		}
		m.closeEntryLocked(tenantID, s)
	}
	s.ent = &entry{db: db, cfg: cfg}
	s.ent.touch()
	atomic.AddInt64(&m.live, 1)
	metrics.PoolOpensTotal.Inc()
	metrics.ActivePools.Inc()
	return db, nil
}

// open dials, sizes, and probes a new pool.
func (m *Manager) open(ctx context.Context, tenantID string, cfg tenant.DBConfig) (*sqlx.DB, error) {
	driver, err := driverFor(cfg.Type)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindTenantDatabase, "unsupported database type", err).
			WithTenant(tenantID)
	}

	db, err := m.dial(driver, cfg.DSN())
	if err != nil {
		return nil, Classify(err).WithTenant(tenantID)
	}
	db.SetMaxOpenConns(cfg.ConnectionLimit)
	db.SetMaxIdleConns(min(cfg.ConnectionLimit, 5))
	db.SetConnMaxLifetime(30 * time.Minute)

	// Verify connectivity with one probe connection before caching.
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	conn, err := db.Connx(probeCtx)
	if err != nil {
		db.Close()
		return nil, Classify(err).WithTenant(tenantID)
	}
	if _, err := conn.ExecContext(probeCtx, "SELECT 1"); err != nil {
		conn.Close()
		db.Close()
		return nil, Classify(err).WithTenant(tenantID)
	}
	conn.Close()

	zap.S().Infow("tenant pool opened",
		"tenant", tenantID, "database", cfg.Database, "limit", cfg.ConnectionLimit)
	return db, nil
}

// driverFor maps the closed DBType set onto registered driver names.
func driverFor(t tenant.DBType) (string, error) {
	switch t {
	case tenant.DBMySQL, "":
		return "mysql", nil
	case tenant.DBPostgreSQL:
		return "pgx", nil
	case tenant.DBSQLite:
		return "", fmt.Errorf("sqlite driver is not linked into this build")
	default:
		return "", fmt.Errorf("unknown database type %q", t)
	}
}

// closeEntryLocked closes and forgets the slot's entry.  Caller holds the
// slot lock.
func (m *Manager) closeEntryLocked(tenantID string, s *slot) {
	if s.ent == nil {
		return
	}
	_ = s.ent.db.Close()
	s.ent = nil
	atomic.AddInt64(&m.live, -1)
	metrics.PoolClosesTotal.Inc()
	metrics.ActivePools.Dec()
	zap.S().Infow("tenant pool closed", "tenant", tenantID)
}

// Close removes and closes the pool for one tenant, if present.
func (m *Manager) Close(tenantID string) {
	s := m.slot(tenantID)
	s.mu.Lock()
	m.closeEntryLocked(tenantID, s)
	s.mu.Unlock()
}

// Shutdown stops the reaper and closes every pool.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() {
		m.reapTicker.Stop()
		close(m.done)
	})

	m.mu.Lock()
	ids := make([]string, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}
}

//
// Query helpers with in-flight accounting
//

// ExecuteQuery runs one ad-hoc query on the tenant pool and scans each
// row into a map.  inFlight is held for the duration so the reaper never
// closes a pool mid-query.
func (m *Manager) ExecuteQuery(ctx context.Context, tenantID string, cfg tenant.DBConfig, query string, args ...any) ([]map[string]any, error) {
	db, ent, err := m.getEntry(ctx, tenantID, cfg)
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&ent.inFlight, 1)
	defer func() {
		atomic.AddInt64(&ent.inFlight, -1)
		ent.touch()
	}()

	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, Classify(err).WithTenant(tenantID)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, Classify(err).WithTenant(tenantID)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err).WithTenant(tenantID)
	}
	return out, nil
}

// ExecuteTransaction acquires a dedicated connection, begins a
// transaction, runs fn, and commits — or rolls back when fn errors.  An
// error from BEGIN, COMMIT, or ROLLBACK itself is fatal to the
// transaction and reported to the caller.
func (m *Manager) ExecuteTransaction(ctx context.Context, tenantID string, cfg tenant.DBConfig, fn func(*sqlx.Tx) error) error {
	db, ent, err := m.getEntry(ctx, tenantID, cfg)
	if err != nil {
		return err
	}
	atomic.AddInt64(&ent.inFlight, 1)
	defer func() {
		atomic.AddInt64(&ent.inFlight, -1)
		ent.touch()
	}()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return Classify(err).WithTenant(tenantID)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errdefs.Wrap(errdefs.KindTenantDatabase, "rollback failed", rbErr).
				WithTenant(tenantID).WithDetail("cause", err.Error())
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return Classify(err).WithTenant(tenantID)
	}
	return nil
}

// getEntry is Get plus access to the entry for in-flight accounting.
func (m *Manager) getEntry(ctx context.Context, tenantID string, cfg tenant.DBConfig) (*sqlx.DB, *entry, error) {
	db, err := m.Get(ctx, tenantID, cfg)
	if err != nil {
		return nil, nil, err
	}
	s := m.slot(tenantID)
	s.mu.Lock()
	ent := s.ent
	s.mu.Unlock()
	if ent == nil || ent.db != db {
		// Replaced between Get and here; retry once through Get.
		return m.getEntry(ctx, tenantID, cfg)
	}
	return db, ent, nil
}

//
// Introspection
//

// PoolStat is a read-only snapshot of one live pool.
type PoolStat struct {
	TenantID string    `json:"tenantId"`
	Database string    `json:"database"`
	InFlight int64     `json:"inFlight"`
	LastUsed time.Time `json:"lastUsed"`
	Open     int       `json:"openConnections"`
	Idle     int       `json:"idleConnections"`
}

// Stats snapshots every live pool.
func (m *Manager) Stats() []PoolStat {
	m.mu.Lock()
	type pair struct {
		id string
		s  *slot
	}
	pairs := make([]pair, 0, len(m.slots))
	for id, s := range m.slots {
		pairs = append(pairs, pair{id, s})
	}
	m.mu.Unlock()

	var out []PoolStat
	for _, p := range pairs {
		p.s.mu.Lock()
		if ent := p.s.ent; ent != nil {
			st := ent.db.Stats()
			out = append(out, PoolStat{
				TenantID: p.id,
				Database: ent.cfg.Database,
				InFlight: atomic.LoadInt64(&ent.inFlight),
				LastUsed: time.Unix(0, atomic.LoadInt64(&ent.lastUsed)),
				Open:     st.OpenConnections,
				Idle:     st.Idle,
			})
		}
		p.s.mu.Unlock()
	}
	return out
}

// HealthCheck probes every live pool.  Pools that fail the probe are
// closed and reported unhealthy.
func (m *Manager) HealthCheck(ctx context.Context) map[string]bool {
	m.mu.Lock()
	ids := make([]string, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		s := m.slot(id)
		s.mu.Lock()
		if s.ent == nil {
			s.mu.Unlock()
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := s.ent.db.PingContext(probeCtx)
		cancel()
		if err != nil {
			zap.S().Warnw("tenant pool unhealthy", "tenant", id, "err", err)
			m.closeEntryLocked(id, s)
			out[id] = false
		} else {
			out[id] = true
		}
		s.mu.Unlock()
	}
	return out
}

//
// Reaper
//

// reapLoop closes pools idle longer than MaxIdle with no in-flight work.
func (m *Manager) reapLoop() {
	for {
		select {
		case <-m.done:
			return
		case <-m.reapTicker.C:
			m.reapOnce()
		}
	}
}

func (m *Manager) reapOnce() {
	now := time.Now().UnixNano()

	m.mu.Lock()
	ids := make([]string, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		s := m.slot(id)
		s.mu.Lock()
		if ent := s.ent; ent != nil {
			idle := time.Duration(now - atomic.LoadInt64(&ent.lastUsed))
			if idle > m.opts.MaxIdle && atomic.LoadInt64(&ent.inFlight) == 0 {
				m.closeEntryLocked(id, s)
				metrics.PoolReapsTotal.Inc()
				zap.S().Infow("tenant pool reaped",
					"tenant", id, "idle", idle.Truncate(time.Second).String())
			}
		}
		s.mu.Unlock()
	}
}
