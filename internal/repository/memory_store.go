package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tenant-lifecycle/backend/pkg/models"
)

// MemoryStore is an in-process implementation of TenantStore, AuditStore,
// TransactionManager and Purger. Row locks are real: GetTenantForUpdate
// blocks while another transaction holds the same tenant. Writes made inside
// RunInTx are staged and only become visible on commit.
type MemoryStore struct {
	mu       sync.Mutex
	tenants  map[string]*models.Tenant
	audit    []*models.LifecycleAuditEntry
	records  map[string]map[string]int64 // tenant id -> table -> rows
	rowLocks map[string]chan struct{}

	purgeErr  error
	appendErr error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:  make(map[string]*models.Tenant),
		records:  make(map[string]map[string]int64),
		rowLocks: make(map[string]chan struct{}),
	}
}

var (
	_ TenantStore        = (*MemoryStore)(nil)
	_ AuditStore         = (*MemoryStore)(nil)
	_ TransactionManager = (*MemoryStore)(nil)
	_ Purger             = (*MemoryStore)(nil)
)

type memTxKey struct{}

type memTx struct {
	held    map[string]chan struct{}
	tenants map[string]*models.Tenant
	audit   []*models.LifecycleAuditEntry
	purged  []string
}

func txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

// RunInTx runs fn with a fresh transaction. Staged writes are applied
// atomically if fn returns nil and discarded otherwise.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	tx := &memTx{
		held:    make(map[string]chan struct{}),
		tenants: make(map[string]*models.Tenant),
	}
	defer func() {
		if p := recover(); p != nil {
			s.release(tx)
			panic(p)
		}
		if err == nil {
			s.commit(tx)
		}
		s.release(tx)
	}()
	return fn(context.WithValue(ctx, memTxKey{}, tx))
}

func (s *MemoryStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range tx.tenants {
		s.tenants[id] = t
	}
	s.audit = append(s.audit, tx.audit...)
	for _, id := range tx.purged {
		delete(s.records, id)
	}
}

func (s *MemoryStore) release(tx *memTx) {
	for _, lock := range tx.held {
		<-lock
	}
}

func (s *MemoryStore) lockFor(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.rowLocks[id]
	if !ok {
		lock = make(chan struct{}, 1)
		s.rowLocks[id] = lock
	}
	return lock
}

// view returns the tenant as seen by tx, or the committed record.
func (s *MemoryStore) view(tx *memTx, id string) (*models.Tenant, bool) {
	if tx != nil {
		if t, ok := tx.tenants[id]; ok {
			return t, true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	return t, ok
}

func (s *MemoryStore) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	t, ok := s.view(txFrom(ctx), tenantID)
	if !ok {
		return nil, ErrTenantNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) GetTenantForUpdate(ctx context.Context, tenantID string) (*models.Tenant, error) {
	tx := txFrom(ctx)
	if tx == nil {
		return nil, ErrNoTransaction
	}
	if _, held := tx.held[tenantID]; !held {
		lock := s.lockFor(tenantID)
		select {
		case lock <- struct{}{}:
			tx.held[tenantID] = lock
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.GetTenant(ctx, tenantID)
}

func (s *MemoryStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant == nil {
		return errors.New("tenant is required")
	}
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if tenant.Status == "" {
		tenant.Status = models.TenantStatusActive
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	tenant.UpdatedAt = tenant.CreatedAt
	if err := tenant.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tenants[tenant.ID]; exists {
		return errors.New("tenant already exists")
	}
	s.tenants[tenant.ID] = tenant.Clone()
	return nil
}

func (s *MemoryStore) UpdateTenant(ctx context.Context, tenant *models.Tenant, expected models.TenantStatus) error {
	tx := txFrom(ctx)
	current, ok := s.view(tx, tenant.ID)
	if !ok || current.Status != expected {
		return ErrConcurrentUpdate
	}
	if tx != nil {
		tx.tenants[tenant.ID] = tenant.Clone()
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenant.ID] = tenant.Clone()
	return nil
}

func (s *MemoryStore) ListDueForHardDelete(ctx context.Context, asOf time.Time, limit int) ([]string, error) {
	due := s.softDeleted(func(t *models.Tenant) bool {
		return !t.HardDeleteScheduledAt.After(asOf)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, len(due))
	for i, t := range due {
		ids[i] = t.ID
	}
	return ids, nil
}

func (s *MemoryStore) ListSoftDeleted(ctx context.Context, limit int) ([]*models.Tenant, error) {
	tenants := s.softDeleted(func(*models.Tenant) bool { return true })
	if limit > 0 && len(tenants) > limit {
		tenants = tenants[:limit]
	}
	return tenants, nil
}

func (s *MemoryStore) softDeleted(keep func(*models.Tenant) bool) []*models.Tenant {
	s.mu.Lock()
	var out []*models.Tenant
	for _, t := range s.tenants {
		if t.Status == models.TenantStatusSoftDeleted && keep(t) {
			out = append(out, t.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := *out[i].HardDeleteScheduledAt, *out[j].HardDeleteScheduledAt
		if a.Equal(b) {
			return out[i].ID < out[j].ID
		}
		return a.Before(b)
	})
	return out
}

func (s *MemoryStore) Append(ctx context.Context, entry *models.LifecycleAuditEntry) error {
	if entry == nil {
		return errors.New("audit entry is required")
	}
	s.mu.Lock()
	appendErr := s.appendErr
	s.mu.Unlock()
	if appendErr != nil {
		return appendErr
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	cp := *entry
	if tx := txFrom(ctx); tx != nil {
		tx.audit = append(tx.audit, &cp)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, &cp)
	return nil
}

// ListByTenant returns committed entries in commit order.
func (s *MemoryStore) ListByTenant(ctx context.Context, tenantID string) ([]*models.LifecycleAuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := []*models.LifecycleAuditEntry{}
	for _, e := range s.audit {
		if e.TenantID == tenantID {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	return entries, nil
}

// PurgeTenant stages removal of the tenant's business records.
func (s *MemoryStore) PurgeTenant(ctx context.Context, tenantID string) (map[string]int64, error) {
	tx := txFrom(ctx)
	if tx == nil {
		return nil, ErrNoTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purgeErr != nil {
		return nil, s.purgeErr
	}
	purged := make(map[string]int64)
	for table, n := range s.records[tenantID] {
		purged[table] = n
	}
	tx.purged = append(tx.purged, tenantID)
	return purged, nil
}

// AddRecords registers n business rows in table owned by tenantID.
func (s *MemoryStore) AddRecords(tenantID, table string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[tenantID] == nil {
		s.records[tenantID] = make(map[string]int64)
	}
	s.records[tenantID][table] += n
}

// RecordCount returns the committed business rows still owned by tenantID.
func (s *MemoryStore) RecordCount(tenantID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, n := range s.records[tenantID] {
		total += n
	}
	return total
}

// FailPurge makes subsequent PurgeTenant calls return err. Nil clears it.
func (s *MemoryStore) FailPurge(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeErr = err
}

// FailAppend makes subsequent Append calls return err. Nil clears it.
func (s *MemoryStore) FailAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}
