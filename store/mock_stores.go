package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// MockVersionStore
// ---------------------------------------------------------------------------

// MockVersionStore is an in-memory implementation of VersionStore for testing
// and single-process use.
type MockVersionStore struct {
	mu       sync.Mutex
	versions map[uuid.UUID]*ModuleVersion
}

// NewMockVersionStore creates a new MockVersionStore.
func NewMockVersionStore() *MockVersionStore {
	return &MockVersionStore{versions: make(map[uuid.UUID]*ModuleVersion)}
}

func (s *MockVersionStore) Create(_ context.Context, v *ModuleVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.versions {
		if existing.ModuleID == v.ModuleID && existing.Version == v.Version {
			return ErrDuplicate
		}
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	cp := copyVersion(v)
	s.versions[v.ID] = cp
	return nil
}

func (s *MockVersionStore) Get(_ context.Context, id uuid.UUID) (*ModuleVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyVersion(v), nil
}

func (s *MockVersionStore) GetByVersion(_ context.Context, moduleID, version string) (*ModuleVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.ModuleID == moduleID && v.Version == version {
			return copyVersion(v), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MockVersionStore) Update(_ context.Context, v *ModuleVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[v.ID]; !ok {
		return ErrNotFound
	}
	s.versions[v.ID] = copyVersion(v)
	return nil
}

func (s *MockVersionStore) ListByModule(_ context.Context, moduleID string) ([]*ModuleVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*ModuleVersion
	for _, v := range s.versions {
		if v.ModuleID == moduleID {
			result = append(result, copyVersion(v))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func copyVersion(v *ModuleVersion) *ModuleVersion {
	cp := *v
	if v.Dependencies != nil {
		cp.Dependencies = make(map[string]string, len(v.Dependencies))
		for k, val := range v.Dependencies {
			cp.Dependencies[k] = val
		}
	}
	return &cp
}

// ---------------------------------------------------------------------------
// MockMigrationStore
// ---------------------------------------------------------------------------

// MockMigrationStore is an in-memory implementation of MigrationStore.
type MockMigrationStore struct {
	mu         sync.Mutex
	migrations map[uuid.UUID]*Migration
}

// NewMockMigrationStore creates a new MockMigrationStore.
func NewMockMigrationStore() *MockMigrationStore {
	return &MockMigrationStore{migrations: make(map[uuid.UUID]*Migration)}
}

func (s *MockMigrationStore) Create(_ context.Context, m *Migration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.migrations {
		if existing.ModuleID == m.ModuleID && existing.Sequence == m.Sequence {
			return ErrDuplicate
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	cp := *m
	s.migrations[m.ID] = &cp
	return nil
}

func (s *MockMigrationStore) Get(_ context.Context, id uuid.UUID) (*Migration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.migrations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MockMigrationStore) ListByModule(_ context.Context, moduleID string) ([]*Migration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*Migration
	for _, m := range s.migrations {
		if m.ModuleID == moduleID {
			cp := *m
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Sequence < result[j].Sequence
	})
	return result, nil
}

func (s *MockMigrationStore) Range(ctx context.Context, moduleID string, fromSeq, toSeq int64) ([]*Migration, error) {
	all, err := s.ListByModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	var result []*Migration
	for _, m := range all {
		if m.Sequence > fromSeq && m.Sequence <= toSeq {
			result = append(result, m)
		}
	}
	return result, nil
}

// ---------------------------------------------------------------------------
// MockInstallationStore
// ---------------------------------------------------------------------------

// MockInstallationStore is an in-memory implementation of InstallationStore.
// The compare-and-set in TransitionStatus is atomic under the store mutex.
type MockInstallationStore struct {
	mu       sync.Mutex
	installs map[uuid.UUID]*Installation
}

// NewMockInstallationStore creates a new MockInstallationStore.
func NewMockInstallationStore() *MockInstallationStore {
	return &MockInstallationStore{installs: make(map[uuid.UUID]*Installation)}
}

func (s *MockInstallationStore) Create(_ context.Context, inst *Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst.Status == InstallStatusActive || inst.Status.Busy() {
		for _, existing := range s.installs {
			if existing.TenantID == inst.TenantID && existing.ModuleID == inst.ModuleID &&
				(existing.Status == InstallStatusActive || existing.Status.Busy()) {
				return ErrConflict
			}
		}
	}
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	now := time.Now()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	cp := *inst
	s.installs[inst.ID] = &cp
	return nil
}

func (s *MockInstallationStore) Get(_ context.Context, id uuid.UUID) (*Installation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.installs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (s *MockInstallationStore) GetActive(_ context.Context, tenantID, moduleID string) (*Installation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.installs {
		if inst.TenantID == tenantID && inst.ModuleID == moduleID && inst.Status == InstallStatusActive {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MockInstallationStore) Update(_ context.Context, inst *Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.installs[inst.ID]; !ok {
		return ErrNotFound
	}
	inst.UpdatedAt = time.Now()
	cp := *inst
	s.installs[inst.ID] = &cp
	return nil
}

func (s *MockInstallationStore) TransitionStatus(_ context.Context, id uuid.UUID, from []InstallStatus, to InstallStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.installs[id]
	if !ok {
		return ErrNotFound
	}
	for _, f := range from {
		if inst.Status == f {
			inst.Status = to
			inst.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrConflict
}

func (s *MockInstallationStore) History(_ context.Context, tenantID, moduleID string) ([]*Installation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*Installation
	for _, inst := range s.installs {
		if inst.TenantID == tenantID && inst.ModuleID == moduleID {
			cp := *inst
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// ---------------------------------------------------------------------------
// MockRunStore
// ---------------------------------------------------------------------------

// MockRunStore is an in-memory implementation of RunStore.
type MockRunStore struct {
	mu   sync.Mutex
	runs []*MigrationRun
}

// NewMockRunStore creates a new MockRunStore.
func NewMockRunStore() *MockRunStore {
	return &MockRunStore{}
}

func (s *MockRunStore) Create(_ context.Context, run *MigrationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	cp := *run
	s.runs = append(s.runs, &cp)
	return nil
}

func (s *MockRunStore) Update(_ context.Context, run *MigrationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.runs {
		if existing.ID == run.ID {
			cp := *run
			s.runs[i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (s *MockRunStore) History(_ context.Context, tenantID, moduleID string) ([]*MigrationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*MigrationRun
	for _, run := range s.runs {
		if run.TenantID == tenantID && run.ModuleID == moduleID {
			cp := *run
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result, nil
}

// ---------------------------------------------------------------------------
// MockBackupStore
// ---------------------------------------------------------------------------

// MockBackupStore is an in-memory implementation of BackupStore.
type MockBackupStore struct {
	mu      sync.Mutex
	backups map[uuid.UUID]*DataBackup
}

// NewMockBackupStore creates a new MockBackupStore.
func NewMockBackupStore() *MockBackupStore {
	return &MockBackupStore{backups: make(map[uuid.UUID]*DataBackup)}
}

func (s *MockBackupStore) Create(_ context.Context, b *DataBackup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	cp := copyBackup(b)
	s.backups[b.ID] = cp
	return nil
}

func (s *MockBackupStore) Get(_ context.Context, id uuid.UUID) (*DataBackup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.backups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBackup(b), nil
}

func (s *MockBackupStore) ListExpired(_ context.Context, asOf time.Time) ([]*DataBackup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*DataBackup
	for _, b := range s.backups {
		if !b.ExpiresAt.After(asOf) {
			result = append(result, copyBackup(b))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MockBackupStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backups[id]; !ok {
		return ErrNotFound
	}
	delete(s.backups, id)
	return nil
}

func copyBackup(b *DataBackup) *DataBackup {
	cp := *b
	if b.RowCounts != nil {
		cp.RowCounts = make(map[string]int64, len(b.RowCounts))
		for k, v := range b.RowCounts {
			cp.RowCounts[k] = v
		}
	}
	return &cp
}
