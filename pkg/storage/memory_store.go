package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nomoslabs/nomos/pkg/domain"
)

// MemoryContractStore is an in-memory implementation of ContractStore.
type MemoryContractStore struct {
	mu          sync.RWMutex
	contracts   map[string]domain.Contract
	versions    map[string][]int64
	maxVersions int
}

// MemoryStoreOption configures a MemoryContractStore.
type MemoryStoreOption func(*MemoryContractStore)

// WithMaxVersions bounds the number of retained versions per contract.
// When the bound is exceeded the oldest version is evicted. Zero or
// negative keeps everything.
func WithMaxVersions(n int) MemoryStoreOption {
	return func(s *MemoryContractStore) {
		s.maxVersions = n
	}
}

// NewMemoryContractStore creates an empty in-memory store.
func NewMemoryContractStore(opts ...MemoryStoreOption) *MemoryContractStore {
	s := &MemoryContractStore{
		contracts: make(map[string]domain.Contract),
		versions:  make(map[string][]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryContractStore) key(tenant domain.TenantID, id string, version int64) string {
	return fmt.Sprintf("%s/%s@%d", tenant, id, version)
}

func (s *MemoryContractStore) historyKey(tenant domain.TenantID, id string) string {
	return fmt.Sprintf("%s/%s", tenant, id)
}

// Put records a contract version. Re-putting an existing version
// overwrites it without growing the history.
func (s *MemoryContractStore) Put(_ context.Context, contract domain.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.key(contract.Tenant, contract.ID, contract.Version)
	hkey := s.historyKey(contract.Tenant, contract.ID)

	if _, exists := s.contracts[key]; !exists {
		versions := append(s.versions[hkey], contract.Version)
		sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
		s.versions[hkey] = versions
	}
	s.contracts[key] = *contract.Clone()

	if s.maxVersions > 0 {
		for len(s.versions[hkey]) > s.maxVersions {
			oldest := s.versions[hkey][0]
			s.versions[hkey] = s.versions[hkey][1:]
			delete(s.contracts, s.key(contract.Tenant, contract.ID, oldest))
		}
	}
	return nil
}

// Get retrieves one stored version.
func (s *MemoryContractStore) Get(_ context.Context, tenant domain.TenantID, id string, version int64) (domain.Contract, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contract, ok := s.contracts[s.key(tenant, id, version)]
	if !ok {
		return domain.Contract{}, false, nil
	}
	return *contract.Clone(), true, nil
}

// History returns retained versions in ascending version order.
func (s *MemoryContractStore) History(_ context.Context, tenant domain.TenantID, id string) ([]domain.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[s.historyKey(tenant, id)]
	history := make([]domain.Contract, 0, len(versions))
	for _, version := range versions {
		if contract, ok := s.contracts[s.key(tenant, id, version)]; ok {
			history = append(history, *contract.Clone())
		}
	}
	return history, nil
}

// Close is a no-op for the memory store.
func (s *MemoryContractStore) Close() error {
	return nil
}
