// Package registry maintains the active set of published contracts per
// tenant and hands out immutable compiled artifacts for evaluation.
// Publishes validate eagerly and swap whole snapshot tables, so readers
// never observe a partially applied publish. Supports zero-downtime
// republish: evaluations in flight keep the compiled artifact they
// captured while new evaluations see the updated contract.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nomoslabs/nomos/pkg/domain"
	"github.com/nomoslabs/nomos/pkg/guard"
	"github.com/nomoslabs/nomos/pkg/storage"
)

// Event announces a successful publish to subscribers.
type Event struct {
	Tenant     domain.TenantID
	ContractID string
	Version    int64
	Generation int64
}

// Options configure a Registry. Nil fields default.
type Options struct {
	Guards *guard.Registry
	Store  storage.ContractStore
	Logger *slog.Logger
	Clock  func() time.Time
}

type entry struct {
	contract domain.Contract
	compiled *Compiled
}

// Registry is the authoritative in-memory table of active contracts.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*entry // tenant/id → active version
	generation int64             // increments on each snapshot swap

	publishMu sync.Mutex // serializes publishers
	versions  map[string]int64
	closed    bool

	guards *guard.Registry
	store  storage.ContractStore
	logger *slog.Logger
	clock  func() time.Time

	subMu      sync.Mutex
	subs       []chan Event
	subsClosed bool
}

const subscriberBuffer = 16

// New creates a registry.
func New(opts Options) *Registry {
	r := &Registry{
		entries:  make(map[string]*entry),
		versions: make(map[string]int64),
		guards:   opts.Guards,
		store:    opts.Store,
		logger:   opts.Logger,
		clock:    opts.Clock,
	}
	if r.guards == nil {
		r.guards = guard.NewRegistry()
	}
	if r.store == nil {
		r.store = storage.NewMemoryContractStore()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	return r
}

// Guards returns the predicate registry publishes resolve against.
func (r *Registry) Guards() *guard.Registry {
	return r.guards
}

// Publish validates, versions, stores, and activates a contract. The
// entire rule set is validated before any state changes; a failed
// publish leaves the prior version untouched and visible.
func (r *Registry) Publish(ctx context.Context, tenant domain.TenantID, c domain.Contract) (domain.Contract, error) {
	tenant = tenant.Normalize()
	contract := *c.Clone()
	contract.Tenant = tenant

	compiled, err := compileContract(ctx, contract, r.guards)
	if err != nil {
		return domain.Contract{}, err
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	if r.closed {
		return domain.Contract{}, domain.ErrRegistryClosed
	}

	key := scopeKey(tenant, contract.ID)
	version := r.versions[key] + 1
	contract.Version = version
	contract.CreatedAt = r.clock().UTC()
	compiled.Contract = *contract.Clone()

	if err := r.store.Put(ctx, contract); err != nil {
		return domain.Contract{}, fmt.Errorf("store contract %q: %w", contract.ID, err)
	}
	r.versions[key] = version

	// Build the successor table beside the live one, then swap. Only the
	// swap itself holds the write lock.
	r.mu.RLock()
	live := r.entries
	r.mu.RUnlock()

	successor := make(map[string]*entry, len(live)+1)
	for k, e := range live {
		successor[k] = e
	}
	successor[key] = &entry{contract: *contract.Clone(), compiled: compiled}

	r.mu.Lock()
	r.entries = successor
	r.generation++
	generation := r.generation
	r.mu.Unlock()

	r.logger.Info("contract published",
		slog.String("tenant", string(tenant)),
		slog.String("contract", contract.ID),
		slog.Int64("version", version),
		slog.Int("rules", len(contract.Rules)),
		slog.Int64("generation", generation))

	r.notify(Event{
		Tenant:     tenant,
		ContractID: contract.ID,
		Version:    version,
		Generation: generation,
	})

	return contract, nil
}

// Resolve returns a deep copy of the active contract for the tenant,
// falling back to the global scope.
func (r *Registry) Resolve(_ context.Context, tenant domain.TenantID, id string) (domain.Contract, error) {
	e, err := r.lookup(tenant, id)
	if err != nil {
		return domain.Contract{}, err
	}
	return *e.contract.Clone(), nil
}

// ResolveCompiled returns the immutable compiled artifact with the same
// tenant-then-global precedence as Resolve.
func (r *Registry) ResolveCompiled(_ context.Context, tenant domain.TenantID, id string) (*Compiled, error) {
	e, err := r.lookup(tenant, id)
	if err != nil {
		return nil, err
	}
	return e.compiled, nil
}

// ResolveVersion reads a specific published version from the store.
// Superseded versions stay addressable here for audit.
func (r *Registry) ResolveVersion(ctx context.Context, tenant domain.TenantID, id string, version int64) (domain.Contract, error) {
	tenant = tenant.Normalize()
	contract, ok, err := r.store.Get(ctx, tenant, id, version)
	if err != nil {
		return domain.Contract{}, fmt.Errorf("load contract version: %w", err)
	}
	if !ok {
		return domain.Contract{}, fmt.Errorf("contract %s/%s version %d: %w", tenant, id, version, domain.ErrVersionNotFound)
	}
	return contract, nil
}

// History returns every retained version of a contract in ascending
// version order.
func (r *Registry) History(ctx context.Context, tenant domain.TenantID, id string) ([]domain.Contract, error) {
	return r.store.History(ctx, tenant.Normalize(), id)
}

// List returns the contracts visible to the tenant, tenant entries
// shadowing global ones, sorted by ID.
func (r *Registry) List(_ context.Context, tenant domain.TenantID) []domain.ContractInfo {
	tenant = tenant.Normalize()

	r.mu.RLock()
	live := r.entries
	r.mu.RUnlock()

	visible := make(map[string]domain.ContractInfo)
	for _, e := range live {
		if e.contract.Tenant == tenant {
			visible[e.contract.ID] = contractInfo(e.contract)
		}
	}
	if !tenant.IsGlobal() {
		for _, e := range live {
			if e.contract.Tenant != domain.GlobalTenant {
				continue
			}
			if _, shadowed := visible[e.contract.ID]; !shadowed {
				visible[e.contract.ID] = contractInfo(e.contract)
			}
		}
	}

	infos := make([]domain.ContractInfo, 0, len(visible))
	for _, info := range visible {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Generation returns the snapshot swap counter. Health and metrics
// surfaces report it to make publishes observable.
func (r *Registry) Generation() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Count returns the number of active contracts across all tenants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Subscribe returns a channel of publish events. Sends never block;
// events to a full subscriber are dropped.
func (r *Registry) Subscribe() <-chan Event {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if r.subsClosed {
		close(ch)
		return ch
	}
	r.subs = append(r.subs, ch)
	return ch
}

// Close stops accepting publishes, closes subscriber channels, and
// closes the store. Resolution keeps working on the final snapshot.
func (r *Registry) Close() error {
	r.publishMu.Lock()
	if r.closed {
		r.publishMu.Unlock()
		return nil
	}
	r.closed = true
	r.publishMu.Unlock()

	r.subMu.Lock()
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
	r.subsClosed = true
	r.subMu.Unlock()

	return r.store.Close()
}

func (r *Registry) lookup(tenant domain.TenantID, id string) (*entry, error) {
	tenant = tenant.Normalize()

	r.mu.RLock()
	live := r.entries
	r.mu.RUnlock()

	if e, ok := live[scopeKey(tenant, id)]; ok {
		return e, nil
	}
	if !tenant.IsGlobal() {
		if e, ok := live[scopeKey(domain.GlobalTenant, id)]; ok {
			return e, nil
		}
	}
	return nil, &domain.NotFoundError{Tenant: tenant, Contract: id}
}

func (r *Registry) notify(event Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for _, ch := range r.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func scopeKey(tenant domain.TenantID, id string) string {
	return string(tenant) + "/" + id
}

func contractInfo(c domain.Contract) domain.ContractInfo {
	return domain.ContractInfo{
		ID:       c.ID,
		Tenant:   c.Tenant,
		Version:  c.Version,
		Revision: c.Revision,
		Rules:    len(c.Rules),
	}
}
