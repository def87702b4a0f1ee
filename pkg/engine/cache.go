package engine

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strconv"
	"sync"

	"github.com/nomoslabs/nomos/pkg/domain"
)

// DefaultCacheCapacity bounds the decision cache when no capacity is given.
const DefaultCacheCapacity = 1024

// CachedGateway memoizes decisions for repeated identical requests. Caching
// is an explicit opt-in wrapper; the core gateway recomputes every call.
// Keys include the registry generation, so any publish invalidates prior
// entries without coordination.
type CachedGateway struct {
	gateway *Gateway
	cache   *decisionCache
}

// NewCachedGateway wraps a gateway with an LRU decision cache.
func NewCachedGateway(gateway *Gateway, capacity int) *CachedGateway {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &CachedGateway{
		gateway: gateway,
		cache:   newDecisionCache(capacity),
	}
}

// Evaluate returns a cached decision when one exists for the same tenant,
// contract, request, and registry generation. A hit replays the originally
// stamped decision, identity fields included.
func (c *CachedGateway) Evaluate(ctx context.Context, tenant domain.TenantID, contractID string, req domain.EvaluationRequest) (domain.Decision, error) {
	tenant = tenant.Normalize()

	key, cacheable := c.key(tenant, contractID, req)
	if cacheable {
		if cached, ok := c.cache.Get(key); ok {
			return cached, nil
		}
	}

	decision, err := c.gateway.Evaluate(ctx, tenant, contractID, req)
	if err != nil {
		return decision, err
	}
	if cacheable {
		c.cache.Add(key, decision)
	}
	return decision, nil
}

// EvaluateBatch evaluates each request through the cache, in input order.
func (c *CachedGateway) EvaluateBatch(ctx context.Context, tenant domain.TenantID, contractID string, reqs []domain.EvaluationRequest) ([]domain.Decision, error) {
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("request[%d]: %w", i, err)
		}
	}

	decisions := make([]domain.Decision, 0, len(reqs))
	for _, req := range reqs {
		decision, err := c.Evaluate(ctx, tenant, contractID, req)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, decision)
	}
	return decisions, nil
}

// Purge drops every cached decision.
func (c *CachedGateway) Purge() {
	c.cache.Clear()
}

// key builds a deterministic digest of the evaluation identity. Requests
// that fail to serialize are evaluated without caching.
func (c *CachedGateway) key(tenant domain.TenantID, contractID string, req domain.EvaluationRequest) (string, bool) {
	// json.Marshal sorts map keys, so equal request contexts digest equally.
	payload, err := json.Marshal(req)
	if err != nil {
		return "", false
	}

	h := sha256.New()
	writeKeyField(h, strconv.FormatInt(c.gateway.registry.Generation(), 10))
	writeKeyField(h, string(tenant))
	writeKeyField(h, contractID)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), true
}

// writeKeyField writes a field to the hash followed by a null delimiter.
func writeKeyField(h hash.Hash, value string) {
	h.Write([]byte(value))
	h.Write([]byte{0})
}

type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key   string
	value domain.Decision
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key string) (domain.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return domain.Decision{}, false
	}
	c.order.MoveToFront(elem)
	item := elem.Value.(cacheItem)
	return cloneDecision(item.value), true
}

func (c *decisionCache) Add(key string, value domain.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, value: cloneDecision(value)}
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(cacheItem{key: key, value: cloneDecision(value)})
	c.entries[key] = elem

	if c.order.Len() <= c.max {
		return
	}

	tail := c.order.Back()
	if tail != nil {
		c.order.Remove(tail)
		item := tail.Value.(cacheItem)
		delete(c.entries, item.key)
	}
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
}

// cloneDecision copies the decision so cached state never aliases a caller's.
func cloneDecision(d domain.Decision) domain.Decision {
	clone := d
	if len(d.Violations) > 0 {
		clone.Violations = make([]domain.Violation, len(d.Violations))
		for i, v := range d.Violations {
			vc := v
			if len(v.Details) > 0 {
				vc.Details = make(map[string]any, len(v.Details))
				for key, value := range v.Details {
					vc.Details[key] = value
				}
			}
			clone.Violations[i] = vc
		}
	}
	return clone
}
