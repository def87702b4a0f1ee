package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomoslabs/nomos/pkg/domain"
)

func storedContract(tenant domain.TenantID, id string, version int64) domain.Contract {
	return domain.Contract{
		ID:      id,
		Tenant:  tenant,
		Version: version,
		Labels:  map[string]string{"team": "payments"},
		Rules: []domain.Rule{
			{ID: "flow", Kind: domain.KindTransition, Severity: domain.SeverityBlock},
		},
	}
}

func TestMemoryStorePutGet(t *testing.T) {
	store := NewMemoryContractStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, storedContract("acme", "orders", 1)))

	got, ok, err := store.Get(ctx, "acme", "orders", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "payments", got.Labels["team"])

	_, ok, err = store.Get(ctx, "acme", "orders", 2)
	require.NoError(t, err)
	assert.False(t, ok, "absent version must not be found")

	_, ok, err = store.Get(ctx, "globex", "orders", 1)
	require.NoError(t, err)
	assert.False(t, ok, "tenants must not share versions")
}

func TestMemoryStoreCopiesBothWays(t *testing.T) {
	store := NewMemoryContractStore()
	ctx := context.Background()

	original := storedContract("acme", "orders", 1)
	require.NoError(t, store.Put(ctx, original))

	// Mutating the caller's copy after Put must not affect the store.
	original.Labels["team"] = "mutated"

	got, ok, err := store.Get(ctx, "acme", "orders", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payments", got.Labels["team"])

	// Mutating a returned copy must not affect later reads.
	got.Labels["team"] = "also-mutated"
	again, ok, err := store.Get(ctx, "acme", "orders", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payments", again.Labels["team"])
}

func TestMemoryStoreHistory(t *testing.T) {
	store := NewMemoryContractStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, storedContract("acme", "orders", 2)))
	require.NoError(t, store.Put(ctx, storedContract("acme", "orders", 1)))
	require.NoError(t, store.Put(ctx, storedContract("acme", "billing", 1)))

	history, err := store.History(ctx, "acme", "orders")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Version)
	assert.Equal(t, int64(2), history[1].Version)

	empty, err := store.History(ctx, "acme", "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStoreRetention(t *testing.T) {
	store := NewMemoryContractStore(WithMaxVersions(2))
	ctx := context.Background()

	for v := int64(1); v <= 4; v++ {
		require.NoError(t, store.Put(ctx, storedContract("acme", "orders", v)))
	}

	_, ok, err := store.Get(ctx, "acme", "orders", 1)
	require.NoError(t, err)
	assert.False(t, ok, "evicted version should be gone")
	_, ok, err = store.Get(ctx, "acme", "orders", 2)
	require.NoError(t, err)
	assert.False(t, ok, "evicted version should be gone")

	history, err := store.History(ctx, "acme", "orders")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(3), history[0].Version)
	assert.Equal(t, int64(4), history[1].Version)
}

func TestMemoryStoreClose(t *testing.T) {
	store := NewMemoryContractStore()
	assert.NoError(t, store.Close())
}
