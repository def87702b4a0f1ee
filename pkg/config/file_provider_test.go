package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomoslabs/nomos/pkg/domain"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []domain.Contract
	fail      error
}

func (p *recordingPublisher) Publish(_ context.Context, tenant domain.TenantID, c domain.Contract) (domain.Contract, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return domain.Contract{}, p.fail
	}
	c.Tenant = tenant
	p.published = append(p.published, c)
	return c, nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func writeDocument(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProvider(t *testing.T, path string, pub Publisher) *FileProvider {
	t.Helper()
	provider, err := NewFileProvider(path, pub, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func TestFileProviderInitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.yaml")
	writeDocument(t, path, orderFlowYAML)

	pub := &recordingPublisher{}
	provider := newTestProvider(t, path, pub)

	assert.Equal(t, 1, pub.count())
	require.NotNil(t, provider.Document())
	assert.Equal(t, "order-flow", provider.Document().Contracts[0].ID)
}

func TestFileProviderReloadOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.yaml")
	writeDocument(t, path, orderFlowYAML)

	pub := &recordingPublisher{}
	provider := newTestProvider(t, path, pub)

	updates := provider.Subscribe()
	// The current snapshot arrives first.
	select {
	case doc := <-updates:
		require.NotNil(t, doc)
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot delivered")
	}

	writeDocument(t, path, orderFlowYAML)

	select {
	case doc := <-updates:
		require.NotNil(t, doc)
		assert.Equal(t, "order-flow", doc.Contracts[0].ID)
	case <-time.After(3 * time.Second):
		t.Fatal("reload not observed")
	}
	assert.GreaterOrEqual(t, pub.count(), 2)
}

func TestFileProviderKeepsLastKnownGoodOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.yaml")
	writeDocument(t, path, orderFlowYAML)

	pub := &recordingPublisher{}
	provider := newTestProvider(t, path, pub)
	good := provider.Document()
	require.NotNil(t, good)

	writeDocument(t, path, "{{definitely not yaml")

	select {
	case err := <-provider.Errors():
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("load failure not reported")
	}

	assert.Same(t, good, provider.Document())
}

func TestFileProviderMissingFileAtStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.yaml")

	pub := &recordingPublisher{}
	provider := newTestProvider(t, path, pub)

	assert.Nil(t, provider.Document())
	select {
	case err := <-provider.Errors():
		assert.Error(t, err)
	default:
		t.Fatal("startup failure not reported")
	}

	// The watch stays live; a corrected file loads.
	writeDocument(t, path, orderFlowYAML)
	require.Eventually(t, func() bool {
		return provider.Document() != nil
	}, 3*time.Second, 50*time.Millisecond)
}

func TestFileProviderCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.yaml")
	writeDocument(t, path, orderFlowYAML)

	provider, err := NewFileProvider(path, &recordingPublisher{}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, provider.Close())
	require.NoError(t, provider.Close())

	ch := provider.Subscribe()
	_, open := <-ch
	assert.False(t, open)
}

func TestFileProviderLoadErrorKeepsRegistryState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.yaml")
	writeDocument(t, path, orderFlowYAML)

	pub := &recordingPublisher{fail: domain.ErrRegistryClosed}
	provider := newTestProvider(t, path, pub)

	assert.Nil(t, provider.Document())
	err := provider.Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrRegistryClosed)
}
