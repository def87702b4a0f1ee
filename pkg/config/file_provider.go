package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nomoslabs/nomos/pkg/domain"
)

const debounceDuration = 100 * time.Millisecond

// Publisher receives contracts loaded from a document. *registry.Registry
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, tenant domain.TenantID, c domain.Contract) (domain.Contract, error)
}

// FileProvider watches one contract document and republishes it on
// change. A malformed or invalid reload keeps the last-known-good
// document active and surfaces the failure on Errors; the registry is
// never fed a document that failed to parse.
type FileProvider struct {
	path      string
	publisher Publisher
	logger    *slog.Logger
	watcher   *fsnotify.Watcher
	cancel    context.CancelFunc

	mu          sync.Mutex
	snapshot    *Document
	subscribers []chan *Document
	closed      bool

	errs chan error
}

// NewFileProvider creates a provider watching path and performs the
// initial load. A missing or invalid file at startup is reported but
// not fatal; the watch continues and a corrected file loads normally.
func NewFileProvider(path string, publisher Publisher, logger *slog.Logger) (*FileProvider, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve document path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &FileProvider{
		path:      absPath,
		publisher: publisher,
		logger:    logger,
		watcher:   watcher,
		cancel:    cancel,
		errs:      make(chan error, 16),
	}

	if err := p.Load(ctx); err != nil {
		p.logger.Warn("initial contract document load failed", "path", absPath, "error", err)
		p.reportError(err)
	}

	// Watch the parent directory: editors replace files atomically, so
	// watching the file itself loses the watch on the first save.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("watch directory: %w", err)
	}

	go p.watchLoop(ctx)

	return p, nil
}

// Document returns the last successfully loaded document, nil before the
// first good load.
func (p *FileProvider) Document() *Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// Subscribe returns a channel of loaded documents. The current snapshot,
// when one exists, is delivered immediately; sends never block and slow
// consumers drop updates.
func (p *FileProvider) Subscribe() <-chan *Document {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan *Document, 1)
	if p.closed {
		close(ch)
		return ch
	}
	if p.snapshot != nil {
		ch <- p.snapshot
	}
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Errors returns the channel carrying load failures. Reads are optional;
// the channel is buffered and overflow is dropped.
func (p *FileProvider) Errors() <-chan error {
	return p.errs
}

// Load reads, parses, and publishes the document. On any failure the
// previous snapshot stays active.
func (p *FileProvider) Load(ctx context.Context) error {
	// #nosec G304 -- path is fixed at construction
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read contract document: %w", err)
	}

	doc, err := ParseDocument(data)
	if err != nil {
		return err
	}

	tenant, contracts, err := doc.ToDomain()
	if err != nil {
		return err
	}

	for _, contract := range contracts {
		if _, err := p.publisher.Publish(ctx, tenant, contract); err != nil {
			return fmt.Errorf("publish contract %q: %w", contract.ID, err)
		}
	}

	p.mu.Lock()
	p.snapshot = doc
	subscribers := make([]chan *Document, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- doc:
		default:
		}
	}

	p.logger.Info("contract document loaded",
		"path", p.path,
		"tenant", string(tenant),
		"contracts", len(contracts))
	return nil
}

// Close stops the watcher and closes subscriber channels. It is
// idempotent.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	p.mu.Unlock()

	p.cancel()
	return p.watcher.Close()
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Chmod) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDuration, func() {
				if err := p.Load(ctx); err != nil {
					p.logger.Error("contract document reload failed", "path", p.path, "error", err)
					p.reportError(err)
				}
			})
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("watcher error", "error", err)
			p.reportError(err)
		}
	}
}

func (p *FileProvider) reportError(err error) {
	select {
	case p.errs <- err:
	default:
	}
}
