package filetree

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/gobeaver/beaver-kit/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Watcher is implemented by backends that can report changes made outside
// the tree, such as edits on the local disk.
type Watcher interface {
	// Watch returns a token that fires on the next external change.
	Watch(ctx context.Context) (ChangeToken, error)
}

// Tree is a fully composed tree built from a Config. Layers stack from the
// backend outwards: encryption, validation, read-only view, cache, and the
// virtual root that holds mounts. Each optional layer is skipped when its
// settings are empty.
type Tree struct {
	// Root is the composition root every consumer should use.
	Root *VirtualDirectory

	// Cache is the cached layer, nil when caching is disabled.
	Cache *CachedDirectory

	// Backend is the driver's root directory.
	Backend Directory

	// Metrics is non-nil when metrics are enabled.
	Metrics *CacheMetrics

	logger  *zap.Logger
	cancel  context.CancelFunc
	closers []func()
	once    sync.Once
}

// TreeOption configures New.
type TreeOption func(*treeOptions)

type treeOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithTreeLogger sets the logger passed to every layer.
func WithTreeLogger(logger *zap.Logger) TreeOption {
	return func(o *treeOptions) {
		o.logger = logger
	}
}

// WithRegisterer sets where cache metrics are registered.
// Default: prometheus.DefaultRegisterer
func WithRegisterer(reg prometheus.Registerer) TreeOption {
	return func(o *treeOptions) {
		o.registerer = reg
	}
}

// Global instance
var (
	defaultTree *Tree
	defaultOnce sync.Once
	defaultErr  error
)

// Builder provides a way to create Tree instances with custom prefixes
type Builder struct {
	prefix string
}

// WithPrefix creates a new Builder with the specified prefix
func WithPrefix(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// Init initializes the global Tree instance using the builder's prefix
func (b *Builder) Init() error {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return err
	}
	return Init(cfg)
}

// New creates a new Tree instance using the builder's prefix
func (b *Builder) New(opts ...TreeOption) (*Tree, error) {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// Init initializes the global tree instance
func Init(configs ...*Config) error {
	defaultOnce.Do(func() {
		var cfg *Config
		if len(configs) > 0 {
			cfg = configs[0]
		} else {
			cfg, defaultErr = GetConfig()
			if defaultErr != nil {
				return
			}
		}

		defaultTree, defaultErr = New(cfg)
	})

	return defaultErr
}

// Default returns the global instance, initializing if needed with error handling
func Default() (*Tree, error) {
	if defaultTree == nil {
		if err := Init(); err != nil {
			return nil, err
		}
	}
	return defaultTree, nil
}

// NewFromEnv creates instance from environment variables (convenience constructor)
func NewFromEnv(opts ...TreeOption) (*Tree, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// Reset clears the global instance (for testing)
func Reset() {
	if defaultTree != nil {
		defaultTree.Close()
	}
	defaultTree = nil
	defaultOnce = sync.Once{}
	defaultErr = nil
}

// New creates a new tree with given config. The driver named by cfg.Driver
// must have been registered, usually by importing its package.
func New(cfg *Config, opts ...TreeOption) (*Tree, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	options := treeOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}

	backend, err := CreateDriver(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tree{
		Backend: backend,
		logger:  options.logger,
		cancel:  cancel,
	}

	var dir Directory = backend
	if key, _ := cfg.Key(); key != nil {
		if dir, err = NewEncrypted(dir, key); err != nil {
			cancel()
			return nil, err
		}
	}
	if cons, ok := cfg.Constraints(); ok {
		dir = NewValidated(dir, cons)
	}
	if cfg.ReadOnly {
		dir = NewReadOnly(dir).(Directory)
	}

	if cfg.CacheEnabled {
		cacheOpts := []CacheOption{WithLogger(options.logger)}
		if cfg.MetricsEnabled {
			t.Metrics = NewCacheMetrics(options.registerer, "filetree")
			cacheOpts = append(cacheOpts, WithMetrics(t.Metrics))
		}
		t.Cache = NewCachedDirectory(dir, cacheOpts...)
		t.closers = append(t.closers, t.Cache.Close)
		dir = t.Cache
	}

	rootOpts := []VirtualOption{WithMountLogger(options.logger)}
	if cfg.RootName != "" {
		rootOpts = append(rootOpts, WithDisplayName(cfg.RootName))
	}
	t.Root = NewVirtualFS(dir, rootOpts...)

	if t.Cache != nil {
		t.startInvalidation(ctx, cfg)
	}

	options.logger.Info("tree ready",
		zap.String("driver", cfg.Driver),
		zap.Bool("cache", cfg.CacheEnabled),
		zap.Bool("readOnly", cfg.ReadOnly))
	return t, nil
}

// startInvalidation hooks external change sources to the cache. The backend
// watch and the fingerprint poller are combined into one token per round, so
// whichever fires first invalidates and both are re-armed.
func (t *Tree) startInvalidation(ctx context.Context, cfg *Config) {
	var sources []func() (ChangeToken, error)

	if w, ok := t.Backend.(Watcher); ok && cfg.LocalWatch {
		sources = append(sources, func() (ChangeToken, error) {
			return w.Watch(ctx)
		})
	}

	if interval := cfg.PollInterval(); interval > 0 {
		var mu sync.Mutex
		last, _ := Fingerprint(ctx, t.Backend)
		sources = append(sources, func() (ChangeToken, error) {
			return NewPollingChangeToken(ctx, PollingConfig{
				Interval: interval,
				CheckFunc: func() bool {
					fp, err := Fingerprint(ctx, t.Backend)
					if err != nil {
						t.logger.Warn("poll failed", zap.Error(err))
						return false
					}
					mu.Lock()
					defer mu.Unlock()
					if fp == last {
						return false
					}
					last = fp
					return true
				},
			}), nil
		})
	}

	if len(sources) == 0 {
		return
	}
	cancel := OnChange(func() (ChangeToken, error) {
		return composeSources(sources, t.logger)
	}, t.Cache.Invalidate)
	t.closers = append(t.closers, cancel)
}

// composeSources arms every source. A failing source is replaced by a
// NeverChangeToken; the round fails only when all of them do.
func composeSources(sources []func() (ChangeToken, error), logger *zap.Logger) (ChangeToken, error) {
	tokens := make([]ChangeToken, 0, len(sources))
	var failed int
	var lastErr error
	for _, source := range sources {
		token, err := source()
		if err != nil {
			logger.Warn("change source unavailable", zap.Error(err))
			failed++
			lastErr = err
			token = NeverChangeToken{}
		}
		tokens = append(tokens, token)
	}
	if failed == len(sources) {
		return nil, lastErr
	}
	return NewCompositeChangeToken(tokens...), nil
}

// Close stops watchers and pollers and detaches the cache from the backend.
func (t *Tree) Close() {
	t.once.Do(func() {
		t.cancel()
		for i := len(t.closers) - 1; i >= 0; i-- {
			t.closers[i]()
		}
	})
}

// Fingerprint hashes the shape of the tree under dir: every node's path,
// size and modification time. Two equal fingerprints mean nothing visible
// changed.
func Fingerprint(ctx context.Context, dir Directory) (uint64, error) {
	h := xxhash.New()
	var walk func(d Directory, base []string) error
	walk = func(d Directory, base []string) error {
		children, err := d.Children(ctx)
		if err != nil {
			return err
		}
		sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })
		for _, child := range children {
			path := JoinPath(base, child.Name())
			info, err := child.Stat(ctx)
			if err != nil {
				if IsNotExist(err) {
					continue
				}
				return err
			}
			_, _ = fmt.Fprintf(h, "%s|%s|%d|%d\n", EncodePath(path), info.ID, info.Size, modTime(info))
			if sub, ok := child.(Directory); ok {
				if err := walk(sub, path); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(dir, nil); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

func modTime(info *Info) int64 {
	if info.LastModified.IsZero() {
		return 0
	}
	return info.LastModified.UnixNano()
}

// validateConfig checks configuration validity
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if cfg.Driver == "" {
		return errors.New("driver is required")
	}
	if _, err := cfg.Key(); err != nil {
		return err
	}

	switch cfg.Driver {
	case "memory":
	case "local":
		if cfg.LocalBasePath == "" {
			return errors.New("local base path is required for local driver")
		}
	case "remote":
		if cfg.RemoteURL == "" {
			return errors.New("remote URL is required for remote driver")
		}
	case "s3":
		if cfg.S3Bucket == "" {
			return errors.New("S3 bucket is required for s3 driver")
		}
	case "gcs":
		if cfg.GCSBucket == "" {
			return errors.New("GCS bucket is required for gcs driver")
		}
	case "azure":
		if cfg.AzureAccountName == "" || cfg.AzureContainerName == "" {
			return errors.New("azure account name and container are required for azure driver")
		}
	case "sftp":
		if cfg.SFTPHost == "" || cfg.SFTPUsername == "" {
			return errors.New("SFTP host and username are required for sftp driver")
		}
	case "zip":
		if cfg.ZipPath == "" {
			return errors.New("zip path is required for zip driver")
		}
	default:
		factoryMutex.RLock()
		_, ok := driverFactories[cfg.Driver]
		factoryMutex.RUnlock()
		if !ok {
			return fmt.Errorf("unknown driver: %s", cfg.Driver)
		}
	}

	return nil
}
