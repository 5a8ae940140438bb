package filetree

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// Listener Sets
// ============================================================================

// Listeners is the change-listener set every node carries.
// It is safe for concurrent use; listeners are called without any lock held.
type Listeners struct {
	mu     sync.RWMutex
	nextID uint64
	fns    map[uint64]Listener
}

// NewListeners creates an empty listener set.
func NewListeners() *Listeners {
	return &Listeners{fns: make(map[uint64]Listener)}
}

// Register adds fn and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (l *Listeners) Register(fn Listener) (unregister func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

// Fire invokes every registered listener with f.
func (l *Listeners) Fire(f File) {
	l.mu.RLock()
	fns := make([]Listener, 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(f)
	}
}

// Len returns the number of registered listeners.
func (l *Listeners) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fns)
}

// ============================================================================
// ChangeToken
// ============================================================================
// A ChangeToken is a single-use "something changed" signal. Consumers either
// poll HasChanged or register a callback. Tokens bridge change sources that
// are not node listeners (polling, filesystem watchers) into cache
// invalidation, see CachedDirectory.InvalidateOn.

// ChangeToken represents a change notification token.
type ChangeToken interface {
	// HasChanged returns true if a change has occurred.
	// Once true, it remains true (tokens are single-use).
	HasChanged() bool

	// ActiveChangeCallbacks indicates if the token proactively raises callbacks.
	// If false, consumers should poll HasChanged instead.
	ActiveChangeCallbacks() bool

	// RegisterChangeCallback registers a callback to be invoked when change occurs.
	// Returns a function to unregister the callback.
	RegisterChangeCallback(callback func()) (unregister func())
}

// CallbackChangeToken is a ChangeToken that supports active callbacks.
type CallbackChangeToken struct {
	mu        sync.RWMutex
	changed   atomic.Bool
	callbacks []func()
}

// NewCallbackChangeToken creates a new ChangeToken that supports active callbacks.
func NewCallbackChangeToken() *CallbackChangeToken {
	return &CallbackChangeToken{}
}

func (t *CallbackChangeToken) HasChanged() bool {
	return t.changed.Load()
}

func (t *CallbackChangeToken) ActiveChangeCallbacks() bool {
	return true
}

func (t *CallbackChangeToken) RegisterChangeCallback(callback func()) (unregister func()) {
	t.mu.Lock()
	t.callbacks = append(t.callbacks, callback)
	index := len(t.callbacks) - 1
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if index < len(t.callbacks) {
			// Set to nil instead of removing to avoid index shifting
			t.callbacks[index] = nil
		}
	}
}

// SignalChange marks the token as changed and invokes all callbacks.
func (t *CallbackChangeToken) SignalChange() {
	if t.changed.Swap(true) {
		return // Already changed
	}

	t.mu.RLock()
	callbacks := make([]func(), len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb()
		}
	}
}

// WatchFile returns a token that fires on the next change event of f.
// The token detaches from f once it has fired; call stop to detach earlier.
func WatchFile(f File) (token ChangeToken, stop func()) {
	t := NewCallbackChangeToken()
	var once sync.Once
	var unregister func()
	var mu sync.Mutex
	detach := func() {
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			if unregister != nil {
				unregister()
			}
		})
	}
	mu.Lock()
	unregister = f.OnChange(func(File) {
		t.SignalChange()
		go detach()
	})
	mu.Unlock()
	return t, detach
}

// ============================================================================
// Polling ChangeToken
// ============================================================================

// pollingChangeToken is a ChangeToken for backends without native events.
// It polls for changes at a specified interval.
//
// IMPORTANT: To prevent goroutine leaks, you MUST either:
//  1. Cancel the context passed to NewPollingChangeToken, OR
//  2. Call Stop() on the returned token when done
type pollingChangeToken struct {
	mu        sync.RWMutex
	changed   atomic.Bool
	callbacks []func()
	cancel    context.CancelFunc
	checkFunc func() bool
	interval  time.Duration
	stopped   atomic.Bool
}

// PollingConfig configures a polling change token.
type PollingConfig struct {
	// Interval between polls (default: 5 seconds)
	Interval time.Duration
	// CheckFunc returns true if a change is detected
	CheckFunc func() bool
}

// NewPollingChangeToken creates a ChangeToken that polls for changes.
// The checkFunc is called periodically and should return true if a change occurred.
func NewPollingChangeToken(ctx context.Context, config PollingConfig) *pollingChangeToken {
	if config.Interval == 0 {
		config.Interval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &pollingChangeToken{
		checkFunc: config.CheckFunc,
		interval:  config.Interval,
		cancel:    cancel,
	}

	// Safety net for tokens dropped without Stop.
	runtime.SetFinalizer(t, func(token *pollingChangeToken) {
		if !token.stopped.Load() {
			token.Stop()
		}
	})

	go t.poll(ctx)

	return t
}

func (t *pollingChangeToken) poll(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	defer t.stopped.Store(true)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.checkFunc != nil && t.checkFunc() {
				t.signalChange()
				return // Token is now "spent"
			}
		}
	}
}

func (t *pollingChangeToken) signalChange() {
	if t.changed.Swap(true) {
		return
	}

	t.mu.RLock()
	callbacks := make([]func(), len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb()
		}
	}
}

func (t *pollingChangeToken) HasChanged() bool {
	return t.changed.Load()
}

func (t *pollingChangeToken) ActiveChangeCallbacks() bool {
	return true
}

func (t *pollingChangeToken) RegisterChangeCallback(callback func()) (unregister func()) {
	t.mu.Lock()
	t.callbacks = append(t.callbacks, callback)
	index := len(t.callbacks) - 1
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if index < len(t.callbacks) {
			t.callbacks[index] = nil
		}
	}
}

// Stop stops the polling goroutine.
// It is safe to call Stop multiple times.
func (t *pollingChangeToken) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
}

// ============================================================================
// Composite / Static ChangeTokens
// ============================================================================

// CompositeChangeToken combines multiple ChangeTokens into one.
// HasChanged returns true if ANY of the underlying tokens has changed.
type CompositeChangeToken struct {
	tokens []ChangeToken
}

// NewCompositeChangeToken creates a token that combines multiple tokens.
func NewCompositeChangeToken(tokens ...ChangeToken) *CompositeChangeToken {
	return &CompositeChangeToken{tokens: tokens}
}

func (c *CompositeChangeToken) HasChanged() bool {
	for _, t := range c.tokens {
		if t.HasChanged() {
			return true
		}
	}
	return false
}

func (c *CompositeChangeToken) ActiveChangeCallbacks() bool {
	for _, t := range c.tokens {
		if !t.ActiveChangeCallbacks() {
			return false
		}
	}
	return len(c.tokens) > 0
}

func (c *CompositeChangeToken) RegisterChangeCallback(callback func()) (unregister func()) {
	unregisters := make([]func(), 0, len(c.tokens))
	for _, t := range c.tokens {
		unregisters = append(unregisters, t.RegisterChangeCallback(callback))
	}

	return func() {
		for _, u := range unregisters {
			u()
		}
	}
}

// Stop stops every underlying token that can be stopped, such as a polling
// token whose sibling fired first.
func (c *CompositeChangeToken) Stop() {
	for _, t := range c.tokens {
		if s, ok := t.(interface{ Stop() }); ok {
			s.Stop()
		}
	}
}

// NeverChangeToken is a ChangeToken that never changes. It stands in for a
// change source that is unavailable.
type NeverChangeToken struct{}

func (NeverChangeToken) HasChanged() bool {
	return false
}

func (NeverChangeToken) ActiveChangeCallbacks() bool {
	return false
}

func (NeverChangeToken) RegisterChangeCallback(callback func()) func() {
	return func() {}
}

// ============================================================================
// Helper: OnChange
// ============================================================================

// OnChange continuously watches for changes, producing a fresh token after
// each one fires. Returns a cancel function to stop watching.
//
//	cancel := filetree.OnChange(
//	    func() (filetree.ChangeToken, error) {
//	        return filetree.NewPollingChangeToken(ctx, cfg), nil
//	    },
//	    cached.Invalidate,
//	)
//	defer cancel()
func OnChange(tokenProducer func() (ChangeToken, error), changeAction func()) (cancel func()) {
	ctx, cancelFunc := context.WithCancel(context.Background())

	go func() {
		for {
			token, err := tokenProducer()
			if err != nil {
				return
			}

			done := make(chan struct{})
			var once sync.Once
			unregister := token.RegisterChangeCallback(func() {
				once.Do(func() { close(done) })
			})
			// The token may have fired before the callback was registered.
			if token.HasChanged() {
				once.Do(func() { close(done) })
			}

			select {
			case <-ctx.Done():
				unregister()
				stopToken(token)
				return
			case <-done:
				unregister()
				stopToken(token)
				changeAction()
			}
		}
	}()

	return cancelFunc
}

// stopToken releases a token's background work when it has any.
func stopToken(t ChangeToken) {
	if s, ok := t.(interface{ Stop() }); ok {
		s.Stop()
	}
}
