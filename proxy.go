package filetree

import (
	"context"
	"sync"
)

// ============================================================================
// Proxy
// ============================================================================

// Proxy wraps one node and forwards every operation to it unchanged.
//
// It is the extension point the other layers build on: a type embeds *Proxy
// (or *DirectoryProxy) and overrides only the methods it cares about. The
// proxy also subscribes to the wrapped node's change events and re-fires them
// on its own listeners, passing the outermost wrapper, so listeners on a proxy
// see the same mutations as listeners on the backend node.
type Proxy struct {
	target    File
	self      File
	listeners *Listeners
	hooks     []func()

	detachOnce sync.Once
	detach     func()
}

// NewProxy wraps f. Directories get a *DirectoryProxy, leaves a *Proxy.
func NewProxy(f File) File {
	switch t := f.(type) {
	case Directory:
		return NewDirectoryProxy(t)
	default:
		p := &Proxy{}
		p.bind(f, p)
		return p
	}
}

// bind attaches the proxy to target. self is the outermost wrapper handed to
// listeners, so types embedding a Proxy pass themselves.
func (p *Proxy) bind(target, self File) {
	p.attach(target, self)
	p.detach = target.OnChange(func(File) {
		p.Notify()
	})
}

// attach is bind without the subscription, for wrappers that forward
// OnChange to the target themselves.
func (p *Proxy) attach(target, self File) {
	p.target = target
	p.self = self
	p.listeners = NewListeners()
}

// addHook registers an internal callback that runs before listeners on every
// change. Only called during construction.
func (p *Proxy) addHook(fn func()) {
	p.hooks = append(p.hooks, fn)
}

// Notify runs the proxy's internal hooks and then fires its listeners.
func (p *Proxy) Notify() {
	for _, h := range p.hooks {
		h()
	}
	p.listeners.Fire(p.self)
}

// Close detaches the proxy from the wrapped node's events. Operations keep
// forwarding; only re-firing stops.
func (p *Proxy) Close() {
	p.detachOnce.Do(func() {
		if p.detach != nil {
			p.detach()
		}
	})
}

// Unwrap returns the wrapped node.
func (p *Proxy) Unwrap() File {
	return p.target
}

func (p *Proxy) ID() string {
	return p.target.ID()
}

func (p *Proxy) Name() string {
	return p.target.Name()
}

func (p *Proxy) Stat(ctx context.Context) (*Info, error) {
	return p.target.Stat(ctx)
}

func (p *Proxy) Read(ctx context.Context) ([]byte, error) {
	return p.target.Read(ctx)
}

func (p *Proxy) Write(ctx context.Context, data []byte) ([]byte, error) {
	return p.target.Write(ctx, data)
}

func (p *Proxy) Rename(ctx context.Context, name string) error {
	return p.target.Rename(ctx, name)
}

func (p *Proxy) Delete(ctx context.Context) error {
	return p.target.Delete(ctx)
}

func (p *Proxy) Copy(ctx context.Context, target Directory) (File, error) {
	return p.target.Copy(ctx, target)
}

func (p *Proxy) Move(ctx context.Context, target Directory) (File, error) {
	return p.target.Move(ctx, target)
}

func (p *Proxy) OnChange(fn Listener) (unregister func()) {
	return p.listeners.Register(fn)
}

// ============================================================================
// DirectoryProxy
// ============================================================================

// DirectoryProxy is the Proxy for directories.
type DirectoryProxy struct {
	*Proxy
	dir Directory
}

// NewDirectoryProxy wraps a directory.
func NewDirectoryProxy(d Directory) *DirectoryProxy {
	p := &DirectoryProxy{Proxy: &Proxy{}}
	p.bindDir(d, p)
	return p
}

func (p *DirectoryProxy) bindDir(d Directory, self File) {
	p.dir = d
	p.bind(d, self)
}

// UnwrapDirectory returns the wrapped directory.
func (p *DirectoryProxy) UnwrapDirectory() Directory {
	return p.dir
}

func (p *DirectoryProxy) AddFile(ctx context.Context, data []byte, name, mimeType string) (File, error) {
	return p.dir.AddFile(ctx, data, name, mimeType)
}

func (p *DirectoryProxy) AddDirectory(ctx context.Context, name string) (Directory, error) {
	return p.dir.AddDirectory(ctx, name)
}

func (p *DirectoryProxy) Children(ctx context.Context) ([]File, error) {
	return p.dir.Children(ctx)
}

func (p *DirectoryProxy) Search(ctx context.Context, query string) ([]SearchResult, error) {
	return p.dir.Search(ctx, query)
}

func (p *DirectoryProxy) GetFile(ctx context.Context, path []string) (File, error) {
	return p.dir.GetFile(ctx, path)
}

// Ensure the proxies implement the contract
var (
	_ File      = (*Proxy)(nil)
	_ Unwrapper = (*Proxy)(nil)
	_ Notifier  = (*Proxy)(nil)
	_ Directory = (*DirectoryProxy)(nil)
)
