package filetree

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrMountNotFound is returned when no mount is registered for a node
	ErrMountNotFound = fmt.Errorf("no mount for node: %w", ErrNotExist)
	// ErrMountExists is returned when mounting on a node that already has a mount
	ErrMountExists = fmt.Errorf("mount point already exists: %w", ErrExist)
	// ErrNilDirectory is returned when trying to mount a nil directory
	ErrNilDirectory = errors.New("directory cannot be nil")
)

// mountTable maps mount point node ids to the directories mounted there. One
// table is shared by every node of a virtual tree.
type mountTable struct {
	mu     sync.RWMutex
	mounts map[string]*mount
}

type mount struct {
	dir         Directory
	unsubscribe func()
}

func (t *mountTable) lookup(id string) (Directory, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.mounts[id]
	if !ok {
		return nil, false
	}
	return m.dir, true
}

// VirtualOption configures a virtual tree.
type VirtualOption func(*virtualOptions)

type virtualOptions struct {
	logger *zap.Logger
	name   string
}

// WithMountLogger sets the logger used for mount and unmount events.
func WithMountLogger(logger *zap.Logger) VirtualOption {
	return func(o *virtualOptions) {
		o.logger = logger
	}
}

// WithDisplayName overrides the name NewVirtualFS presents for the root.
func WithDisplayName(name string) VirtualOption {
	return func(o *virtualOptions) {
		o.name = name
	}
}

// ============================================================================
// VirtualDirectory
// ============================================================================

// VirtualDirectory overlays a mount table on a directory tree. Listing a
// directory substitutes every child whose id is mounted with the mounted
// directory, presented under the child's own name. Other directories are
// wrapped recursively so mounts are visible at any depth.
//
// Mounts follow the mount point by id: renaming or moving the mount point
// keeps the mount. Deleting it leaves the mount entry in place.
//
//	vfs := filetree.NewVirtualFS(local)
//	err := vfs.MountAt(ctx, []string{"remote"}, remoteRoot)
type VirtualDirectory struct {
	*DirectoryProxy

	table *mountTable
	name  string
	log   *zap.Logger
}

// NewVirtualDirectory wraps dir with an empty mount table.
func NewVirtualDirectory(dir Directory, opts ...VirtualOption) *VirtualDirectory {
	options := virtualOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}

	table := &mountTable{mounts: make(map[string]*mount)}
	return newVirtualDirectory(dir, table, options.logger.Named("vfs"))
}

// NewVirtualFS creates the root of a composed namespace. Its name is the
// wrapped root's name at construction time.
func NewVirtualFS(root Directory, opts ...VirtualOption) *VirtualDirectory {
	options := virtualOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	v := NewVirtualDirectory(root, opts...)
	v.name = root.Name()
	if options.name != "" {
		v.name = options.name
	}
	return v
}

func newVirtualDirectory(dir Directory, table *mountTable, log *zap.Logger) *VirtualDirectory {
	v := &VirtualDirectory{
		DirectoryProxy: &DirectoryProxy{Proxy: &Proxy{}},
		table:          table,
		log:            log,
	}
	v.dir = dir
	v.attach(dir, v)
	return v
}

func (v *VirtualDirectory) wrapChild(f File) File {
	if m, ok := v.table.lookup(f.ID()); ok {
		return newMountPoint(f, m, v.table, v.log)
	}
	if d, ok := f.(Directory); ok {
		return newVirtualDirectory(d, v.table, v.log)
	}
	return f
}

func (v *VirtualDirectory) Name() string {
	if v.name != "" {
		return v.name
	}
	return v.dir.Name()
}

func (v *VirtualDirectory) Stat(ctx context.Context) (*Info, error) {
	info, err := v.dir.Stat(ctx)
	if err != nil {
		return nil, err
	}
	if v.name != "" {
		out := *info
		out.Name = v.name
		return &out, nil
	}
	return info, nil
}

// OnChange registers fn for changes of the wrapped directory and for changes
// inside directories mounted through this node.
func (v *VirtualDirectory) OnChange(fn Listener) (unregister func()) {
	own := v.listeners.Register(fn)
	wrapped := v.dir.OnChange(func(File) {
		fn(v.self)
	})
	return func() {
		own()
		wrapped()
	}
}

func (v *VirtualDirectory) Children(ctx context.Context) ([]File, error) {
	children, err := v.dir.Children(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]File, len(children))
	for i, child := range children {
		out[i] = v.wrapChild(child)
	}
	return out, nil
}

func (v *VirtualDirectory) GetFile(ctx context.Context, path []string) (File, error) {
	if len(path) == 0 {
		return v.self, nil
	}
	return Resolve(ctx, v.self.(Directory), path)
}

// Search walks the virtual view, so mounted trees are searched too.
func (v *VirtualDirectory) Search(ctx context.Context, query string) ([]SearchResult, error) {
	return SearchTree(ctx, v.self.(Directory), query)
}

func (v *VirtualDirectory) AddFile(ctx context.Context, data []byte, name, mimeType string) (File, error) {
	f, err := v.dir.AddFile(ctx, data, name, mimeType)
	if err != nil {
		return nil, err
	}
	return v.wrapChild(f), nil
}

func (v *VirtualDirectory) AddDirectory(ctx context.Context, name string) (Directory, error) {
	d, err := v.dir.AddDirectory(ctx, name)
	if err != nil {
		return nil, err
	}
	if w, ok := v.wrapChild(d).(Directory); ok {
		return w, nil
	}
	return d, nil
}

// Mount substitutes dir for the node with the given id everywhere in this
// virtual tree. Changes inside dir fire on v.
func (v *VirtualDirectory) Mount(nodeID string, dir Directory) error {
	if dir == nil {
		return ErrNilDirectory
	}

	v.table.mu.Lock()
	if _, exists := v.table.mounts[nodeID]; exists {
		v.table.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMountExists, nodeID)
	}
	v.table.mounts[nodeID] = &mount{
		dir: dir,
		unsubscribe: dir.OnChange(func(File) {
			v.Notify()
		}),
	}
	v.table.mu.Unlock()

	v.log.Info("mounted", zap.String("node", nodeID), zap.String("dir", dir.Name()))
	v.Notify()
	return nil
}

// MountAt mounts dir on the node at path, resolved in the virtual view.
func (v *VirtualDirectory) MountAt(ctx context.Context, path []string, dir Directory) error {
	if len(path) == 0 {
		return NewPathError("mount", path, ErrInvalidTarget)
	}
	f, err := v.GetFile(ctx, path)
	if err != nil {
		return err
	}
	return v.Mount(f.ID(), dir)
}

// Unmount removes the mount registered for nodeID, restoring the original
// node.
func (v *VirtualDirectory) Unmount(nodeID string) error {
	v.table.mu.Lock()
	m, exists := v.table.mounts[nodeID]
	if !exists {
		v.table.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMountNotFound, nodeID)
	}
	delete(v.table.mounts, nodeID)
	v.table.mu.Unlock()

	m.unsubscribe()
	v.log.Info("unmounted", zap.String("node", nodeID))
	v.Notify()
	return nil
}

// Mounts returns a copy of the mount table.
func (v *VirtualDirectory) Mounts() map[string]Directory {
	v.table.mu.RLock()
	defer v.table.mu.RUnlock()

	result := make(map[string]Directory, len(v.table.mounts))
	for id, m := range v.table.mounts {
		result[id] = m.dir
	}
	return result
}

// MountIDs returns the mounted node ids in sorted order.
func (v *VirtualDirectory) MountIDs() []string {
	v.table.mu.RLock()
	defer v.table.mu.RUnlock()

	ids := make([]string, 0, len(v.table.mounts))
	for id := range v.table.mounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ============================================================================
// Mount points
// ============================================================================

// mountPoint is a mounted directory seen through the node it replaces. The
// entry carries the replaced node's id and name, and Rename, Delete and Move
// act on that node. Everything else goes to the mounted directory.
type mountPoint struct {
	*VirtualDirectory
	real File
}

func newMountPoint(real File, mounted Directory, table *mountTable, log *zap.Logger) *mountPoint {
	m := &mountPoint{real: real}
	m.VirtualDirectory = &VirtualDirectory{
		DirectoryProxy: &DirectoryProxy{Proxy: &Proxy{}},
		table:          table,
		log:            log,
	}
	m.dir = mounted
	m.attach(mounted, m)
	return m
}

func (m *mountPoint) ID() string {
	return m.real.ID()
}

func (m *mountPoint) Name() string {
	return m.real.Name()
}

func (m *mountPoint) Stat(ctx context.Context) (*Info, error) {
	info, err := m.dir.Stat(ctx)
	if err != nil {
		return nil, err
	}
	out := *info
	out.ID = m.real.ID()
	out.Name = m.real.Name()
	return &out, nil
}

func (m *mountPoint) Rename(ctx context.Context, name string) error {
	return m.real.Rename(ctx, name)
}

func (m *mountPoint) Delete(ctx context.Context) error {
	return m.real.Delete(ctx)
}

func (m *mountPoint) Move(ctx context.Context, target Directory) (File, error) {
	return m.real.Move(ctx, target)
}

// Copy copies the mounted content under the mount point's name.
func (m *mountPoint) Copy(ctx context.Context, target Directory) (File, error) {
	return CopyTo(ctx, m, target)
}

var (
	_ Directory = (*VirtualDirectory)(nil)
	_ Directory = (*mountPoint)(nil)
)
