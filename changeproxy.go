package filetree

import "context"

// ============================================================================
// ChangeEventProxy
// ============================================================================

// ChangeEventProxy is a Proxy that fires its own change event after every
// successful Write, Rename, Delete, Copy and Move, on top of whatever the
// wrapped node fires itself. Backends that never self-notify still produce a
// change signal at this layer, which the cache relies on.
//
// Failed operations never fire.
type ChangeEventProxy struct {
	*Proxy
}

// NewChangeEventProxy wraps f. Directories get a *ChangeEventDirectory.
func NewChangeEventProxy(f File) File {
	switch t := f.(type) {
	case Directory:
		return NewChangeEventDirectory(t)
	default:
		return newChangeEventProxy(f)
	}
}

func newChangeEventProxy(f File) *ChangeEventProxy {
	p := &ChangeEventProxy{Proxy: &Proxy{}}
	p.bind(f, p)
	return p
}

func (p *ChangeEventProxy) Write(ctx context.Context, data []byte) ([]byte, error) {
	out, err := p.target.Write(ctx, data)
	if err != nil {
		return nil, err
	}
	p.Notify()
	return out, nil
}

func (p *ChangeEventProxy) Rename(ctx context.Context, name string) error {
	if err := p.target.Rename(ctx, name); err != nil {
		return err
	}
	p.Notify()
	return nil
}

func (p *ChangeEventProxy) Delete(ctx context.Context) error {
	if err := p.target.Delete(ctx); err != nil {
		return err
	}
	p.Notify()
	return nil
}

func (p *ChangeEventProxy) Copy(ctx context.Context, target Directory) (File, error) {
	copied, err := p.target.Copy(ctx, target)
	if err != nil {
		return nil, err
	}
	notify(target)
	return copied, nil
}

func (p *ChangeEventProxy) Move(ctx context.Context, target Directory) (File, error) {
	moved, err := p.target.Move(ctx, target)
	if err != nil {
		if moved != nil {
			notify(target)
		}
		return moved, err
	}
	p.Notify()
	notify(target)
	return moved, nil
}

// notify signals f's listeners when f supports it.
func notify(f File) {
	if n, ok := f.(Notifier); ok {
		n.Notify()
	}
}

// ============================================================================
// ChangeEventDirectory
// ============================================================================

// ChangeEventDirectory is the ChangeEventProxy for directories. It also fires
// after successful AddFile and AddDirectory.
type ChangeEventDirectory struct {
	*DirectoryProxy
}

// NewChangeEventDirectory wraps a directory.
func NewChangeEventDirectory(d Directory) *ChangeEventDirectory {
	p := &ChangeEventDirectory{DirectoryProxy: &DirectoryProxy{Proxy: &Proxy{}}}
	p.bindDir(d, p)
	return p
}

func (p *ChangeEventDirectory) Write(ctx context.Context, data []byte) ([]byte, error) {
	out, err := p.dir.Write(ctx, data)
	if err != nil {
		return nil, err
	}
	p.Notify()
	return out, nil
}

func (p *ChangeEventDirectory) Rename(ctx context.Context, name string) error {
	if err := p.dir.Rename(ctx, name); err != nil {
		return err
	}
	p.Notify()
	return nil
}

func (p *ChangeEventDirectory) Delete(ctx context.Context) error {
	if err := p.dir.Delete(ctx); err != nil {
		return err
	}
	p.Notify()
	return nil
}

func (p *ChangeEventDirectory) Copy(ctx context.Context, target Directory) (File, error) {
	copied, err := p.dir.Copy(ctx, target)
	if err != nil {
		return nil, err
	}
	notify(target)
	return copied, nil
}

func (p *ChangeEventDirectory) Move(ctx context.Context, target Directory) (File, error) {
	moved, err := p.dir.Move(ctx, target)
	if err != nil {
		if moved != nil {
			notify(target)
		}
		return moved, err
	}
	p.Notify()
	notify(target)
	return moved, nil
}

func (p *ChangeEventDirectory) AddFile(ctx context.Context, data []byte, name, mimeType string) (File, error) {
	f, err := p.dir.AddFile(ctx, data, name, mimeType)
	if err != nil {
		return nil, err
	}
	p.Notify()
	return f, nil
}

func (p *ChangeEventDirectory) AddDirectory(ctx context.Context, name string) (Directory, error) {
	d, err := p.dir.AddDirectory(ctx, name)
	if err != nil {
		return nil, err
	}
	p.Notify()
	return d, nil
}

var (
	_ File      = (*ChangeEventProxy)(nil)
	_ Directory = (*ChangeEventDirectory)(nil)
)
