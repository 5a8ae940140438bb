package filetree

import (
	"context"
	"time"
)

// Info represents file/directory metadata
type Info struct {
	ID           string
	Name         string
	Dir          bool
	MimeType     string
	Size         int64
	URL          string
	Icon         string
	Extra        map[string]any
	Created      time.Time
	LastModified time.Time
}

// Listener is invoked after a node changes. It receives the node the
// listener was registered on.
type Listener func(f File)

// ============================================================================
// Core Interfaces
// ============================================================================

// File is the contract every node in a tree satisfies, leaf or directory.
//
// Leaves and directories are distinguished by type, not by a flag:
//
//	switch n := f.(type) {
//	case filetree.Directory:
//	    children, err := n.Children(ctx)
//	default:
//	    data, err := n.Read(ctx)
//	}
type File interface {
	// ID is stable for the node's lifetime and never reused.
	ID() string

	// Name is unique among the node's siblings.
	Name() string

	// Stat returns a metadata snapshot.
	Stat(ctx context.Context) (*Info, error)

	// Read returns the file content. Directories fail with ErrIsDir.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the file content and returns the stored bytes.
	// Directories fail with ErrIsDir.
	Write(ctx context.Context, data []byte) ([]byte, error)

	// Rename changes the node's name. Fails with ErrExist on a sibling collision.
	Rename(ctx context.Context, name string) error

	// Delete removes the node (recursively for directories).
	Delete(ctx context.Context) error

	// Copy copies the node into target and returns the copy.
	Copy(ctx context.Context, target Directory) (File, error)

	// Move moves the node into target and returns the node at its new location.
	Move(ctx context.Context, target Directory) (File, error)

	// OnChange registers a change listener. Returns a function to unregister it.
	OnChange(fn Listener) (unregister func())
}

// Directory is a File that holds children.
type Directory interface {
	File

	// AddFile creates a leaf child. An empty mimeType is guessed from the name and content.
	AddFile(ctx context.Context, data []byte, name, mimeType string) (File, error)

	// AddDirectory creates a directory child.
	AddDirectory(ctx context.Context, name string) (Directory, error)

	// Children lists the direct children.
	Children(ctx context.Context) ([]File, error)

	// Search finds descendants whose names match query.
	Search(ctx context.Context, query string) ([]SearchResult, error)

	// GetFile resolves a path relative to this directory. An empty path returns the directory itself.
	GetFile(ctx context.Context, path []string) (File, error)
}

// SearchResult pairs a match with its name-based path relative to the search root.
// The path includes the match's own name and goes stale on any rename along it.
type SearchResult struct {
	Path []string
	File File
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================

// Unwrapper is implemented by wrappers that sit in front of another node.
// A wrapper that enforces a policy on writes (read-only, validated,
// encrypted) returns nil, so backends never reach past it for a native copy
// or move.
type Unwrapper interface {
	Unwrap() File
}

// Notifier is implemented by nodes whose listeners can be signalled from outside,
// e.g. a copy target that received a child through a backend-native operation.
type Notifier interface {
	Notify()
}

// Unwrap peels every wrapper layer and returns the concrete backend node. It
// stops at a wrapper whose Unwrap returns nil and returns that wrapper.
func Unwrap(f File) File {
	for {
		u, ok := f.(Unwrapper)
		if !ok {
			return f
		}
		inner := u.Unwrap()
		if inner == nil {
			return f
		}
		f = inner
	}
}

// IsDirectory reports whether f is a Directory.
func IsDirectory(f File) bool {
	_, ok := f.(Directory)
	return ok
}
