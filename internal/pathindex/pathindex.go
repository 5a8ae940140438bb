// Package pathindex tracks node identity for path-addressed backends.
//
// Backends such as the local disk or an object store address entries by
// path, while the tree needs nodes with stable ids and listeners. An Index
// assigns an id the first time a path is seen, hands out one node object per
// id, and rewrites paths when entries are renamed or moved so ids follow
// their entries.
package pathindex

import (
	"strings"
	"sync"

	"github.com/gobeaver/filetree"
	"github.com/google/uuid"
)

// Factory builds the node object for a newly indexed id.
type Factory func(id string, dir bool) filetree.File

// Index maps paths to ids, ids to node objects and listeners.
type Index struct {
	newNode Factory

	mu      sync.Mutex
	ids     map[string]string   // encoded path -> id
	paths   map[string][]string // id -> path
	handles map[string]filetree.File
	events  map[string]*filetree.Listeners
}

// New creates an empty index.
func New(newNode Factory) *Index {
	return &Index{
		newNode: newNode,
		ids:     make(map[string]string),
		paths:   make(map[string][]string),
		handles: make(map[string]filetree.File),
		events:  make(map[string]*filetree.Listeners),
	}
}

// Handle returns the node for path, assigning an id on first sight. A path
// whose kind changed gets a fresh node.
func (x *Index) Handle(path []string, dir bool) filetree.File {
	key := filetree.EncodePath(path)

	x.mu.Lock()
	defer x.mu.Unlock()

	if id, ok := x.ids[key]; ok {
		h := x.handles[id]
		if filetree.IsDirectory(h) == dir {
			return h
		}
		x.forget(key)
	}

	id := uuid.NewString()
	h := x.newNode(id, dir)
	x.ids[key] = id
	x.paths[id] = append([]string(nil), path...)
	x.handles[id] = h
	x.events[id] = filetree.NewListeners()
	return h
}

// Forget drops the node at path and every node below it.
func (x *Index) Forget(path []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.forget(filetree.EncodePath(path))
}

func (x *Index) forget(key string) {
	for k, id := range x.ids {
		if k == key || key == "" || strings.HasPrefix(k, key+"/") {
			delete(x.ids, k)
			delete(x.paths, id)
			delete(x.handles, id)
		}
	}
}

// Remap moves the ids at from and below it to to. Nodes previously at to are
// forgotten.
func (x *Index) Remap(from, to []string) {
	fromKey := filetree.EncodePath(from)

	x.mu.Lock()
	defer x.mu.Unlock()

	x.forget(filetree.EncodePath(to))
	moved := make(map[string]string)
	for k, id := range x.ids {
		if k == fromKey || strings.HasPrefix(k, fromKey+"/") {
			moved[k] = id
		}
	}
	for k, id := range moved {
		delete(x.ids, k)
		rest := x.paths[id][len(from):]
		p := filetree.JoinPath(to, rest...)
		x.ids[filetree.EncodePath(p)] = id
		x.paths[id] = p
	}
}

// PathOf returns a copy of the current path of id.
func (x *Index) PathOf(id string) ([]string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	p, ok := x.paths[id]
	if !ok {
		return nil, false
	}
	return append([]string(nil), p...), true
}

// Node returns the node object of id, nil once forgotten.
func (x *Index) Node(id string) filetree.File {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.handles[id]
}

// Listeners returns the listeners of id. They survive Forget so that
// callers holding a deleted node can still unregister.
func (x *Index) Listeners(id string) *filetree.Listeners {
	x.mu.Lock()
	defer x.mu.Unlock()
	l, ok := x.events[id]
	if !ok {
		l = filetree.NewListeners()
		x.events[id] = l
	}
	return l
}

// Fire signals the listeners of the nodes at paths and of their ancestors,
// each node at most once.
func (x *Index) Fire(paths ...[]string) {
	type target struct {
		l *filetree.Listeners
		h filetree.File
	}
	var targets []target
	seen := make(map[string]bool)

	x.mu.Lock()
	for _, path := range paths {
		for i := len(path); i >= 0; i-- {
			id, ok := x.ids[filetree.EncodePath(path[:i])]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			targets = append(targets, target{l: x.events[id], h: x.handles[id]})
		}
	}
	x.mu.Unlock()

	for _, t := range targets {
		t.l.Fire(t.h)
	}
}

// IsPrefix reports whether prefix is p or one of its ancestors.
func IsPrefix(prefix, p []string) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if prefix[i] != p[i] {
			return false
		}
	}
	return true
}
