// Package filetree presents files from any storage backend as one tree of
// nodes with stable ids and change events.
//
// A backend exposes its root as a [Directory]. Every node is a [File];
// directories additionally list, create and search their children. Nodes
// carry listeners, and a mutation fires on the node and on each ancestor so a
// single listener on the root sees everything below it.
//
// # Backends
//
// Drivers live under driver/ and register themselves with [RegisterDriver]:
//
//   - In-memory (github.com/gobeaver/filetree/driver/memory)
//   - Local disk (github.com/gobeaver/filetree/driver/local)
//   - Amazon S3 (github.com/gobeaver/filetree/driver/s3)
//   - Google Cloud Storage (github.com/gobeaver/filetree/driver/gcs)
//   - Azure Blob Storage (github.com/gobeaver/filetree/driver/azure)
//   - SFTP (github.com/gobeaver/filetree/driver/sftp)
//   - ZIP archives (github.com/gobeaver/filetree/driver/zip)
//   - Another filetree server (github.com/gobeaver/filetree/driver/remote)
//
// # Basic Usage
//
//	root := memory.New().Root()
//
//	f, err := filetree.Put(ctx, root, []string{"docs", "hello.txt"}, data,
//	    filetree.WithCreateParents(true))
//
//	data, err := filetree.ReadPath(ctx, root, []string{"docs", "hello.txt"})
//
//	unregister := root.OnChange(func(n filetree.File) {
//	    log.Println("changed:", n.Name())
//	})
//	defer unregister()
//
// # Layers
//
// Layers wrap a Directory and are Directories themselves, so they stack:
//
//	var dir filetree.Directory = backend
//	dir, err = filetree.NewEncrypted(dir, key)
//	dir = filetree.NewValidated(dir, constraints)
//	dir = filetree.NewReadOnly(dir).(filetree.Directory)
//	cached := filetree.NewCachedDirectory(dir)
//	vfs := filetree.NewVirtualFS(cached)
//
// [CachedDirectory] caches listings and path lookups and hands out the same
// wrapper for a path until a change event invalidates it.
// [VirtualDirectory] mounts other trees on existing nodes:
//
//	err := vfs.MountAt(ctx, []string{"shared"}, s3Root)
//
// [New] builds the whole stack from a [Config], which is usually loaded from
// BEAVER_FILETREE_* environment variables.
//
// # Errors
//
// Operations return sentinel errors wrapped in a [PathError]:
//
//	_, err := root.GetFile(ctx, []string{"missing.txt"})
//	if filetree.IsNotExist(err) {
//	    // ...
//	}
package filetree
