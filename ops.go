package filetree

import (
	"context"
	"fmt"
	"time"
)

// ============================================================================
// Default Copy / Move
// ============================================================================
// Backends implement File.Copy and File.Move by calling these unless they
// have a native operation for the target. A native override must leave the
// same final tree and fail with the same errors.

// CopyTo copies src into target.
//
// Leaves are read and re-added with the same name and MIME type. Directories
// list their whole subtree first, so a target that is src or lies below it
// fails with ErrInvalidTarget before anything is created. Then a directory of
// the same name is created in target and each leaf is copied into it.
func CopyTo(ctx context.Context, src File, target Directory) (File, error) {
	if target == nil {
		return nil, ErrInvalidTarget
	}

	switch s := src.(type) {
	case Directory:
		tree, err := listSubtree(ctx, s, Unwrap(target).ID())
		if err != nil {
			return nil, err
		}
		return tree.copyInto(ctx, target)
	default:
		data, err := s.Read(ctx)
		if err != nil {
			return nil, err
		}
		info, err := s.Stat(ctx)
		if err != nil {
			return nil, err
		}
		return target.AddFile(ctx, data, s.Name(), info.MimeType)
	}
}

// subtree is a directory listing taken ahead of a copy.
type subtree struct {
	dir      Directory
	children []File
	dirs     map[int]*subtree
}

// listSubtree lists dir recursively. It fails when a directory in it has the
// id targetID.
func listSubtree(ctx context.Context, dir Directory, targetID string) (*subtree, error) {
	if Unwrap(dir).ID() == targetID {
		return nil, &PathError{Op: "copy", Path: dir.Name(), Err: ErrInvalidTarget}
	}
	children, err := dir.Children(ctx)
	if err != nil {
		return nil, err
	}
	t := &subtree{dir: dir, children: children, dirs: make(map[int]*subtree)}
	for i, child := range children {
		d, ok := child.(Directory)
		if !ok {
			continue
		}
		if t.dirs[i], err = listSubtree(ctx, d, targetID); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *subtree) copyInto(ctx context.Context, target Directory) (Directory, error) {
	dir, err := target.AddDirectory(ctx, t.dir.Name())
	if err != nil {
		return nil, err
	}
	for i, child := range t.children {
		if sub, ok := t.dirs[i]; ok {
			_, err = sub.copyInto(ctx, dir)
		} else {
			_, err = child.Copy(ctx, dir)
		}
		if err != nil {
			return dir, fmt.Errorf("copy %s: %w", child.Name(), err)
		}
	}
	return dir, nil
}

// MoveTo moves src into target by copying and then deleting the source.
//
// The source is only deleted once the copy succeeded. If the delete fails the
// copy is kept and returned along with the error: a failed move leaves a
// duplicate, never a loss.
func MoveTo(ctx context.Context, src File, target Directory) (File, error) {
	copied, err := src.Copy(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := src.Delete(ctx); err != nil {
		return copied, fmt.Errorf("delete source after move: %w", err)
	}
	return copied, nil
}

// ============================================================================
// Directory metadata
// ============================================================================

// DirectoryLastModified computes a directory's modification time: the latest
// LastModified among its children, or created when it has none.
func DirectoryLastModified(ctx context.Context, dir Directory, created time.Time) (time.Time, error) {
	children, err := dir.Children(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if len(children) == 0 {
		return created, nil
	}

	var latest time.Time
	for _, child := range children {
		info, err := child.Stat(ctx)
		if err != nil {
			return time.Time{}, err
		}
		if info.LastModified.After(latest) {
			latest = info.LastModified
		}
	}
	return latest, nil
}

// ReadPath resolves path under dir and reads the file there.
func ReadPath(ctx context.Context, dir Directory, path []string) ([]byte, error) {
	f, err := dir.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return f.Read(ctx)
}

// MkdirAll resolves path under dir, creating missing directories on the way.
func MkdirAll(ctx context.Context, dir Directory, path []string) (Directory, error) {
	current := dir
	for i, name := range path {
		child, err := findChild(ctx, current, name)
		if err != nil {
			return nil, err
		}
		if child == nil {
			next, err := current.AddDirectory(ctx, name)
			if err != nil {
				return nil, err
			}
			current = next
			continue
		}
		next, ok := child.(Directory)
		if !ok {
			return nil, NewPathError("mkdir", path[:i+1], ErrNotDir)
		}
		current = next
	}
	return current, nil
}
