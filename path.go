package filetree

import (
	"context"
	"net/url"
	"strings"
)

// EncodePath joins path segments into an index key: each segment is
// percent-escaped, then joined with "/". The root encodes to "".
func EncodePath(path []string) string {
	if len(path) == 0 {
		return ""
	}
	escaped := make([]string, len(path))
	for i, seg := range path {
		escaped[i] = url.PathEscape(seg)
	}
	return strings.Join(escaped, "/")
}

// DecodePath reverses EncodePath.
func DecodePath(key string) ([]string, error) {
	key = strings.Trim(key, "/")
	if key == "" {
		return nil, nil
	}
	parts := strings.Split(key, "/")
	out := make([]string, len(parts))
	for i, p := range parts {
		seg, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		out[i] = seg
	}
	return out, nil
}

// SplitPath splits a human "/a/b/c" path into segments, ignoring empty ones.
// Unlike DecodePath it does not unescape.
func SplitPath(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// JoinPath returns a new slice holding base followed by rel.
func JoinPath(base []string, rel ...string) []string {
	out := make([]string, 0, len(base)+len(rel))
	out = append(out, base...)
	return append(out, rel...)
}

// ValidateName checks a node name for use inside a directory.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return ErrInvalidName
	}
	return nil
}

// Resolve is the uncached path resolution every directory can fall back on.
//
// The parent path is resolved through dir.GetFile, the parent's children are
// listed fresh, and the last segment is matched by name. A missing segment or a
// non-directory in the middle of the path fails with ErrNotExist naming the
// path up to the segment that could not be resolved.
func Resolve(ctx context.Context, dir Directory, path []string) (File, error) {
	if len(path) == 0 {
		return dir, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var parent File = dir
	if len(path) > 1 {
		p, err := dir.GetFile(ctx, path[:len(path)-1])
		if err != nil {
			return nil, err
		}
		parent = p
	}

	pd, ok := parent.(Directory)
	if !ok {
		return nil, NewPathError("getfile", path[:len(path)-1], ErrNotExist)
	}

	children, err := pd.Children(ctx)
	if err != nil {
		return nil, err
	}

	name := path[len(path)-1]
	for _, child := range children {
		if child.Name() == name {
			return child, nil
		}
	}
	return nil, NewPathError("getfile", path, ErrNotExist)
}

// findChild returns the child of dir named name, or nil.
func findChild(ctx context.Context, dir Directory, name string) (File, error) {
	children, err := dir.Children(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, nil
}
