package filetree

import (
	"context"
	"strings"

	"github.com/gobwas/glob"
)

// ============================================================================
// Selector Interface
// ============================================================================

// Selector decides which nodes a tree walk reports and which directories it
// descends into.
//
//	// Every JSON file under docs, skipping hidden directories
//	sel := filetree.And(
//	    filetree.Glob("*.json"),
//	    filetree.FuncSelectorFull(
//	        func(f filetree.File) bool { return true },
//	        func(d filetree.Directory) bool { return !strings.HasPrefix(d.Name(), ".") },
//	    ),
//	)
//	results, err := filetree.Find(ctx, docs, sel)
type Selector interface {
	// Match returns true if the node should be included in results.
	Match(f File) bool

	// TraverseDescendants returns true if the directory's children should be visited.
	TraverseDescendants(d Directory) bool
}

// Find walks dir depth-first and returns every descendant the selector
// matches, with its path relative to dir.
func Find(ctx context.Context, dir Directory, selector Selector) ([]SearchResult, error) {
	if selector == nil {
		selector = All()
	}
	var results []SearchResult
	if err := find(ctx, dir, nil, selector, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func find(ctx context.Context, dir Directory, base []string, selector Selector, results *[]SearchResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	children, err := dir.Children(ctx)
	if err != nil {
		return err
	}

	for _, child := range children {
		path := JoinPath(base, child.Name())
		if selector.Match(child) {
			*results = append(*results, SearchResult{Path: path, File: child})
		}
		if d, ok := child.(Directory); ok && selector.TraverseDescendants(d) {
			if err := find(ctx, d, path, selector, results); err != nil {
				return err
			}
		}
	}
	return nil
}

// SearchTree is the default Directory.Search: a case-insensitive name match
// over every descendant. Queries containing glob metacharacters (* ? [ {) are
// compiled as globs, anything else matches as a substring.
func SearchTree(ctx context.Context, dir Directory, query string) ([]SearchResult, error) {
	return Find(ctx, dir, Query(query))
}

// ============================================================================
// Built-in Selectors
// ============================================================================

type allSelector struct{}

func (allSelector) Match(File) bool                    { return true }
func (allSelector) TraverseDescendants(Directory) bool { return true }

// All matches every node and traverses every directory.
func All() Selector {
	return allSelector{}
}

type globSelector struct {
	g glob.Glob
}

// Glob matches node names against a glob pattern. Supports *, ?, [abc], [a-z]
// and {alt1,alt2}. An invalid pattern matches nothing.
//
//	Glob("*.txt")
//	Glob("report-{2023,2024}.pdf")
func Glob(pattern string) Selector {
	g, err := glob.Compile(pattern)
	if err != nil {
		return FuncSelector(func(File) bool { return false })
	}
	return &globSelector{g: g}
}

func (s *globSelector) Match(f File) bool                    { return s.g.Match(f.Name()) }
func (s *globSelector) TraverseDescendants(Directory) bool { return true }

type substringSelector struct {
	needle string
}

func (s *substringSelector) Match(f File) bool {
	return strings.Contains(strings.ToLower(f.Name()), s.needle)
}
func (s *substringSelector) TraverseDescendants(Directory) bool { return true }

// Query builds the selector SearchTree uses for a free-form search string.
func Query(query string) Selector {
	q := strings.ToLower(strings.TrimSpace(query))
	if strings.ContainsAny(q, "*?[{") {
		g, err := glob.Compile(q)
		if err == nil {
			return FuncSelector(func(f File) bool {
				return g.Match(strings.ToLower(f.Name()))
			})
		}
	}
	return &substringSelector{needle: q}
}

// ============================================================================
// Composable Selectors (And, Or, Not)
// ============================================================================

type andSelector struct {
	selectors []Selector
}

// And matches only if ALL selectors match.
func And(selectors ...Selector) Selector {
	return &andSelector{selectors: selectors}
}

func (s *andSelector) Match(f File) bool {
	for _, sel := range s.selectors {
		if !sel.Match(f) {
			return false
		}
	}
	return true
}

func (s *andSelector) TraverseDescendants(d Directory) bool {
	for _, sel := range s.selectors {
		if !sel.TraverseDescendants(d) {
			return false
		}
	}
	return true
}

type orSelector struct {
	selectors []Selector
}

// Or matches if ANY selector matches.
func Or(selectors ...Selector) Selector {
	return &orSelector{selectors: selectors}
}

func (s *orSelector) Match(f File) bool {
	for _, sel := range s.selectors {
		if sel.Match(f) {
			return true
		}
	}
	return false
}

func (s *orSelector) TraverseDescendants(d Directory) bool {
	for _, sel := range s.selectors {
		if sel.TraverseDescendants(d) {
			return true
		}
	}
	return false
}

type notSelector struct {
	selector Selector
}

// Not inverts a selector's match result. Traversal is unaffected.
func Not(selector Selector) Selector {
	return &notSelector{selector: selector}
}

func (s *notSelector) Match(f File) bool                    { return !s.selector.Match(f) }
func (s *notSelector) TraverseDescendants(Directory) bool { return true }

// ============================================================================
// FuncSelector - Custom logic
// ============================================================================

type funcSelector struct {
	matchFn    func(File) bool
	traverseFn func(Directory) bool
}

// FuncSelector creates a selector from a match function; every directory is traversed.
func FuncSelector(fn func(File) bool) Selector {
	return &funcSelector{
		matchFn:    fn,
		traverseFn: func(Directory) bool { return true },
	}
}

// FuncSelectorFull creates a selector with custom match and traverse functions.
func FuncSelectorFull(matchFn func(File) bool, traverseFn func(Directory) bool) Selector {
	return &funcSelector{
		matchFn:    matchFn,
		traverseFn: traverseFn,
	}
}

func (s *funcSelector) Match(f File) bool                    { return s.matchFn(f) }
func (s *funcSelector) TraverseDescendants(d Directory) bool { return s.traverseFn(d) }
