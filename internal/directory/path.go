package directory

import (
	"fmt"

	"wikiportal/api/internal/store"
)

// PathToRoot returns the root-first slug path of an entry, including its
// own slug. The walk stops at a root or at a parent id missing from the
// index, so a broken chain yields a truncated path rather than an error.
// A parent cycle yields ErrCorruptTree.
func (t *Tree) PathToRoot(entryID string) ([]string, error) {
	chain, err := t.ancestry(entryID)
	if err != nil {
		return nil, err
	}
	path := make([]string, len(chain))
	for i, idx := range chain {
		path[i] = t.arena[idx].Slug
	}
	return path, nil
}

// Crumb is one step of a breadcrumb trail.
type Crumb struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Slug   string   `json:"slug"`
	Emoji  *string  `json:"emoji,omitempty"`
	IsPage bool     `json:"isPage"`
	Path   []string `json:"path"`
}

// Breadcrumbs returns the trail from the department root down to the entry.
// Each crumb carries the slug path that resolves back to it.
func (t *Tree) Breadcrumbs(entryID string) ([]Crumb, error) {
	chain, err := t.ancestry(entryID)
	if err != nil {
		return nil, err
	}
	crumbs := make([]Crumb, len(chain))
	path := make([]string, 0, len(chain))
	for i, idx := range chain {
		entry := t.arena[idx]
		path = append(path, entry.Slug)
		crumbs[i] = Crumb{
			ID:     entry.ID,
			Name:   entry.Name,
			Slug:   entry.Slug,
			Emoji:  entry.Emoji,
			IsPage: entry.IsPage(),
			Path:   cloneSegments(path),
		}
	}
	return crumbs, nil
}

// ancestry returns arena positions from the topmost reachable ancestor down
// to the entry itself.
func (t *Tree) ancestry(entryID string) ([]int, error) {
	idx, ok := t.byID[entryID]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", entryID, ErrNotIndexed)
	}
	visited := map[int]struct{}{}
	reversed := []int{}
	for {
		if _, seen := visited[idx]; seen {
			return nil, fmt.Errorf("path to root of %s: %w", entryID, ErrCorruptTree)
		}
		visited[idx] = struct{}{}
		reversed = append(reversed, idx)

		parent := t.arena[idx].ParentID
		if parent == nil {
			break
		}
		next, ok := t.byID[*parent]
		if !ok {
			break
		}
		idx = next
	}

	chain := make([]int, len(reversed))
	for i, pos := range reversed {
		chain[len(reversed)-1-i] = pos
	}
	return chain, nil
}

// Node is the nested rendering of a department tree.
type Node struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Slug     string   `json:"slug"`
	Emoji    *string  `json:"emoji,omitempty"`
	FrameID  *string  `json:"frameId,omitempty"`
	Path     []string `json:"path"`
	Children []Node   `json:"children,omitempty"`
}

// Nested renders a department's forest. Pages never list children since
// they own everything below their own segment.
func (t *Tree) Nested(departmentID string) ([]Node, error) {
	visited := map[int]struct{}{}
	var build func(key siblings, prefix []string) ([]Node, error)
	build = func(key siblings, prefix []string) ([]Node, error) {
		list := t.children[key]
		nodes := make([]Node, 0, len(list))
		for _, idx := range list {
			if _, seen := visited[idx]; seen {
				return nil, fmt.Errorf("nested tree of %s: %w", departmentID, ErrCorruptTree)
			}
			visited[idx] = struct{}{}
			entry := t.arena[idx]
			path := append(cloneSegments(prefix), entry.Slug)
			node := Node{
				ID:      entry.ID,
				Name:    entry.Name,
				Slug:    entry.Slug,
				Emoji:   entry.Emoji,
				FrameID: entry.FrameID,
				Path:    path,
			}
			if !entry.IsPage() {
				children, err := build(childrenOf(entry.DepartmentID, entry.ID), path)
				if err != nil {
					return nil, err
				}
				node.Children = children
			}
			nodes = append(nodes, node)
		}
		return nodes, nil
	}
	return build(rootsOf(departmentID), nil)
}

// Entries returns the indexed entries in ingestion order.
func (t *Tree) Entries() []store.DirectoryEntry {
	out := make([]store.DirectoryEntry, len(t.arena))
	copy(out, t.arena)
	return out
}
