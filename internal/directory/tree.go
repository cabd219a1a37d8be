// Package directory turns a department's flat directory rows into a
// navigable tree and resolves URL slug paths against it.
package directory

import (
	"errors"
	"fmt"
	"sort"

	"wikiportal/api/internal/store"
)

// ErrCorruptTree is reported when a traversal revisits an entry, which only
// happens when parent references form a cycle.
var ErrCorruptTree = errors.New("directory tree is corrupt")

// ErrNotIndexed is returned for entry ids absent from the tree.
var ErrNotIndexed = errors.New("entry not indexed")

// siblings identifies one children list: the entries of a department that
// share a parent. Root marks the department roots, so an empty parent id is
// still a parent reference.
type siblings struct {
	DepartmentID string
	ParentID     string
	Root         bool
}

func rootsOf(departmentID string) siblings {
	return siblings{DepartmentID: departmentID, Root: true}
}

func childrenOf(departmentID, parentID string) siblings {
	return siblings{DepartmentID: departmentID, ParentID: parentID}
}

// Tree is an immutable index over a snapshot of directory rows. Entries are
// owned by the tree's arena and referenced by position.
type Tree struct {
	arena    []store.DirectoryEntry
	byID     map[string]int
	children map[siblings][]int
	bySlug   map[siblings]map[string]int
	problems []Problem
}

// ProblemKind classifies an ingestion diagnostic.
type ProblemKind string

const (
	ProblemDuplicateSlug ProblemKind = "duplicate_slug"
	ProblemCycle         ProblemKind = "cycle"
	ProblemDuplicateID   ProblemKind = "duplicate_id"
)

// Problem is a structural issue found while indexing. The index stays
// usable: duplicate slugs resolve to the first sibling in display order.
type Problem struct {
	Kind         ProblemKind
	DepartmentID string
	ParentID     string
	EntryID      string
	Slug         string
}

func (p Problem) String() string {
	switch p.Kind {
	case ProblemDuplicateSlug:
		return fmt.Sprintf("duplicate slug %q under parent %q in department %s (entry %s shadowed)", p.Slug, p.ParentID, p.DepartmentID, p.EntryID)
	case ProblemCycle:
		return fmt.Sprintf("entry %s is part of a parent cycle", p.EntryID)
	default:
		return fmt.Sprintf("duplicate entry id %s", p.EntryID)
	}
}

// Index builds a Tree. Children lists are ordered by sort_order ascending
// with nulls last, then by name. Entries whose parent does not exist stay
// under that parent id and are never promoted to roots. Index never fails.
func Index(entries []store.DirectoryEntry) *Tree {
	t := &Tree{
		arena:    make([]store.DirectoryEntry, 0, len(entries)),
		byID:     make(map[string]int, len(entries)),
		children: make(map[siblings][]int),
		bySlug:   make(map[siblings]map[string]int),
	}

	for _, entry := range entries {
		if _, exists := t.byID[entry.ID]; exists {
			t.problems = append(t.problems, Problem{Kind: ProblemDuplicateID, DepartmentID: entry.DepartmentID, EntryID: entry.ID})
			continue
		}
		idx := len(t.arena)
		t.arena = append(t.arena, entry)
		t.byID[entry.ID] = idx
		key := siblingsOf(entry)
		t.children[key] = append(t.children[key], idx)
	}

	for key, list := range t.children {
		sort.SliceStable(list, func(i, j int) bool {
			return t.less(list[i], list[j])
		})
		slugs := make(map[string]int, len(list))
		for _, idx := range list {
			entry := t.arena[idx]
			if _, taken := slugs[entry.Slug]; taken {
				t.problems = append(t.problems, Problem{
					Kind:         ProblemDuplicateSlug,
					DepartmentID: key.DepartmentID,
					ParentID:     key.ParentID,
					EntryID:      entry.ID,
					Slug:         entry.Slug,
				})
				continue
			}
			slugs[entry.Slug] = idx
		}
		t.bySlug[key] = slugs
	}

	t.detectCycles()
	sort.SliceStable(t.problems, func(i, j int) bool {
		if t.problems[i].Kind != t.problems[j].Kind {
			return t.problems[i].Kind < t.problems[j].Kind
		}
		return t.problems[i].EntryID < t.problems[j].EntryID
	})
	return t
}

func siblingsOf(entry store.DirectoryEntry) siblings {
	if entry.ParentID == nil {
		return rootsOf(entry.DepartmentID)
	}
	return childrenOf(entry.DepartmentID, *entry.ParentID)
}

func (t *Tree) less(a, b int) bool {
	left, right := t.arena[a], t.arena[b]
	switch {
	case left.SortOrder != nil && right.SortOrder != nil:
		if *left.SortOrder != *right.SortOrder {
			return *left.SortOrder < *right.SortOrder
		}
	case left.SortOrder != nil:
		return true
	case right.SortOrder != nil:
		return false
	}
	return left.Name < right.Name
}

func (t *Tree) detectCycles() {
	// 0 unvisited, 1 on current walk, 2 known to terminate
	state := make([]uint8, len(t.arena))
	for start := range t.arena {
		if state[start] != 0 {
			continue
		}
		walk := []int{}
		idx := start
		for {
			if state[idx] == 2 {
				break
			}
			if state[idx] == 1 {
				t.problems = append(t.problems, Problem{Kind: ProblemCycle, DepartmentID: t.arena[idx].DepartmentID, EntryID: t.arena[idx].ID})
				break
			}
			state[idx] = 1
			walk = append(walk, idx)
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
		for _, visited := range walk {
			state[visited] = 2
		}
	}
}

// Len reports the number of indexed entries.
func (t *Tree) Len() int {
	return len(t.arena)
}

// Entry looks an entry up by id.
func (t *Tree) Entry(id string) (store.DirectoryEntry, bool) {
	idx, ok := t.byID[id]
	if !ok {
		return store.DirectoryEntry{}, false
	}
	return t.arena[idx], true
}

// Children returns the ordered children of parentID within a department;
// a nil parentID returns the department roots.
func (t *Tree) Children(departmentID string, parentID *string) []store.DirectoryEntry {
	key := rootsOf(departmentID)
	if parentID != nil {
		key = childrenOf(departmentID, *parentID)
	}
	list := t.children[key]
	out := make([]store.DirectoryEntry, 0, len(list))
	for _, idx := range list {
		out = append(out, t.arena[idx])
	}
	return out
}

// Problems returns the diagnostics collected by Index.
func (t *Tree) Problems() []Problem {
	out := make([]Problem, len(t.problems))
	copy(out, t.problems)
	return out
}

func (t *Tree) childBySlug(key siblings, slug string) (int, bool) {
	idx, ok := t.bySlug[key][slug]
	return idx, ok
}
