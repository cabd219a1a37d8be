package directory

import (
	"fmt"

	"wikiportal/api/internal/store"
)

// Resolution is the outcome of walking a slug path. Entry is nil when the
// path does not resolve. RemainingPath holds the segments after a page,
// which the page interprets itself. Matched is the prefix of segments that
// did resolve, kept for diagnostics when the walk fails part way.
type Resolution struct {
	Entry         *store.DirectoryEntry
	RemainingPath []string
	Matched       []string
	Err           error
}

func (r Resolution) Found() bool {
	return r.Entry != nil
}

// Resolve walks segments down a department's tree, starting at its roots.
// The first child whose slug equals the segment is taken. A page stops the
// walk and absorbs every later segment verbatim; a folder is descended into.
// An unmatched segment fails the whole resolution.
func (t *Tree) Resolve(departmentID string, segments []string) Resolution {
	notFound := func(matched int) Resolution {
		return Resolution{RemainingPath: []string{}, Matched: cloneSegments(segments[:matched])}
	}
	if len(segments) == 0 {
		return notFound(0)
	}

	key := rootsOf(departmentID)
	visited := make(map[string]struct{}, len(segments))
	var current *store.DirectoryEntry

	for i, segment := range segments {
		idx, ok := t.childBySlug(key, segment)
		if !ok {
			return notFound(i)
		}
		entry := t.arena[idx]
		if _, seen := visited[entry.ID]; seen {
			res := notFound(i)
			res.Err = fmt.Errorf("resolve %q: entry %s revisited: %w", segment, entry.ID, ErrCorruptTree)
			return res
		}
		visited[entry.ID] = struct{}{}
		current = &entry

		if entry.IsPage() {
			return Resolution{
				Entry:         current,
				RemainingPath: cloneSegments(segments[i+1:]),
				Matched:       cloneSegments(segments[:i+1]),
			}
		}
		key = childrenOf(entry.DepartmentID, entry.ID)
	}

	return Resolution{
		Entry:         current,
		RemainingPath: []string{},
		Matched:       cloneSegments(segments),
	}
}

func cloneSegments(segments []string) []string {
	out := make([]string, len(segments))
	copy(out, segments)
	return out
}
