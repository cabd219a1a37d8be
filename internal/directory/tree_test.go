package directory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikiportal/api/internal/store"
)

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }

func folder(id, dept string, parent *string, slug string) store.DirectoryEntry {
	return store.DirectoryEntry{ID: id, DepartmentID: dept, ParentID: parent, Name: slug, Slug: slug}
}

func page(id, dept string, parent *string, slug, frame string) store.DirectoryEntry {
	e := folder(id, dept, parent, slug)
	e.FrameID = strPtr(frame)
	return e
}

func sampleTree() *Tree {
	return Index([]store.DirectoryEntry{
		folder("A", "d1", nil, "eng"),
		page("B", "d1", strPtr("A"), "docs", "F1"),
		folder("C", "d1", strPtr("A"), "teams"),
		folder("D", "d1", strPtr("C"), "platform"),
		page("E", "d1", strPtr("D"), "runbook", "F2"),
		folder("X", "d2", nil, "eng"),
	})
}

func ids(entries []store.DirectoryEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestIndex_OrdersChildrenBySortOrderThenName(t *testing.T) {
	tree := Index([]store.DirectoryEntry{
		{ID: "n2", DepartmentID: "d", Name: "Zulu", Slug: "zulu"},
		{ID: "n1", DepartmentID: "d", Name: "Alpha", Slug: "alpha"},
		{ID: "s2", DepartmentID: "d", Name: "Bravo", Slug: "bravo", SortOrder: intPtr(2)},
		{ID: "s1a", DepartmentID: "d", Name: "Yankee", Slug: "yankee", SortOrder: intPtr(1)},
		{ID: "s1b", DepartmentID: "d", Name: "Charlie", Slug: "charlie", SortOrder: intPtr(1)},
	})

	assert.Equal(t, []string{"s1b", "s1a", "s2", "n1", "n2"}, ids(tree.Children("d", nil)))
	assert.Empty(t, tree.Problems())
}

func TestIndex_KeepsOrphansUnderTheirParentKey(t *testing.T) {
	tree := Index([]store.DirectoryEntry{
		folder("root", "d", nil, "root"),
		folder("orphan", "d", strPtr("ghost"), "orphan"),
	})

	assert.Equal(t, []string{"root"}, ids(tree.Children("d", nil)))
	assert.Equal(t, []string{"orphan"}, ids(tree.Children("d", strPtr("ghost"))))

	_, ok := tree.Entry("orphan")
	assert.True(t, ok)
}

func TestIndex_EmptyParentIDIsNotARoot(t *testing.T) {
	tree := Index([]store.DirectoryEntry{
		folder("root", "d", nil, "root"),
		folder("x", "d", strPtr(""), "x"),
	})

	assert.Equal(t, []string{"root"}, ids(tree.Children("d", nil)))
	assert.Equal(t, []string{"x"}, ids(tree.Children("d", strPtr(""))))
	assert.False(t, tree.Resolve("d", []string{"x"}).Found())

	nodes, err := tree.Nested("d")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "root", nodes[0].ID)
}

func TestIndex_SeparatesDepartments(t *testing.T) {
	tree := sampleTree()

	assert.Equal(t, []string{"A"}, ids(tree.Children("d1", nil)))
	assert.Equal(t, []string{"X"}, ids(tree.Children("d2", nil)))
	assert.Empty(t, tree.Children("d3", nil))
	assert.Equal(t, 6, tree.Len())
}

func TestIndex_ReportsDuplicateSlugsAndCycles(t *testing.T) {
	tree := Index([]store.DirectoryEntry{
		{ID: "first", DepartmentID: "d", Name: "A", Slug: "dup", SortOrder: intPtr(1)},
		{ID: "second", DepartmentID: "d", Name: "B", Slug: "dup", SortOrder: intPtr(2)},
		folder("loop1", "d", strPtr("loop2"), "one"),
		folder("loop2", "d", strPtr("loop1"), "two"),
		folder("first", "d", nil, "again"),
	})

	problems := tree.Problems()
	kinds := map[ProblemKind]int{}
	for _, p := range problems {
		kinds[p.Kind]++
		assert.NotEmpty(t, p.String())
	}
	assert.Equal(t, 1, kinds[ProblemDuplicateSlug])
	assert.Equal(t, 1, kinds[ProblemCycle])
	assert.Equal(t, 1, kinds[ProblemDuplicateID])

	for _, p := range problems {
		if p.Kind == ProblemDuplicateSlug {
			assert.Equal(t, "second", p.EntryID)
		}
	}
}

func TestResolve_FolderPath(t *testing.T) {
	tree := sampleTree()

	res := tree.Resolve("d1", []string{"eng", "teams", "platform"})
	require.True(t, res.Found())
	assert.Equal(t, "D", res.Entry.ID)
	assert.Empty(t, res.RemainingPath)
	assert.NotNil(t, res.RemainingPath)
	assert.Equal(t, []string{"eng", "teams", "platform"}, res.Matched)
}

func TestResolve_PageAbsorbsTrailingSegments(t *testing.T) {
	tree := Index([]store.DirectoryEntry{
		folder("A", "d", nil, "eng"),
		page("B", "d", strPtr("A"), "docs", "F1"),
		folder("C", "d", strPtr("B"), "page2"),
	})

	res := tree.Resolve("d", []string{"eng", "docs", "page2", "x"})
	require.True(t, res.Found())
	assert.Equal(t, "B", res.Entry.ID)
	assert.Equal(t, []string{"page2", "x"}, res.RemainingPath)
	assert.Equal(t, []string{"eng", "docs"}, res.Matched)
}

func TestResolve_UnmatchedSegmentFails(t *testing.T) {
	tree := Index([]store.DirectoryEntry{folder("A", "d", nil, "eng")})

	res := tree.Resolve("d", []string{"eng", "missing"})
	assert.False(t, res.Found())
	assert.Nil(t, res.Entry)
	assert.Equal(t, []string{}, res.RemainingPath)
	assert.Equal(t, []string{"eng"}, res.Matched)
	assert.NoError(t, res.Err)
}

func TestResolve_EmptyPathAndWrongDepartment(t *testing.T) {
	tree := sampleTree()

	assert.False(t, tree.Resolve("d1", nil).Found())
	assert.False(t, tree.Resolve("d3", []string{"eng"}).Found())

	res := tree.Resolve("d2", []string{"eng"})
	require.True(t, res.Found())
	assert.Equal(t, "X", res.Entry.ID)
}

func TestResolve_FirstSiblingWinsOnDuplicateSlug(t *testing.T) {
	tree := Index([]store.DirectoryEntry{
		{ID: "late", DepartmentID: "d", Name: "Late", Slug: "dup", SortOrder: intPtr(5)},
		{ID: "early", DepartmentID: "d", Name: "Early", Slug: "dup", SortOrder: intPtr(1)},
	})

	res := tree.Resolve("d", []string{"dup"})
	require.True(t, res.Found())
	assert.Equal(t, "early", res.Entry.ID)
}

func TestResolve_DoesNotAliasInput(t *testing.T) {
	tree := sampleTree()
	segments := []string{"eng", "docs", "a", "b"}

	res := tree.Resolve("d1", segments)
	res.RemainingPath[0] = "mutated"
	assert.Equal(t, "a", segments[2])
}

func TestPathToRoot_RoundTripsThroughResolve(t *testing.T) {
	tree := sampleTree()

	for _, entry := range tree.Entries() {
		path, err := tree.PathToRoot(entry.ID)
		require.NoError(t, err, entry.ID)

		res := tree.Resolve(entry.DepartmentID, path)
		require.True(t, res.Found(), "entry %s path %v", entry.ID, path)
		assert.Equal(t, entry.ID, res.Entry.ID)
		assert.Empty(t, res.RemainingPath)
	}
}

func TestPathToRoot_TruncatesAtDanglingParent(t *testing.T) {
	tree := Index([]store.DirectoryEntry{
		folder("mid", "d", strPtr("gone"), "mid"),
		folder("leaf", "d", strPtr("mid"), "leaf"),
	})

	path, err := tree.PathToRoot("leaf")
	require.NoError(t, err)
	assert.Equal(t, []string{"mid", "leaf"}, path)
}

func TestPathToRoot_DetectsCycle(t *testing.T) {
	tree := Index([]store.DirectoryEntry{
		folder("a", "d", strPtr("b"), "a"),
		folder("b", "d", strPtr("a"), "b"),
	})

	_, err := tree.PathToRoot("a")
	assert.True(t, errors.Is(err, ErrCorruptTree))

	_, err = tree.PathToRoot("missing")
	assert.True(t, errors.Is(err, ErrNotIndexed))
}

func TestBreadcrumbs(t *testing.T) {
	tree := sampleTree()

	crumbs, err := tree.Breadcrumbs("E")
	require.NoError(t, err)
	require.Len(t, crumbs, 4)
	assert.Equal(t, "A", crumbs[0].ID)
	assert.Equal(t, []string{"eng"}, crumbs[0].Path)
	assert.Equal(t, []string{"eng", "teams", "platform", "runbook"}, crumbs[3].Path)
	assert.True(t, crumbs[3].IsPage)
}

func TestNested(t *testing.T) {
	tree := sampleTree()

	nodes, err := tree.Nested("d1")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	eng := nodes[0]
	require.Len(t, eng.Children, 2)
	assert.Equal(t, "docs", eng.Children[0].Slug)
	assert.Empty(t, eng.Children[0].Children)
	assert.Equal(t, []string{"eng", "teams", "platform"}, eng.Children[1].Children[0].Path)
}
