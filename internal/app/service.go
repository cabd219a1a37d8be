package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wikiportal/api/internal/directory"
	"wikiportal/api/internal/docs"
	"wikiportal/api/internal/favorites"
	"wikiportal/api/internal/logging"
	"wikiportal/api/internal/metrics"
	"wikiportal/api/internal/search"
	"wikiportal/api/internal/slugs"
	"wikiportal/api/internal/store"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

type dataStore interface {
	ListDepartments(context.Context) ([]store.Department, error)
	ListNavigationPages(context.Context) ([]store.NavigationPage, error)
	GetFrame(context.Context, string) (store.Frame, error)
	ListDirectoryEntries(context.Context, string) ([]store.DirectoryEntry, error)
	GetDirectoryEntry(context.Context, string) (store.DirectoryEntry, error)
	ListFavorites(context.Context, string) ([]store.Favorite, error)
	UpsertFavorite(context.Context, store.Favorite) (store.Favorite, error)
	DeleteFavorite(context.Context, string) error
	Ping(context.Context) error
}

// DocsCache is the cached docs mirror. *docs.Cache satisfies it.
type DocsCache interface {
	Tree(ctx context.Context) (docs.FileNode, error)
	FileContent(ctx context.Context, path string) (docs.FileContent, error)
	Invalidate(ctx context.Context, tag string) error
}

// EntrySearcher answers directory entry searches. *search.Service satisfies it.
type EntrySearcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

// Options carries the optional collaborators. A nil Docs disables the docs
// endpoints; a nil EntrySearch answers every search with no results.
type Options struct {
	Docs            DocsCache
	DocsConcurrency int
	EntrySearch     EntrySearcher
	Favorites       favorites.RegistryOptions
}

type Service struct {
	store     dataStore
	favorites *favorites.Registry
	docs      DocsCache
	docsIndex *search.DocsIndex
	entries   EntrySearcher
}

func New(dataStore dataStore, opts Options) *Service {
	s := &Service{
		store:     dataStore,
		favorites: favorites.NewRegistry(dataStore, opts.Favorites),
		docs:      opts.Docs,
		entries:   opts.EntrySearch,
	}
	if opts.Docs != nil {
		s.docsIndex = search.NewDocsIndex(opts.Docs, opts.DocsConcurrency)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type DepartmentView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
	URL  string `json:"url"`
}

type EntryView struct {
	ID           string  `json:"id"`
	DepartmentID string  `json:"departmentId"`
	ParentID     *string `json:"parentId"`
	FrameID      *string `json:"frameId"`
	Name         string  `json:"name"`
	Slug         string  `json:"slug"`
	SortOrder    *int    `json:"sortOrder"`
	Emoji        *string `json:"emoji"`
	IsPage       bool    `json:"isPage"`
}

type FrameView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IframeURL string `json:"iframeUrl"`
}

type ResolveView struct {
	Department    DepartmentView    `json:"department"`
	Entry         EntryView         `json:"entry"`
	Kind          string            `json:"kind"`
	RemainingPath []string          `json:"remainingPath"`
	Breadcrumbs   []directory.Crumb `json:"breadcrumbs"`
	Frame         *FrameView        `json:"frame"`
	URL           string            `json:"url"`
}

type TreeView struct {
	Department DepartmentView   `json:"department"`
	Entries    []directory.Node `json:"entries"`
}

type BreadcrumbsView struct {
	EntryID     string            `json:"entryId"`
	Department  DepartmentView    `json:"department"`
	Breadcrumbs []directory.Crumb `json:"breadcrumbs"`
	URL         string            `json:"url"`
}

type FavoriteView struct {
	ID           string    `json:"id"`
	EntryID      *string   `json:"entryId,omitempty"`
	DepartmentID *string   `json:"departmentId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toEntryView(entry store.DirectoryEntry) EntryView {
	return EntryView{
		ID:           entry.ID,
		DepartmentID: entry.DepartmentID,
		ParentID:     entry.ParentID,
		FrameID:      entry.FrameID,
		Name:         entry.Name,
		Slug:         entry.Slug,
		SortOrder:    entry.SortOrder,
		Emoji:        entry.Emoji,
		IsPage:       entry.IsPage(),
	}
}

func kindOf(entry store.DirectoryEntry) string {
	if entry.IsPage() {
		return "page"
	}
	return "folder"
}

// directorySnapshot holds the department and override rows one request
// works against.
type directorySnapshot struct {
	departments []store.Department
	pages       []store.NavigationPage
}

func (d directorySnapshot) view(dept store.Department) DepartmentView {
	return DepartmentView{
		ID:   dept.ID,
		Name: dept.Name,
		Slug: slugs.DepartmentSlug(dept.ID, d.departments, d.pages),
		URL:  slugs.DepartmentURL(dept.ID, nil, d.departments, d.pages),
	}
}

func (d directorySnapshot) url(departmentID string, segments []string) string {
	return slugs.DepartmentURL(departmentID, segments, d.departments, d.pages)
}

func (s *Service) snapshot(ctx context.Context) (directorySnapshot, error) {
	departments, err := s.store.ListDepartments(ctx)
	if err != nil {
		return directorySnapshot{}, fmt.Errorf("list departments: %w", err)
	}
	pages, err := s.store.ListNavigationPages(ctx)
	if err != nil {
		return directorySnapshot{}, fmt.Errorf("list navigation pages: %w", err)
	}
	return directorySnapshot{departments: departments, pages: pages}, nil
}

func (s *Service) department(ctx context.Context, identifier string) (store.Department, directorySnapshot, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return store.Department{}, directorySnapshot{}, validationError("department is required")
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return store.Department{}, directorySnapshot{}, err
	}
	dept, ok := slugs.ResolveDepartment(identifier, snap.departments, snap.pages)
	if !ok {
		return store.Department{}, directorySnapshot{}, notFound("Department not found", map[string]any{"department": identifier})
	}
	return dept, snap, nil
}

// tree indexes one department's rows. Every load reports its diagnostics.
func (s *Service) tree(ctx context.Context, departmentID string) (*directory.Tree, error) {
	entries, err := s.store.ListDirectoryEntries(ctx, departmentID)
	if err != nil {
		return nil, fmt.Errorf("list directory entries: %w", err)
	}
	tree := directory.Index(entries)
	reportProblems(ctx, departmentID, tree.Problems())
	return tree, nil
}

func reportProblems(ctx context.Context, departmentID string, problems []directory.Problem) {
	counts := map[directory.ProblemKind]int{
		directory.ProblemDuplicateSlug: 0,
		directory.ProblemCycle:         0,
		directory.ProblemDuplicateID:   0,
	}
	for _, problem := range problems {
		counts[problem.Kind]++
		logging.WithContext(ctx).Warn("directory: "+problem.String(),
			logging.String("department_id", departmentID),
			logging.String("kind", string(problem.Kind)),
			logging.String("entry_id", problem.EntryID),
		)
	}
	for kind, count := range counts {
		metrics.SetDirectoryProblems(departmentID, string(kind), count)
	}
}

func (s *Service) Departments(ctx context.Context) ([]DepartmentView, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]DepartmentView, 0, len(snap.departments))
	for _, dept := range snap.departments {
		items = append(items, snap.view(dept))
	}
	return items, nil
}

func (s *Service) DepartmentTree(ctx context.Context, identifier string) (TreeView, error) {
	dept, snap, err := s.department(ctx, identifier)
	if err != nil {
		return TreeView{}, err
	}
	tree, err := s.tree(ctx, dept.ID)
	if err != nil {
		return TreeView{}, err
	}
	nodes, err := tree.Nested(dept.ID)
	if err != nil {
		return TreeView{}, err
	}
	return TreeView{Department: snap.view(dept), Entries: nodes}, nil
}

// Resolve maps a department identifier and URL segments to an entry. Pages
// hand back the segments they absorbed in RemainingPath.
func (s *Service) Resolve(ctx context.Context, identifier string, segments []string) (ResolveView, error) {
	dept, snap, err := s.department(ctx, identifier)
	if err != nil {
		return ResolveView{}, err
	}
	tree, err := s.tree(ctx, dept.ID)
	if err != nil {
		return ResolveView{}, err
	}

	res := tree.Resolve(dept.ID, segments)
	if res.Err != nil {
		return ResolveView{}, res.Err
	}
	if !res.Found() {
		return ResolveView{}, notFound("Path not found", map[string]any{
			"department": dept.ID,
			"matched":    res.Matched,
		})
	}

	crumbs, err := tree.Breadcrumbs(res.Entry.ID)
	if err != nil {
		return ResolveView{}, err
	}
	view := ResolveView{
		Department:    snap.view(dept),
		Entry:         toEntryView(*res.Entry),
		Kind:          kindOf(*res.Entry),
		RemainingPath: res.RemainingPath,
		Breadcrumbs:   crumbs,
		URL:           snap.url(dept.ID, res.Matched),
	}

	if res.Entry.IsPage() {
		frame, err := s.store.GetFrame(ctx, *res.Entry.FrameID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			logging.WithContext(ctx).Warn("resolve: page references missing frame",
				logging.String("entry_id", res.Entry.ID),
				logging.String("frame_id", *res.Entry.FrameID),
			)
		case err != nil:
			return ResolveView{}, fmt.Errorf("get frame: %w", err)
		case !frameOffered(frame, dept.ID):
			logging.WithContext(ctx).Warn("resolve: frame not offered to department",
				logging.String("entry_id", res.Entry.ID),
				logging.String("frame_id", frame.ID),
				logging.String("department_id", dept.ID),
				logging.Strings("offered_to", frame.DepartmentIDs),
			)
		default:
			view.Frame = &FrameView{ID: frame.ID, Name: frame.Name, IframeURL: frame.IframeURL}
		}
	}
	return view, nil
}

// frameOffered reports whether a frame may be embedded for a department. A
// frame without departments is offered to all of them.
func frameOffered(frame store.Frame, departmentID string) bool {
	if len(frame.DepartmentIDs) == 0 {
		return true
	}
	for _, id := range frame.DepartmentIDs {
		if id == departmentID {
			return true
		}
	}
	return false
}

func (s *Service) Breadcrumbs(ctx context.Context, entryID string) (BreadcrumbsView, error) {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return BreadcrumbsView{}, validationError("entry id is required")
	}
	entry, err := s.store.GetDirectoryEntry(ctx, entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return BreadcrumbsView{}, notFound("Entry not found", map[string]any{"entryId": entryID})
	}
	if err != nil {
		return BreadcrumbsView{}, fmt.Errorf("get directory entry: %w", err)
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		return BreadcrumbsView{}, err
	}
	tree, err := s.tree(ctx, entry.DepartmentID)
	if err != nil {
		return BreadcrumbsView{}, err
	}
	crumbs, err := tree.Breadcrumbs(entry.ID)
	if err != nil {
		return BreadcrumbsView{}, err
	}

	dept, ok := slugs.ResolveDepartment(entry.DepartmentID, snap.departments, snap.pages)
	if !ok {
		dept = store.Department{ID: entry.DepartmentID}
	}
	return BreadcrumbsView{
		EntryID:     entry.ID,
		Department:  snap.view(dept),
		Breadcrumbs: crumbs,
		URL:         snap.url(entry.DepartmentID, crumbs[len(crumbs)-1].Path),
	}, nil
}

func (s *Service) overlay(ctx context.Context, userID string) (*favorites.Overlay, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, validationError("X-User-ID header is required")
	}
	overlay, err := s.favorites.For(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load favorites: %w", err)
	}
	return overlay, nil
}

func (s *Service) Favorites(ctx context.Context, userID string) ([]FavoriteView, error) {
	overlay, err := s.overlay(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := overlay.Items()
	views := make([]FavoriteView, 0, len(items))
	for _, item := range items {
		views = append(views, FavoriteView{
			ID:           item.ID,
			EntryID:      item.EntryID,
			DepartmentID: item.DepartmentID,
			CreatedAt:    item.CreatedAt,
		})
	}
	return views, nil
}

// ToggleFavorite flips membership of key and returns the resulting state.
// On a store failure the overlay is rolled back, the restored state is
// returned with the error and the cached overlay is dropped so the next
// request reloads from the store.
func (s *Service) ToggleFavorite(ctx context.Context, userID string, key favorites.Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, validationError(err.Error())
	}
	overlay, err := s.overlay(ctx, userID)
	if err != nil {
		return false, err
	}
	state, err := overlay.Toggle(ctx, key)
	if err != nil {
		s.favorites.Forget(strings.TrimSpace(userID))
	}
	return state, err
}

func (s *Service) docsAvailable() error {
	if s.docs == nil {
		return domainError(http.StatusServiceUnavailable, "DOCS_UNAVAILABLE", "Documentation source is not configured", nil)
	}
	return nil
}

func (s *Service) DocsTree(ctx context.Context) (docs.FileNode, error) {
	if err := s.docsAvailable(); err != nil {
		return docs.FileNode{}, err
	}
	return s.docs.Tree(ctx)
}

func (s *Service) DocsFile(ctx context.Context, path string) (docs.FileContent, error) {
	if err := s.docsAvailable(); err != nil {
		return docs.FileContent{}, err
	}
	if strings.TrimSpace(path) == "" {
		return docs.FileContent{}, validationError("path is required")
	}
	return s.docs.FileContent(ctx, path)
}

func (s *Service) DocsSearch(ctx context.Context, query string) ([]search.DocHit, error) {
	if err := s.docsAvailable(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, validationError("q is required")
	}
	return s.docsIndex.Search(ctx, query)
}

// InvalidateDocs drops cached docs for tag. An empty tag drops everything.
func (s *Service) InvalidateDocs(ctx context.Context, tag string) error {
	if err := s.docsAvailable(); err != nil {
		return err
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		tag = docs.TagAll
	}
	return s.docs.Invalidate(ctx, tag)
}

func (s *Service) SearchEntries(ctx context.Context, text, department string, limit int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, validationError("q is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	query := search.Query{Text: text, Limit: limit}
	if strings.TrimSpace(department) != "" {
		dept, _, err := s.department(ctx, department)
		if err != nil {
			return search.Response{}, err
		}
		query.DepartmentID = dept.ID
	}
	if s.entries == nil {
		return search.Response{Results: []search.EntryHit{}, Query: text, Backend: "none"}, nil
	}
	return s.entries.Search(ctx, query), nil
}
