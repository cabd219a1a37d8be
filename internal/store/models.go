package store

import "time"

type Department struct {
	ID   string
	Name string
}

// NavigationPage overrides the URL slug a department is served under.
type NavigationPage struct {
	DepartmentID string
	Slug         string
	Title        string
	Icon         string
}

// Frame describes the embedded application a page entry renders.
type Frame struct {
	ID            string
	Name          string
	IframeURL     string
	DepartmentIDs []string
}

// DirectoryEntry is a folder (FrameID nil) or a page (FrameID set) in a
// department's directory. Entries form a forest rooted at ParentID == nil.
type DirectoryEntry struct {
	ID           string
	DepartmentID string
	ParentID     *string
	FrameID      *string
	Name         string
	Slug         string
	SortOrder    *int
	Emoji        *string
}

func (e DirectoryEntry) IsPage() bool {
	return e.FrameID != nil
}

// Favorite marks an entry or a whole department for a user. Exactly one of
// EntryID and DepartmentID is set.
type Favorite struct {
	ID           string
	UserID       string
	EntryID      *string
	DepartmentID *string
	CreatedAt    time.Time
}
