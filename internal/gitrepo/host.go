// Package gitrepo serves the docs tree from a git repository, either cloned
// from a remote into memory or opened from a local checkout.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"wikiportal/api/internal/docs"
	"wikiportal/api/internal/logging"
)

type Options struct {
	// URL of a remote repository. When empty, Path is opened instead.
	URL string
	// Path of a local repository.
	Path string
	// Branch to serve, "main" by default.
	Branch string
	// Dir limits the served tree to a subdirectory of the repository.
	Dir string
}

// Host implements docs.Host over one branch of a repository.
type Host struct {
	remote bool
	branch string
	dir    string

	mu   sync.RWMutex
	repo *git.Repository
}

// Open clones opts.URL into memory or opens opts.Path.
func Open(ctx context.Context, opts Options) (*Host, error) {
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	host := &Host{branch: opts.Branch, dir: docs.CleanPath(opts.Dir)}

	switch {
	case opts.URL != "":
		repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
			URL:           opts.URL,
			ReferenceName: plumbing.NewBranchReferenceName(opts.Branch),
			SingleBranch:  true,
			Depth:         1,
		})
		if err != nil {
			return nil, fmt.Errorf("clone docs repo: %w", err)
		}
		host.repo = repo
		host.remote = true
	case opts.Path != "":
		repo, err := git.PlainOpen(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("open docs repo: %w", err)
		}
		host.repo = repo
	default:
		return nil, errors.New("open docs repo: url or path is required")
	}
	return host, nil
}

// Sync fetches the branch from the remote. Local repositories are read
// live and need no sync.
func (h *Host) Sync(ctx context.Context) error {
	if !h.remote {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	refSpec := config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", h.branch, h.branch))
	err := h.repo.FetchContext(ctx, &git.FetchOptions{
		RefSpecs: []config.RefSpec{refSpec},
		Depth:    1,
		Force:    true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch docs repo: %w", err)
	}
	return nil
}

// Revision returns the commit hash currently served.
func (h *Host) Revision(ctx context.Context) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	commit, err := h.headCommit(ctx)
	if err != nil {
		return "", err
	}
	return commit.Hash.String(), nil
}

func (h *Host) Tree(ctx context.Context) (docs.FileNode, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	root, err := h.rootTree(ctx)
	if err != nil {
		return docs.FileNode{}, err
	}
	node := docs.FileNode{Type: docs.NodeDir, SHA: root.Hash.String()}
	children, err := h.walk(ctx, root, "")
	if err != nil {
		return docs.FileNode{}, err
	}
	node.Children = children
	docs.SortChildren(&node)
	return node, nil
}

func (h *Host) File(ctx context.Context, p string) (docs.FileContent, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clean := docs.CleanPath(p)
	if clean == "" {
		return docs.FileContent{}, fmt.Errorf("file %q: %w", p, docs.ErrNotFound)
	}
	root, err := h.rootTree(ctx)
	if err != nil {
		return docs.FileContent{}, err
	}
	entry, err := root.FindEntry(clean)
	if err != nil || entry.Mode == filemode.Dir || entry.Mode == filemode.Submodule {
		return docs.FileContent{}, fmt.Errorf("file %s: %w", clean, docs.ErrNotFound)
	}
	file, err := root.TreeEntryFile(entry)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return docs.FileContent{}, fmt.Errorf("file %s: %w", clean, docs.ErrNotFound)
	}
	if err != nil {
		return docs.FileContent{}, fmt.Errorf("load file %s: %w", clean, err)
	}
	content, err := file.Contents()
	if err != nil {
		return docs.FileContent{}, fmt.Errorf("read file %s: %w", clean, err)
	}
	return docs.FileContent{Path: clean, Content: content, SHA: file.Hash.String()}, nil
}

// Watch syncs every interval until ctx is done and calls onChange when the
// served revision moves. When the starting revision cannot be read, the
// first revision read later becomes the baseline and is not a change.
func (h *Host) Watch(ctx context.Context, interval time.Duration, onChange func(ctx context.Context, from, to string)) {
	if interval <= 0 {
		return
	}
	var seen revisionTracker
	if rev, err := h.Revision(ctx); err != nil {
		logging.Warn("gitrepo: read starting revision failed", logging.Err(err))
	} else {
		seen.observe(rev)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := h.Sync(ctx); err != nil {
			logging.Warn("gitrepo: sync failed", logging.Err(err))
			continue
		}
		next, err := h.Revision(ctx)
		if err != nil {
			logging.Warn("gitrepo: read revision failed", logging.Err(err))
			continue
		}
		if from, changed := seen.observe(next); changed {
			logging.Info("gitrepo: docs revision changed", logging.String("from", from), logging.String("to", next))
			onChange(ctx, from, next)
		}
	}
}

// revisionTracker remembers the last revision read.
type revisionTracker struct {
	current string
	known   bool
}

// observe records rev and reports the previous revision when rev differs
// from a known one.
func (t *revisionTracker) observe(rev string) (string, bool) {
	from, known := t.current, t.known
	t.current, t.known = rev, true
	return from, known && from != rev
}

func (h *Host) headCommit(ctx context.Context) (*object.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candidates := []plumbing.ReferenceName{
		plumbing.NewRemoteReferenceName("origin", h.branch),
		plumbing.NewBranchReferenceName(h.branch),
	}
	var lastErr error
	for _, name := range candidates {
		ref, err := h.repo.Reference(name, true)
		if err != nil {
			lastErr = err
			continue
		}
		commit, err := h.repo.CommitObject(ref.Hash())
		if err != nil {
			return nil, fmt.Errorf("load commit object: %w", err)
		}
		return commit, nil
	}
	return nil, fmt.Errorf("resolve branch %s: %w", h.branch, lastErr)
}

func (h *Host) rootTree(ctx context.Context) (*object.Tree, error) {
	commit, err := h.headCommit(ctx)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load commit tree: %w", err)
	}
	if h.dir == "" {
		return tree, nil
	}
	sub, err := tree.Tree(h.dir)
	if err != nil {
		return nil, fmt.Errorf("load docs dir %s: %w", h.dir, err)
	}
	return sub, nil
}

func (h *Host) walk(ctx context.Context, tree *object.Tree, prefix string) ([]docs.FileNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nodes := make([]docs.FileNode, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		entryPath := entry.Name
		if prefix != "" {
			entryPath = path.Join(prefix, entry.Name)
		}
		switch entry.Mode {
		case filemode.Dir:
			sub, err := h.repo.TreeObject(entry.Hash)
			if err != nil {
				return nil, fmt.Errorf("load tree %s: %w", entryPath, err)
			}
			children, err := h.walk(ctx, sub, entryPath)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, docs.FileNode{
				Name:     entry.Name,
				Path:     entryPath,
				Type:     docs.NodeDir,
				Children: children,
				SHA:      entry.Hash.String(),
			})
		case filemode.Submodule:
			continue
		default:
			nodes = append(nodes, docs.FileNode{
				Name: entry.Name,
				Path: entryPath,
				Type: docs.NodeFile,
				SHA:  entry.Hash.String(),
			})
		}
	}
	return nodes, nil
}
