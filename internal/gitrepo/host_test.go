package gitrepo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"wikiportal/api/internal/docs"
)

func initDocsRepo(t *testing.T, files map[string]string) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit() error = %v", err)
	}
	commitFiles(t, dir, repo, files, "Import docs")
	return dir, repo
}

func commitFiles(t *testing.T, dir string, repo *git.Repository, files map[string]string, message string) plumbing.Hash {
	t.Helper()
	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree() error = %v", err)
	}
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if _, err := worktree.Add(name); err != nil {
			t.Fatalf("git add %s: %v", name, err)
		}
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "Docs Bot", Email: "docs@localhost", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		t.Fatalf("set main ref: %v", err)
	}
	return hash
}

func TestHostTreeAndFile(t *testing.T) {
	dir, _ := initDocsRepo(t, map[string]string{
		"README.md":           "# Docs\n",
		"guides/setup.md":     "Setup guide\n",
		"guides/img/logo.png": "png",
	})

	host, err := Open(context.Background(), Options{Path: dir})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	tree, err := host.Tree(context.Background())
	if err != nil {
		t.Fatalf("Tree() error = %v", err)
	}
	if got := docs.CountNodes(tree); got != 6 {
		t.Fatalf("CountNodes() = %d, want 6", got)
	}
	if tree.Children[0].Path != "guides" || !tree.Children[0].IsDir() {
		t.Fatalf("expected guides dir first, got %+v", tree.Children[0])
	}
	setupNode, ok := docs.FindByPath(tree, "guides/setup.md")
	if !ok {
		t.Fatalf("guides/setup.md missing from tree")
	}

	file, err := host.File(context.Background(), "guides/setup.md")
	if err != nil {
		t.Fatalf("File() error = %v", err)
	}
	if file.Content != "Setup guide\n" {
		t.Fatalf("unexpected content %q", file.Content)
	}
	if file.SHA != setupNode.SHA {
		t.Fatalf("file SHA %s does not match tree SHA %s", file.SHA, setupNode.SHA)
	}

	if _, err := host.File(context.Background(), "guides/img"); !errors.Is(err, docs.ErrNotFound) {
		t.Fatalf("File(dir) error = %v, want docs.ErrNotFound", err)
	}
}

func TestHostFileNotFound(t *testing.T) {
	dir, _ := initDocsRepo(t, map[string]string{"a.md": "A"})
	host, err := Open(context.Background(), Options{Path: dir})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	for _, p := range []string{"missing.md", "nested/missing.md", ""} {
		if _, err := host.File(context.Background(), p); !errors.Is(err, docs.ErrNotFound) {
			t.Fatalf("File(%q) error = %v, want docs.ErrNotFound", p, err)
		}
	}
}

func TestHostServesSubdirectory(t *testing.T) {
	dir, _ := initDocsRepo(t, map[string]string{
		"src/main.go":     "package main",
		"docs/index.md":   "Index",
		"docs/api/ref.md": "Ref",
	})
	host, err := Open(context.Background(), Options{Path: dir, Dir: "docs"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	tree, err := host.Tree(context.Background())
	if err != nil {
		t.Fatalf("Tree() error = %v", err)
	}
	if _, ok := docs.FindByPath(tree, "api/ref.md"); !ok {
		t.Fatalf("expected api/ref.md relative to docs dir")
	}
	if _, ok := docs.FindByPath(tree, "src"); ok {
		t.Fatalf("expected files outside docs dir to be hidden")
	}
	file, err := host.File(context.Background(), "index.md")
	if err != nil || file.Content != "Index" {
		t.Fatalf("File(index.md) = %+v, %v", file, err)
	}
}

func TestHostSeesNewCommitsAndRevision(t *testing.T) {
	dir, repo := initDocsRepo(t, map[string]string{"a.md": "A"})
	host, err := Open(context.Background(), Options{Path: dir})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	first, err := host.Revision(context.Background())
	if err != nil {
		t.Fatalf("Revision() error = %v", err)
	}

	hash := commitFiles(t, dir, repo, map[string]string{"b.md": "B"}, "Add b")
	if err := host.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	second, err := host.Revision(context.Background())
	if err != nil {
		t.Fatalf("Revision() error = %v", err)
	}
	if second == first || second != hash.String() {
		t.Fatalf("expected revision %s, got %s (first %s)", hash, second, first)
	}
	if _, err := host.File(context.Background(), "b.md"); err != nil {
		t.Fatalf("File(b.md) error = %v", err)
	}
}

func TestOpenRequiresSource(t *testing.T) {
	if _, err := Open(context.Background(), Options{}); err == nil {
		t.Fatalf("expected error without url or path")
	}
}

func TestHostHonoursCancelledContext(t *testing.T) {
	dir, _ := initDocsRepo(t, map[string]string{"a.md": "A"})
	host, err := Open(context.Background(), Options{Path: dir})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := host.Tree(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Tree() error = %v, want context.Canceled", err)
	}
}

func TestRevisionTrackerStartsFromFirstKnownRevision(t *testing.T) {
	var seen revisionTracker
	if _, changed := seen.observe("abc"); changed {
		t.Fatalf("first revision must not count as a change")
	}
	if _, changed := seen.observe("abc"); changed {
		t.Fatalf("same revision reported as a change")
	}
	from, changed := seen.observe("def")
	if !changed || from != "abc" {
		t.Fatalf("observe(def) = %q, %v, want abc, true", from, changed)
	}
}

func TestWatchReportsNewCommit(t *testing.T) {
	dir, repo := initDocsRepo(t, map[string]string{"a.md": "A"})
	host, err := Open(context.Background(), Options{Path: dir})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	first, err := host.Revision(context.Background())
	if err != nil {
		t.Fatalf("Revision() error = %v", err)
	}

	type change struct{ from, to string }
	changes := make(chan change, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		host.Watch(ctx, 10*time.Millisecond, func(_ context.Context, from, to string) {
			changes <- change{from, to}
		})
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case got := <-changes:
		t.Fatalf("unexpected change before any commit: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}

	hash := commitFiles(t, dir, repo, map[string]string{"b.md": "B"}, "Add b")
	select {
	case got := <-changes:
		if got.from != first || got.to != hash.String() {
			t.Fatalf("change = %+v, want %s -> %s", got, first, hash)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watch did not report the new commit")
	}
}
