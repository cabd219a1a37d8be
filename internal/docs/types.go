// Package docs mirrors the documentation repository: a cached file tree,
// cached file contents, and the Host abstraction those are fetched from.
package docs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the host reports that a path is absent.
	ErrNotFound = errors.New("docs: not found")
	// ErrInvalidPath rejects empty or parent-relative file paths.
	ErrInvalidPath = errors.New("docs: invalid path")
	// ErrUnknownTag rejects invalidation tags the cache does not issue.
	ErrUnknownTag = errors.New("docs: unknown cache tag")
)

type NodeType string

const (
	NodeFile NodeType = "file"
	NodeDir  NodeType = "dir"
)

// FileNode is one file or directory of the docs tree. The root has an empty
// name and path; every other path is slash separated and relative.
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     NodeType   `json:"type"`
	Children []FileNode `json:"children,omitempty"`
	SHA      string     `json:"sha,omitempty"`
}

func (n FileNode) IsDir() bool {
	return n.Type == NodeDir
}

type FileContent struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

// Host is a remote documentation source. File must return an error
// wrapping ErrNotFound when the path does not exist.
type Host interface {
	Tree(ctx context.Context) (FileNode, error)
	File(ctx context.Context, path string) (FileContent, error)
}

// UpstreamError is a host failure other than absence.
type UpstreamError struct {
	Op   string
	Path string
	Err  error
}

func (e *UpstreamError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("docs upstream %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("docs upstream %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
