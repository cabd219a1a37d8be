package search

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"wikiportal/api/internal/docs"
	"wikiportal/api/internal/logging"
	"wikiportal/api/internal/metrics"
)

const DefaultDocsConcurrency = 4

const (
	MatchName    = "name"
	MatchContent = "content"
)

// DocHit is one docs search result. A file matching both phases is
// returned twice, once per Match kind.
type DocHit struct {
	Name  string        `json:"name"`
	Path  string        `json:"path"`
	Type  docs.NodeType `json:"type"`
	Match string        `json:"match"`
}

// DocsSource is the cached docs mirror the index reads from.
type DocsSource interface {
	Tree(ctx context.Context) (docs.FileNode, error)
	FileContent(ctx context.Context, path string) (docs.FileContent, error)
}

// DocsIndex searches the docs tree by name and then by markdown content.
type DocsIndex struct {
	source      DocsSource
	concurrency int
}

func NewDocsIndex(source DocsSource, concurrency int) *DocsIndex {
	if concurrency <= 0 {
		concurrency = DefaultDocsConcurrency
	}
	return &DocsIndex{source: source, concurrency: concurrency}
}

// Search runs the name phase and then the content phase. Content fetches
// run concurrently but hits keep tree order. A file that cannot be fetched
// is logged and skipped.
func (x *DocsIndex) Search(ctx context.Context, query string) ([]DocHit, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return []DocHit{}, nil
	}

	root, err := x.source.Tree(ctx)
	if err != nil {
		return nil, err
	}

	hits := []DocHit{}
	var markdown []docs.FileNode
	docs.Walk(root, func(node docs.FileNode) {
		if strings.Contains(strings.ToLower(node.Name), needle) || strings.Contains(strings.ToLower(node.Path), needle) {
			hits = append(hits, DocHit{Name: node.Name, Path: node.Path, Type: node.Type, Match: MatchName})
		}
		if !node.IsDir() && docs.IsMarkdown(node.Name) {
			markdown = append(markdown, node)
		}
	})

	matched := make([]bool, len(markdown))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for i, node := range markdown {
		g.Go(func() error {
			content, err := x.source.FileContent(gctx, node.Path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logging.WithContext(ctx).Warn("docs search: skipping file", logging.String("path", node.Path), logging.Err(err))
				metrics.RecordDocsSearchSkipped()
				return nil
			}
			matched[i] = strings.Contains(strings.ToLower(content.Content), needle)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, node := range markdown {
		if matched[i] {
			hits = append(hits, DocHit{Name: node.Name, Path: node.Path, Type: node.Type, Match: MatchContent})
		}
	}
	return hits, nil
}
