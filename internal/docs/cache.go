package docs

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"wikiportal/api/internal/cachestore"
	"wikiportal/api/internal/logging"
	"wikiportal/api/internal/metrics"
)

// Cache tags. TagAll is accepted by Invalidate and expands to the tree and
// content tags.
const (
	TagAll        = "docs"
	TagTree       = "docs-tree"
	TagContent    = "docs-content"
	fileTagPrefix = "docs-file:"

	treeKey             = "docs:tree"
	fileKeyPrefix       = "docs:file:"
	generationKeyPrefix = "docs:gen:"
)

const (
	DefaultTreeTTL      = 5 * time.Minute
	DefaultContentTTL   = 10 * time.Minute
	defaultFetchTimeout = 30 * time.Second
	generationTTL       = 24 * time.Hour
)

// FileTag is the tag that invalidates a single cached file.
func FileTag(p string) string {
	return fileTagPrefix + p
}

func fileKey(p string) string {
	sum := blake2b.Sum256([]byte(p))
	return fileKeyPrefix + hex.EncodeToString(sum[:16])
}

type Options struct {
	TreeTTL      time.Duration
	ContentTTL   time.Duration
	FetchTimeout time.Duration
}

// Cache serves the docs tree and file contents from a cachestore.Store,
// falling back to the Host on a miss. Concurrent misses for the same key
// share one host fetch. Each tag has a generation token in the store that
// Invalidate replaces, and a fetch whose tags were invalidated while it ran
// is returned to its callers but not written back.
type Cache struct {
	host         Host
	store        cachestore.Store
	treeTTL      time.Duration
	contentTTL   time.Duration
	fetchTimeout time.Duration
	group        singleflight.Group
}

func NewCache(host Host, store cachestore.Store, opts Options) *Cache {
	if opts.TreeTTL <= 0 {
		opts.TreeTTL = DefaultTreeTTL
	}
	if opts.ContentTTL <= 0 {
		opts.ContentTTL = DefaultContentTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	return &Cache{
		host:         host,
		store:        store,
		treeTTL:      opts.TreeTTL,
		contentTTL:   opts.ContentTTL,
		fetchTimeout: opts.FetchTimeout,
	}
}

// Tree returns the cached docs tree, fetching it from the host when cold.
// Host failures are returned as *UpstreamError.
func (c *Cache) Tree(ctx context.Context) (FileNode, error) {
	var cached FileNode
	if c.lookup(ctx, "tree", treeKey, &cached) {
		return cached, nil
	}

	value, err := c.shared(ctx, treeKey, func(fetchCtx context.Context) (any, error) {
		gen, genOK := c.generation(fetchCtx, TagTree)
		start := time.Now()
		node, err := c.host.Tree(fetchCtx)
		metrics.RecordDocsUpstream("tree", time.Since(start), err)
		if err != nil {
			return nil, &UpstreamError{Op: "tree", Err: err}
		}
		SortChildren(&node)
		if c.unchangedSince(fetchCtx, gen, genOK, TagTree) {
			c.save(fetchCtx, treeKey, node, c.treeTTL, TagTree)
		}
		return node, nil
	})
	if err != nil {
		return FileNode{}, err
	}
	return value.(FileNode), nil
}

// FileContent returns one file. Absence is ErrNotFound and is not cached;
// any other host failure is an *UpstreamError.
func (c *Cache) FileContent(ctx context.Context, p string) (FileContent, error) {
	clean := CleanPath(p)
	if clean == "" {
		return FileContent{}, fmt.Errorf("file %q: %w", p, ErrInvalidPath)
	}
	key := fileKey(clean)

	var cached FileContent
	if c.lookup(ctx, "file", key, &cached) {
		return cached, nil
	}

	tags := []string{TagContent, FileTag(clean)}
	value, err := c.shared(ctx, key, func(fetchCtx context.Context) (any, error) {
		gen, genOK := c.generation(fetchCtx, tags...)
		start := time.Now()
		content, err := c.host.File(fetchCtx, clean)
		if errors.Is(err, ErrNotFound) {
			metrics.RecordDocsUpstream("file", time.Since(start), nil)
			return nil, fmt.Errorf("file %s: %w", clean, ErrNotFound)
		}
		metrics.RecordDocsUpstream("file", time.Since(start), err)
		if err != nil {
			return nil, &UpstreamError{Op: "file", Path: clean, Err: err}
		}
		if c.unchangedSince(fetchCtx, gen, genOK, tags...) {
			c.save(fetchCtx, key, content, c.contentTTL, tags...)
		}
		return content, nil
	})
	if err != nil {
		return FileContent{}, err
	}
	return value.(FileContent), nil
}

// Invalidate drops every cached value carrying tag.
func (c *Cache) Invalidate(ctx context.Context, tag string) error {
	var tags []string
	switch {
	case tag == TagAll:
		tags = []string{TagTree, TagContent}
	case tag == TagTree, tag == TagContent:
		tags = []string{tag}
	case strings.HasPrefix(tag, fileTagPrefix) && CleanPath(strings.TrimPrefix(tag, fileTagPrefix)) != "":
		tags = []string{FileTag(CleanPath(strings.TrimPrefix(tag, fileTagPrefix)))}
	default:
		return fmt.Errorf("invalidate %q: %w", tag, ErrUnknownTag)
	}
	for _, t := range tags {
		// the new generation goes in first so a fetch that checks between
		// the two writes already sees the change
		if err := c.store.Set(ctx, generationKeyPrefix+t, []byte(uuid.NewString()), generationTTL); err != nil {
			return fmt.Errorf("invalidate %s: %w", t, err)
		}
		if err := c.store.Invalidate(ctx, t); err != nil {
			return fmt.Errorf("invalidate %s: %w", t, err)
		}
	}
	logging.Info("docs cache invalidated", logging.String("tag", tag))
	return nil
}

// lookup decodes a cached value into out. Store and decode failures are
// logged and treated as misses.
func (c *Cache) lookup(ctx context.Context, kind, key string, out any) bool {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		logging.WithContext(ctx).Warn("docs cache read failed", logging.String("key", key), logging.Err(err))
		ok = false
	}
	if ok {
		if err := json.Unmarshal(raw, out); err != nil {
			logging.WithContext(ctx).Warn("docs cache entry undecodable", logging.String("key", key), logging.Err(err))
			ok = false
		}
	}
	metrics.RecordDocsCacheLookup(kind, ok)
	return ok
}

// generation reads the current generation tokens of tags. A store failure
// reports ok == false, which suppresses the write back.
func (c *Cache) generation(ctx context.Context, tags ...string) (string, bool) {
	var b strings.Builder
	for _, tag := range tags {
		raw, _, err := c.store.Get(ctx, generationKeyPrefix+tag)
		if err != nil {
			logging.Warn("docs cache generation read failed", logging.String("tag", tag), logging.Err(err))
			return "", false
		}
		b.Write(raw)
		b.WriteByte(0)
	}
	return b.String(), true
}

func (c *Cache) unchangedSince(ctx context.Context, gen string, ok bool, tags ...string) bool {
	if !ok {
		return false
	}
	now, ok := c.generation(ctx, tags...)
	if !ok {
		return false
	}
	if now != gen {
		logging.Debug("docs cache skipped write after invalidation", logging.Strings("tags", tags))
		return false
	}
	return true
}

func (c *Cache) save(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) {
	raw, err := json.Marshal(value)
	if err != nil {
		logging.Warn("docs cache encode failed", logging.String("key", key), logging.Err(err))
		return
	}
	if err := c.store.Set(ctx, key, raw, ttl, tags...); err != nil {
		logging.Warn("docs cache write failed", logging.String("key", key), logging.Err(err))
	}
}

// shared runs fetch once per key across concurrent callers. The fetch is
// detached from any single caller's cancellation and bounded by the fetch
// timeout; each caller still stops waiting when its own ctx is done.
func (c *Cache) shared(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return fetch(fetchCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
