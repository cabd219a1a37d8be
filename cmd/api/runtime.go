package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"wikiportal/api/internal/app"
	"wikiportal/api/internal/cachestore"
	"wikiportal/api/internal/config"
	"wikiportal/api/internal/docs"
	"wikiportal/api/internal/favorites"
	"wikiportal/api/internal/gitrepo"
	"wikiportal/api/internal/logging"
	"wikiportal/api/internal/objectdocs"
	"wikiportal/api/internal/search"
	"wikiportal/api/internal/store"
)

// runtime holds the collaborators a command opened. Fields stay nil for
// parts the command did not ask for.
type runtime struct {
	cfg config.Config

	db    *sql.DB
	store *store.PostgresStore

	cache   cachestore.Store
	gitHost *gitrepo.Host
	docs    *docs.Cache

	meili  *search.Meili
	search *search.Service
}

type openOptions struct {
	database bool
	migrate  bool
	docs     bool
	search   bool
}

func openRuntime(ctx context.Context, cfg config.Config, opts openOptions) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	if opts.database || opts.search {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		rt.db = db
		rt.store = store.NewPostgresStore(db)
		if opts.migrate {
			if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
				rt.Close()
				return nil, fmt.Errorf("migrations failed: %w", err)
			}
		}
	}

	if opts.docs {
		if err := rt.openDocs(ctx); err != nil {
			rt.Close()
			return nil, err
		}
	}

	if opts.search {
		if strings.TrimSpace(cfg.MeiliURL) != "" {
			rt.meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		}
		rt.search = search.NewService(rt.meili, search.NewPostgres(rt.store))
	}
	return rt, nil
}

func (rt *runtime) openDocs(ctx context.Context) error {
	cfg := rt.cfg.Docs
	if !cfg.DocsEnabled() {
		logging.Warn("docs source not configured, docs endpoints disabled", logging.String("source", cfg.Source))
		return nil
	}

	var host docs.Host
	switch cfg.Source {
	case config.DocsSourceS3:
		objectHost, err := objectdocs.New(ctx, objectdocs.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Secure:    cfg.S3Secure,
		})
		if err != nil {
			return fmt.Errorf("docs bucket: %w", err)
		}
		host = objectHost
	default:
		gitHost, err := gitrepo.Open(ctx, gitrepo.Options{
			URL:    cfg.GitURL,
			Path:   cfg.GitPath,
			Branch: cfg.GitBranch,
			Dir:    cfg.GitDir,
		})
		if err != nil {
			return fmt.Errorf("docs repository: %w", err)
		}
		rt.gitHost = gitHost
		host = gitHost
	}

	if strings.TrimSpace(rt.cfg.RedisURL) != "" {
		logging.Info("using redis for the docs cache")
		redisStore, err := cachestore.NewRedis(rt.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		rt.cache = redisStore
	} else {
		logging.Info("using process memory for the docs cache")
		rt.cache = cachestore.NewMemory()
	}

	rt.docs = docs.NewCache(host, rt.cache, docs.Options{
		TreeTTL:    cfg.TreeTTL,
		ContentTTL: cfg.ContentTTL,
	})
	return nil
}

// service builds the app service over whatever the runtime opened.
func (rt *runtime) service() *app.Service {
	opts := app.Options{
		DocsConcurrency: rt.cfg.Docs.SearchConcurrency,
		Favorites: favorites.RegistryOptions{
			Size:   rt.cfg.FavoritesCacheSize,
			MaxAge: rt.cfg.FavoritesCacheTTL,
		},
	}
	if rt.docs != nil {
		opts.Docs = rt.docs
	}
	if rt.search != nil {
		opts.EntrySearch = rt.search
	}
	return app.New(rt.store, opts)
}

// watchDocs drops the docs cache whenever the served git revision moves.
// It blocks until ctx is done.
func (rt *runtime) watchDocs(ctx context.Context) {
	if rt.gitHost == nil || rt.docs == nil {
		return
	}
	rt.gitHost.Watch(ctx, rt.cfg.Docs.GitPoll, func(ctx context.Context, from, to string) {
		if err := rt.docs.Invalidate(ctx, docs.TagAll); err != nil {
			logging.Warn("docs cache invalidation after sync failed", logging.Err(err))
		}
	})
}

func (rt *runtime) Close() {
	if rt.meili != nil {
		rt.meili.Close()
	}
	if rt.cache != nil {
		_ = rt.cache.Close()
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
}
