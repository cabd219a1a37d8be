package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wikiportal/api/internal/app"
	"wikiportal/api/internal/cachestore"
	"wikiportal/api/internal/config"
	"wikiportal/api/internal/docs"
	"wikiportal/api/internal/logging"
	"wikiportal/api/internal/search"
	"wikiportal/api/internal/store"
)

var (
	cfg config.Config

	migrateStatus bool

	rootCmd = &cobra.Command{
		Use:          "portal-api",
		Short:        "Directory portal API server and operator tools",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Load()
			if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			return cfg.Validate()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.Sync()
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}

	resolveCmd = &cobra.Command{
		Use:   "resolve <department> [segment...]",
		Short: "Resolve a department id or slug and a slug path to an entry",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runResolve,
	}

	docsCmd = &cobra.Command{
		Use:   "docs",
		Short: "Inspect and manage the documentation mirror",
	}
	docsTreeCmd = &cobra.Command{
		Use:   "tree",
		Short: "Print the docs tree",
		Args:  cobra.NoArgs,
		RunE:  runDocsTree,
	}
	docsSearchCmd = &cobra.Command{
		Use:   "search <query>",
		Short: "Search docs by name and markdown content",
		Args:  cobra.ExactArgs(1),
		RunE:  runDocsSearch,
	}
	docsInvalidateCmd = &cobra.Command{
		Use:   "invalidate [tag]",
		Short: "Drop docs from the shared Redis cache (docs, docs-tree, docs-content or docs-file:<path>)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDocsInvalidate,
	}

	reindexCmd = &cobra.Command{
		Use:   "reindex",
		Short: "Push every directory entry into Meilisearch",
		Args:  cobra.NoArgs,
		RunE:  runReindex,
	}
)

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "list migrations instead of applying them")

	docsCmd.AddCommand(docsTreeCmd, docsSearchCmd, docsInvalidateCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, resolveCmd, docsCmd, reindexCmd)
}

func printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, openOptions{database: true, migrate: true, docs: true, search: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.search.ReindexInBackground(context.WithoutCancel(ctx))
	go rt.watchDocs(ctx)

	httpServer := app.NewHTTPServer(rt.service(), cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("portal API listening", logging.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("shutdown error", logging.Err(err))
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, cfg, openOptions{database: true, migrate: !migrateStatus})
	if err != nil {
		return err
	}
	defer rt.Close()

	if !migrateStatus {
		logging.Info("migrations up to date", logging.String("dir", cfg.MigrationsDir))
		return nil
	}
	migrations, err := store.MigrationStatus(ctx, rt.db, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	for _, migration := range migrations {
		state := "pending"
		if migration.Applied {
			state = "applied"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", state, migration.Version)
	}
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, cfg, openOptions{database: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	view, err := rt.service().Resolve(ctx, args[0], args[1:])
	if err != nil {
		return err
	}
	return printJSON(cmd, view)
}

func openDocsRuntime(ctx context.Context) (*runtime, error) {
	rt, err := openRuntime(ctx, cfg, openOptions{docs: true})
	if err != nil {
		return nil, err
	}
	if rt.docs == nil {
		rt.Close()
		return nil, errors.New("docs source is not configured")
	}
	return rt, nil
}

func runDocsTree(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openDocsRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	tree, err := rt.docs.Tree(ctx)
	if err != nil {
		return err
	}
	logging.Info("docs tree loaded", logging.Int("nodes", docs.CountNodes(tree)))
	return printJSON(cmd, tree)
}

func runDocsSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openDocsRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	hits, err := search.NewDocsIndex(rt.docs, cfg.Docs.SearchConcurrency).Search(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, hits)
}

// errInvalidateNeedsRedis is returned by docs invalidate when the server
// keeps its docs cache in its own memory, out of this process's reach.
var errInvalidateNeedsRedis = errors.New("docs invalidate needs REDIS_URL; without it the server caches in process memory, use POST /api/docs/invalidate instead")

func runDocsInvalidate(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return errInvalidateNeedsRedis
	}
	redisStore, err := cachestore.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer redisStore.Close()

	tag := docs.TagAll
	if len(args) == 1 {
		tag = args[0]
	}
	// Invalidate only touches the store, so no docs host is opened.
	return docs.NewCache(nil, redisStore, docs.Options{}).Invalidate(cmd.Context(), tag)
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, cfg, openOptions{database: true, search: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	count, err := rt.search.ReindexAll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d entries\n", count)
	return nil
}
