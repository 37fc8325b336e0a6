package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"strata/internal/logging"
	"strata/pkg/config"
	"strata/pkg/protocol"
	"strata/pkg/sharedctx"
	"strata/pkg/stack"
	"strata/pkg/store"
)

// engine bundles the wired-up components for one CLI invocation. All
// dependencies are constructed here and injected; nothing reaches state
// through globals.
type engine struct {
	cfg   config.Config
	paths *Paths
	db    *sql.DB
	store *store.Store
	mgr   *stack.Manager
	layer *sharedctx.Layer
	log   *slog.Logger

	projectID string
	branch    string
	runID     string
	sessionID string
	tags      []string
	minScore  float64
}

// newEngine resolves paths and config, opens the database, applies the
// schema, and reconstructs the run's active stack.
func newEngine(ctx context.Context) (*engine, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}
	if err := os.MkdirAll(paths.StrataHome, 0o755); err != nil {
		return nil, fmt.Errorf("create strata home: %w", err)
	}

	cfg, err := config.Load(paths.ConfigPath)
	if err != nil {
		return nil, err
	}
	dbPath := paths.DBPath
	if cfg.DBPath != "" {
		dbPath = cfg.DBPath
	}

	log := logging.NewLogger(logging.Options{
		Level:     firstNonEmpty(os.Getenv("STRATA_LOG_LEVEL"), cfg.LogLevel),
		Component: "strata",
	})

	db, err := openDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open engine db: %w", err)
	}
	if _, err := db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("get working dir: %w", err)
	}
	pc, err := config.LoadProject(cwd)
	if err != nil {
		log.Warn("project config ignored", "error", err)
	}

	e := &engine{
		cfg:       cfg,
		paths:     paths,
		db:        db,
		store:     store.NewStore(db),
		log:       log,
		projectID: firstNonEmpty(os.Getenv("STRATA_PROJECT"), pc.ProjectID, filepath.Base(cwd)),
		branch:    firstNonEmpty(os.Getenv("STRATA_BRANCH"), pc.Branch, protocol.DefaultBranch),
		runID:     firstNonEmpty(os.Getenv("STRATA_RUN_ID"), "default"),
		tags:      pc.Tags,
		minScore:  cfg.Sync.MinScore,
	}
	e.sessionID = firstNonEmpty(os.Getenv("STRATA_SESSION_ID"), e.runID)
	if pc.MinScore > 0 {
		e.minScore = pc.MinScore
	}

	e.mgr = stack.NewManager(e.store, log, e.projectID, e.runID)
	if err := e.mgr.LoadStack(ctx, stack.ScopeRun); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load active stack: %w", err)
	}

	e.layer = sharedctx.NewLayer(paths.SharedDir, log, sharedctx.Options{
		TTL:      e.cfg.Cache.TTL(),
		MaxCache: e.cfg.Cache.MaxEntries,
	})
	return e, nil
}

// Close releases the database connection.
func (e *engine) Close() {
	_ = e.db.Close()
}

// closedFrames lists the run's closed frames, for one-shot syncing.
func (e *engine) closedFrames(ctx context.Context) ([]*protocol.Frame, error) {
	frames, err := e.store.ListFrames(ctx, store.FrameQuery{RunID: e.runID})
	if err != nil {
		return nil, err
	}
	var closed []*protocol.Frame
	for i := range frames {
		if frames[i].Closed() {
			closed = append(closed, &frames[i])
		}
	}
	return closed, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
