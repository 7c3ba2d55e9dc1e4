// Package app wires the workspace store, config, logger and engine together
// for the CLI and the server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"siteflow/internal/config"
	"siteflow/internal/db"
	"siteflow/internal/engine"
	"siteflow/internal/events"
	"siteflow/internal/logging"
	"siteflow/internal/migrate"
	"siteflow/internal/repo"
)

type Env struct {
	DB     *sql.DB
	Repo   repo.Repo
	Engine engine.Engine
	Config *config.Config
	Logger *zap.Logger
}

// Open migrates the workspace database and loads siteflow.yml, falling back to
// defaults when the file is absent. logLevel overrides the configured level.
func Open(workspace, logLevel string) (*Env, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if logLevel == "" {
		logLevel = cfg.Logging.Level
	}
	logger, err := logging.New(logLevel)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn, Events: events.Writer{Now: time.Now}, Now: time.Now}
	return &Env{
		DB:     conn,
		Repo:   r,
		Engine: engine.New(r, cfg, logger),
		Config: cfg,
		Logger: logger,
	}, nil
}

func (e *Env) Close() error {
	_ = e.Logger.Sync()
	return e.DB.Close()
}

// ResolveProject picks the active project: the override, then the configured
// project id, then the only project in the store. A named project that does
// not exist yet is created.
func ResolveProject(ctx context.Context, override string, cfg *config.Config, r repo.Repo) (string, error) {
	projectID := override
	if projectID == "" && cfg != nil {
		projectID = cfg.Project.ID
	}
	if projectID == "" {
		p, err := r.SingleProject(ctx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", fmt.Errorf("no project found; create one with sf project create or pass --project")
			}
			return "", err
		}
		return p.ID, nil
	}
	if err := r.EnsureProject(ctx, projectID); err != nil {
		return "", fmt.Errorf("ensure project %s: %w", projectID, err)
	}
	return projectID, nil
}
