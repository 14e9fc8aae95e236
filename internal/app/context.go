package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"coachline/internal/agent"
	"coachline/internal/config"
	"coachline/internal/credential"
	"coachline/internal/db"
	"coachline/internal/migrate"
	"coachline/internal/repo"
)

// App is a fully wired coachline instance over one workspace: open
// database, loaded config, signing key, orchestrator.
type App struct {
	DB           *sql.DB
	Repo         repo.Repo
	Config       *config.Config
	Minter       credential.Minter
	Orchestrator *agent.Orchestrator
}

// Open loads config from the workspace, opens and migrates the
// database, loads the signing key, and wires the orchestrator.
func Open(workspace string) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	minter, err := LoadMinter(workspace, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &App{
		DB:           conn,
		Repo:         repo.Repo{DB: conn},
		Config:       cfg,
		Minter:       minter,
		Orchestrator: agent.New(conn, cfg, minter),
	}, nil
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// LoadMinter reads the signing key named by the config, resolving a
// relative path against the workspace.
func LoadMinter(workspace string, cfg *config.Config) (credential.Minter, error) {
	keyPath := cfg.Credential.PrivateKey
	if keyPath == "" {
		return credential.Minter{}, errors.New("config.credential.private_key is required")
	}
	if !filepath.IsAbs(keyPath) {
		keyPath = filepath.Join(workspace, keyPath)
	}
	key, err := credential.LoadKey(keyPath)
	if err != nil {
		return credential.Minter{}, fmt.Errorf("load signing key (run coachline keygen?): %w", err)
	}
	return credential.Minter{
		Issuer: cfg.Credential.Issuer,
		Key:    key,
		TTL:    cfg.Credential.TTL(),
	}, nil
}

// ResolveProfile ensures a profile row exists for the user and
// returns its display name.
func ResolveProfile(ctx context.Context, r repo.Repo, userID, displayName string) (string, error) {
	profile, err := r.EnsureProfile(ctx, userID, displayName)
	if err != nil {
		return "", err
	}
	return profile.DisplayName, nil
}
