package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lsmirror/internal/config"
	"lsmirror/internal/coord"
	"lsmirror/internal/files"
	"lsmirror/internal/source"
	"lsmirror/internal/store"
)

var errNoProjects = errors.New("no projects configured")

// app holds the collaborators shared by the job commands.
type app struct {
	cfg      *config.Config
	store    *store.Store
	source   *source.Client
	rewriter *files.Rewriter
	coord    coord.Coordinator
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	coordinator, err := openCoordinator(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	client := source.NewClient(source.Options{
		Host:            cfg.Source.Host,
		Token:           cfg.Source.Token,
		AuthScheme:      cfg.Source.AuthScheme,
		Timeout:         cfg.Source.HTTPTimeout,
		DownloadTimeout: cfg.Images.DownloadTimeout,
		RetryAttempts:   cfg.Source.RetryAttempts,
		RetryDelay:      cfg.Source.RetryDelay,
		Logger:          componentLogger("source"),
	})

	return &app{
		cfg:      cfg,
		store:    st,
		source:   client,
		rewriter: files.NewRewriter(cfg.Source.Host, cfg.Files.Host),
		coord:    coordinator,
	}, nil
}

func openCoordinator(ctx context.Context, cfg *config.Config) (coord.Coordinator, error) {
	if strings.TrimSpace(cfg.Coord.RedisAddr) == "" {
		return coord.NewNoop(), nil
	}
	return coord.Dial(ctx, coord.Options{
		Addr:     cfg.Coord.RedisAddr,
		Password: cfg.Coord.RedisPassword,
		DB:       cfg.Coord.RedisDB,
		LeaseTTL: cfg.Coord.LeaseTTL,
		Logger:   componentLogger("coord"),
	})
}

func (r *app) Close() {
	if r.coord != nil {
		_ = r.coord.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
}

// resolveProjects prefers the --projects flag over configured projects.
func resolveProjects(flagValue string, cfg *config.Config) ([]string, error) {
	ids := config.SplitCSV(flagValue)
	if len(ids) == 0 {
		ids = cfg.Projects
	}
	if len(ids) == 0 {
		return nil, errNoProjects
	}
	for _, id := range ids {
		if _, err := store.CollectionName(id, ""); err != nil {
			return nil, fmt.Errorf("project %q: %w", id, err)
		}
	}
	return ids, nil
}
