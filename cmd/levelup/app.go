package main

import (
	"context"
	"fmt"

	"github.com/jonathan/levelup/internal/config"
	"github.com/jonathan/levelup/internal/curriculum"
	"github.com/jonathan/levelup/internal/db"
	"github.com/jonathan/levelup/internal/progress"
	"github.com/jonathan/levelup/internal/store"
	"go.uber.org/zap"
)

// openStore connects the configured document store. The returned func
// releases it.
func (a *app) openStore(ctx context.Context) (store.DocumentStore, func(), error) {
	cfg := a.cfg
	switch cfg.Store {
	case config.StoreFirestore:
		fs, err := store.NewFirestore(ctx, store.FirestoreConfig{
			ProjectID:       cfg.FirestoreProjectID,
			Collection:      cfg.Collection,
			APIKey:          cfg.FirestoreAPIKey,
			CredentialsFile: cfg.FirestoreCredentialsFile,
			EmulatorHost:    cfg.FirestoreEmulatorHost,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open firestore: %w", err)
		}
		return fs, func() {}, nil

	case config.StorePostgres:
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, nil, err
		}
		return database.Collection(cfg.Collection), database.Close, nil

	case config.StoreSQLite:
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath, cfg.Collection)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				a.logger.Warn("failed to close sqlite store", zap.Error(err))
			}
		}, nil

	case config.StoreMemory:
		a.logger.Warn("using in-memory store; progress is lost on exit")
		return store.NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// loadCatalog returns the configured curriculum, or the built-in one.
func loadCatalog(path string) (*curriculum.Catalog, error) {
	if path == "" {
		return curriculum.Default(), nil
	}
	return curriculum.LoadFile(path)
}

// openEngine wires store and catalog into a progression engine.
func (a *app) openEngine(ctx context.Context) (*progress.Engine, func(), error) {
	catalog, err := loadCatalog(a.cfg.CurriculumFile)
	if err != nil {
		return nil, nil, err
	}
	st, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Debug("store opened",
		zap.String("store", a.cfg.Store),
		zap.String("collection", a.cfg.Collection),
	)

	engine := progress.NewEngine(st, catalog,
		progress.WithLogger(a.logger),
		progress.WithStoreTimeout(a.cfg.Timeout()),
		progress.WithMaxConflictRetries(a.cfg.MaxConflictRetries),
	)
	return engine, closeStore, nil
}
