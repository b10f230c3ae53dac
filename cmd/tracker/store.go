package main

import (
	"context"
	"fmt"

	appcfg "github.com/texican/chess-tracker/internal/config"
	"github.com/texican/chess-tracker/internal/obslog"
	"github.com/texican/chess-tracker/internal/tablestore"
	"go.uber.org/zap"
)

// openStore builds the configured table store and its close func.
func openStore(ctx context.Context, cfg *appcfg.AppConfig) (tablestore.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.StoreBackend {
	case appcfg.BackendMemory:
		obslog.L().Warn("store_memory", zap.String("note", "matches are lost on exit"))
		return tablestore.NewMemoryStore(), noop, nil
	case appcfg.BackendSQLite:
		s, err := tablestore.OpenSQL(tablestore.DialectSQLite, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		obslog.L().Info("store_open", zap.String("backend", cfg.StoreBackend), zap.String("path", cfg.SQLitePath))
		return s, s.Close, nil
	case appcfg.BackendPostgres:
		s, err := tablestore.OpenSQL(tablestore.DialectPostgres, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		obslog.L().Info("store_open", zap.String("backend", cfg.StoreBackend))
		return s, s.Close, nil
	case appcfg.BackendRedis:
		s, err := tablestore.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		obslog.L().Info("store_open", zap.String("backend", cfg.StoreBackend))
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
