package main

import (
	"context"
	"errors"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog"

	"github.com/Kritesh10/real-time-chat-app/internal/logging"
	"github.com/Kritesh10/real-time-chat-app/internal/server"
	"github.com/Kritesh10/real-time-chat-app/internal/store"
)

const openTimeout = 15 * time.Second

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		l := logging.New("info", "text")
		l.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	st, err := openStore(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}

	srv := server.New(cfg, st, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			// Clients write their offline presence while the server drains, so the
			// store is closed only after that.
			"chat-server": func(ctx context.Context) error {
				return errors.Join(srv.Shutdown(ctx), st.Close())
			},
		},
	)

	exitCode := <-wait
	logger.Info().Int("exit_code", exitCode).Msg("server exited")
	os.Exit(exitCode)
}

// openStore picks Postgres, then SQLite, then memory, and layers the Redis
// presence mirror on top when configured.
func openStore(ctx context.Context, cfg *server.Config, logger zerolog.Logger) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch {
	case cfg.DatabaseURL != "":
		st, err = store.NewPostgres(ctx, cfg.DatabaseURL)
		logger.Info().Msg("using postgres store")
	case cfg.SQLitePath != "":
		st, err = store.OpenSQLite(ctx, cfg.SQLitePath)
		logger.Info().Str("path", cfg.SQLitePath).Msg("using sqlite store")
	default:
		st = store.NewMemory()
		logger.Warn().Msg("no database configured; using in-memory store")
	}
	if err != nil {
		return nil, err
	}

	if cfg.RedisURL == "" {
		return st, nil
	}

	cache, err := store.NewRedisPresence(ctx, cfg.RedisURL)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	// Nobody is connected at startup.
	if err := cache.Reset(ctx); err != nil {
		_ = cache.Close()
		_ = st.Close()
		return nil, err
	}
	logger.Info().Msg("mirroring presence to redis")
	return store.WithPresenceCache(st, cache), nil
}
