package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/opencase/notesync/internal/channel"
	"github.com/opencase/notesync/internal/config"
	"github.com/opencase/notesync/internal/server"
	"github.com/opencase/notesync/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	reg, err := buildRegistry(ctx, cfg)
	if err != nil {
		slog.Error("connect channel fabric", "err", err)
		os.Exit(1)
	}

	st, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("connect store", "err", err)
		os.Exit(1)
	}

	if err := server.New(reg, st).Run(cfg.Server.Addr); err != nil {
		slog.Error("relay stopped", "err", err)
		os.Exit(1)
	}
}

func buildRegistry(ctx context.Context, cfg *config.Config) (channel.Registry, error) {
	if cfg.Redis.Addr == "" {
		slog.Info("using in-process channels")
		return channel.NewRegistry(), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	slog.Info("using redis channels", "addr", cfg.Redis.Addr)
	return channel.NewRedisRegistry(rdb), nil
}

func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch {
	case cfg.Mongo.URI != "":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, err
		}
		slog.Info("using mongo store", "database", cfg.Mongo.Database)
		return store.NewMongo(client.Database(cfg.Mongo.Database)), nil

	case cfg.Postgres.URL != "":
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		slog.Info("using postgres store")
		return pg, nil

	default:
		slog.Info("using in-memory store")
		return store.NewMemory(), nil
	}
}
