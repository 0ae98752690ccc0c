package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stake-plus/govsync/src/blockfrost"
	"github.com/stake-plus/govsync/src/cache"
	"github.com/stake-plus/govsync/src/config"
	"github.com/stake-plus/govsync/src/data"
	"github.com/stake-plus/govsync/src/govmeta"
	"github.com/stake-plus/govsync/src/history"
	"github.com/stake-plus/govsync/src/koios"
	"github.com/stake-plus/govsync/src/notify"
	"github.com/stake-plus/govsync/src/rationale"
	"github.com/stake-plus/govsync/src/snapshot"
	"github.com/stake-plus/govsync/src/syncer"
	"github.com/stake-plus/govsync/src/webclient"
)

// app holds everything a command needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	caches   *cache.Caches
	history  *history.Builder
	svc      *syncer.Service
	rdb      *redis.Client
	recorder *data.RunRecorder
}

func (a *app) Close() error {
	var errs []error
	if err := a.caches.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close caches: %w", err))
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	return errors.Join(errs...)
}

// overlaySettings applies the settings table on top of file and env config
// and returns the audit recorder backed by the same database.
func overlaySettings(cfg *config.Config, logger *zap.Logger) (*data.RunRecorder, error) {
	if cfg.MySQLDSN == "" {
		return nil, nil
	}
	db, err := data.ConnectMySQL(cfg.MySQLDSN, logger)
	if err != nil {
		return nil, err
	}
	recorder := data.NewRunRecorder(db)
	if err := recorder.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := data.LoadSettings(db); err != nil {
		return nil, err
	}
	applied, err := cfg.ApplySettings(data.Settings())
	if err != nil {
		return nil, fmt.Errorf("settings overlay: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("applied database settings", zap.Strings("keys", applied))
	}
	return recorder, nil
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	recorder, err := overlaySettings(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, recorder: recorder}
	deps := syncer.Deps{}
	if recorder != nil {
		deps.Recorder = recorder
	}

	if cfg.RedisURL != "" {
		rdb, err := data.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		deps.Lock = data.NewSyncLock(rdb, cfg.Sync.LockTTL)
		deps.Events = func(ctx context.Context, payload map[string]interface{}) error {
			return data.PublishSnapshotEvent(ctx, rdb, payload)
		}
	}

	notifiers := notify.Multi{notify.Log{Logger: logger.Named("events")}}
	if cfg.Discord.Token != "" {
		d, err := notify.NewDiscord(cfg.Discord.Token, cfg.Discord.ChannelID, logger)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, d)
	}
	deps.Notifier = notifiers

	primary := blockfrost.New(
		webclient.NewRequester(blockfrost.RequesterOptions(cfg.Blockfrost.Options("blockfrost"), cfg.Blockfrost.APIKey), logger),
		blockfrost.Config{
			ProjectID: cfg.Blockfrost.APIKey,
			PageSize:  cfg.Blockfrost.PageSize,
			MaxPages:  cfg.Blockfrost.MaxPages,
			Genesis:   blockfrost.MainnetGenesis,
		})
	secondary := koios.New(
		webclient.NewRequester(koios.RequesterOptions(cfg.Koios.Options("koios"), cfg.Koios.APIKey), logger),
		koios.Config{PageSize: cfg.Koios.PageSize, MaxPages: cfg.Koios.MaxPages})

	a.caches = cache.Open(cache.Options{
		Dir:        filepath.Join(cfg.DataDir, "cache"),
		FlushEvery: cfg.Cache.FlushEvery,
		Refresh: cache.RefreshOptions{
			MaxAge:        cfg.Cache.PoolMaxAge,
			QueueCapacity: cfg.Cache.PoolQueueCapacity,
			PerTick:       cfg.Cache.PoolPerTick,
			Tick:          cfg.Cache.PoolTick,
			FetchTimeout:  cfg.Blockfrost.Timeout,
		},
	}, logger)

	strategies := []rationale.Strategy{rationale.Inline{}, rationale.NewSecondary(secondary)}
	if cfg.MetadataService.BaseURL != "" {
		opts := cfg.MetadataService.Options("metadata-service")
		if cfg.MetadataService.APIKey != "" {
			opts.Headers = map[string]string{"Authorization": "Bearer " + cfg.MetadataService.APIKey}
		}
		strategies = append(strategies, rationale.NewMetadataService(govmeta.New(webclient.NewRequester(opts, logger))))
	}
	anchors := webclient.NewRequester(webclient.Options{
		Name:          "anchors",
		Timeout:       cfg.Anchors.Timeout,
		Retries:       1,
		MaxConcurrent: cfg.Anchors.MaxConcurrent,
	}, logger)
	strategies = append(strategies, rationale.NewAnchor(anchors, cfg.Anchors.Gateways, cfg.Anchors.MaxText))
	resolver := rationale.NewResolver(a.caches.Rationales, logger, strategies...)

	builder := snapshot.NewBuilder(primary, secondary, resolver, a.caches, snapshot.Config{
		ProposalWorkers: cfg.Builder.ProposalWorkers,
		ActorWorkers:    cfg.Builder.ActorWorkers,
		TxWorkers:       cfg.Builder.TxWorkers,
		MaxVotePages:    cfg.Builder.MaxVotePages,
		MinCoverage:     cfg.Gate.MinCoverage,
	}, logger)
	a.caches.Pools.SetFetcher(builder.PoolFetcher())
	deps.Builder = builder

	if cfg.History.Enabled {
		a.history = history.NewBuilder(primary, secondary, history.Config{
			Dir:        filepath.Join(cfg.DataDir, "history"),
			StartEpoch: cfg.History.StartEpoch,
		}, logger)
		deps.History = a.history
	}

	a.svc = syncer.New(syncer.Config{DataDir: cfg.DataDir, MinCoverage: cfg.Gate.MinCoverage}, deps, logger)
	a.svc.LoadState()
	return a, nil
}
