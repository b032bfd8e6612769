package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-teamcal/v1/teamtest"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local development backend",
		Long: `Run an in-process lock service and realtime broker for local development.

Leases are kept in memory unless dev.redis_addr is set, in which case they are
stored in Redis and events published on the schedule:updates channel are
relayed to the matching calendar topic.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), a.serve)
		},
	}
	cmd.Flags().String("listen", "", "listen address")
	cmd.Flags().String("redis", "", "redis address for leases and the update relay")
	_ = a.v.BindPFlag("dev.listen", cmd.Flags().Lookup("listen"))
	_ = a.v.BindPFlag("dev.redis_addr", cmd.Flags().Lookup("redis"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	dev := a.cfg.Dev
	var store teamtest.Store = teamtest.NewMemoryStore()
	var rdb *redis.Client
	if dev.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: dev.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		store = teamtest.NewRedisStore(rdb)
	}

	locks := teamtest.NewLockService(store,
		teamtest.WithTTL(dev.LockTTL),
		teamtest.WithServiceLogger(a.logger),
	)
	broker := teamtest.NewBroker(a.logger)
	srv := &http.Server{Addr: dev.Listen, Handler: teamtest.Handler(locks, broker), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	if rdb != nil {
		relay := teamtest.NewRelay(rdb, broker)
		if err := relay.Start(ctx); err != nil {
			return err
		}
		defer relay.Close()
	}
	g.Go(func() error {
		a.logger.Info("teamcal: dev backend listening", "addr", dev.Listen, "redis", dev.RedisAddr != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
