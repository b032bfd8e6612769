package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-teamcal/v1/realtime"
)

func newWatchCmd(a *app) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "watch CALENDAR_ID",
		Short: "Print realtime updates of a team calendar",
		Long: `Subscribe to the realtime topic of a team calendar and print every
update as one JSON line. The connection is re-established with exponential
backoff until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cal, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || cal <= 0 {
				return fmt.Errorf("invalid calendar id %q", args[0])
			}
			return a.run(cmd.Context(), func(ctx context.Context) error {
				return a.watch(ctx, cmd, cal, count)
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many updates (0 means never)")
	return cmd
}

func (a *app) watch(ctx context.Context, cmd *cobra.Command, cal int64, count int) error {
	endpoint, host, err := a.cfg.BrokerURL()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	seen := 0
	enc := json.NewEncoder(cmd.OutOrStdout())
	onUpdate := func(ev realtime.Event) {
		mu.Lock()
		defer mu.Unlock()
		if count > 0 && seen >= count {
			return
		}
		if err := enc.Encode(ev); err != nil {
			a.logger.Warn("teamcal: write update failed", "error", err)
		}
		seen++
		if count > 0 && seen >= count {
			cancel()
		}
	}

	opts := []realtime.Option{
		realtime.WithHost(host),
		realtime.WithBackoff(a.cfg.Backoff()),
		realtime.WithLogger(a.logger),
	}
	if s := a.cfg.Server.Session; s != "" {
		header := http.Header{"Cookie": {"SESSION=" + s}}
		opts = append(opts, realtime.WithDialer(realtime.WebSocketDialer{Header: header}))
	}
	sess := realtime.NewSession(endpoint, opts...)
	defer sess.Close()
	sess.Bind(cal, onUpdate)
	a.logger.Info("teamcal: watching", "calendar", cal, "topic", realtime.Topic(cal))

	<-ctx.Done()
	return nil
}
