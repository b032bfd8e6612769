package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-teamcal/v1/lock"
)

type lockFlags struct {
	targetType string
	hold       time.Duration
}

func newLockCmd(a *app) *cobra.Command {
	f := &lockFlags{}
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Manage edit leases on team calendar entries",
	}
	cmd.PersistentFlags().StringVarP(&f.targetType, "type", "t", string(lock.TargetSchedule), "target type (SCHEDULE or CREATE)")

	acquire := &cobra.Command{
		Use:   "acquire CALENDAR_ID TARGET_ID",
		Short: "Acquire the lease once and print the resulting status",
		Args:  cobra.ExactArgs(2),
		RunE: a.withCoordinator(f, func(ctx context.Context, cmd *cobra.Command, c *lock.Coordinator) error {
			ok := c.AcquireForEdit(ctx)
			c.Close()
			if err := printJSON(cmd, c.Status()); err != nil {
				return err
			}
			if !ok {
				return errors.New("lock not acquired")
			}
			return nil
		}),
	}

	hold := &cobra.Command{
		Use:   "hold CALENDAR_ID TARGET_ID",
		Short: "Acquire the lease and keep it alive until interrupted",
		Long: `Acquire the lease and renew it with the heartbeat until interrupted, the
--for duration elapses or the lease is lost. The lease is released on exit.
Every status change is printed as one JSON line.`,
		Args: cobra.ExactArgs(2),
	}
	changed := make(chan struct{}, 1)
	hold.RunE = a.withCoordinator(f, func(ctx context.Context, cmd *cobra.Command, c *lock.Coordinator) error {
		return holdLease(ctx, cmd, c, f.hold, changed)
	}, lock.WithObserver(func(lock.Status) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}))
	hold.Flags().DurationVar(&f.hold, "for", 0, "release after this duration (0 means until interrupted)")

	status := &cobra.Command{
		Use:   "status CALENDAR_ID TARGET_ID",
		Short: "Print who holds the lease",
		Args:  cobra.ExactArgs(2),
		RunE: a.withCoordinator(f, func(ctx context.Context, cmd *cobra.Command, c *lock.Coordinator) error {
			info, err := c.Inspect(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, info)
		}),
	}

	authorize := &cobra.Command{
		Use:   "authorize CALENDAR_ID TARGET_ID",
		Short: "Check that this session may write the target",
		Args:  cobra.ExactArgs(2),
		RunE: a.withCoordinator(f, func(ctx context.Context, cmd *cobra.Command, c *lock.Coordinator) error {
			ok := c.AuthorizeWriteBeforeSave(ctx)
			if !ok {
				if err := printJSON(cmd, c.Status()); err != nil {
					return err
				}
				return errors.New("write not authorized")
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "authorized")
			return err
		}),
	}

	release := &cobra.Command{
		Use:   "release CALENDAR_ID TARGET_ID",
		Short: "Release the lease held by this session",
		Args:  cobra.ExactArgs(2),
		RunE: a.withCoordinator(f, func(ctx context.Context, cmd *cobra.Command, c *lock.Coordinator) error {
			c.ReleaseLock(ctx)
			return printJSON(cmd, c.Status())
		}),
	}

	cmd.AddCommand(acquire, hold, status, authorize, release)
	return cmd
}

type coordinatorFunc func(ctx context.Context, cmd *cobra.Command, c *lock.Coordinator) error

func (a *app) withCoordinator(f *lockFlags, fn coordinatorFunc, extra ...lock.Option) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		target, err := parseTarget(args, f.targetType)
		if err != nil {
			return err
		}
		return a.run(cmd.Context(), func(ctx context.Context) error {
			opts := append([]lock.Option{
				lock.WithHeartbeatInterval(a.cfg.Lock.HeartbeatInterval),
				lock.WithLogger(a.logger),
			}, extra...)
			c := lock.NewCoordinator(a.lockClient(), target, opts...)
			defer c.Close()
			return fn(ctx, cmd, c)
		})
	}
}

// holdLease keeps the lease until ctx ends or it is lost. changed is
// signalled by the coordinator observer; the status is read back on each
// signal so coalesced signals never hide the latest state.
func holdLease(ctx context.Context, cmd *cobra.Command, c *lock.Coordinator, d time.Duration, changed <-chan struct{}) error {
	if !c.AcquireForEdit(ctx) {
		_ = printJSON(cmd, c.Status())
		return errors.New("lock not acquired")
	}
	if err := printJSON(cmd, c.Status()); err != nil {
		return err
	}
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	last := c.Status()
	for {
		select {
		case <-ctx.Done():
			c.ReleaseLock(context.WithoutCancel(ctx))
			return printJSON(cmd, c.Status())
		case <-changed:
			st := c.Status()
			if st != last {
				last = st
				if err := printJSON(cmd, st); err != nil {
					return err
				}
			}
			if st.State != lock.StateAcquired {
				return fmt.Errorf("lease %s: %s", st.State, st.Message)
			}
		}
	}
}

func parseTarget(args []string, targetType string) (lock.Target, error) {
	cal, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return lock.Target{}, fmt.Errorf("invalid calendar id %q", args[0])
	}
	tt := lock.TargetType(strings.ToUpper(targetType))
	if tt != lock.TargetSchedule && tt != lock.TargetCreate {
		return lock.Target{}, fmt.Errorf("invalid target type %q", targetType)
	}
	return lock.Target{CalendarID: lock.Calendar(cal), Type: tt, ID: args[1]}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	return json.NewEncoder(cmd.OutOrStdout()).Encode(v)
}
