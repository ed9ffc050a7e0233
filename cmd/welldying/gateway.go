package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/agent"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/bus"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/channels"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/cron"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/server"
)

func newGatewayCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the Discord channel, HTTP API and nightly diary job",
		Long: "Serve the companion over the enabled chat channels and the JSON HTTP API, " +
			"and compose diaries on the configured schedule for everyone who talked that day.",
		Example: "  welldying gateway\n  welldying gateway --debug",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			msgBus := bus.NewMessageBus()
			defer msgBus.Close()

			manager, err := channels.NewManager(cfg.Channels, msgBus)
			if err != nil {
				return err
			}
			loop := agent.NewAgentLoop(msgBus, a.router)
			api := server.New(server.Deps{
				Conversations: a.router,
				Diaries:       a.diaries,
				Composer:      a.composer,
				Stats: map[string]server.StatsFunc{
					"index": func(ctx context.Context) (interface{}, error) { return a.index.Stats(ctx) },
					"bus":   func(context.Context) (interface{}, error) { return msgBus.Stats(), nil },
					"channels": func(context.Context) (interface{}, error) {
						return manager.Status(), nil
					},
				},
			}, cfg.Gateway.APIKey)

			var nightly *cron.Scheduler
			if cfg.Diary.AutoCompose {
				nightly, err = cron.New("nightly-diary", cfg.Diary.Schedule, cron.NightlyDiary(a.sessions, a.composer))
				if err != nil {
					return fmt.Errorf("diary.schedule: %w", err)
				}
			}

			addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ HTTP API on http://%s\n", addr)
			if names := manager.Names(); len(names) > 0 {
				fmt.Fprintf(out, "✓ Channels: %v\n", names)
			}
			if nightly != nil {
				fmt.Fprintf(out, "✓ Nightly diary at %q\n", cfg.Diary.Schedule)
			}
			fmt.Fprintln(out, "Press Ctrl+C to stop")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return loop.Run(gctx) })
			g.Go(func() error { return manager.Run(gctx) })
			g.Go(func() error { return api.Run(gctx, addr) })
			if nightly != nil {
				g.Go(func() error { return nightly.Run(gctx) })
			}

			err = g.Wait()
			logger.InfoC("gateway", "Gateway stopped")
			fmt.Fprintln(out, "✓ Gateway stopped")
			return err
		},
	}
}
