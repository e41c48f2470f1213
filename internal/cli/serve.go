package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rybkr/topoorder/internal/server"
)

func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr string
		poll time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the order over HTTP and push updates to websocket clients",
		Long: `serve publishes the order at /api/order, streams updates at /api/ws and exposes
Prometheus metrics at /metrics. The order is rescanned when branches change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = c.cfg.Serve.Addr
			}
			if !cmd.Flags().Changed("poll") {
				poll = c.cfg.Serve.Poll
			}
			s := server.NewServer(c.repo, server.Options{
				Addr:       addr,
				Debounce:   c.cfg.Watch.Debounce,
				PollPeriod: poll,
				Logger:     c.Logger,
			})
			return s.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().DurationVar(&poll, "poll", 0, "also rescan on this period (0 disables)")
	return cmd
}
