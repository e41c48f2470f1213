package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/rybkr/topoorder/internal/pipeline"
	"github.com/rybkr/topoorder/internal/render"
	"github.com/rybkr/topoorder/internal/server"
)

const clearScreen = "\x1b[H\x1b[2J"

func (c *CLI) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Reprint the order whenever a local branch changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.runOrder(cmd, args); err != nil {
				return err
			}

			var mu sync.Mutex
			reprint := func() {
				mu.Lock()
				defer mu.Unlock()
				if err := c.reprint(c.out); err != nil {
					c.Logger.Error("rescan failed", "err", err)
				}
			}
			return server.Watch(cmd.Context(), c.repo.GitDir(), c.cfg.Watch.Debounce, c.Logger, reprint)
		},
	}
}

// reprint rescans and writes the whole order again, clearing the screen
// first when output is styled for a terminal.
func (c *CLI) reprint(w io.Writer) error {
	result, err := pipeline.Run(c.repo, c.Logger)
	if err != nil {
		return err
	}

	styles := c.styles()
	if styles != nil {
		fmt.Fprint(w, clearScreen)
	}
	c.Logger.Info("branches changed", "commits", len(result.Entries))
	return render.Write(w, result.Entries, styles)
}
