// Package cli implements the topo-order command-line interface.
//
// Without a subcommand, topo-order prints every commit reachable from the
// local branches, descendants first, one per line. The watch subcommand
// reprints whenever a branch moves; serve publishes the same order over HTTP
// and websockets.
//
// All commands accept --verbose (-v) for debug logging on standard error.
// Standard output only ever carries the rendered order.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rybkr/topoorder/internal/config"
	"github.com/rybkr/topoorder/internal/gitcore"
	"github.com/rybkr/topoorder/internal/pipeline"
	"github.com/rybkr/topoorder/internal/render"
)

const appName = "topo-order"

// Version is set at build time via -ldflags.
var Version = "dev"

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	out    io.Writer
	errOut io.Writer

	repoPath   string
	configPath string
	color      string
	verbose    bool

	cfg  *config.Config
	repo *gitcore.Repository
}

// New creates a CLI writing the order to out and logs to errOut.
func New(out, errOut io.Writer) *CLI {
	return &CLI{
		Logger: newLogger(errOut, log.InfoLevel),
		out:    out,
		errOut: errOut,
	}
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Print local branch history in topological order",
		Long: `topo-order reads the object store of the enclosing git repository directly and prints
every commit reachable from a local branch, children before parents. Branch names follow
the commits they point at, and a marker block separates consecutive commits that are not
parent and child.`,
		Version:           Version,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		RunE:              c.runOrder,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.repoPath, "repo", "C", ".", "start looking for the repository here")
	flags.StringVar(&c.configPath, "config", "", "config file (default <worktree>/"+config.FileName+")")
	flags.StringVar(&c.color, "color", string(config.ColorAuto), "style branch names: auto, always or never")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(c.watchCommand())
	root.AddCommand(c.serveCommand())

	return root
}

// setup opens the repository, then loads config from the worktree so that
// flags can override it.
func (c *CLI) setup(cmd *cobra.Command, args []string) error {
	if c.verbose {
		c.Logger.SetLevel(log.DebugLevel)
	}

	repo, err := gitcore.NewRepository(c.repoPath, gitcore.WithLogger(c.Logger))
	if err != nil {
		return err
	}
	c.repo = repo

	path, required := c.configPath, true
	if path == "" {
		path, required = filepath.Join(repo.WorkDir(), config.FileName), false
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("color") {
		cfg.Color = config.ColorMode(c.color)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	if !c.verbose {
		c.Logger.SetLevel(cfg.Level())
	}
	c.Logger.Debug("configuration loaded", "path", path, "color", cfg.Color)
	return nil
}

// runOrder prints the history once.
func (c *CLI) runOrder(cmd *cobra.Command, args []string) error {
	p := newProgress(c.Logger)
	result, err := pipeline.Run(c.repo, c.Logger)
	if err != nil {
		return err
	}
	if err := render.Write(c.out, result.Entries, c.styles()); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	p.done(fmt.Sprintf("ordered %d commits", len(result.Entries)))
	return nil
}

// styles picks terminal styling per the color mode. Auto styles only when
// standard output is a terminal.
func (c *CLI) styles() *render.Styles {
	switch c.cfg.Color {
	case config.ColorNever:
		return nil
	case config.ColorAlways:
		r := lipgloss.NewRenderer(c.out)
		r.SetColorProfile(termenv.ANSI256)
		return render.NewStyles(r)
	}

	f, ok := c.out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return render.NewStyles(lipgloss.NewRenderer(f))
}
