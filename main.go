package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"rosterchat/internal/config"
	"rosterchat/internal/logging"
	"rosterchat/internal/node"
	"rosterchat/internal/roster"
	"rosterchat/internal/statusapi"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	cli        bool
	bell       bool
	bellFile   string
	metrics    string
	logFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "rosterchat <peers_file> <self_id>",
		Short: "Serverless chat between the peers of a static roster",
		Long: `rosterchat joins a fixed group of peers listed in a roster file.
Peers are probed over UDP; chat sessions are opened over TCP to every
peer that answers.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args, opts)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	bindFlags(cmd.Flags(), &opts)
	return cmd
}

func bindFlags(f *pflag.FlagSet, opts *options) {
	f.StringVar(&opts.configPath, "config", "", "path to a TOML config file")
	f.BoolVar(&opts.cli, "cli", false, "use the plain line-mode interface instead of the TUI")
	f.BoolVar(&opts.bell, "bell", false, "play a sound on incoming messages")
	f.StringVar(&opts.bellFile, "bell-file", "", "wav or mp3 file to play instead of the default tone")
	f.StringVar(&opts.metrics, "metrics", "", "serve /health, /api/peers and /metrics on this address")
	f.StringVar(&opts.logFile, "log-file", "", `diagnostic log file ("-" for stderr)`)
	f.StringVar(&opts.logLevel, "log-level", "", "diagnostic log level (debug, info, warn, error)")
}

// loadConfig reads the config file and applies positional args and flags
// on top of it.
func loadConfig(cmd *cobra.Command, args []string, opts options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	cfg.Node.PeersFile = args[0]
	cfg.Node.ID = args[1]

	if opts.cli {
		cfg.UI.Mode = "cli"
	}
	if cmd.Flags().Changed("bell") {
		cfg.UI.Bell = opts.bell
	}
	if opts.bellFile != "" {
		cfg.UI.BellFile = opts.bellFile
		cfg.UI.Bell = true
	}
	if opts.metrics != "" {
		cfg.Metrics.Listen = opts.metrics
	}
	if opts.logFile != "" {
		cfg.Logging.File = opts.logFile
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, cfg.Validate()
}

func run(cfg config.Config) error {
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	dir, err := roster.Load(cfg.Node.PeersFile, cfg.Node.ID)
	if err != nil {
		return err
	}
	log.Info("roster loaded",
		zap.String("self", dir.Self().ID),
		zap.Int("peers", dir.Len()),
		zap.String("file", cfg.Node.PeersFile))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := newBell(cfg.UI.Bell, cfg.UI.BellFile, log)
	if cfg.UI.Mode == "cli" {
		return runLineMode(ctx, cfg, dir, log, b)
	}
	return runTUI(ctx, cfg, dir, log, b)
}

func runLineMode(ctx context.Context, cfg config.Config, dir *roster.Directory, log *zap.Logger, b *bell) error {
	sink := bellSink{Sink: &cliSink{out: os.Stdout}, bell: b}
	n := node.New(cfg, dir, sink, node.WithLogger(log))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	serveStatus(ctx, cfg, dir.Self().ID, n, log)

	if err := n.Start(ctx); err != nil {
		return err
	}
	sink.Log(node.LevelInfo, "Client ready...")

	runCLI(os.Stdin, newCommander(n, sink).handle, n.Done(), n.RequestShutdown)
	<-n.Done()
	return nil
}

func runTUI(ctx context.Context, cfg config.Config, dir *roster.Directory, log *zap.Logger, b *bell) error {
	ui := NewUI(dir.Self().ID, nil, nil)
	p := tea.NewProgram(ui, tea.WithAltScreen())

	sink := bellSink{Sink: tuiSink{p: p}, bell: b}
	n := node.New(cfg, dir, sink, node.WithLogger(log))
	ui.status = n.Status
	ui.dispatch = newCommander(n, sink).handle

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	serveStatus(ctx, cfg, dir.Self().ID, n, log)

	// Start reports through the program, so it runs alongside p.Run.
	startErr := make(chan error, 1)
	go func() {
		err := n.Start(ctx)
		if err == nil {
			sink.Log(node.LevelInfo, "Client ready...")
		}
		startErr <- err
	}()
	go func() {
		<-n.Done()
		p.Quit()
	}()

	_, runErr := p.Run()
	_ = n.Shutdown()

	if err := <-startErr; err != nil && !errors.Is(err, node.ErrClosed) {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("tui: %w", runErr)
	}
	return nil
}

func serveStatus(ctx context.Context, cfg config.Config, self string, n *node.Node, log *zap.Logger) {
	if cfg.Metrics.Listen == "" {
		return
	}
	go statusapi.NewServer(self, n, log).ListenAndServe(ctx, cfg.Metrics.Listen)
}
