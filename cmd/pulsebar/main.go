package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/modoterra/pulsebar/internal/buildinfo"
	"github.com/modoterra/pulsebar/pkg/config"
	"github.com/modoterra/pulsebar/pkg/daemon"
	"github.com/modoterra/pulsebar/pkg/daemon/service"
	"github.com/modoterra/pulsebar/pkg/directory"
	"github.com/modoterra/pulsebar/pkg/providers/procfs"
	"github.com/modoterra/pulsebar/pkg/state"
	"github.com/modoterra/pulsebar/pkg/transport/uds"
	tuimodel "github.com/modoterra/pulsebar/pkg/tui/model"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "pulsebar",
	Short:        "Live bar chart of telemetry sent over a Unix socket",
	Long:         "Pulsebar runs a Unix socket server that receives label/value samples from clients and draws the latest one as a bar chart in the terminal.",
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/pulsebar/config.yaml)")
	pf.String("socket", config.DefaultSocket, "server socket path")
	pf.String("log-file", "", "write logs to this file")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("users-file", "", "user directory file")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configPath, cmd.Flags())
}

// newLogger builds the process logger. With the dashboard on screen, logs go
// to the configured file or are dropped; headless, they go to stderr.
func newLogger(cfg *config.Config, headless bool) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return slog.New(slog.NewTextHandler(f, opts)), func() { f.Close() }, nil
	case headless:
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), func() {}, nil
	default:
		return slog.New(slog.NewTextHandler(io.Discard, opts)), func() {}, nil
	}
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// --- Server ---

var serverHeadless bool

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the socket server and the dashboard",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().BoolVar(&serverHeadless, "headless", false, "run without the dashboard, logging to stderr")
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	headless := serverHeadless || !isTerminal()
	logger, closeLog, err := newLogger(cfg, headless)
	if err != nil {
		return err
	}
	defer closeLog()

	store := state.New()
	d := daemon.New(daemon.Options{
		SocketPath: cfg.Socket,
		ReadBuffer: cfg.ReadBuffer,
	}, store, logger)

	// Bind before taking over the terminal so setup errors reach the shell.
	if err := d.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting pulsebar server", "version", buildinfo.Version, "socket", cfg.Socket, "headless", headless)
	if headless {
		return d.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Run(ctx)
	}()

	uiErr := tuimodel.Run(ctx, store, tuimodel.Options{
		SocketPath:    cfg.Socket,
		FrameInterval: cfg.UI.FrameInterval,
		BarWidth:      cfg.UI.BarWidth,
		BarGap:        cfg.UI.BarGap,
		ChartPercent:  cfg.UI.ChartPercent,
	})
	stop()
	d.Shutdown()

	if err := <-errCh; err != nil && uiErr == nil {
		return err
	}
	return uiErr
}

// --- Send ---

var sendRaw bool

var sendCmd = &cobra.Command{
	Use:     "send <label> <value> [<label> <value>...]",
	Aliases: []string{"client"},
	Short:   "Send one sample to a running server",
	Long:    "Joins the arguments with spaces, sends them as one message and prints the server's reply.",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		msg := uds.Encode(args)
		if !sendRaw {
			if _, err := uds.Decode(msg); err != nil {
				return fmt.Errorf("invalid sample: %w", err)
			}
		}

		client, err := uds.Dial(cfg.Socket)
		if err != nil {
			return fmt.Errorf("cannot connect to server at %s: %w", cfg.Socket, err)
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		reply, err := client.SendRaw(ctx, msg)
		if reply != "" {
			fmt.Fprintln(cmd.OutOrStdout(), reply)
		}
		return err
	},
}

func init() {
	sendCmd.Flags().BoolVar(&sendRaw, "raw", false, "send the arguments without checking them first")
}

// --- Feed ---

var (
	feedInterval time.Duration
	feedCount    int
	feedProcRoot string
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Stream host load samples from /proc to a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if feedInterval <= 0 {
			return fmt.Errorf("--interval must be positive, got %s", feedInterval)
		}

		logger, closeLog, err := newLogger(cfg, true)
		if err != nil {
			return err
		}
		defer closeLog()

		client, err := uds.Dial(cfg.Socket)
		if err != nil {
			return fmt.Errorf("cannot connect to server at %s: %w", cfg.Socket, err)
		}
		defer client.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runFeed(ctx, client, procfs.New(feedProcRoot, logger), cmd.OutOrStdout())
	},
}

func init() {
	feedCmd.Flags().DurationVar(&feedInterval, "interval", time.Second, "time between samples")
	feedCmd.Flags().IntVar(&feedCount, "count", 0, "stop after this many samples (0 runs until interrupted)")
	feedCmd.Flags().StringVar(&feedProcRoot, "proc", procfs.DefaultRoot, "procfs mount point")
}

// runFeed sends one sample per tick until ctx ends or feedCount samples
// were sent.
func runFeed(ctx context.Context, client *uds.Client, p *procfs.Provider, out io.Writer) error {
	ticker := time.NewTicker(feedInterval)
	defer ticker.Stop()

	for sent := 0; feedCount == 0 || sent < feedCount; sent++ {
		if sent > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}

		sample, err := p.Collect(ctx)
		if err != nil {
			return err
		}
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		reply, err := client.Send(reqCtx, sample)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Fprintf(out, "%s -> %s\n", sample, reply)
	}
	return nil
}

// --- User ---

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage the user directory",
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username> <email>",
	Short: "Register a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateDirectory(cmd, func(d *directory.Directory) error {
			if err := d.Create(args[0], args[1], time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s <%s>\n", args[0], args[1])
			return nil
		})
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Remove a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateDirectory(cmd, func(d *directory.Directory) error {
			if err := d.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted user %s\n", args[0])
			return nil
		})
	},
}

var userListJSON bool

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		d, err := directory.Load(cfg.UsersFile)
		if err != nil {
			return err
		}

		entries := d.List()
		out := cmd.OutOrStdout()
		if userListJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}

		if len(entries) == 0 {
			fmt.Fprintln(out, "no users")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tEMAIL\tCREATED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Email, humanize.Time(e.Created))
		}
		return tw.Flush()
	},
}

func init() {
	userListCmd.Flags().BoolVar(&userListJSON, "json", false, "output as JSON")
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userListCmd)
}

// updateDirectory loads the user directory, applies fn and saves the result.
func updateDirectory(cmd *cobra.Command, fn func(*directory.Directory) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	d, err := directory.Load(cfg.UsersFile)
	if err != nil {
		return err
	}
	if errs := directory.Validate(d); len(errs) > 0 {
		return fmt.Errorf("%s: %w", cfg.UsersFile, errors.Join(errs...))
	}
	if err := fn(d); err != nil {
		return err
	}
	return directory.Save(d, cfg.UsersFile)
}

// --- Service ---

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the pulsebard systemd user service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start the socket-activated pulsebard service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := service.Install(cfg.Socket); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "pulsebard installed")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the pulsebard service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Uninstall(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "pulsebard uninstalled")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server socket and service state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(cfg.Socket))
		return nil
	},
}

func init() {
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pulsebar %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}
