package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/miga/internal/backend"
	"github.com/me/miga/internal/daemon"
	"github.com/me/miga/internal/logging"
	"github.com/me/miga/internal/project"
	"github.com/me/miga/internal/scheduler"
	"github.com/me/miga/internal/server"
	"github.com/me/miga/internal/store"
	"github.com/me/miga/pkg/model"
)

// HistoryFile is the job-event database inside a project.
const HistoryFile = "daemon/history.db"

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the project daemon",
	}
	cmd.AddCommand(
		newDaemonStartCmd(),
		newDaemonStopCmd(),
		newDaemonRestartCmd(),
		newDaemonStatusCmd(),
		newDaemonRunCmd(),
	)
	return cmd
}

// daemonTarget opens the project and resolves its daemon process files.
func daemonTarget(ctx context.Context) (*project.Project, daemon.Paths, error) {
	p, err := openProject(ctx)
	if err != nil {
		return nil, daemon.Paths{}, err
	}
	return p, daemon.PathsFor(p.Path(), p.Name()), nil
}

func startDaemon(cmd *cobra.Command, p *project.Project, paths daemon.Paths, args []string) error {
	// Fail here rather than in the detached child, whose error only reaches
	// the output file.
	if _, err := loadRuntime(cmd.Context(), p.Path()); err != nil {
		return err
	}
	extra := append([]string{"--log-file", paths.OutputFile, "--log-level", cliConfig.LogLevel, "--log-format", cliConfig.LogFormat}, args...)
	pid, err := daemon.Start(daemon.StartOptions{Project: p.Path(), Paths: paths, Args: extra})
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		return fmt.Errorf("%w (pid %d)", err, pid)
	}
	if err != nil {
		return err
	}
	logger.Debug("daemon spawned", "pid", pid, "output", paths.OutputFile)
	fmt.Fprintf(cmd.OutOrStdout(), "Daemon for %s started (pid %d)\n", p.Name(), pid)
	return nil
}

func stopDaemon(cmd *cobra.Command, p *project.Project, paths daemon.Paths, timeout time.Duration) error {
	err := daemon.Stop(paths.PIDFile, timeout)
	if errors.Is(err, daemon.ErrNotRunning) {
		fmt.Fprintf(cmd.OutOrStdout(), "Daemon for %s is not running\n", p.Name())
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Daemon for %s stopped\n", p.Name())
	return nil
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start [-- run flags...]",
		Short: "Start the daemon in the background",
		Long: `Start the daemon in the background. Arguments after -- are passed to
"daemon run", for example: miga daemon start -P proj -- --listen :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, paths, err := daemonTarget(cmd.Context())
			if err != nil {
				return err
			}
			return startDaemon(cmd, p, paths, args)
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon and its running tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, paths, err := daemonTarget(cmd.Context())
			if err != nil {
				return err
			}
			return stopDaemon(cmd, p, paths, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the daemon to exit")
	return cmd
}

func newDaemonRestartCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "restart [-- run flags...]",
		Short: "Stop the daemon if running, then start it again",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, paths, err := daemonTarget(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := loadRuntime(cmd.Context(), p.Path()); err != nil {
				return err
			}
			if err := stopDaemon(cmd, p, paths, timeout); err != nil {
				return err
			}
			return startDaemon(cmd, p, paths, args)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the daemon to exit")
	return cmd
}

func newDaemonStatusCmd() *cobra.Command {
	var (
		history int
		api     string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon runs and what it is doing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if api != "" {
				return remoteStatus(ctx, out, NewClient(api, logger), history)
			}

			p, paths, err := daemonTarget(ctx)
			if err != nil {
				return err
			}
			pid, running, err := daemon.Running(paths.PIDFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Project: %s\n", p.Name())
			if running {
				fmt.Fprintf(out, "  Daemon:  running (pid %d)\n", pid)
			} else {
				fmt.Fprintln(out, "  Daemon:  not running")
			}

			at, ok, err := scheduler.LastAlive(p.Path())
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(out, "  Alive:   %s (%s)\n", humanize.Time(at), at.Format(logging.TimeLayout))
			}
			if fi, err := os.Stat(paths.OutputFile); err == nil {
				fmt.Fprintf(out, "  Log:     %s (%s)\n", paths.OutputFile, humanize.Bytes(uint64(fi.Size())))
			}

			st, ok, err := scheduler.ReadStatus(p.Path())
			if err != nil {
				return err
			}
			if ok {
				printQueues(out, st)
			}

			if history > 0 {
				return localHistory(ctx, out, p.Path(), history)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&history, "history", 0, "Also print the newest N job events")
	cmd.Flags().StringVar(&api, "api", "", "Query a daemon's status API (host:port or URL) instead of the project files")
	return cmd
}

func printQueues(w io.Writer, st model.Status) {
	fmt.Fprintf(w, "  Jobs:    %s running, %s queued\n",
		humanize.Comma(int64(len(st.JobsRunning))), humanize.Comma(int64(len(st.JobsToRun))))
	for _, t := range st.JobsRunning {
		fmt.Fprintf(w, "    - %s [%s]\n", t.Name, t.Handle)
	}
	for _, t := range st.JobsToRun {
		fmt.Fprintf(w, "    - %s (queued)\n", t.Name)
	}
}

func printEvents(w io.Writer, events []*model.JobEvent) {
	fmt.Fprintf(w, "  History: %s events\n", humanize.Comma(int64(len(events))))
	for _, ev := range events {
		line := fmt.Sprintf("    %-20s %-10s %s", humanize.Time(ev.Time), ev.Type, ev.TaskName)
		if ev.Handle != "" {
			line += " [" + ev.Handle + "]"
		}
		fmt.Fprintln(w, line)
	}
}

func localHistory(ctx context.Context, w io.Writer, dir string, limit int) error {
	path := filepath.Join(dir, HistoryFile)
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(w, "  History: none recorded")
		return nil
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	events, _, err := st.ListEvents(ctx, model.EventFilter{Limit: limit})
	if err != nil {
		return err
	}
	printEvents(w, events)
	return nil
}

func remoteStatus(ctx context.Context, w io.Writer, c *Client, history int) error {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("query %s: %w", c.BaseURL, err)
	}
	fmt.Fprintf(w, "Project: %s\n", snap.Project)
	fmt.Fprintf(w, "  Daemon:  instance %s, iteration %s\n", snap.Instance, humanize.Comma(int64(snap.Iteration)))
	if !snap.LastTick.IsZero() {
		fmt.Fprintf(w, "  Tick:    %s\n", humanize.Time(snap.LastTick))
	}
	printQueues(w, snap.Status)
	if history > 0 {
		events, err := c.History(ctx, history)
		if err != nil {
			return err
		}
		printEvents(w, events)
	}
	return nil
}

func newDaemonRunCmd() *cobra.Command {
	var (
		listen  string
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if logFile != "" {
				fl, closer, err := logging.NewFileLogger(logFile, logging.ParseLevel(cliConfig.LogLevel), cliConfig.LogFormat)
				if err != nil {
					return err
				}
				defer closer.Close()
				logger = fl
			}
			cliConfig.Listen = listen
			return runDaemon(cmd.Context(), logger)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Serve the status API on this address (e.g. :8080)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Append logs to this file instead of stderr")
	return cmd
}

// runDaemon holds the project's pid lock and runs the scheduler loop until it
// finishes or the process is signalled.
func runDaemon(ctx context.Context, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, paths, err := daemonTarget(ctx)
	if err != nil {
		return err
	}
	rt, err := loadRuntime(ctx, p.Path())
	if err != nil {
		return err
	}
	lock, err := daemon.AcquirePIDLock(paths.PIDFile)
	if err != nil {
		return err
	}
	defer lock.Release()

	reg := backend.DefaultRegistry(backend.Templates{Kill: rt.Kill(), Alive: rt.AliveCmd}, log)

	var journal scheduler.Journal
	hist, err := openHistory(ctx, p.Path(), log)
	if err != nil {
		log.Warn("job history disabled", "error", err)
	} else {
		defer hist.Close()
		journal = hist
	}

	lair := scheduler.NewLair()
	d, err := scheduler.New(p, reg, scheduler.Config{
		Runtime:  rt,
		MigaRoot: cliConfig.MigaRoot,
		Journal:  journal,
		Lair:     lair,
	}, log)
	if err != nil {
		return err
	}
	if hist != nil {
		inst := &model.DaemonInstance{
			ID:        d.ID(),
			Project:   p.Name(),
			PID:       os.Getpid(),
			Backend:   string(rt.Type),
			StartedAt: time.Now(),
		}
		if err := hist.StartInstance(ctx, inst); err != nil {
			log.Warn("record daemon start", "error", err)
		}
		defer func() {
			if err := hist.StopInstance(context.Background(), inst.ID); err != nil {
				log.Warn("record daemon stop", "error", err)
			}
		}()
	}
	// Terminate runs on every exit path, including a failed tick, and before
	// the instance is marked stopped.
	defer func() {
		if err := lair.ShutdownAll(context.Background()); err != nil {
			log.Error("shutdown", "error", err)
		}
	}()

	if cliConfig.Listen != "" {
		var opts []server.Option
		if hist != nil {
			opts = append(opts, server.WithHistory(hist))
		}
		srv := server.New(d, log, opts...)
		go func() {
			if err := srv.ListenAndServe(ctx, cliConfig.Listen); err != nil {
				log.Error("status API", "addr", cliConfig.Listen, "error", err)
			}
		}()
	}

	err = d.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openHistory(ctx context.Context, dir string, log *slog.Logger) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(filepath.Join(dir, HistoryFile), log)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
