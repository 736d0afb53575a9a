package cli

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/me/miga/internal/config"
	"github.com/me/miga/internal/logging"
	"github.com/me/miga/internal/project"
)

var (
	flagProject   string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cliConfig config.CLIConfig
	logger    *slog.Logger
)

// NewRootCmd creates the root cobra command for the miga CLI.
func NewRootCmd() *cobra.Command {
	cliConfig = config.DefaultCLIConfig()

	root := &cobra.Command{
		Use:   "miga",
		Short: "miga: project-local job orchestrator",
		Long:  "miga schedules the preprocessing and project-wide analyses of a MiGA project.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			cliConfig.Project = flagProject
			cliConfig.LogLevel = flagLogLevel
			cliConfig.LogFormat = flagLogFormat
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(flagLogLevel), flagLogFormat, cmd.ErrOrStderr())
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagProject, "project", "P", cliConfig.Project, "Project directory (or MIGA_PROJECT env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", cliConfig.LogLevel, "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", cliConfig.LogFormat, "Log format (text, json)")

	root.AddCommand(
		newNewCmd(),
		newAddCmd(),
		newUnlinkCmd(),
		newDaemonCmd(),
		newConfigCmd(),
		newFilesCmd(),
	)

	return root
}

// projectDir returns the absolute project directory given with -P.
func projectDir() (string, error) {
	if cliConfig.Project == "" {
		return "", errors.New("no project given: use -P or set MIGA_PROJECT")
	}
	return filepath.Abs(cliConfig.Project)
}

func openProject(ctx context.Context) (*project.Project, error) {
	dir, err := projectDir()
	if err != nil {
		return nil, err
	}
	return project.Open(ctx, dir)
}
