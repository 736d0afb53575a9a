package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/miga/internal/config"
)

// loadRuntime reads the project's daemon configuration. A missing file is an
// error: the daemon never guesses a backend.
func loadRuntime(ctx context.Context, dir string) (*config.Runtime, error) {
	path := config.RuntimePath(dir)
	rt, err := config.LoadRuntime(ctx, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no daemon config at %s, run \"miga new\" to write the defaults: %w", path, err)
	}
	return rt, err
}

// loadRuntimeOrDefault is loadRuntime falling back to the local bash defaults
// when the project has no configuration yet.
func loadRuntimeOrDefault(ctx context.Context, dir string) (*config.Runtime, error) {
	path := config.RuntimePath(dir)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Debug("no daemon config, using defaults", "path", path)
		return config.DefaultRuntime(), nil
	}
	return loadRuntime(ctx, dir)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or change the project's daemon configuration",
	}
	cmd.AddCommand(newConfigGetCmd(), newConfigSetCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print one key, or every key when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir()
			if err != nil {
				return err
			}
			rt, err := loadRuntimeOrDefault(cmd.Context(), dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				v := rt.Get(args[0])
				if v == nil {
					return fmt.Errorf("config key %q is not set", args[0])
				}
				fmt.Fprintln(out, v)
				return nil
			}
			for _, k := range rt.Keys() {
				fmt.Fprintf(out, "%-20s %v\n", k, rt.Get(k))
			}
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one key of the daemon configuration",
		Long:  "Change one key of the daemon configuration. Zero values of numeric keys need --force.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir, err := projectDir()
			if err != nil {
				return err
			}
			rt, err := loadRuntime(ctx, dir)
			if err != nil {
				return err
			}
			if err := rt.Set(args[0], args[1], force); err != nil {
				return err
			}
			if err := rt.Save(ctx, config.RuntimePath(dir)); err != nil {
				return fmt.Errorf("save daemon config: %w", err)
			}
			logger.Info("daemon config updated", "key", args[0], "value", rt.Get(args[0]))
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", args[0], rt.Get(args[0]))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Accept zero values")
	return cmd
}
