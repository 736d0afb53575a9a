package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/me/miga/internal/config"
	"github.com/me/miga/internal/project"
	"github.com/me/miga/pkg/model"
)

func newNewCmd() *cobra.Command {
	var (
		name string
		typ  string
	)

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create an empty project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir()
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(dir)
			}
			p, err := project.Create(cmd.Context(), dir, name, model.ProjectType(typ))
			if err != nil {
				return err
			}
			rt, err := loadRuntimeOrDefault(cmd.Context(), p.Path())
			if err != nil {
				return err
			}
			if err := rt.Save(cmd.Context(), config.RuntimePath(p.Path())); err != nil {
				return err
			}
			logger.Debug("project created", "path", p.Path(), "type", p.Type())
			fmt.Fprintf(cmd.OutOrStdout(), "Project %s (%s) at %s\n", p.Name(), p.Type(), p.Path())
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Project name (default: directory name)")
	cmd.Flags().StringVarP(&typ, "type", "t", string(model.ProjectTypeMixed), "Project type (mixed, genomes, clade, metagenomes)")
	return cmd
}

func newAddCmd() *cobra.Command {
	var (
		typ      string
		queryDS  bool
		inactive bool
	)

	cmd := &cobra.Command{
		Use:   "add <dataset>...",
		Short: "Register datasets in the project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openProject(ctx)
			if err != nil {
				return err
			}
			for _, name := range args {
				ds, err := p.AddDataset(ctx, name, model.DatasetType(typ), !queryDS)
				if err != nil {
					return fmt.Errorf("add %s: %w", name, err)
				}
				if inactive {
					if err := ds.SetActive(ctx, false); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dataset %s added\n", ds.Name())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&typ, "type", "t", string(model.DatasetGenome), "Dataset type (genome, scgenome, popgenome, metagenome, virome)")
	cmd.Flags().BoolVarP(&queryDS, "query", "q", false, "Register as query datasets instead of reference")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Register the datasets as inactive")
	return cmd
}

func newUnlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <dataset>...",
		Short: "Remove datasets from the project listing, keeping their files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openProject(ctx)
			if err != nil {
				return err
			}
			for _, name := range args {
				if err := p.Unlink(ctx, name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dataset %s unlinked\n", name)
			}
			return nil
		},
	}
}
