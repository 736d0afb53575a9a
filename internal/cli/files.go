package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/miga/internal/metadata"
	"github.com/me/miga/internal/project"
	"github.com/me/miga/internal/result"
)

func newFilesCmd() *cobra.Command {
	var (
		dataset string
		info    bool
		noJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "files",
		Short: "List the registered files of project or dataset results",
		Long: `List every file registered by the results of a dataset, or the
project-wide results when no dataset is given. With --info each line is
prefixed by the result document and the file role, tab-separated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openProject(ctx)
			if err != nil {
				return err
			}

			var results []project.KindResult
			if dataset == "" {
				results, err = p.Results(ctx)
			} else {
				name := metadata.CanonicalName(dataset)
				ds := p.Dataset(name)
				if ds == nil {
					return fmt.Errorf("dataset %s not found in project %s", name, p.Name())
				}
				results, err = ds.Results(ctx)
			}
			if err != nil {
				return err
			}
			logger.Debug("listing files", "results", len(results))

			out := cmd.OutOrStdout()
			for _, kr := range results {
				doc := kr.Result.Path(result.SidecarJSON)
				if !noJSON {
					if info {
						fmt.Fprintf(out, "%s\t\t", doc)
					}
					fmt.Fprintln(out, doc)
				}
				for _, f := range kr.Result.Files(ctx) {
					if info {
						fmt.Fprintf(out, "%s\t%s\t", doc, f.Role)
					}
					fmt.Fprintln(out, f.Abs)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataset, "dataset", "D", "", "Dataset to read (default: project-wide results)")
	cmd.Flags().BoolVarP(&info, "info", "i", false, "Prefix each file with its result document and role")
	cmd.Flags().BoolVar(&noJSON, "no-json", false, "Exclude the result metadata documents")
	return cmd
}
