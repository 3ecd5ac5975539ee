package impact

import (
	"context"

	"github.com/MakeNowJust/heredoc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ortelius/pdvd-depscan/internal/cmd/app"
	"github.com/ortelius/pdvd-depscan/model"
)

func NewCmd(shared *app.Options) *cobra.Command {
	options := struct {
		maxDepth     int
		dependencies bool
		format       string
	}{
		format: "json",
	}

	cmd := &cobra.Command{
		Use:   "impact <ecosystem>:<name>",
		Short: "list stored packages that depend on a package",
		Long: heredoc.Doc(`
			Walks the dependency edges persisted by earlier scans. By default it lists the packages
			that depend on the given one, nearest first; with --dependencies it lists what the
			package depends on instead.
		`),
		Example: heredoc.Doc(`
			$ depscan impact pypi:urllib3
			$ depscan impact npm:lodash --hops 2 --format yaml
			$ depscan impact pypi:flask --dependencies
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := app.ParseIdentity(args[0])
			if err != nil {
				return err
			}

			a, err := app.New(*shared)
			if err != nil {
				return err
			}
			defer a.Close()

			walk := a.Service.Impact
			if options.dependencies {
				walk = a.Service.Transitive
			}
			entries, err := walk(context.Background(), id, options.maxDepth)
			if err != nil {
				return errors.Wrapf(err, "walk %s", id)
			}
			if entries == nil {
				entries = []model.ImpactEntry{}
			}
			return app.Write(cmd.OutOrStdout(), options.format, entries)
		},
	}

	cmd.Flags().IntVarP(&options.maxDepth, "hops", "", 0, "stop after this many hops (0: unbounded)")
	cmd.Flags().BoolVarP(&options.dependencies, "dependencies", "", false, "list transitive dependencies instead of dependents")
	cmd.Flags().StringVarP(&options.format, "format", "", options.format, "output format (accepts: [json, yaml])")

	return cmd
}

func NewCmdStats(shared *app.Options) *cobra.Command {
	format := "json"
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "count what the store holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(*shared)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Service.Stats(context.Background())
			if err != nil {
				return errors.Wrap(err, "stats")
			}
			return app.Write(cmd.OutOrStdout(), format, stats)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "", format, "output format (accepts: [json, yaml])")
	return cmd
}
