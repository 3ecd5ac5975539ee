package root

import (
	"github.com/spf13/cobra"

	"github.com/ortelius/pdvd-depscan/internal/cmd/app"
	impactCmd "github.com/ortelius/pdvd-depscan/internal/cmd/impact"
	scanCmd "github.com/ortelius/pdvd-depscan/internal/cmd/scan"
	serveCmd "github.com/ortelius/pdvd-depscan/internal/cmd/serve"
	workerCmd "github.com/ortelius/pdvd-depscan/internal/cmd/worker"
)

func NewCmdRoot() *cobra.Command {
	shared := &app.Options{}

	cmd := &cobra.Command{
		Use:           "depscan <command>",
		Short:         "Dependency graph resolution and vulnerability matching",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVarP(&shared.Config, "config", "c", "", "YAML config file (environment variables override it)")
	cmd.PersistentFlags().StringVarP(&shared.StoreType, "dbtype", "", "", "store type (accepts: [memory, boltdb, redis, sqlite3, mysql, postgres, arangodb])")
	cmd.PersistentFlags().StringVarP(&shared.StorePath, "dbpath", "", "", "store path or DSN")
	cmd.PersistentFlags().IntVarP(&shared.MaxDepth, "max-depth", "", 0, "resolution depth limit")
	cmd.PersistentFlags().BoolVarP(&shared.Debug, "debug", "d", false, "debug mode")

	cmd.AddCommand(
		scanCmd.NewCmd(shared),
		impactCmd.NewCmd(shared),
		impactCmd.NewCmdStats(shared),
		serveCmd.NewCmd(shared),
		workerCmd.NewCmd(shared),
	)

	return cmd
}
