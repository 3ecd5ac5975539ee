package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/events/modules/scans"
	"github.com/ortelius/pdvd-depscan/internal/api"
	"github.com/ortelius/pdvd-depscan/internal/cmd/app"
	"github.com/ortelius/pdvd-depscan/internal/kafka"
)

func NewCmd(shared *app.Options) *cobra.Command {
	options := struct {
		port      string
		async     bool
		accessLog bool
	}{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the REST and GraphQL API",
		Args:  cobra.NoArgs,
		Example: heredoc.Doc(`
			$ depscan serve --port 8080
			$ KAFKA_BROKERS=broker:9092 depscan serve --async
		`),
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := app.New(*shared)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := api.Options{Metrics: a.Metrics, AccessLog: options.accessLog, Logger: a.Logger}
			if options.async {
				producer := scans.NewScanProducer(a.Config.Kafka.Brokers, a.Config.Kafka.RequestTopic, kafka.NewTransport(kafka.Credentials()))
				defer producer.Close()
				opts.Requester = producer
			}

			server, err := api.NewFiberApp(a.Service, opts)
			if err != nil {
				return errors.Wrap(err, "create app")
			}

			port := a.Config.Server.Port
			if options.port != "" {
				port = options.port
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				a.Logger.Info("Shutting down server")
				_ = server.ShutdownWithTimeout(30 * time.Second)
			}()

			a.Logger.Info("Starting server", zap.String("port", port))
			if err := server.Listen(":" + port); err != nil {
				return errors.Wrap(err, "listen")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&options.port, "port", "p", "", "listen port (default: server.port from the config, or MS_PORT)")
	cmd.Flags().BoolVarP(&options.async, "async", "", false, "queue POST /api/v1/scan/async requests on Kafka")
	cmd.Flags().BoolVarP(&options.accessLog, "access-log", "", false, "log every request")

	return cmd
}
