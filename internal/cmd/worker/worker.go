package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ortelius/pdvd-depscan/internal/cmd/app"
	"github.com/ortelius/pdvd-depscan/internal/kafka"
)

func NewCmd(shared *app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "consume scan requests from Kafka and publish their reports",
		Args:  cobra.NoArgs,
		Example: heredoc.Doc(`
			$ KAFKA_BROKERS=broker:9092 depscan worker
		`),
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := app.New(*shared)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := kafka.RunEventProcessor(ctx, a.Config.Kafka, a.Service, a.Logger); err != nil {
				return errors.Wrap(err, "run event processor")
			}
			return nil
		},
	}
}
