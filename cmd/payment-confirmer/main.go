// Command payment-confirmer is the Lambda function that confirms payment
// requests delivered by Amazon MQ.
//
// Without flags it hands the Service to the Lambda runtime. With --event it
// runs a single invocation from a JSON trigger file, which is handy against a
// local broker:
//
//	RABBITMQ_INSECURE=true payment-confirmer --event testdata/trigger.json
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	paymentservice "github.com/lmgveerhoek/aeroreserve-payment-service"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var eventFile string

	cmd := &cobra.Command{
		Use:           "payment-confirmer",
		Short:         "Confirm payment requests delivered by Amazon MQ",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(eventFile)
		},
	}

	cmd.PersistentFlags().StringVar(&eventFile, "event", "", "run one invocation from a JSON trigger file instead of starting the Lambda runtime")

	return cmd
}

func run(eventFile string) error {
	cfg, err := paymentservice.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("read configuration: %w", err)
	}

	logger := paymentservice.NewSlogServiceLogger(paymentservice.NewJSONLogger(os.Stdout, cfg.LogLevel))

	var metrics *paymentservice.Metrics
	if cfg.MetricsEnabled {
		metrics = paymentservice.NewMetrics(prometheus.DefaultRegisterer)
		if err := metrics.Register(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := paymentservice.NewService(ctx, &cfg, logger, paymentservice.ServiceDependencies{
		Metrics: metrics,
		Hooks:   paymentservice.LoggingHooks(logger),
	})
	if err != nil {
		return err
	}

	if cfg.MetricsEnabled && cfg.MetricsPort > 0 {
		svc.RegisterHTTPHandler(cfg.MetricsPort, "/metrics", promhttp.Handler())
		svc.StartHTTPServers()
	}

	if eventFile != "" {
		return invokeOnce(ctx, svc, eventFile)
	}

	lambda.StartWithOptions(svc.Handle,
		lambda.WithContext(ctx),
		lambda.WithEnableSIGTERM(func() {
			if err := svc.Shutdown(context.Background()); err != nil {
				logger.Error("Shutdown hook did not finish", err, nil)
			}
		}),
	)
	return nil
}

func invokeOnce(ctx context.Context, svc *paymentservice.Service, eventFile string) error {
	payload, err := os.ReadFile(eventFile)
	if err != nil {
		return fmt.Errorf("read event file: %w", err)
	}

	resp, err := svc.HandleRaw(ctx, payload)
	if err != nil {
		return err
	}
	if err := paymentservice.Encode(os.Stdout, resp); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return svc.Shutdown(context.Background())
}
