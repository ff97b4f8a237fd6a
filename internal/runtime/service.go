package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/broker"
	configpkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/config"
	"github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/confirm"
	errspkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/errors"
	"github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/jsoncodec"
	loggingpkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/logging"
	"github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/metrics"
	"github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/secrets"
)

const (
	tracerName            = "payment-confirmer-tracer"
	defaultConnectionName = "payment-confirmer"
)

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the AWS Secrets Manager provider and the AMQP connector.
type ServiceDependencies struct {
	Provider  secrets.Provider
	Connector broker.Connector
	Metrics   *metrics.Metrics
	Hooks     InvocationHooks
}

// ResponseBody is the JSON body of a 200 result. Both counts are always
// present so an empty batch and a batch that failed entirely differ.
type ResponseBody struct {
	Message   string `json:"message"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// ErrorBody is the JSON body of a 500 result.
type ErrorBody struct {
	Message string `json:"message"`
}

// Service bridges payment request batches to payment confirmations. One
// Service lives for the whole process and keeps the broker connection warm
// between invocations.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	cache     *broker.Cache
	processor *confirm.Processor
	metrics   *metrics.Metrics
	hooks     InvocationHooks

	httpServers   map[int]*http.ServeMux
	running       []*http.Server
	httpServersMu sync.Mutex
}

// NewService validates conf and wires the credential provider, connection
// cache and batch processor. Nothing touches the network until the first
// non-empty invocation.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating payment confirmation service", loggingpkg.LogFields{
		"config": conf,
	})

	provider := deps.Provider
	if provider == nil {
		awsCfg, err := secrets.LoadAWSConfig(ctx, conf.AWSRegion)
		if err != nil {
			return nil, err
		}
		provider = secrets.NewSecretsManagerProviderFromConfig(awsCfg, conf.SecretName, conf.AWSEndpoint, log)
	}

	connector := deps.Connector
	if connector == nil {
		connector = broker.NewAMQPConnector(broker.AMQPConnectorConfig{
			Port:           conf.BrokerPort,
			VHost:          conf.BrokerVHost,
			Insecure:       conf.BrokerInsecure,
			Heartbeat:      conf.BrokerHeartbeat,
			DialTimeout:    conf.BrokerDialTimeout,
			Queue:          conf.ResponseQueue,
			ConnectionName: connectionName(),
		}, log)
	}

	return &Service{
		Conf:   conf,
		Logger: log,
		cache:  broker.NewCache(secrets.NewCachingProvider(provider), connector, log, deps.Metrics),
		processor: confirm.NewProcessor(confirm.Options{
			Concurrency:    conf.PublishConcurrency,
			PublishTimeout: conf.PublishTimeout,
			Logger:         log,
			Metrics:        deps.Metrics,
		}),
		metrics: deps.Metrics,
		hooks:   deps.Hooks,
	}, nil
}

func connectionName() string {
	if lambdacontext.FunctionName != "" {
		return lambdacontext.FunctionName
	}
	return defaultConnectionName
}

// BrokerState reports the lifecycle state of the cached broker connection.
func (s *Service) BrokerState() broker.State {
	return s.cache.State()
}

// Handle is the Lambda handler for Amazon MQ (RabbitMQ) triggers. The outcome
// is carried in the status code; the returned error is always nil so the
// platform does not redeliver a batch that was already confirmed.
func (s *Service) Handle(ctx context.Context, event events.RabbitMQEvent) (events.APIGatewayProxyResponse, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "HandleRabbitMQEvent", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	inv := InvocationContext{
		TriggerKey: s.Conf.TriggerKey(),
		BatchSize:  len(event.MessagesByQueue[s.Conf.TriggerKey()]),
		Context:    ctx,
		StartedAt:  time.Now(),
	}
	log := s.Logger
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		inv.RequestID = lc.AwsRequestID
		log = log.With(loggingpkg.LogFields{"aws_request_id": lc.AwsRequestID})
		span.SetAttributes(attribute.String("faas.invocation_id", lc.AwsRequestID))
	}
	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.source.name", inv.TriggerKey),
		attribute.Int("messaging.batch.message_count", inv.BatchSize),
	)

	s.hooks.start(inv)
	res, err := s.invoke(ctx, event, log)
	inv.Duration = time.Since(inv.StartedAt)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		kind := errspkg.KindOf(err)
		log.Error("Invocation aborted", err, loggingpkg.LogFields{"kind": kind})
		s.metrics.ObserveAborted(string(kind))
		s.hooks.fail(inv, err)
		return s.respond(http.StatusInternalServerError, ErrorBody{Message: failureMessage(err)}), nil
	}

	span.SetAttributes(
		attribute.Int("payment.confirmations.succeeded", res.Succeeded),
		attribute.Int("payment.confirmations.failed", len(res.Failed)),
	)
	s.hooks.done(inv, res)
	return s.respond(http.StatusOK, ResponseBody{
		Message:   fmt.Sprintf("Confirmed %d of %d payment requests", res.Succeeded, res.Succeeded+len(res.Failed)),
		Succeeded: res.Succeeded,
		Failed:    len(res.Failed),
	}), nil
}

// invoke runs RECEIVE, ACQUIRE_CONNECTION, then DECODE_BATCH and PROCESS.
func (s *Service) invoke(ctx context.Context, event events.RabbitMQEvent, log loggingpkg.ServiceLogger) (confirm.Result, error) {
	msgs, err := s.receive(event)
	if err != nil {
		return confirm.Result{}, err
	}
	if len(msgs) == 0 {
		log.Info("Empty batch, nothing to confirm", loggingpkg.LogFields{"trigger_key": s.Conf.TriggerKey()})
		return confirm.Result{}, nil
	}

	handle, err := s.cache.Acquire(ctx)
	if err != nil {
		return confirm.Result{}, err
	}

	res := s.processor.Process(ctx, msgs, handle)
	for _, f := range res.Failed {
		log.Error("Payment request skipped", f.Err, loggingpkg.LogFields{"index": f.Message.Index})
	}
	return res, nil
}

func (s *Service) receive(event events.RabbitMQEvent) ([]confirm.InboundMessage, error) {
	key := s.Conf.TriggerKey()
	if event.MessagesByQueue == nil {
		return nil, &errspkg.MalformedTriggerError{Key: key, Reason: "trigger carries no rmqMessagesByQueue"}
	}
	batch, ok := event.MessagesByQueue[key]
	if !ok {
		return nil, &errspkg.MalformedTriggerError{Key: key, Reason: "no batch for request queue"}
	}

	msgs := make([]confirm.InboundMessage, len(batch))
	for i, m := range batch {
		msgs[i] = confirm.InboundMessage{Index: i, Data: m.Data}
	}
	return msgs, nil
}

// HandleRaw decodes a trigger payload and handles it. Both the full RabbitMQ
// event and a bare {"queue::key": [...]} mapping are accepted.
func (s *Service) HandleRaw(ctx context.Context, payload []byte) (events.APIGatewayProxyResponse, error) {
	var event events.RabbitMQEvent
	if err := jsoncodec.Unmarshal(payload, &event); err != nil {
		err = &errspkg.MalformedTriggerError{Key: s.Conf.TriggerKey(), Reason: "invalid trigger JSON", Err: err}
		s.Logger.Error("Invocation aborted", err, loggingpkg.LogFields{"kind": errspkg.KindMalformedTrigger})
		s.metrics.ObserveAborted(string(errspkg.KindMalformedTrigger))
		return s.respond(http.StatusInternalServerError, ErrorBody{Message: failureMessage(err)}), nil
	}
	if event.MessagesByQueue == nil {
		var bare map[string][]events.RabbitMQMessage
		if err := jsoncodec.Unmarshal(payload, &bare); err == nil {
			event.MessagesByQueue = bare
		}
	}
	return s.Handle(ctx, event)
}

func (s *Service) respond(status int, body any) events.APIGatewayProxyResponse {
	s.metrics.ObserveInvocation(status)

	encoded, err := jsoncodec.Marshal(body)
	if err != nil {
		s.Logger.Error("Failed to encode response body", err, nil)
		encoded = []byte(`{"message":"internal error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(encoded),
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, errspkg.ErrCredentialFetchFailed):
		return "Error retrieving RabbitMQ credentials: " + err.Error()
	case errors.Is(err, errspkg.ErrConnectionEstablishmentFailed):
		return "Error connecting to RabbitMQ: " + err.Error()
	case errors.Is(err, errspkg.ErrMalformedTrigger):
		return "Malformed trigger: " + err.Error()
	default:
		return "Error handling payment requests: " + err.Error()
	}
}

// Shutdown releases the cached broker connection and stops any HTTP servers.
// It waits at most Conf.ShutdownTimeout. Safe to call when nothing was ever
// established, more than once, and while an invocation is still publishing.
func (s *Service) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.Conf.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.cache.Release()
	}()

	s.stopHTTPServers(ctx)

	select {
	case <-done:
		s.Logger.Info("Shutdown complete", nil)
		return nil
	case <-ctx.Done():
		s.Logger.Error("Shutdown deadline reached before the broker connection was released", ctx.Err(), nil)
		return ctx.Err()
	}
}
