package paymentservice

import (
	runtimepkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime"
	brokerpkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/broker"
	configpkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/config"
	confirmpkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/confirm"
	errspkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/errors"
	idspkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/ids"
	jsoncodec "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/jsoncodec"
	loggingpkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/logging"
	metricspkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/metrics"
	secretspkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/secrets"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	ResponseBody        = runtimepkg.ResponseBody
	ErrorBody           = runtimepkg.ErrorBody

	// Invocation lifecycle hooks
	InvocationContext = runtimepkg.InvocationContext
	InvocationHooks   = runtimepkg.InvocationHooks

	Credentials  = secretspkg.Credentials
	Provider     = secretspkg.Provider
	ProviderFunc = secretspkg.ProviderFunc

	Connector           = brokerpkg.Connector
	ConnectorFunc       = brokerpkg.ConnectorFunc
	AMQPConnectorConfig = brokerpkg.AMQPConnectorConfig
	Session             = brokerpkg.Session
	Channel             = brokerpkg.Channel
	Handle              = brokerpkg.Handle
	BrokerState         = brokerpkg.State

	InboundMessage = confirmpkg.InboundMessage
	Confirmation   = confirmpkg.Confirmation
	Result         = confirmpkg.Result
	Failure        = confirmpkg.Failure

	Metrics = metricspkg.Metrics

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ErrorKind             = errspkg.Kind
	ConfigValidationError = errspkg.ConfigValidationError
	CredentialFetchError  = errspkg.CredentialFetchError
	ConnectionError       = errspkg.ConnectionError
	MalformedTriggerError = errspkg.MalformedTriggerError
	DecodeError           = errspkg.DecodeError
	PublishError          = errspkg.PublishError
)

var (
	NewService     = runtimepkg.NewService
	DefaultConfig  = configpkg.Default
	ConfigFromEnv  = configpkg.FromEnv
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	LoggingHooks = runtimepkg.LoggingHooks

	StaticProvider         = secretspkg.StaticProvider
	NewAMQPConnector       = brokerpkg.NewAMQPConnector
	NewMetrics             = metricspkg.New
	DecodeRequest          = confirmpkg.DecodeRequest
	NewConfirmationMessage = confirmpkg.NewConfirmationMessage

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode

	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrProviderRequired  = errspkg.ErrProviderRequired
	ErrConnectorRequired = errspkg.ErrConnectorRequired
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrHandleClosed      = errspkg.ErrHandleClosed

	ErrCredentialFetchFailed         = errspkg.ErrCredentialFetchFailed
	ErrConnectionEstablishmentFailed = errspkg.ErrConnectionEstablishmentFailed
	ErrMalformedTrigger              = errspkg.ErrMalformedTrigger
	ErrMessageDecodeFailed           = errspkg.ErrMessageDecodeFailed
	ErrPublishFailed                 = errspkg.ErrPublishFailed
	ErrorKindOf                      = errspkg.KindOf

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewJSONLogger             = loggingpkg.NewJSONLogger

	CreateULID        = idspkg.CreateULID
	NewConfirmationID = idspkg.NewConfirmationID
)

// Broker connection states.
const (
	BrokerStateAbsent       = brokerpkg.StateAbsent
	BrokerStateEstablishing = brokerpkg.StateEstablishing
	BrokerStateEstablished  = brokerpkg.StateEstablished
)
