package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired    = sterrors.New("paymentservice: configuration is required")
	ErrLoggerRequired    = sterrors.New("paymentservice: logger is required")
	ErrProviderRequired  = sterrors.New("paymentservice: credential provider is required")
	ErrConnectorRequired = sterrors.New("paymentservice: broker connector is required")
	ErrPublisherRequired = sterrors.New("paymentservice: publisher is required")
	ErrHandleClosed      = sterrors.New("paymentservice: broker handle is closed")
)

// Kind sentinels. Every tagged error below matches exactly one of these
// through errors.Is.
var (
	ErrCredentialFetchFailed         = sterrors.New("paymentservice: credential fetch failed")
	ErrConnectionEstablishmentFailed = sterrors.New("paymentservice: connection establishment failed")
	ErrMalformedTrigger              = sterrors.New("paymentservice: malformed trigger")
	ErrMessageDecodeFailed           = sterrors.New("paymentservice: message decode failed")
	ErrPublishFailed                 = sterrors.New("paymentservice: publish failed")
)

// Kind classifies an error for reporting and metrics labels.
type Kind string

const (
	KindNone                    Kind = ""
	KindCredentialFetch         Kind = "credential_fetch"
	KindConnectionEstablishment Kind = "connection_establishment"
	KindMalformedTrigger        Kind = "malformed_trigger"
	KindMessageDecode           Kind = "message_decode"
	KindPublish                 Kind = "publish"
	KindOther                   Kind = "other"
)

// Terminal reports whether errors of this kind abort a whole invocation.
func (k Kind) Terminal() bool {
	switch k {
	case KindCredentialFetch, KindConnectionEstablishment, KindMalformedTrigger:
		return true
	default:
		return false
	}
}

// KindOf returns the kind of the first tagged error found in err's chain.
// Connection errors caused by a credential failure report KindCredentialFetch.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case sterrors.Is(err, ErrCredentialFetchFailed):
		return KindCredentialFetch
	case sterrors.Is(err, ErrConnectionEstablishmentFailed):
		return KindConnectionEstablishment
	case sterrors.Is(err, ErrMalformedTrigger):
		return KindMalformedTrigger
	case sterrors.Is(err, ErrMessageDecodeFailed):
		return KindMessageDecode
	case sterrors.Is(err, ErrPublishFailed):
		return KindPublish
	default:
		return KindOther
	}
}

// CredentialFetchError reports that broker credentials could not be retrieved.
type CredentialFetchError struct {
	Source string
	Err    error
}

func (e *CredentialFetchError) Error() string {
	return fmt.Sprintf("paymentservice: fetch credentials from %q: %v", e.Source, e.Err)
}

func (e *CredentialFetchError) Unwrap() error { return e.Err }

func (e *CredentialFetchError) Is(target error) bool { return target == ErrCredentialFetchFailed }

// Connection establishment stages.
const (
	StageCredentials = "credentials"
	StageDial        = "dial"
	StageChannel     = "channel"
	StageDeclare     = "declare"
)

// ConnectionError reports which step of building the broker handle failed.
type ConnectionError struct {
	Stage string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("paymentservice: establish broker connection (%s): %v", e.Stage, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool {
	if e.Stage == StageCredentials && target == ErrCredentialFetchFailed {
		return true
	}
	return target == ErrConnectionEstablishmentFailed
}

// MalformedTriggerError is returned when the trigger payload does not carry a
// usable batch for the request queue.
type MalformedTriggerError struct {
	Key    string
	Reason string
	Err    error
}

func (e *MalformedTriggerError) Error() string {
	msg := fmt.Sprintf("paymentservice: malformed trigger for %q: %s", e.Key, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedTriggerError) Unwrap() error { return e.Err }

func (e *MalformedTriggerError) Is(target error) bool { return target == ErrMalformedTrigger }

// DecodeError is a per-message failure to recover a payment request from the
// message data.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("paymentservice: decode message %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrMessageDecodeFailed }

// PublishError is a per-message failure to publish a confirmation.
type PublishError struct {
	PaymentRequestID string
	Err              error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("paymentservice: publish confirmation for %q: %v", e.PaymentRequestID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

func (e *PublishError) Is(target error) bool { return target == ErrPublishFailed }

// ConfigValidationError wraps the joined result of Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "paymentservice: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
